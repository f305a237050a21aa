// SPDX-License-Identifier: MIT
// Copyright (c) 2020 Brian Starkey <stark3y@gmail.com>
package xor

import (
	"fmt"
	"strings"
)

const KeyTableLen = 1024

// KeyTable is the keystream used to scramble record addresses.
type KeyTable [KeyTableLen]byte

func (k *KeyTable) IsZero() bool {
	for _, v := range k {
		if v != 0 {
			return false
		}
	}
	return true
}

func (k *KeyTable) String() string {
	var lines []string
	for i := 0; i < len(k); i += 32 {
		lines = append(lines, fmt.Sprintf("%03x: %s", i, hexByteString(k[i:i+32])))
	}
	return strings.Join(lines, "\n")
}

func hexByteString(a []byte) string {
	var chars []string
	for _, v := range a {
		chars = append(chars, fmt.Sprintf("%02x", v))
	}
	return strings.Join(chars, " ")
}

// Descramble folds count consecutive key bytes, starting at start and
// wrapping around the table, into scrambled. Applying it twice with the
// same arguments returns the original value.
func Descramble(scrambled uint32, key *KeyTable, start, count uint32) uint32 {
	result := scrambled
	for i := uint32(0); i < count; i++ {
		result ^= uint32(key[(start+i)%KeyTableLen])
	}
	return result
}
