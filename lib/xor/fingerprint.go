// SPDX-License-Identifier: MIT
// Copyright (c) 2020 Brian Starkey <stark3y@gmail.com>
package xor

import (
	"github.com/sigurn/crc16"
)

var crct *crc16.Table = crc16.MakeTable(crc16.CRC16_XMODEM)

// Fingerprint is a short check value used to identify a key table, e.g.
// in a config file.
func Fingerprint(key *KeyTable) uint16 {
	return crc16.Checksum(key[:], crct)
}
