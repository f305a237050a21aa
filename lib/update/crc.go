// SPDX-License-Identifier: MIT
// Copyright (c) 2020 Brian Starkey <stark3y@gmail.com>
package update

import (
	"hash/crc32"
)

// Checksum computes the CRC of a record as the file stores it: zlib crc32
// seeded with ~0, over everything after the checksum field. r's address
// must already be descrambled.
func Checksum(r Record) uint32 {
	return crc32.Update(0xffffffff, crc32.IEEETable, r.Encode()[4:])
}

// Validate checks r against its stored checksum, which is kept inverted.
func Validate(r Record) error {
	expected := r.Checksum ^ 0xffffffff
	actual := Checksum(r)
	if actual != expected {
		return &IntegrityError{
			RecordIndex: r.Index,
			Expected:    expected,
			Actual:      actual,
		}
	}

	return nil
}
