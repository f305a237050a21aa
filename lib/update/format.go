// SPDX-License-Identifier: MIT
// Copyright (c) 2020 Brian Starkey <stark3y@gmail.com>
package update

// Update file layout:
//
//	0x000  u32     signature
//	0x004  [4]u8   reserved
//	0x008  [1024]  key table
//	0x408  u32     block count
//	0x40c  block[0] .. block[count-1]   272 bytes each
//	       footer                       2064 bytes
//
// Blocks and the footer share the same layout:
//
//	0x00   u32     crc32 (inverted), over everything that follows
//	0x04   u32     key index, start of the address keystream
//	0x08   u32     address (scrambled)
//	0x0c   u32     aux, selects the payload key offset
//	0x10   payload
const (
	Signature uint32 = 0xF8CC425B

	HeaderSize = 4 + 4 + 1024 + 4
	fieldsLen  = 16

	BlockPayloadLen  = 256
	FooterPayloadLen = 2048
	BlockSize        = fieldsLen + BlockPayloadLen
	FooterSize       = fieldsLen + FooterPayloadLen

	// Number of key bytes folded into the address of each record kind
	BlockWords  = 44 * 6
	FooterWords = 514 * 4

	keyOffset        = 8
	blockCountOffset = 1032
)

// FileSize returns the expected size of a file with blockCount blocks.
func FileSize(blockCount uint32) int {
	return HeaderSize + int(blockCount)*BlockSize + FooterSize
}

func blockOffset(index int) int {
	return HeaderSize + BlockSize*index
}

func footerOffset(blockCount uint32) int {
	return HeaderSize + BlockSize*int(blockCount)
}
