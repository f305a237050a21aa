// SPDX-License-Identifier: MIT
// Copyright (c) 2020 Brian Starkey <stark3y@gmail.com>
package update

import (
	"encoding/binary"
	"fmt"

	"github.com/usedbytes/tl866-tools/lib/xor"
)

type RecordKind int

const (
	Block RecordKind = iota
	Footer
)

func (k RecordKind) String() string {
	switch k {
	case Block:
		return "block"
	case Footer:
		return "footer"
	}

	return "???"
}

// Record is a decoded block or footer. Payload aliases the buffer it was
// decoded from and must not be modified.
type Record struct {
	Kind  RecordKind
	Index int

	Checksum uint32
	KeyIndex uint32
	Address  uint32
	AuxField uint32
	Payload  []byte
}

func (r Record) String() string {
	return fmt.Sprintf("%s %d: addr %08x key %03x aux %08x crc %08x",
		r.Kind, r.Index, r.Address, r.KeyIndex, r.AuxField, r.Checksum)
}

// WordCount is the number of key bytes folded into the address.
func (r Record) WordCount() uint32 {
	if r.Kind == Footer {
		return FooterWords
	}
	return BlockWords
}

// Descramble returns a copy of r with the address descrambled.
func (r Record) Descramble(key *xor.KeyTable) Record {
	r.Address = xor.Descramble(r.Address, key, r.KeyIndex, r.WordCount())
	return r
}

// Encode packs r back into its on-disk layout.
func (r Record) Encode() []byte {
	buf := make([]byte, fieldsLen+len(r.Payload))
	binary.LittleEndian.PutUint32(buf[0:], r.Checksum)
	binary.LittleEndian.PutUint32(buf[4:], r.KeyIndex)
	binary.LittleEndian.PutUint32(buf[8:], r.Address)
	binary.LittleEndian.PutUint32(buf[12:], r.AuxField)
	copy(buf[fieldsLen:], r.Payload)
	return buf
}

func decodeRecord(buf []byte, off, size int) (Record, error) {
	if off+size > len(buf) {
		return Record{}, formatErrorf("record at %x overruns file (%d bytes)", off, len(buf))
	}

	raw := buf[off : off+size]
	return Record{
		Checksum: binary.LittleEndian.Uint32(raw[0:]),
		KeyIndex: binary.LittleEndian.Uint32(raw[4:]),
		Address:  binary.LittleEndian.Uint32(raw[8:]),
		AuxField: binary.LittleEndian.Uint32(raw[12:]),
		Payload:  raw[fieldsLen:size:size],
	}, nil
}

// DecodeBlock unpacks block index from buf. No descrambling or validation
// is done.
func DecodeBlock(buf []byte, blockCount uint32, index int) (Record, error) {
	if index < 0 || int64(index) >= int64(blockCount) {
		return Record{}, &IndexError{Index: index, Count: blockCount}
	}

	r, err := decodeRecord(buf, blockOffset(index), BlockSize)
	if err != nil {
		return Record{}, err
	}

	r.Kind = Block
	r.Index = index

	return r, nil
}

// DecodeFooter unpacks the footer, which follows the last block.
func DecodeFooter(buf []byte, blockCount uint32) (Record, error) {
	r, err := decodeRecord(buf, footerOffset(blockCount), FooterSize)
	if err != nil {
		return Record{}, err
	}

	r.Kind = Footer
	r.Index = int(blockCount)

	return r, nil
}
