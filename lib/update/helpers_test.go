// SPDX-License-Identifier: MIT
// Copyright (c) 2020 Brian Starkey <stark3y@gmail.com>
package update

import (
	"encoding/binary"

	"github.com/usedbytes/tl866-tools/lib/xor"
)

type testRecord struct {
	keyIndex uint32
	address  uint32
	aux      uint32
	payload  []byte
}

func testKey() *xor.KeyTable {
	var k xor.KeyTable
	for i := range k {
		k[i] = byte(i*37 + i>>3 + 1)
	}
	return &k
}

func testPayload(n int, seed byte) []byte {
	payload := make([]byte, n)
	for i := range payload {
		payload[i] = seed + byte(i*3)
	}
	return payload
}

// encodeRecord builds the on-disk form of a record: CRC over the clear
// address, then the address scrambled.
func encodeRecord(key *xor.KeyTable, kind RecordKind, tr testRecord) []byte {
	n := BlockPayloadLen
	if kind == Footer {
		n = FooterPayloadLen
	}
	payload := make([]byte, n)
	copy(payload, tr.payload)

	r := Record{
		Kind:     kind,
		KeyIndex: tr.keyIndex,
		Address:  tr.address,
		AuxField: tr.aux,
		Payload:  payload,
	}
	r.Checksum = Checksum(r) ^ 0xffffffff
	r.Address = xor.Descramble(tr.address, key, tr.keyIndex, r.WordCount())

	return r.Encode()
}

func buildFile(sig uint32, hdrKey, key *xor.KeyTable, blocks []testRecord, footer testRecord) []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:], sig)
	copy(buf[keyOffset:], hdrKey[:])
	binary.LittleEndian.PutUint32(buf[blockCountOffset:], uint32(len(blocks)))

	for _, b := range blocks {
		buf = append(buf, encodeRecord(key, Block, b)...)
	}
	buf = append(buf, encodeRecord(key, Footer, footer)...)

	return buf
}

func twoBlockRecords() ([]testRecord, testRecord) {
	blocks := []testRecord{
		{keyIndex: 0x010, address: 0x00000800, aux: 0x00, payload: testPayload(BlockPayloadLen, 1)},
		{keyIndex: 0x3f0, address: 0x00000880, aux: 0x40, payload: testPayload(BlockPayloadLen, 2)},
	}
	footer := testRecord{keyIndex: 0x123, address: 0x0001fc00, aux: 0x80, payload: testPayload(FooterPayloadLen, 3)}

	return blocks, footer
}

// twoBlockFile is a well-formed file with two blocks and a footer.
func twoBlockFile() []byte {
	key := testKey()
	blocks, footer := twoBlockRecords()
	return buildFile(Signature, key, key, blocks, footer)
}
