// SPDX-License-Identifier: MIT
// Copyright (c) 2020 Brian Starkey <stark3y@gmail.com>
package update

import (
	"encoding/binary"
	"fmt"

	"github.com/usedbytes/tl866-tools/lib/xor"
)

type Header struct {
	Signature  uint32
	Key        xor.KeyTable
	BlockCount uint32
}

// DecodeHeader unpacks the file header. The signature is only checked when
// strict is set, as not every firmware generation uses it.
func DecodeHeader(buf []byte, strict bool) (*Header, error) {
	if len(buf) < HeaderSize {
		return nil, formatErrorf("header too short: %d bytes, need %d", len(buf), HeaderSize)
	}

	hdr := &Header{
		Signature:  binary.LittleEndian.Uint32(buf[0:]),
		BlockCount: binary.LittleEndian.Uint32(buf[blockCountOffset:]),
	}
	copy(hdr.Key[:], buf[keyOffset:keyOffset+xor.KeyTableLen])

	if strict && hdr.Signature != Signature {
		return nil, formatErrorf("incorrect signature: expected %08x, got %08x", Signature, hdr.Signature)
	}

	return hdr, nil
}

// FileSize is the size a file with this header must have.
func (h *Header) FileSize() int {
	return FileSize(h.BlockCount)
}

func (h Header) String() string {
	str := ""
	str += fmt.Sprintf("Signature:   %08x", h.Signature)
	if h.Signature == Signature {
		str += " (OK)\n"
	} else {
		str += " (unknown)\n"
	}
	str += fmt.Sprintf("Blocks:      %d\n", h.BlockCount)
	str += fmt.Sprintf("File size:   %d\n", h.FileSize())
	if h.Key.IsZero() {
		str += "Key:         (empty)"
	} else {
		str += fmt.Sprintf("Key:         %04x", xor.Fingerprint(&h.Key))
	}
	return str
}
