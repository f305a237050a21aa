// SPDX-License-Identifier: MIT
// Copyright (c) 2020 Brian Starkey <stark3y@gmail.com>
package update

import (
	"io/ioutil"
	"iter"

	"github.com/pkg/errors"
	"github.com/usedbytes/log"
	"github.com/usedbytes/tl866-tools/lib/config"
	"github.com/usedbytes/tl866-tools/lib/xor"
)

type Options struct {
	Profile config.Profile
	// Check the signature, and stop at the first bad record
	Strict bool
	// Overrides the key table in the header
	Key *xor.KeyTable
}

// Image is an update file held in memory. The buffer is never modified,
// so an Image is safe for concurrent use.
type Image struct {
	raw     []byte
	hdr     *Header
	profile config.Profile
	strict  bool
	key     *xor.KeyTable
}

// DetectProfile picks a profile for a file which has already passed the
// size check. Only files carrying the known signature are treated as
// obfuscated.
func DetectProfile(hdr *Header) config.Profile {
	if hdr.Signature == Signature {
		return config.Obfuscated
	}
	return config.Unprotected
}

func NewImage(raw []byte, opts Options) (*Image, error) {
	hdr, err := DecodeHeader(raw, opts.Strict)
	if err != nil {
		return nil, err
	}

	if len(raw) != hdr.FileSize() {
		return nil, formatErrorf("file is %d bytes, but %d blocks need %d", len(raw), hdr.BlockCount, hdr.FileSize())
	}

	img := &Image{
		raw:     raw,
		hdr:     hdr,
		profile: opts.Profile,
		strict:  opts.Strict,
		key:     &hdr.Key,
	}

	if opts.Key != nil {
		log.Verboseln("Using supplied key table")
		img.key = opts.Key
	}

	switch img.profile {
	case config.Obfuscated, config.Unprotected:
	case config.Auto, "":
		img.profile = DetectProfile(hdr)
		log.Verbosef("Signature %08x, using profile '%s'\n", hdr.Signature, img.profile)
	default:
		return nil, errors.Errorf("unrecognised profile '%s'", img.profile)
	}

	if img.profile == config.Obfuscated && img.key.IsZero() {
		log.Println("WARNING: Key table is empty, records won't validate. Try extracting the key.")
	}

	return img, nil
}

func LoadImage(file string, opts Options) (*Image, error) {
	raw, err := ioutil.ReadFile(file)
	if err != nil {
		return nil, errors.Wrap(err, "Reading update file")
	}

	img, err := NewImage(raw, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "Loading %s", file)
	}

	return img, nil
}

func (img *Image) Header() *Header {
	return img.hdr
}

func (img *Image) Profile() config.Profile {
	return img.profile
}

func (img *Image) Strict() bool {
	return img.strict
}

// NumRecords is the number of blocks plus the footer.
func (img *Image) NumRecords() int {
	return int(img.hdr.BlockCount) + 1
}

func (img *Image) decode(i int) (Record, error) {
	if i == int(img.hdr.BlockCount) {
		return DecodeFooter(img.raw, img.hdr.BlockCount)
	}
	return DecodeBlock(img.raw, img.hdr.BlockCount, i)
}

// Record decodes record i, where the footer is the record after the last
// block. Under the obfuscated profile the address is descrambled and the
// CRC checked. An *IntegrityError is returned along with the record, so
// that the caller can still inspect it.
func (img *Image) Record(i int) (Record, error) {
	r, err := img.decode(i)
	if err != nil {
		return Record{}, err
	}

	if img.profile != config.Obfuscated {
		return r, nil
	}

	r = r.Descramble(img.key)

	return r, Validate(r)
}

// Records iterates over all blocks and then the footer. Each iteration
// decodes afresh from the buffer. Bad records are yielded with their
// error; in strict mode iteration ends after the first one.
func (img *Image) Records() iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		for i := 0; i < img.NumRecords(); i++ {
			r, err := img.Record(i)
			if !yield(r, err) {
				return
			}
			if err != nil && img.strict {
				return
			}
		}
	}
}

// ExtractKey reconstructs the first half of the key table from the
// payloads. Payloads aren't touched by the address scrambling, so when
// there's no key yet this works on the raw records. When a key is already
// available, records are validated first and any that fail their CRC are
// left out (or, in strict mode, abort the extraction).
func (img *Image) ExtractKey() (*xor.Arena, error) {
	validate := img.profile == config.Obfuscated && !img.key.IsZero()

	var cands []xor.Candidate
	for i := 0; i < img.NumRecords(); i++ {
		var r Record
		var err error
		if validate {
			r, err = img.Record(i)
		} else {
			r, err = img.decode(i)
		}

		if err != nil {
			var ie *IntegrityError
			if !img.strict && errors.As(err, &ie) {
				log.Verbosef("Skipping record %d: %v\n", i, err)
				continue
			}
			return nil, errors.Wrap(err, "Extracting key")
		}

		cands = append(cands, xor.Candidates(r.Index, r.AuxField, r.Payload)...)
	}

	return xor.Reduce(cands)
}
