// SPDX-License-Identifier: MIT
// Copyright (c) 2020 Brian Starkey <stark3y@gmail.com>
package update

import (
	"context"
	"io/ioutil"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/usedbytes/tl866-tools/lib/config"
	"github.com/usedbytes/tl866-tools/lib/xor"
)

type yielded struct {
	rec Record
	err error
}

func collect(img *Image) []yielded {
	var out []yielded
	for r, err := range img.Records() {
		out = append(out, yielded{r, err})
	}
	return out
}

func TestRecordsStrict(t *testing.T) {
	img, err := NewImage(twoBlockFile(), Options{Profile: config.Obfuscated, Strict: true})
	require.NoError(t, err)
	assert.Equal(t, 3, img.NumRecords())

	got := collect(img)
	require.Len(t, got, 3)

	wantAddr := []uint32{0x800, 0x880, 0x1fc00}
	wantKind := []RecordKind{Block, Block, Footer}
	for i, y := range got {
		require.NoError(t, y.err)
		assert.Equal(t, i, y.rec.Index)
		assert.Equal(t, wantKind[i], y.rec.Kind)
		assert.Equal(t, wantAddr[i], y.rec.Address)
	}
}

func TestRecordsRestartable(t *testing.T) {
	img, err := NewImage(twoBlockFile(), Options{Profile: config.Obfuscated})
	require.NoError(t, err)

	first := collect(img)
	second := collect(img)
	assert.Equal(t, first, second)

	// Stopping early is fine, and doesn't affect the next pass
	n := 0
	for range img.Records() {
		n++
		break
	}
	assert.Equal(t, 1, n)
	assert.Len(t, collect(img), 3)
}

func corruptBlock0(buf []byte) {
	buf[HeaderSize] ^= 0x5a
}

func TestRecordsBadChecksum(t *testing.T) {
	buf := twoBlockFile()
	corruptBlock0(buf)

	img, err := NewImage(buf, Options{Profile: config.Obfuscated})
	require.NoError(t, err)

	got := collect(img)
	require.Len(t, got, 3)

	var ie *IntegrityError
	require.ErrorAs(t, got[0].err, &ie)
	assert.Equal(t, 0, ie.RecordIndex)
	assert.NotEqual(t, ie.Expected, ie.Actual)

	r := got[0].rec
	assert.Equal(t, r.Checksum^0xffffffff, ie.Expected)
	assert.Equal(t, Checksum(r), ie.Actual)

	assert.NoError(t, got[1].err)
	assert.Equal(t, 1, got[1].rec.Index)
	assert.NoError(t, got[2].err)
	assert.Equal(t, Footer, got[2].rec.Kind)
}

func TestRecordsBadChecksumStrict(t *testing.T) {
	buf := twoBlockFile()
	corruptBlock0(buf)

	img, err := NewImage(buf, Options{Profile: config.Obfuscated, Strict: true})
	require.NoError(t, err)

	got := collect(img)
	require.Len(t, got, 1)
	var ie *IntegrityError
	assert.ErrorAs(t, got[0].err, &ie)
}

func TestUnprotectedPassesThrough(t *testing.T) {
	buf := twoBlockFile()
	corruptBlock0(buf)

	img, err := NewImage(buf, Options{Profile: config.Unprotected})
	require.NoError(t, err)

	raw, err := DecodeBlock(buf, 2, 0)
	require.NoError(t, err)

	got := collect(img)
	require.Len(t, got, 3)
	for _, y := range got {
		assert.NoError(t, y.err)
	}
	// Address left as it is on disk
	assert.Equal(t, raw.Address, got[0].rec.Address)
}

func TestAutoProfile(t *testing.T) {
	img, err := NewImage(twoBlockFile(), Options{Profile: config.Auto})
	require.NoError(t, err)
	assert.Equal(t, config.Obfuscated, img.Profile())

	key := testKey()
	blocks, footer := twoBlockRecords()
	img, err = NewImage(buildFile(0, key, key, blocks, footer), Options{})
	require.NoError(t, err)
	assert.Equal(t, config.Unprotected, img.Profile())

	_, err = NewImage(twoBlockFile(), Options{Profile: "bogus"})
	assert.Error(t, err)
}

func TestImageSizeMismatch(t *testing.T) {
	buf := twoBlockFile()

	var fe *FormatError

	_, err := NewImage(buf[:len(buf)-1], Options{})
	assert.ErrorAs(t, err, &fe)

	_, err = NewImage(append(buf, 0), Options{})
	assert.ErrorAs(t, err, &fe)

	_, err = NewImage(buf[:100], Options{})
	assert.ErrorAs(t, err, &fe)
}

func TestImageRecordIndex(t *testing.T) {
	img, err := NewImage(twoBlockFile(), Options{Profile: config.Obfuscated})
	require.NoError(t, err)

	var ie *IndexError
	_, err = img.Record(-1)
	assert.ErrorAs(t, err, &ie)
	_, err = img.Record(3)
	assert.ErrorAs(t, err, &ie)

	r, err := img.Record(2)
	require.NoError(t, err)
	assert.Equal(t, Footer, r.Kind)
}

func TestSuppliedKey(t *testing.T) {
	var empty xor.KeyTable
	key := testKey()
	blocks, footer := twoBlockRecords()
	buf := buildFile(Signature, &empty, key, blocks, footer)

	img, err := NewImage(buf, Options{Profile: config.Obfuscated})
	require.NoError(t, err)
	for _, y := range collect(img) {
		assert.Error(t, y.err)
	}

	img, err = NewImage(buf, Options{Profile: config.Obfuscated, Key: key})
	require.NoError(t, err)
	for _, y := range collect(img) {
		assert.NoError(t, y.err)
	}
}

func TestLoadImage(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "update2.dat")
	require.NoError(t, ioutil.WriteFile(file, twoBlockFile(), 0644))

	img, err := LoadImage(file, Options{Strict: true})
	require.NoError(t, err)
	assert.Equal(t, uint32(2), img.Header().BlockCount)
	assert.True(t, img.Strict())

	_, err = LoadImage(filepath.Join(dir, "missing.dat"), Options{})
	assert.Error(t, err)
}

func TestScan(t *testing.T) {
	buf := twoBlockFile()
	corruptBlock0(buf)

	img, err := NewImage(buf, Options{Profile: config.Obfuscated})
	require.NoError(t, err)

	var count int32
	results, err := img.Scan(context.Background(), 4, func() { atomic.AddInt32(&count, 1) })
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, int32(3), atomic.LoadInt32(&count))

	seq := collect(img)
	for i, res := range results {
		assert.Equal(t, seq[i].rec, res.Record)
		assert.Equal(t, seq[i].err, res.Err)
	}

	var ie *IntegrityError
	require.ErrorAs(t, results[0].Err, &ie)
	assert.Equal(t, 0, ie.RecordIndex)
	assert.NoError(t, results[1].Err)
	assert.NoError(t, results[2].Err)
}

func TestScanManyBlocks(t *testing.T) {
	key := testKey()
	var blocks []testRecord
	for i := 0; i < 64; i++ {
		blocks = append(blocks, testRecord{
			keyIndex: uint32(i * 17),
			address:  uint32(i * 0x80),
			aux:      uint32(i * 0x40),
			payload:  testPayload(BlockPayloadLen, byte(i)),
		})
	}
	buf := buildFile(Signature, key, key, blocks, testRecord{})

	// Break a few records
	for _, i := range []int{5, 17, 63} {
		buf[HeaderSize+i*BlockSize+100] ^= 0xff
	}

	img, err := NewImage(buf, Options{})
	require.NoError(t, err)

	results, err := img.Scan(context.Background(), 0, nil)
	require.NoError(t, err)
	require.Len(t, results, 65)

	var bad []int
	for i, res := range results {
		assert.Equal(t, i, res.Record.Index)
		if res.Err != nil {
			bad = append(bad, i)
		}
	}
	assert.Equal(t, []int{5, 17, 63}, bad)

	strict, err := NewImage(buf, Options{Profile: config.Obfuscated, Strict: true})
	require.NoError(t, err)

	_, err = strict.Scan(context.Background(), 8, nil)
	var ie *IntegrityError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, 5, ie.RecordIndex)
}

func TestScanCancelled(t *testing.T) {
	img, err := NewImage(twoBlockFile(), Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = img.Scan(ctx, 2, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExtractKeyFromPattern(t *testing.T) {
	var empty xor.KeyTable
	const V, W = 0xa5, 0x3c

	highBytes := func(n int, v byte) []byte {
		p := make([]byte, n)
		for i := 3; i < n; i += 4 {
			p[i] = v
		}
		return p
	}

	blocks := []testRecord{
		{aux: 10, payload: highBytes(BlockPayloadLen, V)},
		{aux: 10, payload: highBytes(BlockPayloadLen, V)},
	}
	footer := testRecord{aux: 0, payload: highBytes(FooterPayloadLen, V)}

	img, err := NewImage(buildFile(Signature, &empty, &empty, blocks, footer), Options{})
	require.NoError(t, err)

	arena, err := img.ExtractKey()
	require.NoError(t, err)

	O := (10*2 + 3) % xor.RecoverableLen
	v, ok := arena.Get(O)
	require.True(t, ok)
	assert.Equal(t, byte(V), v)
	assert.Equal(t, byte(V), arena.Table()[O])

	// Same offsets, different value
	blocks[1].payload = highBytes(BlockPayloadLen, W)
	img, err = NewImage(buildFile(Signature, &empty, &empty, blocks, footer), Options{})
	require.NoError(t, err)

	_, err = img.ExtractKey()
	var kce *xor.KeyConflictError
	require.ErrorAs(t, err, &kce)
	assert.Equal(t, O, kce.TableOffset)
	assert.Equal(t, 1, kce.Record)
	assert.Equal(t, 3, kce.ByteOffset)
	assert.Equal(t, byte(V), kce.Existing)
	assert.Equal(t, byte(W), kce.Observed)
}

func TestExtractKeyFromFirmware(t *testing.T) {
	key := testKey()
	var empty xor.KeyTable

	// Payload data is the program XORed with the key, where the program
	// has a zero high byte in every 32-bit word.
	scramble := func(n int, aux uint32, seed byte) []byte {
		p := testPayload(n, seed)
		for i := range p {
			if i%4 == 3 {
				p[i] = 0
			}
			p[i] ^= key[(int(aux)*2+i)%xor.RecoverableLen]
		}
		return p
	}

	var blocks []testRecord
	for i := 0; i < 8; i++ {
		aux := uint32(i * 0x80)
		blocks = append(blocks, testRecord{
			keyIndex: uint32(i),
			aux:      aux,
			payload:  scramble(BlockPayloadLen, aux, byte(i)),
		})
	}
	footer := testRecord{aux: 0x1234, payload: scramble(FooterPayloadLen, 0x1234, 0x55)}

	img, err := NewImage(buildFile(Signature, &empty, key, blocks, footer), Options{})
	require.NoError(t, err)

	arena, err := img.ExtractKey()
	require.NoError(t, err)
	assert.NotZero(t, arena.Known())

	for off := 0; off < xor.RecoverableLen; off++ {
		if v, ok := arena.Get(off); ok {
			assert.Equal(t, key[off], v, "offset %03x", off)
		}
	}
}

func TestExtractKeySkipsCorruptRecords(t *testing.T) {
	key := testKey()
	var empty xor.KeyTable
	const V, W = 0x5a, 0x77

	highBytes := func(n int) []byte {
		p := testPayload(n, 9)
		for i := 3; i < n; i += 4 {
			p[i] = V
		}
		return p
	}

	blocks := []testRecord{
		{keyIndex: 1, address: 0x800, aux: 0, payload: highBytes(BlockPayloadLen)},
		{keyIndex: 2, address: 0x880, aux: 0, payload: highBytes(BlockPayloadLen)},
	}
	footer := testRecord{keyIndex: 3, address: 0x1fc00, aux: 0, payload: highBytes(FooterPayloadLen)}

	raw := buildFile(Signature, key, key, blocks, footer)
	// First key byte candidate of block 0, which breaks its CRC
	raw[HeaderSize+fieldsLen+3] = W

	img, err := NewImage(raw, Options{})
	require.NoError(t, err)
	_, err = img.Record(0)
	require.Error(t, err)

	arena, err := img.ExtractKey()
	require.NoError(t, err)
	v, ok := arena.Get(3)
	require.True(t, ok)
	assert.Equal(t, byte(V), v)

	// Strict mode refuses to use the bad record at all
	img, err = NewImage(raw, Options{Strict: true})
	require.NoError(t, err)
	_, err = img.ExtractKey()
	var ie *IntegrityError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, 0, ie.RecordIndex)

	// A supplied key enables validation even when the header has none
	hdrless := buildFile(Signature, &empty, key, blocks, footer)
	hdrless[HeaderSize+fieldsLen+3] = W
	img, err = NewImage(hdrless, Options{Key: key})
	require.NoError(t, err)
	arena, err = img.ExtractKey()
	require.NoError(t, err)
	v, _ = arena.Get(3)
	assert.Equal(t, byte(V), v)

	// Without a key there's nothing to validate against, so the bad byte
	// wins and the first good record is reported as conflicting
	img, err = NewImage(hdrless, Options{})
	require.NoError(t, err)
	_, err = img.ExtractKey()
	var kce *xor.KeyConflictError
	require.ErrorAs(t, err, &kce)
	assert.Equal(t, 1, kce.Record)
	assert.Equal(t, byte(W), kce.Existing)
	assert.Equal(t, byte(V), kce.Observed)
}
