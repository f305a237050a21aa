// SPDX-License-Identifier: MIT
// Copyright (c) 2020 Brian Starkey <stark3y@gmail.com>
package xor

import (
	"fmt"
	"sort"

	"github.com/usedbytes/log"
)

// Only the first half of the table can be recovered from payload data.
const RecoverableLen = 512

// KeyConflictError is returned when two payload bytes claim different
// values for the same key table offset.
type KeyConflictError struct {
	Record      int
	ByteOffset  int
	TableOffset int
	Existing    byte
	Observed    byte
}

func (e *KeyConflictError) Error() string {
	return fmt.Sprintf("key conflict in record %d at byte %03x (table offset %03x): expected %02x, got %02x",
		e.Record, e.ByteOffset, e.TableOffset, e.Existing, e.Observed)
}

// Arena is a write-once store of recovered key bytes, indexed by table
// offset.
type Arena struct {
	vals  [RecoverableLen]byte
	known [RecoverableLen]bool
}

// Set stores v at off. Setting the same value again is a no-op, a
// different value is a conflict and leaves the arena unchanged. Offsets
// outside the recoverable range are rejected.
func (a *Arena) Set(off int, v byte) (existing byte, ok bool) {
	if off < 0 || off >= RecoverableLen {
		return 0, false
	}
	if a.known[off] {
		return a.vals[off], a.vals[off] == v
	}
	a.vals[off] = v
	a.known[off] = true
	return v, true
}

func (a *Arena) Get(off int) (byte, bool) {
	if off < 0 || off >= RecoverableLen {
		return 0, false
	}
	return a.vals[off], a.known[off]
}

func (a *Arena) Known() int {
	n := 0
	for _, k := range a.known {
		if k {
			n++
		}
	}
	return n
}

// Table returns a full key table with the recovered bytes filled in.
// Everything unknown is left as zero.
func (a *Arena) Table() KeyTable {
	var k KeyTable
	for i := range a.vals {
		if a.known[i] {
			k[i] = a.vals[i]
		}
	}
	return k
}

// Candidate is one observation of a key byte.
type Candidate struct {
	Record      int
	ByteOffset  int
	TableOffset int
	Value       byte
}

// Candidates collects the high byte of every 24-bit program word in
// payload. Program words are packed two per 32 bits, so in the clear those
// bytes are always zero and what's left is the key.
func Candidates(record int, aux uint32, payload []byte) []Candidate {
	cands := make([]Candidate, 0, len(payload)/4)
	for p := 3; p < len(payload); p += 4 {
		// aux*2 may wrap, but 512 divides 2^32 so the offset is still right
		off := (aux*2 + uint32(p)) % RecoverableLen
		cands = append(cands, Candidate{
			Record:      record,
			ByteOffset:  p,
			TableOffset: int(off),
			Value:       payload[p],
		})
	}
	return cands
}

// Reduce commits all candidates into a new Arena. Candidates are ordered
// by table offset, then record, then byte offset before committing, so the
// result (or the conflict reported) doesn't depend on the order they were
// collected in.
func Reduce(cands []Candidate) (*Arena, error) {
	sorted := append([]Candidate(nil), cands...)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.TableOffset != b.TableOffset {
			return a.TableOffset < b.TableOffset
		}
		if a.Record != b.Record {
			return a.Record < b.Record
		}
		return a.ByteOffset < b.ByteOffset
	})

	arena := &Arena{}
	for _, c := range sorted {
		existing, ok := arena.Set(c.TableOffset, c.Value)
		if !ok {
			return nil, &KeyConflictError{
				Record:      c.Record,
				ByteOffset:  c.ByteOffset,
				TableOffset: c.TableOffset,
				Existing:    existing,
				Observed:    c.Value,
			}
		}
	}

	log.Verbosef("Recovered %d/%d key bytes from %d candidates\n", arena.Known(), RecoverableLen, len(cands))

	return arena, nil
}

// Sample is the part of a record the extractor looks at.
type Sample struct {
	Record  int
	Aux     uint32
	Payload []byte
}

func Extract(samples ...Sample) (*Arena, error) {
	var cands []Candidate
	for _, s := range samples {
		cands = append(cands, Candidates(s.Record, s.Aux, s.Payload)...)
	}
	return Reduce(cands)
}
