// SPDX-License-Identifier: MIT
// Copyright (c) 2020 Brian Starkey <stark3y@gmail.com>
package update

import (
	"fmt"
)

// FormatError means the input isn't a usable update file at all.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid update file: %s", e.Reason)
}

func formatErrorf(format string, args ...interface{}) *FormatError {
	return &FormatError{Reason: fmt.Sprintf(format, args...)}
}

// IndexError is returned for a block index outside [0, Count).
type IndexError struct {
	Index int
	Count uint32
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("invalid block index %d: file has %d blocks", e.Index, e.Count)
}

// IntegrityError is a CRC mismatch in a single record.
type IntegrityError struct {
	RecordIndex int
	Expected    uint32
	Actual      uint32
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("record %d CRC mismatch: expected %08x, got %08x",
		e.RecordIndex, e.Expected, e.Actual)
}
