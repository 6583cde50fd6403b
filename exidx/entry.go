// Package exidx locates the ARM exception index table (.ARM.exidx) inside a
// flattened firmware image. The table's fixed-width entries are described in
// "Exception Handling ABI for the ARM Architecture"; their structure is
// regular enough to detect in an undifferentiated byte stream with few false
// positives, which makes the table a usable anchor for reconstructing the
// section layout of the whole image.
package exidx

import (
	"encoding/binary"
	"io"
)

// EntrySize is the size of one index table entry in bytes.
const EntrySize = 8

// CantUnwind is the entry value meaning no unwind information exists for the
// function covered by the entry.
const CantUnwind = 0x01

// An Entry is one record of the exception index table: a prel31 offset to
// the function start, and either CantUnwind, an inline unwind descriptor, or
// a prel31 offset to an out-of-line table entry.
type Entry struct {
	TabOffs uint32
	Word    uint32
}

// readEntry reads the entry stored at off. A short read reports io.EOF so
// callers can treat the truncated tail of the image uniformly.
func readEntry(r io.ReaderAt, off int64) (Entry, error) {
	var b [EntrySize]byte
	if _, err := r.ReadAt(b[:], off); err != nil {
		return Entry{}, err
	}
	return Entry{
		TabOffs: binary.LittleEndian.Uint32(b[:4]),
		Word:    binary.LittleEndian.Uint32(b[4:]),
	}, nil
}

func readWord(r io.ReaderAt, off int64) (uint32, error) {
	var b [4]byte
	if _, err := r.ReadAt(b[:], off); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}
