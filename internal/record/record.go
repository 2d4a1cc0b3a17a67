// Package record provides read-only, memory-mapped access to a sorted
// count file: a fixed magic header followed by fixed-width
// (index uint64, count uint32) records, sorted nondecreasing by index.
package record

import (
	"encoding/binary"
	"fmt"
	"os"
)

const (
	// HeaderLen is the size in bytes of the fixed magic header.
	HeaderLen = 16
	// IndexBytes is the width of a record's Morton index field.
	IndexBytes = 8
	// RecordBytes is the width of one (index, count) record.
	RecordBytes = IndexBytes + 4
)

// Magic identifies a tilecount record file.
var Magic = [HeaderLen]byte{'t', 'i', 'l', 'e', 'c', 'o', 'u', 'n', 't', 0, 0, 0, 0, 0, 0, 1}

// File is a memory-mapped, read-only record stream.
type File struct {
	data []byte
	n    uint64
}

// Open memory-maps path and validates its header. The returned File must be
// closed with Close to release the mapping.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	size := fi.Size()
	if size < HeaderLen {
		return nil, fmt.Errorf("%s: too small to contain a header", path)
	}

	data, err := mmapFile(f.Fd(), int(size))
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}

	var got [HeaderLen]byte
	copy(got[:], data[:HeaderLen])
	if got != Magic {
		munmapFile(data)
		return nil, fmt.Errorf("%s: not a tilecount record file (bad magic)", path)
	}

	body := size - HeaderLen
	if body%RecordBytes != 0 {
		munmapFile(data)
		return nil, fmt.Errorf("%s: record section size %d is not a multiple of %d bytes", path, body, RecordBytes)
	}

	return &File{data: data, n: uint64(body / RecordBytes)}, nil
}

// Close releases the memory mapping.
func (f *File) Close() error {
	return munmapFile(f.data)
}

// Count returns the number of records in the file.
func (f *File) Count() uint64 {
	return f.n
}

// Index returns the i-th record's Morton index.
func (f *File) Index(i uint64) uint64 {
	off := HeaderLen + i*RecordBytes
	return binary.BigEndian.Uint64(f.data[off : off+IndexBytes])
}

// Count32 returns the i-th record's count value.
func (f *File) Count32(i uint64) uint32 {
	off := HeaderLen + i*RecordBytes + IndexBytes
	return binary.BigEndian.Uint32(f.data[off : off+4])
}

// First returns the first record's index. Panics on an empty file, same as
// indexing any other out-of-range record.
func (f *File) First() uint64 {
	return f.Index(0)
}

// Last returns the last record's index.
func (f *File) Last() uint64 {
	return f.Index(f.n - 1)
}

// WriteHeader appends the fixed magic header to data, for producers of the
// record file format (e.g. tests, or the out-of-scope merge-sort utility).
func WriteHeader(data []byte) []byte {
	return append(data, Magic[:]...)
}

// AppendRecord appends one (index, count) record in the on-disk format.
func AppendRecord(data []byte, index uint64, count uint32) []byte {
	var buf [RecordBytes]byte
	binary.BigEndian.PutUint64(buf[:IndexBytes], index)
	binary.BigEndian.PutUint32(buf[IndexBytes:], count)
	return append(data, buf[:]...)
}
