// Package mmap maps input files read-only and exposes line-range
// iteration over byte windows. Lines are byte ranges ending at LF or
// EOF; the LF itself is never part of a range.
package mmap

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

var (
	ErrNotRegularFile = errors.New("mmap: not a regular file")
)

// File is a read-only memory-mapped file. The mapping is shared freely
// across goroutines; Close must not be called while readers are active.
type File struct {
	path string
	size int64
	data []byte
}

// Open maps path read-only and advises the kernel that access will be
// mostly sequential. An empty file yields a valid *File with no
// mapping.
func Open(path string) (*File, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotRegularFile, path)
	}
	if !fi.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", ErrNotRegularFile, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	size := fi.Size()
	if size == 0 {
		return &File{path: path, size: 0}, nil
	}

	data, err := unix.Mmap(
		int(f.Fd()),
		0,
		int(size),
		unix.PROT_READ,
		unix.MAP_SHARED,
	)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}

	// Best effort; hashing reads front to back.
	_ = unix.Madvise(data, unix.MADV_SEQUENTIAL)

	return &File{path: path, size: size, data: data}, nil
}

func (f *File) Path() string { return f.path }

func (f *File) Size() int64 { return f.size }

// Bytes returns the full mapping. Nil for an empty file.
func (f *File) Bytes() []byte { return f.data }

// LineAt returns the bytes of the line whose first byte is at off, up
// to but excluding the terminating LF (or EOF). A trailing CR is
// stripped.
func (f *File) LineAt(off int64) []byte {
	if off < 0 || off >= f.size {
		return nil
	}

	line := f.data[off:]
	if i := bytes.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return line
}

func (f *File) Close() error {
	if f.data == nil {
		return nil
	}

	data := f.data
	f.data = nil
	if err := unix.Munmap(data); err != nil {
		return fmt.Errorf("munmap %s: %w", f.path, err)
	}
	return nil
}

// Lines iterates the lines owned by the window [from, to). A line is
// owned by the window containing its first byte, so the final line may
// extend past to, and a window whose first byte continues a line from
// the previous window skips forward to the next line start before
// emitting. Every line of the file is emitted by exactly one window of
// any non-overlapping tiling.
func (f *File) Lines(from, to int64) *LineIter {
	if from < 0 {
		from = 0
	}
	if to > f.size {
		to = f.size
	}

	pos := from
	if from > 0 && f.data[from-1] != '\n' {
		// Mid-line start: the line belongs to the window that
		// holds its first byte. Its LF may sit past to.
		rel := bytes.IndexByte(f.data[from:], '\n')
		if rel < 0 {
			pos = f.size
		} else {
			pos = from + int64(rel) + 1
		}
	}

	return &LineIter{f: f, pos: pos, to: to}
}

// LineIter yields (offset, length) pairs, LF excluded.
type LineIter struct {
	f   *File
	pos int64
	to  int64
}

func (it *LineIter) Next() (off, length int64, ok bool) {
	if it.pos >= it.to {
		return 0, 0, false
	}

	off = it.pos
	rel := bytes.IndexByte(it.f.data[off:], '\n')
	if rel < 0 {
		it.pos = it.f.size
		return off, it.f.size - off, true
	}

	it.pos = off + int64(rel) + 1
	return off, int64(rel), true
}
