package fs

import (
	"context"
	"errors"
	"log"
	"sync/atomic"

	"github.com/sarchlab/kcore/mem/vm/vma"
)

// A File is an open file. It is shared by every descriptor and mapping
// that refers to it and goes away when the last one closes it.
type File struct {
	ip       *Inode
	readable bool
	writable bool
	ref      atomic.Int32
	off      atomic.Uint64
}

// Inode returns the file the handle refers to.
func (f *File) Inode() *Inode {
	return f.ip
}

// Readable tells if the file was opened for reading.
func (f *File) Readable() bool {
	return f.readable
}

// Writable tells if the file was opened for writing.
func (f *File) Writable() bool {
	return f.writable
}

// Refs returns the number of references to the file.
func (f *File) Refs() int {
	return int(f.ref.Load())
}

// Dup adds a reference.
func (f *File) Dup() vma.File {
	for {
		r := f.ref.Load()
		if r < 1 {
			log.Panic("filedup")
		}

		if f.ref.CompareAndSwap(r, r+1) {
			return f
		}
	}
}

// Close drops a reference.
func (f *File) Close(_ context.Context) {
	for {
		r := f.ref.Load()
		if r < 1 {
			log.Panic("fileclose")
		}

		if f.ref.CompareAndSwap(r, r-1) {
			return
		}
	}
}

// ReadAt reads from the file at off without moving the file offset.
func (f *File) ReadAt(ctx context.Context, p []byte, off uint64) (int, error) {
	return f.ip.ReadAt(ctx, p, off)
}

// WriteAt writes to the file at off without moving the file offset. Bytes
// that do not fit in the blocks of the file are dropped and the short count
// is not an error.
func (f *File) WriteAt(ctx context.Context, p []byte, off uint64) (int, error) {
	n, err := f.ip.WriteAt(ctx, p, off)
	if errors.Is(err, ErrNoSpace) {
		err = nil
	}

	return n, err
}

// Read reads from the current offset and advances it.
func (f *File) Read(ctx context.Context, p []byte) (int, error) {
	if !f.readable {
		return 0, ErrMode
	}

	n, err := f.ip.ReadAt(ctx, p, f.off.Load())
	f.off.Add(uint64(n))

	return n, err
}

// Write writes at the current offset and advances it.
func (f *File) Write(ctx context.Context, p []byte) (int, error) {
	if !f.writable {
		return 0, ErrMode
	}

	n, err := f.ip.WriteAt(ctx, p, f.off.Load())
	f.off.Add(uint64(n))

	return n, err
}
