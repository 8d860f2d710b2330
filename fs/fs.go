// Package fs is a small file layer on top of the buffer cache. A file is a
// named run of contiguous blocks on one device. It provides what mapped files
// and the process file table need and nothing more: no directories, no
// on-disk inode table and no journal.
package fs

import (
	"context"
	"errors"
	"sync"

	"github.com/sarchlab/kcore/mem/bcache"
	"github.com/sarchlab/kcore/sim/lock"
)

// Errors returned by the file layer.
var (
	ErrNotFound = errors.New("fs: no such file")
	ErrExists   = errors.New("fs: file exists")
	ErrNoSpace  = errors.New("fs: out of blocks")
	ErrMode     = errors.New("fs: bad open mode")
)

// Open modes.
const (
	ORdOnly = 0x000
	OWrOnly = 0x001
	ORdWr   = 0x002
)

// An FS lays files out on one device of a buffer cache.
type FS struct {
	cache *bcache.Cache
	dev   uint32

	mu        sync.Mutex
	inodes    map[string]*Inode
	nextBlock uint32
	numBlocks uint32
}

// New creates a file layer on blocks [first, first+numBlocks) of dev.
func New(cache *bcache.Cache, dev, first, numBlocks uint32) *FS {
	return &FS{
		cache:     cache,
		dev:       dev,
		inodes:    make(map[string]*Inode),
		nextBlock: first,
		numBlocks: first + numBlocks,
	}
}

// Dev returns the device the files live on.
func (fs *FS) Dev() uint32 {
	return fs.dev
}

// Create makes a file of nblocks blocks that initially holds data.
func (fs *FS) Create(
	ctx context.Context,
	name string,
	data []byte,
	nblocks int,
) (*Inode, error) {
	bsize := fs.cache.BlockSize()
	if need := (len(data) + bsize - 1) / bsize; nblocks < need {
		nblocks = need
	}

	fs.mu.Lock()

	if _, ok := fs.inodes[name]; ok {
		fs.mu.Unlock()
		return nil, ErrExists
	}

	if uint64(fs.nextBlock)+uint64(nblocks) > uint64(fs.numBlocks) {
		fs.mu.Unlock()
		return nil, ErrNoSpace
	}

	ip := &Inode{
		fs:      fs,
		name:    name,
		start:   fs.nextBlock,
		nblocks: uint32(nblocks),
	}
	ip.lock.Init(name)

	fs.nextBlock += uint32(nblocks)
	fs.inodes[name] = ip

	fs.mu.Unlock()

	if len(data) == 0 {
		return ip, nil
	}

	if _, err := ip.WriteAt(ctx, data, 0); err != nil {
		return nil, err
	}

	return ip, nil
}

// Lookup returns the inode of a file.
func (fs *FS) Lookup(name string) (*Inode, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	ip, ok := fs.inodes[name]
	if !ok {
		return nil, ErrNotFound
	}

	return ip, nil
}

// Open opens a file with one of ORdOnly, OWrOnly and ORdWr.
func (fs *FS) Open(name string, mode int) (*File, error) {
	ip, err := fs.Lookup(name)
	if err != nil {
		return nil, err
	}

	f := &File{ip: ip}

	switch mode {
	case ORdOnly:
		f.readable = true
	case OWrOnly:
		f.writable = true
	case ORdWr:
		f.readable = true
		f.writable = true
	default:
		return nil, ErrMode
	}

	f.ref.Store(1)

	return f, nil
}

// An Inode is the in-memory record of a file.
type Inode struct {
	fs      *FS
	name    string
	start   uint32
	nblocks uint32

	lock lock.Sleeplock
	size uint64
}

// Name returns the name of the file.
func (ip *Inode) Name() string {
	return ip.name
}

// Size returns the length of the file in bytes.
func (ip *Inode) Size(ctx context.Context) uint64 {
	ip.lock.Acquire(ctx)
	defer ip.lock.Release(ctx)

	return ip.size
}

// capacity returns the largest size the file can grow to.
func (ip *Inode) capacity() uint64 {
	return uint64(ip.nblocks) * uint64(ip.fs.cache.BlockSize())
}

// ReadAt reads up to len(p) bytes at off. It stops at the end of the file.
func (ip *Inode) ReadAt(ctx context.Context, p []byte, off uint64) (int, error) {
	ip.lock.Acquire(ctx)
	defer ip.lock.Release(ctx)

	if off >= ip.size {
		return 0, nil
	}

	if rest := ip.size - off; uint64(len(p)) > rest {
		p = p[:rest]
	}

	return ip.transfer(ctx, p, off, false), nil
}

// WriteAt writes p at off, growing the file as needed. Bytes beyond the
// blocks of the file are not written and ErrNoSpace is returned.
func (ip *Inode) WriteAt(ctx context.Context, p []byte, off uint64) (int, error) {
	ip.lock.Acquire(ctx)
	defer ip.lock.Release(ctx)

	var err error

	capacity := ip.capacity()
	if off >= capacity {
		return 0, ErrNoSpace
	}

	if rest := capacity - off; uint64(len(p)) > rest {
		p = p[:rest]
		err = ErrNoSpace
	}

	n := ip.transfer(ctx, p, off, true)
	if end := off + uint64(n); end > ip.size {
		ip.size = end
	}

	return n, err
}

// transfer moves bytes between p and the blocks of the file one block at a
// time. The caller holds the inode lock.
func (ip *Inode) transfer(ctx context.Context, p []byte, off uint64, write bool) int {
	bsize := uint64(ip.fs.cache.BlockSize())
	done := 0

	for len(p) > 0 {
		blockno := ip.start + uint32(off/bsize)
		inBlock := off % bsize

		b := ip.fs.cache.Read(ctx, ip.fs.dev, blockno)

		var n int
		if write {
			n = copy(b.Data[inBlock:], p)
			ip.fs.cache.Write(ctx, b)
		} else {
			n = copy(p, b.Data[inBlock:])
		}

		ip.fs.cache.Release(ctx, b)

		p = p[n:]
		off += uint64(n)
		done += n
	}

	return done
}
