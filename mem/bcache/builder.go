package bcache

import (
	"fmt"
	"log"
)

// A Builder can build buffer caches.
type Builder struct {
	numBuf    int
	numBucket int
	blockSize int
	disk      Disk
	clock     Clock
}

// MakeBuilder creates a builder with 30 buffers of 1024 bytes spread over
// 13 buckets.
func MakeBuilder() Builder {
	return Builder{
		numBuf:    30,
		numBucket: 13,
		blockSize: 1024,
	}
}

// WithNumBuf sets the number of buffers.
func (b Builder) WithNumBuf(n int) Builder {
	b.numBuf = n
	return b
}

// WithNumBucket sets the number of hash buckets.
func (b Builder) WithNumBucket(n int) Builder {
	b.numBucket = n
	return b
}

// WithBlockSize sets the size of a block in bytes.
func (b Builder) WithBlockSize(n int) Builder {
	b.blockSize = n
	return b
}

// WithDisk sets the device behind the cache.
func (b Builder) WithDisk(d Disk) Builder {
	b.disk = d
	return b
}

// WithClock sets the clock that stamps buffer use. A LogicalClock is used
// if none is given.
func (b Builder) WithClock(c Clock) Builder {
	b.clock = c
	return b
}

// Build creates the cache. Buffer i starts in bucket i mod the number of
// buckets.
func (b Builder) Build(name string) *Cache {
	if b.disk == nil {
		log.Panic("bcache: disk must be set")
	}

	if b.numBuf <= 0 || b.numBucket <= 0 || b.blockSize <= 0 {
		log.Panicf("bcache: bad geometry %d bufs, %d buckets, block %d",
			b.numBuf, b.numBucket, b.blockSize)
	}

	c := &Cache{
		name:      name,
		blockSize: b.blockSize,
		disk:      b.disk,
		clock:     b.clock,
		bufs:      make([]Buf, b.numBuf),
		ring:      newRing(b.numBuf, b.numBucket),
		buckets:   make([]bucket, b.numBucket),
	}

	if c.clock == nil {
		c.clock = &LogicalClock{}
	}

	c.eviction.Init("bcache")

	for i := range c.buckets {
		c.buckets[i].lock.Init(fmt.Sprintf("bcache.bucket%d", i))
	}

	for i := range c.bufs {
		buf := &c.bufs[i]
		buf.index = i
		buf.Data = make([]byte, b.blockSize)
		buf.lock.Init("buffer")

		c.ring.pushFront(i%b.numBucket, i)
	}

	return c
}
