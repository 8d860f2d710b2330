// Package bcache implements the disk buffer cache.
//
// The cache holds a fixed set of buffers spread over hash buckets, each
// bucket a circular list under its own spinlock. A lookup only locks the
// bucket of the block. A miss takes the global eviction lock and recycles
// the unreferenced buffer used longest ago, moving it between buckets if
// needed. Buffer contents are guarded by a per-buffer sleeplock.
package bcache

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync/atomic"

	"github.com/sarchlab/kcore/sim/hooking"
	"github.com/sarchlab/kcore/sim/lock"
)

// A Disk moves blocks between a buffer and the device. It is called with the
// buffer held.
type Disk interface {
	RW(ctx context.Context, b *Buf, write bool) error
}

// Hook positions published by the cache. The Item of the hook context is the
// buffer. For HookPosEvict the Detail is an EvictDetail.
var (
	HookPosHit   = &hooking.HookPos{Name: "Hit"}
	HookPosMiss  = &hooking.HookPos{Name: "Miss"}
	HookPosEvict = &hooking.HookPos{Name: "Evict"}
)

// EvictDetail describes a recycled buffer.
type EvictDetail struct {
	OldDev     uint32
	OldBlockno uint32
	WasValid   bool
	From, To   int
}

func (d EvictDetail) String() string {
	return fmt.Sprintf("old=%d/%d valid=%t bucket=%d->%d",
		d.OldDev, d.OldBlockno, d.WasValid, d.From, d.To)
}

type bucket struct {
	lock lock.Spinlock
}

// A Cache is a buffer cache in front of one disk.
type Cache struct {
	hooking.HookableBase

	name      string
	blockSize int
	disk      Disk
	clock     Clock

	bufs     []Buf
	ring     ring
	buckets  []bucket
	eviction lock.Spinlock

	hits, misses, evictions atomic.Uint64
}

// Name returns the name of the cache.
func (c *Cache) Name() string {
	return c.name
}

// BlockSize returns the size of the blocks in bytes.
func (c *Cache) BlockSize() int {
	return c.blockSize
}

// NumBuf returns the number of buffers.
func (c *Cache) NumBuf() int {
	return len(c.bufs)
}

func (c *Cache) bucketOf(blockno uint32) int {
	return int(blockno % uint32(len(c.buckets)))
}

// lookup finds (dev, blockno) in a bucket. The caller holds the bucket lock.
func (c *Cache) lookup(bi int, dev, blockno uint32) *Buf {
	var found *Buf

	c.ring.each(bi, func(i int) bool {
		b := &c.bufs[i]
		if b.Dev == dev && b.Blockno == blockno {
			found = b
			return false
		}

		return true
	})

	return found
}

// claim takes a reference on a cached buffer. The caller holds the lock of
// the buffer's bucket.
func (c *Cache) claim(b *Buf) {
	b.refcnt++
	b.lastUse = c.clock.Now()
}

// get returns the held buffer for (dev, blockno), recycling one if the block
// is not cached.
func (c *Cache) get(ctx context.Context, dev, blockno uint32) *Buf {
	bi := c.bucketOf(blockno)
	home := &c.buckets[bi].lock

	home.Acquire(ctx)

	if b := c.lookup(bi, dev, blockno); b != nil {
		c.claim(b)
		home.Release(ctx)

		c.hit(ctx, b)
		b.lock.Acquire(ctx)

		return b
	}

	home.Release(ctx)

	c.eviction.Acquire(ctx)

	// Another CPU may have cached the block while no lock was held.
	home.Acquire(ctx)

	if b := c.lookup(bi, dev, blockno); b != nil {
		c.claim(b)
		home.Release(ctx)
		c.eviction.Release(ctx)

		c.hit(ctx, b)
		b.lock.Acquire(ctx)

		return b
	}

	home.Release(ctx)

	victim, from := c.findVictim(ctx)
	if victim == nil {
		c.eviction.Release(ctx)
		log.Panic("bget: no buffers")
	}

	detail := EvictDetail{
		OldDev:     victim.Dev,
		OldBlockno: victim.Blockno,
		WasValid:   victim.Valid,
		From:       from,
		To:         bi,
	}

	victim.Dev = dev
	victim.Blockno = blockno
	victim.Valid = false
	victim.refcnt = 1
	victim.lastUse = c.clock.Now()

	if from != bi {
		c.ring.remove(victim.index)
		c.buckets[from].lock.Release(ctx)

		home.Acquire(ctx)
		c.ring.pushFront(bi, victim.index)
		home.Release(ctx)
	} else {
		c.buckets[from].lock.Release(ctx)
	}

	c.eviction.Release(ctx)

	c.misses.Add(1)
	c.evictions.Add(1)
	c.InvokeHook(hooking.HookCtx{Ctx: ctx, Domain: c, Pos: HookPosMiss, Item: victim})
	c.InvokeHook(hooking.HookCtx{
		Ctx:    ctx,
		Domain: c,
		Pos:    HookPosEvict,
		Item:   victim,
		Detail: detail,
	})

	victim.lock.Acquire(ctx)

	return victim
}

// findVictim scans every bucket for the unreferenced buffer with the
// smallest stamp. Only the bucket of the current best candidate stays
// locked; the winner is returned with its bucket locked. The caller holds
// the eviction lock.
func (c *Cache) findVictim(ctx context.Context) (*Buf, int) {
	var (
		best       *Buf
		bestBucket = -1
		lru        = uint64(math.MaxUint64)
	)

	for i := range c.buckets {
		c.buckets[i].lock.Acquire(ctx)

		foundNew := false

		c.ring.each(i, func(j int) bool {
			b := &c.bufs[j]
			if b.refcnt != 0 || b.lastUse >= lru {
				return true
			}

			if bestBucket != -1 && bestBucket != i {
				c.buckets[bestBucket].lock.Release(ctx)
			}

			foundNew = true
			best = b
			bestBucket = i
			lru = b.lastUse

			return true
		})

		if !foundNew {
			c.buckets[i].lock.Release(ctx)
		}
	}

	return best, bestBucket
}

func (c *Cache) hit(ctx context.Context, b *Buf) {
	c.hits.Add(1)
	c.InvokeHook(hooking.HookCtx{Ctx: ctx, Domain: c, Pos: HookPosHit, Item: b})
}

// Read returns the held buffer of a block, reading the block from disk if
// the buffer does not hold it yet.
func (c *Cache) Read(ctx context.Context, dev, blockno uint32) *Buf {
	b := c.get(ctx, dev, blockno)

	if !b.Valid {
		c.rw(ctx, b, false)
		b.Valid = true
	}

	return b
}

// Write writes the contents of a held buffer to disk.
func (c *Cache) Write(ctx context.Context, b *Buf) {
	if !b.lock.Holding(ctx) {
		log.Panic("bwrite")
	}

	c.rw(ctx, b, true)
}

func (c *Cache) rw(ctx context.Context, b *Buf, write bool) {
	if err := c.disk.RW(ctx, b, write); err != nil {
		log.Panicf("bcache: disk error on block %d of dev %d: %v",
			b.Blockno, b.Dev, err)
	}
}

// Release gives up a held buffer. It stays cached for later reads.
func (c *Cache) Release(ctx context.Context, b *Buf) {
	if !b.lock.Holding(ctx) {
		log.Panic("brelse")
	}

	b.lock.Release(ctx)
	c.Unpin(ctx, b)
}

// Pin keeps a buffer cached without holding it.
func (c *Cache) Pin(ctx context.Context, b *Buf) {
	l := &c.buckets[c.bucketOf(b.Blockno)].lock

	l.Acquire(ctx)
	b.refcnt++
	l.Release(ctx)
}

// Unpin drops a reference taken by Read or Pin.
func (c *Cache) Unpin(ctx context.Context, b *Buf) {
	l := &c.buckets[c.bucketOf(b.Blockno)].lock

	l.Acquire(ctx)

	if b.refcnt <= 0 {
		l.Release(ctx)
		log.Panicf("bunpin: block %d of dev %d", b.Blockno, b.Dev)
	}

	b.refcnt--
	l.Release(ctx)
}

// RefCount returns the number of references on a buffer.
func (c *Cache) RefCount(ctx context.Context, b *Buf) int {
	l := &c.buckets[c.bucketOf(b.Blockno)].lock

	l.Acquire(ctx)
	defer l.Release(ctx)

	return b.refcnt
}

// Stats is a snapshot of the cache counters.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Occupancy []int
	Held      int
}

// Stats returns the counters and the number of buffers in each bucket.
func (c *Cache) Stats(ctx context.Context) Stats {
	s := Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Occupancy: make([]int, len(c.buckets)),
	}

	for i := range c.buckets {
		c.buckets[i].lock.Acquire(ctx)

		c.ring.each(i, func(j int) bool {
			s.Occupancy[i]++
			if c.bufs[j].refcnt > 0 {
				s.Held++
			}

			return true
		})

		c.buckets[i].lock.Release(ctx)
	}

	return s
}

// Bucket returns the bucket a buffer currently lives in, or -1.
func (c *Cache) Bucket(ctx context.Context, b *Buf) int {
	for i := range c.buckets {
		c.buckets[i].lock.Acquire(ctx)

		found := false

		c.ring.each(i, func(j int) bool {
			found = j == b.index
			return !found
		})

		c.buckets[i].lock.Release(ctx)

		if found {
			return i
		}
	}

	return -1
}
