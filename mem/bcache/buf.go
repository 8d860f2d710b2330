package bcache

import (
	"fmt"

	"github.com/sarchlab/kcore/sim/lock"
)

// A Buf caches one disk block. Data may only be touched while the buffer is
// held, that is between Read and Release.
type Buf struct {
	Dev     uint32
	Blockno uint32
	Valid   bool
	Data    []byte

	index   int
	refcnt  int
	lastUse uint64
	lock    lock.Sleeplock
}

func (b *Buf) String() string {
	return fmt.Sprintf("buf%d(%d/%d)", b.index, b.Dev, b.Blockno)
}

// Index returns the position of the buffer in the cache. It never changes.
func (b *Buf) Index() int {
	return b.index
}

type link struct {
	prev, next int
}

// ring holds the circular doubly-linked bucket lists. Slots below nbuf are
// buffers; slot nbuf+i is the sentinel head of bucket i.
type ring struct {
	nbuf  int
	links []link
}

func newRing(nbuf, nbucket int) ring {
	r := ring{
		nbuf:  nbuf,
		links: make([]link, nbuf+nbucket),
	}

	for i := 0; i < nbucket; i++ {
		h := r.head(i)
		r.links[h] = link{prev: h, next: h}
	}

	return r
}

func (r *ring) head(bucket int) int {
	return r.nbuf + bucket
}

func (r *ring) pushFront(bucket, i int) {
	h := r.head(bucket)
	first := r.links[h].next

	r.links[i] = link{prev: h, next: first}
	r.links[first].prev = i
	r.links[h].next = i
}

func (r *ring) remove(i int) {
	l := r.links[i]
	r.links[l.prev].next = l.next
	r.links[l.next].prev = l.prev
	r.links[i] = link{prev: i, next: i}
}

// each calls f on the buffers of a bucket from front to back until f
// returns false.
func (r *ring) each(bucket int, f func(i int) bool) {
	h := r.head(bucket)
	for i := r.links[h].next; i != h; i = r.links[i].next {
		if !f(i) {
			return
		}
	}
}
