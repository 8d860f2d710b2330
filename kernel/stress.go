package kernel

import (
	"sync"

	"github.com/sarchlab/kcore/mem/phys"
)

// Stress runs rounds of page allocation and buffer cache traffic on every
// CPU at once and returns the event counts. Every frame is freed again.
// progress, if set, is called after each round.
func Stress(k *Kernel, rounds int, progress func(n int)) map[string]uint64 {
	var wg sync.WaitGroup

	for c := 0; c < k.NumCPU(); c++ {
		wg.Add(1)

		go func(c int) {
			defer wg.Done()

			ctx := k.Context(c, 1000+c)
			frames := make([]phys.Addr, 0, 8)

			for r := 0; r < rounds; r++ {
				for len(frames) < cap(frames) {
					pa, ok := k.kalloc.Alloc(ctx)
					if !ok {
						break
					}

					frames = append(frames, pa)
				}

				for _, pa := range frames {
					k.kalloc.Free(ctx, pa)
				}

				frames = frames[:0]

				blockno := uint32(1 + (r*k.NumCPU()+c)%int(k.cfg.DiskBlocks-1))
				buf := k.cache.Read(ctx, RootDev, blockno)
				buf.Data[0]++
				k.cache.Write(ctx, buf)
				k.cache.Release(ctx, buf)

				if progress != nil {
					progress(1)
				}
			}
		}(c)
	}

	wg.Wait()

	return k.counter.Snapshot()
}
