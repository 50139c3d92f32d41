package coordinator

import (
	"hash/fnv"
	"runtime"
)

// stripedPool serializes work per entity key while letting different keys
// run concurrently: a generalization of a single-writer store (one
// goroutine, one queue) into N independent
// single-writer queues, one per stripe.
type stripedPool struct {
	lanes []chan func()
}

// newStripedPool creates a pool with n lanes, each drained by its own
// goroutine. n defaults to GOMAXPROCS when <= 0.
func newStripedPool(n int) *stripedPool {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
		if n < 1 {
			n = 1
		}
	}
	p := &stripedPool{lanes: make([]chan func(), n)}
	for i := range p.lanes {
		lane := make(chan func(), 256)
		p.lanes[i] = lane
		go func() {
			for task := range lane {
				task()
			}
		}()
	}
	return p
}

// submit runs task, in order, serialized against every other task
// submitted with the same key.
func (p *stripedPool) submit(key string, task func()) {
	p.lanes[p.laneFor(key)] <- task
}

func (p *stripedPool) laneFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(p.lanes)))
}

// close stops accepting new work. Lanes are left to drain naturally since
// channels are never closed mid-flight by submit's caller; used only at
// process shutdown.
func (p *stripedPool) close() {
	for _, lane := range p.lanes {
		close(lane)
	}
}
