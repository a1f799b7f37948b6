package channel

import "github.com/sourcegraph/conc"

// workerPool fans dispatch work out to a fixed number of goroutines, each
// owned by a conc.WaitGroup so stop can wait for in-flight jobs to drain
// rather than abandoning them. Each connection (identified by fd) is
// always routed to the same worker, so HandleRequest calls for one
// connection never run concurrently with each other — the ordering
// guarantee of §5 survives the pool.
type workerPool struct {
	queues []chan func()
	wg     conc.WaitGroup
}

func newWorkerPool(n int) *workerPool {
	p := &workerPool{queues: make([]chan func(), n)}
	for i := range p.queues {
		q := make(chan func(), 64)
		p.queues[i] = q
		p.wg.Go(func() {
			for job := range q {
				job()
			}
		})
	}
	return p
}

func (p *workerPool) submit(fd int, job func()) {
	q := p.queues[fd%len(p.queues)]
	q <- job
}

// stop closes every worker's queue and waits for queued jobs to finish.
func (p *workerPool) stop() {
	for _, q := range p.queues {
		close(q)
	}
	p.wg.Wait()
}
