package bus

import (
	"context"
	"hash/fnv"
	"sync"
)

// Pool fans messages out to a fixed set of workers, sharding by message key.
// All messages for one key land on one worker, so per-ride (and per-driver)
// processing is serialized without any cross-ride blocking. This is the
// pull-based worker-loop shape the consumer binary runs its handlers on.
type Pool struct {
	n       int
	queues  []chan Message
	handler Handler
	wg      sync.WaitGroup
}

func NewPool(workers, depth int, h Handler) *Pool {
	if workers <= 0 {
		workers = 1
	}
	p := &Pool{n: workers, handler: h}
	p.queues = make([]chan Message, workers)
	for i := range p.queues {
		p.queues[i] = make(chan Message, depth)
	}
	return p
}

// Run starts the worker loops and blocks until ctx is cancelled and all
// queued messages have drained.
func (p *Pool) Run(ctx context.Context) {
	for i := 0; i < p.n; i++ {
		p.wg.Add(1)
		go func(q chan Message) {
			defer p.wg.Done()
			for {
				select {
				case m, ok := <-q:
					if !ok {
						return
					}
					_ = p.handler(ctx, m)
				case <-ctx.Done():
					// drain what is already queued, then exit
					for {
						select {
						case m, ok := <-q:
							if !ok {
								return
							}
							_ = p.handler(context.Background(), m)
						default:
							return
						}
					}
				}
			}
		}(p.queues[i])
	}
	<-ctx.Done()
	p.wg.Wait()
}

// Dispatch enqueues m on the worker owning m.Key, blocking if that worker's
// queue is full (backpressure rather than reordering).
func (p *Pool) Dispatch(ctx context.Context, m Message) error {
	select {
	case p.queues[p.shard(m.Key)] <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) shard(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(p.n))
}
