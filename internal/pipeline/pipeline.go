// Package pipeline implements the bounded fetch pipeline of spec.md §4.6:
// a pool of concurrent RPC fetchers (producers) feeding a single
// block-processor consumer through a height-ordered priority queue, the
// Go translation of the Python original's gevent greenlet pool plus
// guv.queue.PriorityQueue (original_source/sync.py's queue_getter/
// queue_setter). Producers never touch the store; only the consumer does.
package pipeline

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/CodeKiet/lincoln/internal/domain"
	"go.uber.org/zap"
)

// Fetcher is the subset of rpcclient.Client the pipeline needs, kept as
// an interface so producers can be driven by a fake in tests.
type Fetcher interface {
	GetBlockHash(ctx context.Context, height int64) (string, error)
	GetBlock(ctx context.Context, hash string) (*domain.DecodedBlock, error)
}

// Config controls producer concurrency and backpressure.
type Config struct {
	Workers       int           // number of concurrent fetch goroutines
	QueueCapacity int           // bounded priority-queue size (spec.md §4.6: 500-1000)
	RemoteDelay   time.Duration // per-worker delay after each fetch; zero disables it (coinserv.remote is not consulted; the supervisor leaves it zero)
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 1000
	}
	return c
}

// item is one entry of the height-ordered min-heap.
type item struct {
	height int64
	block  *domain.DecodedBlock
}

type heightHeap []*item

func (h heightHeap) Len() int            { return len(h) }
func (h heightHeap) Less(i, j int) bool  { return h[i].height < h[j].height }
func (h heightHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *heightHeap) Push(x interface{}) { *h = append(*h, x.(*item)) }
func (h *heightHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// Pipeline owns the bounded priority queue and the producer pool. Next
// blocks until the block at the expected next height has arrived,
// regardless of how out-of-order the producers finished fetching it.
type Pipeline struct {
	cfg     Config
	fetcher Fetcher
	logger  *zap.Logger

	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	h        heightHeap
	closed   bool
}

func New(fetcher Fetcher, cfg Config, logger *zap.Logger) *Pipeline {
	cfg = cfg.withDefaults()
	p := &Pipeline{cfg: cfg, fetcher: fetcher, logger: logger}
	p.notEmpty = sync.NewCond(&p.mu)
	p.notFull = sync.NewCond(&p.mu)
	heap.Init(&p.h)
	return p
}

// Run launches the producer pool fetching heights [from, to] inclusive
// and blocks until every producer has finished or ctx is cancelled.
// Consume should be running concurrently to drain the queue as blocks
// arrive (otherwise producers stall against the bounded capacity).
func (p *Pipeline) Run(ctx context.Context, from, to int64) error {
	heights := make(chan int64)
	var wg sync.WaitGroup
	errCh := make(chan error, p.cfg.Workers)

	for w := 0; w < p.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case height, ok := <-heights:
					if !ok {
						return
					}
					if err := p.fetchOne(ctx, height); err != nil {
						select {
						case errCh <- fmt.Errorf("pipeline: fetch height %d: %w", height, err):
						default:
						}
						return
					}
					if p.cfg.RemoteDelay > 0 {
						select {
						case <-ctx.Done():
						case <-time.After(p.cfg.RemoteDelay):
						}
					}
				}
			}
		}()
	}

	go func() {
		defer close(heights)
		for h := from; h <= to; h++ {
			select {
			case <-ctx.Done():
				return
			case heights <- h:
			}
		}
	}()

	wg.Wait()
	p.Close()

	select {
	case err := <-errCh:
		return err
	default:
		return ctx.Err()
	}
}

func (p *Pipeline) fetchOne(ctx context.Context, height int64) error {
	hash, err := p.fetcher.GetBlockHash(ctx, height)
	if err != nil {
		return err
	}
	block, err := p.fetcher.GetBlock(ctx, hash)
	if err != nil {
		return err
	}
	p.put(height, block)
	return nil
}

func (p *Pipeline) put(height int64, block *domain.DecodedBlock) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.h) >= p.cfg.QueueCapacity && !p.closed {
		p.notFull.Wait()
	}
	heap.Push(&p.h, &item{height: height, block: block})
	p.notEmpty.Signal()
}

// Next blocks until the lowest-height pending block is exactly
// wantHeight, then returns it (the height-ordering contract of spec.md
// §5's ordering guarantee (a)). Out-of-order arrivals for heights beyond
// wantHeight simply wait in the heap.
func (p *Pipeline) Next(ctx context.Context, wantHeight int64) (*domain.DecodedBlock, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if len(p.h) > 0 && p.h[0].height == wantHeight {
			it := heap.Pop(&p.h).(*item)
			p.notFull.Signal()
			return it.block, nil
		}
		if p.closed && len(p.h) == 0 {
			return nil, ctx.Err()
		}
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				p.mu.Lock()
				p.notEmpty.Broadcast()
				p.mu.Unlock()
			case <-done:
			}
		}()
		p.notEmpty.Wait()
		close(done)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
}

// Close signals shutdown; waiting producers and consumers unblock.
func (p *Pipeline) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.notFull.Broadcast()
	p.notEmpty.Broadcast()
}
