package slice

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// FetchFunc fetches one slice and records its result itself; it never fails outward.
type FetchFunc func(ctx context.Context, d Descriptor)

// Scheduler runs fetches with bounded parallelism. Run returns only after every
// descriptor has been handed to fetch and fetch has returned.
type Scheduler interface {
	Run(ctx context.Context, descriptors []Descriptor, fetch FetchFunc)
}

// NewScheduler picks the strategy for mode ("async" or "thread").
func NewScheduler(mode string, limit int) Scheduler {
	if limit <= 0 {
		limit = DefaultSliceSemaphore
	}
	if mode == ModeThread {
		return &WorkerPool{Workers: limit}
	}
	return &Cooperative{Limit: limit}
}

// Cooperative starts one goroutine per slice and admits at most Limit of them
// into fetch at a time through a FIFO counting gate.
type Cooperative struct {
	Limit int
}

func (c *Cooperative) Run(ctx context.Context, descriptors []Descriptor, fetch FetchFunc) {
	gate := semaphore.NewWeighted(int64(max(c.Limit, 1)))
	var wg sync.WaitGroup
	for _, d := range descriptors {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Background: admission must not fail, a cancelled ctx fails inside fetch instead.
			if err := gate.Acquire(context.Background(), 1); err != nil {
				return
			}
			defer gate.Release(1)
			fetch(ctx, d)
		}()
	}
	wg.Wait()
}

// WorkerPool runs Workers goroutines that pull slices from a shared queue.
type WorkerPool struct {
	Workers int
}

func (p *WorkerPool) Run(ctx context.Context, descriptors []Descriptor, fetch FetchFunc) {
	if len(descriptors) == 0 {
		return
	}
	jobs := make(chan Descriptor)
	var g errgroup.Group
	for range min(max(p.Workers, 1), len(descriptors)) {
		g.Go(func() error {
			for d := range jobs {
				fetch(ctx, d)
			}
			return nil
		})
	}
	for _, d := range descriptors {
		jobs <- d
	}
	close(jobs)
	g.Wait()
}
