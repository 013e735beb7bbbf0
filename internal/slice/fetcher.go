package slice

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/RoaringBitmap/roaring"
	"github.com/rs/zerolog/log"
	"github.com/tanq16/slicedl/internal/transport"
)

var (
	ErrBadStatus      = errors.New("unexpected status code")
	ErrSizeMismatch   = errors.New("slice size mismatch")
	ErrNoContentRange = errors.New("missing Content-Range header")
)

// pendingSet collects slices that exhausted their retries in the current pass.
type pendingSet struct {
	mu    sync.Mutex
	items []Descriptor
}

func (p *pendingSet) add(d Descriptor) {
	p.mu.Lock()
	p.items = append(p.items, d)
	p.mu.Unlock()
}

func (p *pendingSet) drain() []Descriptor {
	p.mu.Lock()
	defer p.mu.Unlock()
	items := p.items
	p.items = nil
	return items
}

func (p *pendingSet) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

// loadedSlices hands each cached slice out at most once.
type loadedSlices struct {
	mu     sync.Mutex
	slices map[int][]byte
}

func (l *loadedSlices) take(index int) ([]byte, bool) {
	if l == nil {
		return nil, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	data, ok := l.slices[index]
	if !ok || len(data) == 0 {
		return nil, false
	}
	delete(l.slices, index)
	return data, true
}

type tally struct {
	mu        sync.Mutex
	fromCache *roaring.Bitmap
	fetched   *roaring.Bitmap
}

func (t *tally) mark(b *roaring.Bitmap, index int) {
	t.mu.Lock()
	b.Add(uint32(index))
	t.mu.Unlock()
}

// fetcher downloads slices into slots. Each index is written by exactly one fetch.
type fetcher struct {
	task      Task
	opts      Options
	transport transport.Transport
	slots     [][]byte
	pending   *pendingSet
	cached    *loadedSlices
	store     *CacheStore
	key       string
	tally     *tally
}

func (f *fetcher) fetch(ctx context.Context, d Descriptor) {
	if f.opts.SliceCache {
		if data, ok := f.cached.take(d.Index); ok {
			f.slots[d.Index] = data
			f.tally.mark(f.tally.fromCache, d.Index)
			log.Debug().Str("op", "slice/fetch").Msgf("slice %d loaded from cache", d.Index)
			return
		}
	}
	var lastErr error
	for attempt := 1; attempt <= f.opts.SliceRetryTimes; attempt++ {
		data, err := f.attempt(ctx, d)
		if err == nil {
			f.slots[d.Index] = data
			f.tally.mark(f.tally.fetched, d.Index)
			if f.opts.SliceCache && f.opts.CacheEager {
				if err := f.store.Save(ctx, f.key, d.Index, data); err != nil {
					log.Debug().Str("op", "slice/fetch").Err(err).Msgf("cannot cache slice %d", d.Index)
				}
			}
			return
		}
		lastErr = err
		if attempt < f.opts.SliceRetryTimes {
			log.Warn().Str("op", "slice/fetch").Err(err).Msgf("slice %d of %s failed, retrying (attempt %d/%d)", d.Index, f.task.URL, attempt+1, f.opts.SliceRetryTimes)
		}
	}
	log.Error().Str("op", "slice/fetch").Err(lastErr).Msgf("slice %d of %s gave up after %d attempts", d.Index, f.task.URL, f.opts.SliceRetryTimes)
	f.pending.add(d)
}

func (f *fetcher) attempt(ctx context.Context, d Descriptor) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.opts.SliceTimeout)
	defer cancel()
	header := f.task.RequestHeader()
	if !d.Whole {
		header.Set("Range", d.RangeHeader())
	}
	resp, err := f.transport.Do(ctx, &transport.Request{
		Method:   f.task.RequestMethod(),
		URL:      f.task.URL,
		Header:   header,
		Body:     f.task.Body,
		UseProxy: f.opts.UseProxy,
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode)
	}
	if int64(len(resp.Body)) != d.Length {
		return nil, fmt.Errorf("%w: got %d bytes, want %d (Content-Length %q)", ErrSizeMismatch, len(resp.Body), d.Length, resp.Header.Get("Content-Length"))
	}
	return resp.Body, nil
}
