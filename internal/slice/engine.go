package slice

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"

	"github.com/RoaringBitmap/roaring"
	"github.com/rs/zerolog/log"
	"github.com/tanq16/slicedl/internal/transport"
)

// Signal is the three-way outcome of a sliced download.
type Signal int

const (
	// SignalFallback asks the caller to retry with a plain, unsliced download.
	SignalFallback Signal = 0
	SignalFailed   Signal = 1
	SignalSuccess  Signal = 2
)

func (s Signal) String() string {
	switch s {
	case SignalFallback:
		return "fallback"
	case SignalFailed:
		return "failed"
	case SignalSuccess:
		return "success"
	}
	return fmt.Sprintf("signal(%d)", int(s))
}

// Outcome is the full result of one run. Content is set only on SignalSuccess.
type Outcome struct {
	Signal    Signal
	Content   []byte
	Size      int64
	Slices    int
	FromCache *roaring.Bitmap
	Fetched   *roaring.Bitmap
	Failed    *roaring.Bitmap
}

var errEmptyProbe = errors.New("probe returned an empty body")

type Engine struct {
	transport transport.Transport
}

func NewEngine(tr transport.Transport) *Engine {
	return &Engine{transport: tr}
}

// Download runs the task and returns the signal with the assembled bytes.
func (e *Engine) Download(ctx context.Context, task Task) (Signal, []byte) {
	out := e.Run(ctx, task)
	return out.Signal, out.Content
}

func (e *Engine) Run(ctx context.Context, task Task) *Outcome {
	opts := task.Options.normalize()
	key := Identity(task.URL)
	store := NewCacheStore(opts.CacheDir, opts.CacheIOLimit)
	out := &Outcome{
		FromCache: roaring.New(),
		Fetched:   roaring.New(),
		Failed:    roaring.New(),
	}

	size, body, err := e.probe(ctx, task, opts)
	if err != nil {
		if opts.SliceCache && opts.ReuseCacheOnProbeFailure {
			if content, ok := assembleFromCache(ctx, store, key, task.URL); ok {
				log.Info().Str("op", "slice/engine").Msgf("size probe for %s failed, served %d bytes from cache", task.URL, len(content))
				store.Clear(key)
				out.Signal, out.Content, out.Size = SignalSuccess, content, int64(len(content))
				return out
			}
		}
		log.Warn().Str("op", "slice/engine").Err(err).Msgf("cannot size %s, switching to plain download", task.URL)
		out.Signal = SignalFallback
		return out
	}
	if body != nil {
		log.Debug().Str("op", "slice/engine").Msgf("%s does not support ranges, probe returned the whole resource", task.URL)
		out.Signal, out.Content, out.Size = SignalSuccess, body, int64(len(body))
		return out
	}
	out.Size = size

	descriptors := Plan(size, opts.SliceSize, opts.SliceMinSize)
	out.Slices = len(descriptors)
	if len(descriptors) == 1 && descriptors[0].Whole {
		log.Info().Str("op", "slice/engine").Msgf("%s is below the slice minimum, fetching whole", task.URL)
	} else {
		log.Info().Str("op", "slice/engine").Msgf("downloading %s: %d bytes in %d slices", task.URL, size, len(descriptors))
	}

	f := &fetcher{
		task:      task,
		opts:      opts,
		transport: e.transport,
		slots:     make([][]byte, len(descriptors)),
		pending:   &pendingSet{},
		store:     store,
		key:       key,
		tally:     &tally{fromCache: out.FromCache, fetched: out.Fetched},
	}
	if opts.SliceCache {
		f.cached = loadCache(ctx, store, key, Manifest{
			URL:       task.URL,
			Size:      size,
			SliceSize: opts.SliceSize,
			Slices:    len(descriptors),
		})
	}

	sched := NewScheduler(opts.Mode, opts.SliceSemaphore)
	sched.Run(ctx, descriptors, f.fetch)
	for pass := 1; pass <= opts.ErrListRetryTimes && f.pending.len() > 0; pass++ {
		retry := f.pending.drain()
		log.Info().Str("op", "slice/engine").Msgf("%d slices of %s failed, recovery pass %d/%d", len(retry), task.URL, pass, opts.ErrListRetryTimes)
		sched.Run(ctx, retry, f.fetch)
	}

	if failed := f.pending.drain(); len(failed) > 0 {
		for _, d := range failed {
			out.Failed.Add(uint32(d.Index))
		}
		log.Error().Str("op", "slice/engine").Msgf("%d slices of %s still failing after recovery, download failed", len(failed), task.URL)
		if opts.SliceCache {
			n := store.SaveAll(ctx, key, f.slots)
			log.Info().Str("op", "slice/engine").Msgf("cached %d slices of %s for a later run", n, task.URL)
		}
		out.Signal = SignalFailed
		return out
	}

	content := merge(f.slots)
	if int64(len(content)) != size {
		log.Error().Str("op", "slice/engine").Msgf("assembled %d bytes of %s, expected %d", len(content), task.URL, size)
		store.Clear(key)
		out.Signal = SignalFailed
		return out
	}
	if opts.SliceCache {
		store.Clear(key)
	}
	log.Info().Str("op", "slice/engine").Msgf("downloaded %s (%d bytes)", task.URL, size)
	out.Signal, out.Content = SignalSuccess, content
	return out
}

// probe sizes the resource. A 200 answer means ranges are unsupported and its body
// is returned as the complete resource.
func (e *Engine) probe(ctx context.Context, task Task, opts Options) (int64, []byte, error) {
	var lastErr error
	for attempt := 1; attempt <= probeAttempts; attempt++ {
		size, body, err := e.probeOnce(ctx, task, opts)
		if err == nil {
			return size, body, nil
		}
		lastErr = err
		if attempt < probeAttempts {
			log.Warn().Str("op", "slice/engine").Err(err).Msgf("size probe for %s failed, retrying (attempt %d/%d)", task.URL, attempt+1, probeAttempts)
		}
	}
	return 0, nil, fmt.Errorf("size probe failed after %d attempts: %w", probeAttempts, lastErr)
}

func (e *Engine) probeOnce(ctx context.Context, task Task, opts Options) (int64, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, opts.SliceTimeout)
	defer cancel()
	header := task.RequestHeader()
	header.Set("Range", transport.RangeHeader(0, probeEnd))
	resp, err := e.transport.Do(ctx, &transport.Request{
		Method:   task.RequestMethod(),
		URL:      task.URL,
		Header:   header,
		Body:     task.Body,
		UseProxy: opts.UseProxy,
	})
	if err != nil {
		return 0, nil, err
	}
	switch resp.StatusCode {
	case http.StatusPartialContent:
		contentRange := resp.Header.Get("Content-Range")
		if contentRange == "" {
			return 0, nil, ErrNoContentRange
		}
		_, _, total, err := transport.ParseContentRange(contentRange)
		if err != nil {
			return 0, nil, err
		}
		if total <= 0 {
			return 0, nil, fmt.Errorf("unusable total size in %q", contentRange)
		}
		return total, nil, nil
	case http.StatusOK:
		if len(resp.Body) == 0 {
			return 0, nil, errEmptyProbe
		}
		return 0, resp.Body, nil
	}
	return 0, nil, fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode)
}

// loadCache returns the reusable slices for a run and records its manifest. A cache
// written for a different URL, size or slicing, or with an unreadable manifest, is
// discarded. Without a manifest the slice files are trusted.
func loadCache(ctx context.Context, store *CacheStore, key string, want Manifest) *loadedSlices {
	loaded := &loadedSlices{slices: map[int][]byte{}}
	if store.Exists(key) {
		m, err := store.LoadManifest(key)
		switch {
		case err != nil && !errors.Is(err, fs.ErrNotExist):
			log.Warn().Str("op", "slice/engine").Err(err).Msgf("cache manifest for %s is unreadable, discarding", want.URL)
			store.Clear(key)
		case err == nil && !sameLayout(*m, want):
			log.Warn().Str("op", "slice/engine").Msgf("cache for %s is stale, discarding", want.URL)
			store.Clear(key)
		default:
			loaded.slices = store.LoadAll(ctx, key)
			log.Info().Str("op", "slice/engine").Msgf("loaded %d cached slices for %s", len(loaded.slices), want.URL)
		}
	}
	if err := store.SaveManifest(key, want); err != nil {
		log.Debug().Str("op", "slice/engine").Err(err).Msg("cannot write cache manifest")
	}
	return loaded
}

func sameLayout(a, b Manifest) bool {
	return a.URL == b.URL && a.Size == b.Size && a.SliceSize == b.SliceSize && a.Slices == b.Slices
}

// assembleFromCache rebuilds a resource when every slice named by the manifest is cached.
func assembleFromCache(ctx context.Context, store *CacheStore, key, url string) ([]byte, bool) {
	if !store.Exists(key) {
		return nil, false
	}
	m, err := store.LoadManifest(key)
	if err != nil || m.URL != url || m.Slices <= 0 {
		return nil, false
	}
	loaded := store.LoadAll(ctx, key)
	slots := make([][]byte, m.Slices)
	for i := range slots {
		data, ok := loaded[i]
		if !ok {
			return nil, false
		}
		slots[i] = data
	}
	content := merge(slots)
	if int64(len(content)) != m.Size {
		return nil, false
	}
	return content, true
}
