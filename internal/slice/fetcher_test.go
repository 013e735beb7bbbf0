package slice

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/stretchr/testify/require"
)

func newTestFetcher(fx *rangeFixture, opts Options, n int) *fetcher {
	opts = opts.normalize()
	return &fetcher{
		task:      NewTask("https://example.com/data.bin", opts),
		opts:      opts,
		transport: fx,
		slots:     make([][]byte, n),
		pending:   &pendingSet{},
		store:     NewCacheStore(opts.CacheDir, opts.CacheIOLimit),
		key:       Identity("https://example.com/data.bin"),
		tally:     &tally{fromCache: roaring.New(), fetched: roaring.New()},
	}
}

func TestFetchSizeMismatchExhaustsRetries(t *testing.T) {
	payload := syntheticPayload(4096)
	fx := newRangeFixture(payload)
	d := Plan(4096, 1024, 0)[1]
	fx.short[d.RangeHeader()] = true

	opts := DefaultOptions()
	opts.SliceRetryTimes = 4
	f := newTestFetcher(fx, opts, 4)
	f.fetch(context.Background(), d)

	require.Equal(t, 4, fx.count(d.RangeHeader()))
	require.Nil(t, f.slots[1])
	require.Equal(t, []Descriptor{d}, f.pending.drain())
}

func TestFetchIgnoredRangeIsRetried(t *testing.T) {
	fx := newRangeFixture(syntheticPayload(64))
	fx.noRanges = true
	d := Plan(64, 16, 0)[0]
	// 200 with the whole 64-byte body fails the length check for a 16-byte slice.
	opts := DefaultOptions()
	opts.SliceRetryTimes = 2
	f := newTestFetcher(fx, opts, 4)
	f.fetch(context.Background(), d)
	require.Equal(t, 2, fx.totalRequests())
	require.Len(t, f.pending.drain(), 1)
}

func TestFetchBadStatusIsRetried(t *testing.T) {
	fx := newRangeFixture(syntheticPayload(64))
	d := Plan(64, 16, 0)[2]
	fx.status[d.RangeHeader()] = 503
	opts := DefaultOptions()
	opts.SliceRetryTimes = 5
	f := newTestFetcher(fx, opts, 4)
	f.fetch(context.Background(), d)
	require.Equal(t, 5, fx.count(d.RangeHeader()))
	require.Equal(t, []Descriptor{d}, f.pending.drain())

	_, err := f.attempt(context.Background(), d)
	require.ErrorIs(t, err, ErrBadStatus)
	delete(fx.status, d.RangeHeader())
	fx.short[d.RangeHeader()] = true
	_, err = f.attempt(context.Background(), d)
	require.ErrorIs(t, err, ErrSizeMismatch)
}

func TestFetchRecoversWithinRetryBudget(t *testing.T) {
	payload := syntheticPayload(2048)
	fx := newRangeFixture(payload)
	d := Plan(2048, 1024, 0)[0]
	fx.fail[d.RangeHeader()] = 2

	opts := DefaultOptions()
	opts.SliceRetryTimes = 3
	f := newTestFetcher(fx, opts, 2)
	f.fetch(context.Background(), d)

	require.Equal(t, 3, fx.count(d.RangeHeader()))
	require.Equal(t, payload[:1024], f.slots[0])
	require.Zero(t, f.pending.len())
	require.True(t, f.tally.fetched.Contains(0))
}

func TestFetchTimeoutCountsAsFailure(t *testing.T) {
	fx := newRangeFixture(syntheticPayload(100))
	fx.delay = func(string) time.Duration { return time.Second }
	opts := DefaultOptions()
	opts.SliceTimeout = 10 * time.Millisecond
	opts.SliceRetryTimes = 2
	f := newTestFetcher(fx, opts, 1)
	f.fetch(context.Background(), Plan(100, 50, 0)[0])
	require.Equal(t, 2, fx.totalRequests())
	require.Equal(t, 1, f.pending.len())
}

func TestFetchPrefersCachedSlice(t *testing.T) {
	fx := newRangeFixture(syntheticPayload(100))
	opts := DefaultOptions()
	opts.SliceCache = true
	f := newTestFetcher(fx, opts, 2)
	f.cached = &loadedSlices{slices: map[int][]byte{1: []byte("cached")}}

	f.fetch(context.Background(), Descriptor{Index: 1, Start: 50, End: 99, Length: 50})
	require.Equal(t, []byte("cached"), f.slots[1])
	require.Zero(t, fx.totalRequests())
	require.True(t, f.tally.fromCache.Contains(1))

	_, ok := f.cached.take(1)
	require.False(t, ok, "a cached slice is handed out once")
}

func TestFetchIgnoresCacheWhenDisabled(t *testing.T) {
	payload := syntheticPayload(100)
	fx := newRangeFixture(payload)
	f := newTestFetcher(fx, DefaultOptions(), 2)
	f.cached = &loadedSlices{slices: map[int][]byte{0: []byte("stale")}}
	f.fetch(context.Background(), Plan(100, 50, 0)[0])
	require.Equal(t, payload[:50], f.slots[0])
	require.Equal(t, 1, fx.totalRequests())
}

func TestFetchEagerCacheWritesThrough(t *testing.T) {
	payload := syntheticPayload(100)
	fx := newRangeFixture(payload)
	opts := DefaultOptions()
	opts.SliceCache = true
	opts.CacheEager = true
	opts.CacheDir = t.TempDir()
	f := newTestFetcher(fx, opts, 2)
	f.fetch(context.Background(), Plan(100, 50, 0)[1])

	data, err := os.ReadFile(filepath.Join(f.store.Dir(f.key), "1"))
	require.NoError(t, err)
	require.Equal(t, payload[50:], data)
}

func TestFetchWholeDescriptorSendsNoRange(t *testing.T) {
	payload := syntheticPayload(300)
	fx := newRangeFixture(payload)
	f := newTestFetcher(fx, DefaultOptions(), 1)
	f.fetch(context.Background(), Plan(300, 100, 1000)[0])
	require.Equal(t, 1, fx.count(""))
	require.Equal(t, payload, f.slots[0])
}
