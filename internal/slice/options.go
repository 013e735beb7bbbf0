package slice

import (
	"net/http"
	"time"
)

const (
	DefaultSliceSize         = 2 * 1024 * 1024
	DefaultSliceMinSize      = 2 * 1024 * 1024
	DefaultSliceSemaphore    = 20
	DefaultSliceTimeout      = 30 * time.Second
	DefaultSliceRetryTimes   = 10
	DefaultErrListRetryTimes = 1
	DefaultCacheDir          = "cache_down"
	DefaultCacheIOLimit      = 10

	ModeAsync  = "async"
	ModeThread = "thread"

	probeAttempts = 3
	probeEnd      = 100 // probe asks for bytes=0-100
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36"

// Options tunes a sliced download.
type Options struct {
	SliceSize         int64         // bytes per slice
	SliceMinSize      int64         // resources up to this size are fetched whole
	SliceSemaphore    int           // max in-flight slice fetches
	SliceTimeout      time.Duration // per attempt
	SliceRetryTimes   int           // attempts per slice within one pass
	ErrListRetryTimes int           // recovery passes over failed slices
	SliceCache        bool
	UseProxy          bool
	Mode              string // ModeAsync or ModeThread

	CacheDir     string
	CacheIOLimit int
	// CacheEager writes each slice to the cache as soon as it lands instead of only
	// when the download fails.
	CacheEager bool
	// ReuseCacheOnProbeFailure lets a failed size probe be answered from a complete
	// cache before reporting SignalFallback.
	ReuseCacheOnProbeFailure bool
}

func DefaultOptions() Options {
	return Options{
		SliceSize:         DefaultSliceSize,
		SliceMinSize:      DefaultSliceMinSize,
		SliceSemaphore:    DefaultSliceSemaphore,
		SliceTimeout:      DefaultSliceTimeout,
		SliceRetryTimes:   DefaultSliceRetryTimes,
		ErrListRetryTimes: DefaultErrListRetryTimes,
		Mode:              ModeAsync,
		CacheDir:          DefaultCacheDir,
		CacheIOLimit:      DefaultCacheIOLimit,
	}
}

// normalize replaces unusable values; zero recovery passes and a zero min size are valid.
func (o Options) normalize() Options {
	if o.SliceSize <= 0 {
		o.SliceSize = DefaultSliceSize
	}
	if o.SliceMinSize < 0 {
		o.SliceMinSize = 0
	}
	if o.SliceSemaphore <= 0 {
		o.SliceSemaphore = DefaultSliceSemaphore
	}
	if o.SliceTimeout <= 0 {
		o.SliceTimeout = DefaultSliceTimeout
	}
	if o.SliceRetryTimes <= 0 {
		o.SliceRetryTimes = 1
	}
	if o.ErrListRetryTimes < 0 {
		o.ErrListRetryTimes = 0
	}
	if o.Mode != ModeThread {
		o.Mode = ModeAsync
	}
	if o.CacheDir == "" {
		o.CacheDir = DefaultCacheDir
	}
	if o.CacheIOLimit <= 0 {
		o.CacheIOLimit = DefaultCacheIOLimit
	}
	return o
}

// Task describes one resource to download. The engine never mutates it.
type Task struct {
	URL     string
	Method  string
	Header  map[string]string
	Body    []byte
	Options Options
	// UserAgent replaces the default browser agent. A User-Agent in Header
	// still takes precedence.
	UserAgent string
}

func NewTask(url string, opts Options) Task {
	return Task{URL: url, Method: http.MethodGet, Options: opts}
}

// RequestHeader returns a fresh header set for one request. Without caller
// headers a User-Agent and a Referer pointing at the URL are sent.
func (t Task) RequestHeader() http.Header {
	h := http.Header{}
	if len(t.Header) == 0 {
		h.Set("User-Agent", t.userAgent())
		h.Set("Referer", t.URL)
		return h
	}
	if t.UserAgent != "" {
		h.Set("User-Agent", t.UserAgent)
	}
	for k, v := range t.Header {
		h.Set(k, v)
	}
	return h
}

func (t Task) RequestMethod() string {
	if t.Method == "" {
		return http.MethodGet
	}
	return t.Method
}

func (t Task) userAgent() string {
	if t.UserAgent != "" {
		return t.UserAgent
	}
	return defaultUserAgent
}
