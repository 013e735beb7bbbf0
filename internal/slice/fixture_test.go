package slice

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/tanq16/slicedl/internal/transport"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

func syntheticPayload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*31 + i>>8 + i>>16)
	}
	return b
}

// rangeFixture serves payload like a range-capable server. Keys of fail and short
// are Range header values ("" for whole-body requests).
type rangeFixture struct {
	payload  []byte
	noRanges bool
	delay    func(rng string) time.Duration

	mu       sync.Mutex
	fail     map[string]int // remaining failures, -1 for always
	short    map[string]bool
	status   map[string]int // forced status code
	requests map[string]int
	total    int
}

func newRangeFixture(payload []byte) *rangeFixture {
	return &rangeFixture{
		payload:  payload,
		fail:     map[string]int{},
		short:    map[string]bool{},
		status:   map[string]int{},
		requests: map[string]int{},
	}
}

func (f *rangeFixture) count(rng string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[rng]
}

func (f *rangeFixture) totalRequests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total
}

func (f *rangeFixture) Do(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	rng := req.Header.Get("Range")
	f.mu.Lock()
	f.requests[rng]++
	f.total++
	failing := false
	if n, ok := f.fail[rng]; ok && n != 0 {
		failing = true
		if n > 0 {
			f.fail[rng] = n - 1
		}
	}
	short := f.short[rng]
	status, forced := f.status[rng]
	f.mu.Unlock()

	if f.delay != nil {
		select {
		case <-time.After(f.delay(rng)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failing {
		return nil, fmt.Errorf("injected failure for %q", rng)
	}
	if forced {
		return &transport.Response{StatusCode: status, Header: http.Header{}}, nil
	}
	if rng == "" || f.noRanges {
		return &transport.Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: f.payload}, nil
	}
	start, end := parseRange(rng)
	end = min(end, int64(len(f.payload))-1)
	body := f.payload[start : end+1]
	if short {
		body = body[:len(body)/2]
	}
	h := http.Header{}
	h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(f.payload)))
	h.Set("Content-Length", strconv.Itoa(len(body)))
	return &transport.Response{StatusCode: http.StatusPartialContent, Header: h, Body: body}, nil
}

func parseRange(rng string) (int64, int64) {
	first, last, _ := strings.Cut(strings.TrimPrefix(rng, "bytes="), "-")
	s, _ := strconv.ParseInt(first, 10, 64)
	e, _ := strconv.ParseInt(last, 10, 64)
	return s, e
}
