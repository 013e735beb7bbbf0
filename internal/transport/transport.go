package transport

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/tanq16/slicedl/internal/utils"
)

// Request is a single (optionally ranged) request against a remote resource.
type Request struct {
	Method   string
	URL      string
	Header   http.Header
	Body     []byte
	UseProxy bool
}

// Response is a fully buffered response. Slices are small enough to keep in memory.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Transport issues requests. Implementations must be safe for concurrent use.
type Transport interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// Router dispatches a request to a transport by URL scheme.
type Router struct {
	HTTP Transport
	S3   Transport
}

func (r *Router) Do(ctx context.Context, req *Request) (*Response, error) {
	if utils.DetermineDownloadType(req.URL) == "s3" {
		if r.S3 == nil {
			return nil, fmt.Errorf("no s3 transport configured for %s", req.URL)
		}
		return r.S3.Do(ctx, req)
	}
	if r.HTTP == nil {
		return nil, fmt.Errorf("no http transport configured for %s", req.URL)
	}
	return r.HTTP.Do(ctx, req)
}

// RangeHeader renders an inclusive, zero-based byte range.
func RangeHeader(start, end int64) string {
	return fmt.Sprintf("bytes=%d-%d", start, end)
}

// ParseContentRange parses "bytes <start>-<end>/<total>". Total is -1 when the
// server sends "*".
func ParseContentRange(header string) (start, end, total int64, err error) {
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, "bytes ") {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}
	rng, size, ok := strings.Cut(strings.TrimPrefix(header, "bytes "), "/")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}
	first, last, ok := strings.Cut(rng, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}
	if start, err = strconv.ParseInt(first, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid start byte: %w", err)
	}
	if end, err = strconv.ParseInt(last, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid end byte: %w", err)
	}
	if size == "*" {
		return start, end, -1, nil
	}
	if total, err = strconv.ParseInt(size, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid total bytes: %w", err)
	}
	return start, end, total, nil
}
