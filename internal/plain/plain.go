package plain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/slicedl/internal/slice"
	"github.com/tanq16/slicedl/internal/transport"
)

const (
	DefaultRetries = 5
	DefaultBackoff = 500 * time.Millisecond
)

var ErrStatus = errors.New("unexpected status code")

// Downloader fetches a resource in one unranged request. It serves the
// resources a sliced download reports it cannot size.
type Downloader struct {
	Transport transport.Transport
	Retries   int
	Backoff   time.Duration // attempt n waits n*Backoff first
}

func New(tr transport.Transport, retries int) *Downloader {
	if retries <= 0 {
		retries = DefaultRetries
	}
	return &Downloader{Transport: tr, Retries: retries, Backoff: DefaultBackoff}
}

// Fetch sends the task's own method, body and headers without a Range header.
func (d *Downloader) Fetch(ctx context.Context, task slice.Task) ([]byte, error) {
	url := task.URL
	var lastErr error
	for retry := range d.Retries {
		if retry > 0 {
			log.Warn().Str("op", "plain/download").Msgf("Retrying download for %s (attempt %d/%d)", url, retry+1, d.Retries)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(retry+1) * d.Backoff):
			}
		}
		body, err := d.attempt(ctx, task)
		if err != nil {
			lastErr = err
			log.Error().Str("op", "plain/download").Err(err).Msgf("Download attempt %d failed", retry+1)
			continue
		}
		log.Info().Str("op", "plain/download").Msgf("Plain download successful for %s", url)
		return body, nil
	}
	return nil, fmt.Errorf("download failed after %d retries: %w", d.Retries, lastErr)
}

func (d *Downloader) attempt(ctx context.Context, task slice.Task) ([]byte, error) {
	method := task.RequestMethod()
	resp, err := d.Transport.Do(ctx, &transport.Request{
		Method:   method,
		URL:      task.URL,
		Header:   task.RequestHeader(),
		Body:     task.Body,
		UseProxy: task.Options.UseProxy,
	})
	if err != nil {
		return nil, fmt.Errorf("error executing %s request: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" && cl != strconv.Itoa(len(resp.Body)) {
		return nil, fmt.Errorf("short body: got %d bytes, Content-Length %s", len(resp.Body), cl)
	}
	return resp.Body, nil
}
