package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/tanq16/slicedl/internal/output"
	"github.com/tanq16/slicedl/internal/plain"
	"github.com/tanq16/slicedl/internal/scheduler"
	"github.com/tanq16/slicedl/internal/sink"
	"github.com/tanq16/slicedl/internal/slice"
	"github.com/tanq16/slicedl/internal/transport"
	"github.com/tanq16/slicedl/internal/utils"
)

// newRunner wires transports and sinks from cfg. The AWS client is only
// created when a job reads from or writes to S3.
func newRunner(ctx context.Context, jobs []scheduler.Job) (*scheduler.Runner, error) {
	httpTransport, err := transport.NewHTTPTransport(cfg.HTTPTransportConfig())
	if err != nil {
		return nil, err
	}
	router := &transport.Router{HTTP: httpTransport}
	sinks := &sink.Router{File: &sink.FileSink{Overwrite: overwrite}}
	if needsS3(jobs) {
		client, err := transport.NewS3Client(ctx, cfg.S3.Profile)
		if err != nil {
			return nil, err
		}
		router.S3 = transport.NewS3Transport(client)
		sinks.S3 = sink.NewS3Sink(client, cfg.Slice.Size)
	}
	return &scheduler.Runner{
		Engine:  slice.NewEngine(router),
		Plain:   plain.New(router, cfg.HTTP.PlainRetries),
		Sink:    sinks,
		Workers: cfg.Batch.Workers,
	}, nil
}

func needsS3(jobs []scheduler.Job) bool {
	for _, job := range jobs {
		if utils.DetermineDownloadType(job.Task.URL) == "s3" || utils.DetermineDownloadType(job.OutputPath) == "s3" {
			return true
		}
	}
	return false
}

func runJobs(ctx context.Context, jobs []scheduler.Job) error {
	if ctx == nil {
		ctx = context.Background()
	}
	runner, err := newRunner(ctx, jobs)
	if err != nil {
		return err
	}
	results := runner.Run(ctx, jobs)
	output.RenderSummary(os.Stdout, summaryLines(results))
	if n := scheduler.Failed(results); n > 0 {
		return fmt.Errorf("%d of %d downloads failed", n, len(results))
	}
	return nil
}

func summaryLines(results []scheduler.Result) []output.Line {
	lines := make([]output.Line, 0, len(results))
	for _, r := range results {
		lines = append(lines, output.Line{
			ID:         r.Job.ID,
			URL:        r.Job.Task.URL,
			OutputPath: r.Path,
			Method:     r.Method,
			Bytes:      r.Bytes,
			Slices:     r.Slices,
			FromCache:  r.FromCache,
			Elapsed:    r.Elapsed,
			Err:        r.Err,
		})
	}
	return lines
}
