package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tanq16/slicedl/internal/slice"
	"github.com/tanq16/slicedl/internal/sink"
	"github.com/tanq16/slicedl/internal/utils"
)

var ErrDownloadFailed = errors.New("download failed")

const (
	MethodSliced = "sliced"
	MethodPlain  = "plain"
	MethodCache  = "cache"
)

// Downloader is satisfied by *slice.Engine.
type Downloader interface {
	Run(ctx context.Context, task slice.Task) *slice.Outcome
}

// Fallback is satisfied by *plain.Downloader.
type Fallback interface {
	Fetch(ctx context.Context, task slice.Task) ([]byte, error)
}

type Job struct {
	ID         string
	OutputPath string
	Task       slice.Task
}

type Result struct {
	Job       Job
	Path      string
	Method    string
	Bytes     int64
	Slices    int
	FromCache uint64
	Elapsed   time.Duration
	Err       error
}

// NewJobs turns batch entries into jobs. Every job copies base and only
// replaces its URL.
func NewJobs(entries []utils.DownloadEntry, base slice.Task) []Job {
	jobs := make([]Job, 0, len(entries))
	for _, entry := range entries {
		outputPath := entry.OutputPath
		if outputPath == "" {
			outputPath = utils.InferOutputPath(entry.URL)
		}
		task := base
		task.URL = entry.URL
		jobs = append(jobs, Job{
			ID:         uuid.New().String(),
			OutputPath: outputPath,
			Task:       task,
		})
	}
	return jobs
}

// Runner downloads jobs through the sliced engine, falls back to a plain
// download when the engine asks for it, and hands the bytes to Sink.
type Runner struct {
	Engine  Downloader
	Plain   Fallback
	Sink    sink.Sink
	Workers int
}

// Run processes jobs on Workers goroutines. Results keep the order of jobs.
func (r *Runner) Run(ctx context.Context, jobs []Job) []Result {
	results := make([]Result, len(jobs))
	jobCh := make(chan int, len(jobs))
	for i := range jobs {
		jobCh <- i
	}
	close(jobCh)

	var wg sync.WaitGroup
	for range min(max(r.Workers, 1), max(len(jobs), 1)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobCh {
				results[i] = r.process(ctx, jobs[i])
			}
		}()
	}
	wg.Wait()
	return results
}

func (r *Runner) process(ctx context.Context, job Job) Result {
	logger := utils.GetLogger("scheduler").With().Str("job", job.ID).Logger()
	start := time.Now()
	result := Result{Job: job, Method: MethodSliced}
	logger.Debug().Msgf("Starting %s", job.Task.URL)

	out := r.Engine.Run(ctx, job.Task)
	result.Slices = out.Slices
	result.FromCache = out.FromCache.GetCardinality()
	content := out.Content
	switch out.Signal {
	case slice.SignalSuccess:
		if out.Fetched.IsEmpty() && !out.FromCache.IsEmpty() {
			result.Method = MethodCache
		}
	case slice.SignalFallback:
		if r.Plain == nil {
			result.Err = fmt.Errorf("%w: %s cannot be sliced and no plain downloader is set", ErrDownloadFailed, job.Task.URL)
			return r.finish(result, start)
		}
		logger.Info().Msgf("Falling back to a plain download of %s", job.Task.URL)
		result.Method = MethodPlain
		body, err := r.Plain.Fetch(ctx, job.Task)
		if err != nil {
			result.Err = fmt.Errorf("%w: %w", ErrDownloadFailed, err)
			return r.finish(result, start)
		}
		content = body
	default:
		if n := out.Failed.GetCardinality(); n > 0 {
			result.Err = fmt.Errorf("%w: %d of %d slices failed", ErrDownloadFailed, n, out.Slices)
		} else {
			result.Err = fmt.Errorf("%w: assembled size did not match", ErrDownloadFailed)
		}
		return r.finish(result, start)
	}

	result.Bytes = int64(len(content))
	path, err := r.Sink.Write(ctx, job.OutputPath, content)
	if err != nil {
		result.Err = err
		return r.finish(result, start)
	}
	result.Path = path
	return r.finish(result, start)
}

func (r *Runner) finish(result Result, start time.Time) Result {
	result.Elapsed = time.Since(start)
	logger := utils.GetLogger("scheduler").With().Str("job", result.Job.ID).Logger()
	if result.Err != nil {
		logger.Error().Err(result.Err).Msgf("Job for %s failed", result.Job.Task.URL)
	} else {
		logger.Info().Msgf("Job for %s completed via %s", result.Job.Task.URL, result.Method)
	}
	return result
}

// Failed counts the results that carry an error.
func Failed(results []Result) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}
