// Package scheduler dispatches queued download jobs to a fixed pool of
// workers. The queue is bounded: when it is full, enqueue fails immediately
// with ErrQueueFull instead of growing. Each job runs under a timeout and a
// cancel function registered in the registry, so cancellation and timeout
// always terminate the underlying extraction.
package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/fdown/api/internal/cache"
	"github.com/fdown/api/internal/extractor"
	"github.com/fdown/api/internal/model"
	"github.com/fdown/api/internal/registry"
	"github.com/fdown/api/internal/store"
	"github.com/fdown/api/internal/tracker"
)

// ErrQueueFull signals backpressure: the caller should retry later.
var ErrQueueFull = errors.New("download queue is full")

// Config sizes the pool and its limits.
type Config struct {
	Workers    int
	QueueDepth int
	JobTimeout time.Duration
	CacheTTL   time.Duration
}

// Scheduler owns the worker pool.
type Scheduler struct {
	cfg   Config
	queue chan string

	registry  *registry.Registry
	tracker   *tracker.Tracker
	extractor extractor.Extractor
	cache     *cache.Cache
	store     *store.Store

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Scheduler. Workers and QueueDepth must be positive.
func New(cfg Config, reg *registry.Registry, tr *tracker.Tracker, ext extractor.Extractor, ca *cache.Cache, st *store.Store) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:       cfg,
		queue:     make(chan string, cfg.QueueDepth),
		registry:  reg,
		tracker:   tr,
		extractor: ext,
		cache:     ca,
		store:     st,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the worker pool.
func (s *Scheduler) Start() {
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
}

// Stop cancels all in-flight extractions and waits for workers to release
// their slots. Queued jobs that never ran are dropped.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

// Enqueue places a job's fingerprint on the queue in FIFO order. Returns
// ErrQueueFull when capacity is reached; it never blocks.
func (s *Scheduler) Enqueue(fp string) error {
	select {
	case s.queue <- fp:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case fp := <-s.queue:
			s.process(fp)
		}
	}
}

func (s *Scheduler) process(fp string) {
	job, ok := s.registry.Get(fp)
	if !ok {
		return
	}
	if s.registry.CancelRequested(fp) {
		s.tracker.OnTerminal(fp, model.JobStateCancelled, model.ErrKindCancelled, "cancelled before start")
		return
	}

	jobCtx, cancel := context.WithTimeout(s.ctx, s.cfg.JobTimeout)
	defer cancel()

	// MarkRunning fails when the record was replaced or already finished;
	// in that case this queue entry is stale.
	if !s.registry.MarkRunning(fp, cancel) {
		return
	}

	log.Printf("starting download job %s (fingerprint %s)", job.ID, fp)

	destDir, err := s.store.InitJob(job.ID)
	if err != nil {
		s.tracker.OnTerminal(fp, model.JobStateFailed, model.ErrKindExtractionFailed, err.Error())
		return
	}

	result, err := s.extractor.Extract(jobCtx, job.Spec, destDir, func(pct int) {
		s.tracker.OnProgress(fp, pct)
	})
	if err != nil {
		_ = s.store.RemoveJob(job.ID)
		s.finishWithError(fp, job.ID, jobCtx, err)
		return
	}

	s.cache.Put(fp, cache.Handle{
		JobID:       job.ID,
		Path:        result.Path,
		Filename:    result.Filename,
		Size:        result.Size,
		ContentType: result.ContentType,
	}, s.cfg.CacheTTL)

	s.tracker.OnTerminal(fp, model.JobStateSucceeded, "", "")
	log.Printf("download job %s completed (%d bytes)", job.ID, result.Size)
}

func (s *Scheduler) finishWithError(fp, jobID string, jobCtx context.Context, err error) {
	switch {
	case errors.Is(jobCtx.Err(), context.DeadlineExceeded):
		s.tracker.OnTerminal(fp, model.JobStateFailed, model.ErrKindTimeoutExceeded, "extraction exceeded the configured timeout")
	case errors.Is(err, context.Canceled) || s.registry.CancelRequested(fp):
		s.tracker.OnTerminal(fp, model.JobStateCancelled, model.ErrKindCancelled, "cancelled")
	default:
		var exErr *extractor.Error
		if errors.As(err, &exErr) {
			s.tracker.OnTerminal(fp, model.JobStateFailed, exErr.Kind, exErr.Reason)
		} else {
			s.tracker.OnTerminal(fp, model.JobStateFailed, model.ErrKindExtractionFailed, err.Error())
		}
	}
	log.Printf("download job %s did not complete: %v", jobID, err)
}
