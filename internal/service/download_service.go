package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fdown/api/internal/cache"
	"github.com/fdown/api/internal/extractor"
	"github.com/fdown/api/internal/fingerprint"
	"github.com/fdown/api/internal/model"
	"github.com/fdown/api/internal/registry"
	"github.com/fdown/api/internal/scheduler"
	"github.com/fdown/api/internal/store"
	"github.com/fdown/api/internal/tracker"
)

// Sentinel errors surfaced to handlers.
var (
	ErrInvalidURL        = fingerprint.ErrInvalidURL
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrBackpressure      = errors.New("download queue is full, retry later")
	ErrJobNotFound       = errors.New("job not found")
	ErrNotReady          = errors.New("job not completed yet")
	ErrExpired           = errors.New("result expired")
)

// JobFailedError reports a result request for a job that ended in failure or
// cancellation.
type JobFailedError struct {
	Kind   model.ErrorKind
	Detail string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("job did not succeed (%s): %s", e.Kind, e.Detail)
}

var allowedFormats = map[string]bool{"": true, "best": true, "mp4": true, "webm": true, "mkv": true}

// ResultFile is an open, streamable download result. The caller (or the
// response writer) closes File.
type ResultFile struct {
	File        *os.File
	Filename    string
	Size        int64
	ContentType string
}

// DownloadService orchestrates download jobs: it validates and fingerprints
// submissions, dedups them through the registry, enqueues new work, and
// resolves results against the cache. Submission never blocks on extraction.
type DownloadService struct {
	registry  *registry.Registry
	scheduler *scheduler.Scheduler
	tracker   *tracker.Tracker
	cache     *cache.Cache
	store     *store.Store
	extractor extractor.Extractor

	// submitMu makes submit-and-enqueue atomic: without it a concurrent
	// identical submission could dedup onto a record that is about to be
	// discarded because the queue rejected it.
	submitMu sync.Mutex

	probeTimeout time.Duration
}

// NewDownloadService wires the orchestration components together.
func NewDownloadService(reg *registry.Registry, sched *scheduler.Scheduler, tr *tracker.Tracker, ca *cache.Cache, st *store.Store, ext extractor.Extractor, probeTimeout time.Duration) *DownloadService {
	if probeTimeout <= 0 {
		probeTimeout = time.Minute
	}
	return &DownloadService{
		registry:     reg,
		scheduler:    sched,
		tracker:      tr,
		cache:        ca,
		store:        st,
		extractor:    ext,
		probeTimeout: probeTimeout,
	}
}

// Submit validates the request, dedups it onto an existing job when one is
// in flight, and otherwise enqueues a new job. Returns immediately with a
// job reference.
func (s *DownloadService) Submit(req *model.DownloadRequest) (*model.DownloadResponse, error) {
	if !allowedFormats[req.Format] {
		return nil, ErrUnsupportedFormat
	}

	fp, err := fingerprint.Compute(req.URL, req.Format, req.Quality)
	if err != nil {
		return nil, ErrInvalidURL
	}

	spec := model.JobSpec{URL: req.URL, Format: req.Format, Quality: req.Quality}

	// Enqueue never blocks, so the lock is only held across map and
	// channel operations.
	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	job, existing := s.registry.Submit(fp, spec)
	if existing {
		return &model.DownloadResponse{
			JobID:     job.ID,
			Status:    model.SubmitStatusExisting,
			State:     job.State,
			CreatedAt: job.CreatedAt,
		}, nil
	}

	if err := s.scheduler.Enqueue(fp); err != nil {
		// The record was created for this submission only; drop it so a
		// later retry is not deduplicated onto a job that never ran.
		s.registry.Discard(job.ID)
		return nil, ErrBackpressure
	}

	return &model.DownloadResponse{
		JobID:     job.ID,
		Status:    model.SubmitStatusQueued,
		State:     job.State,
		CreatedAt: job.CreatedAt,
	}, nil
}

// Status returns the current lifecycle snapshot for a job.
func (s *DownloadService) Status(jobID string) (*model.StatusResponse, error) {
	job, ok := s.registry.GetByID(jobID)
	if !ok {
		return nil, ErrJobNotFound
	}
	return &model.StatusResponse{
		JobID:       job.ID,
		State:       job.State,
		Progress:    job.Progress,
		ErrorKind:   job.ErrorKind,
		ErrorDetail: job.ErrorDetail,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}, nil
}

// Result opens the cached output for a succeeded job. ErrNotReady while the
// job is still queued or running; ErrExpired when the cache evicted the
// output before retrieval.
func (s *DownloadService) Result(jobID string) (*ResultFile, error) {
	job, ok := s.registry.GetByID(jobID)
	if !ok {
		return nil, ErrJobNotFound
	}

	switch job.State {
	case model.JobStateQueued, model.JobStateRunning:
		return nil, ErrNotReady
	case model.JobStateFailed, model.JobStateCancelled:
		return nil, &JobFailedError{Kind: job.ErrorKind, Detail: job.ErrorDetail}
	}

	handle, ok := s.cache.Get(job.Fingerprint)
	if !ok {
		return nil, ErrExpired
	}

	f, err := s.store.Open(handle.Path)
	if err != nil {
		// The file vanished under the cache entry; treat it as evicted.
		s.cache.Remove(job.Fingerprint)
		return nil, ErrExpired
	}
	return &ResultFile{
		File:        f,
		Filename:    handle.Filename,
		Size:        handle.Size,
		ContentType: handle.ContentType,
	}, nil
}

// Cancel requests cooperative cancellation. A queued job is finalized
// immediately; a running job is cancelled through its registered cancel
// function and reaches the terminal state once the extractor lets go.
func (s *DownloadService) Cancel(jobID string) (*model.CancelResponse, error) {
	job, ok := s.registry.GetByID(jobID)
	if !ok {
		return nil, ErrJobNotFound
	}

	pre, requested := s.registry.RequestCancel(job.Fingerprint)
	if !requested {
		return &model.CancelResponse{JobID: job.ID, Cancelled: false, State: pre.State}, nil
	}

	if pre.State == model.JobStateQueued {
		s.tracker.OnTerminal(job.Fingerprint, model.JobStateCancelled, model.ErrKindCancelled, "cancelled while queued")
	}

	current, _ := s.registry.GetByID(jobID)
	return &model.CancelResponse{JobID: job.ID, Cancelled: true, State: current.State}, nil
}

// Info probes video metadata without creating a job.
func (s *DownloadService) Info(ctx context.Context, url string) (*model.VideoInfo, error) {
	normalized, err := fingerprint.Normalize(url)
	if err != nil {
		return nil, ErrInvalidURL
	}
	ctx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()
	return s.extractor.Probe(ctx, normalized)
}

// Subscribe exposes the tracker's event stream for a job ID, for the
// websocket layer.
func (s *DownloadService) Subscribe(jobID string) (<-chan tracker.Event, func(), error) {
	job, ok := s.registry.GetByID(jobID)
	if !ok {
		return nil, nil, ErrJobNotFound
	}
	ch, cancel, err := s.tracker.Subscribe(job.Fingerprint)
	if err != nil {
		return nil, nil, ErrJobNotFound
	}
	return ch, cancel, nil
}
