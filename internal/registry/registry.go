// Package registry owns the job table. It is the single source of truth for
// "is this URL+format currently being processed": fingerprint-keyed
// operations are atomic under one mutex, so concurrent identical submissions
// always collapse to one job.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fdown/api/internal/model"
)

// Config controls record lifecycle windows.
type Config struct {
	// Retention keeps terminal records visible to status queries before the
	// sweeper evicts them.
	Retention time.Duration
	// SuccessReuse dedups resubmissions onto a recently succeeded job.
	SuccessReuse time.Duration
	// FailedGrace dedups resubmissions onto a recently failed or cancelled
	// job; past the grace period a resubmission starts a fresh attempt.
	FailedGrace time.Duration
	// SweepInterval is how often terminal records are checked for eviction.
	SweepInterval time.Duration
}

type record struct {
	job             model.Job
	cancelRequested bool
	cancel          context.CancelFunc
}

// Registry is the in-memory job table.
type Registry struct {
	mu            sync.Mutex
	byFingerprint map[string]*record
	byID          map[string]string

	cfg Config
	now func() time.Time

	stop chan struct{}
	done chan struct{}
}

// New creates a Registry with the given lifecycle windows.
func New(cfg Config) *Registry {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	return &Registry{
		byFingerprint: make(map[string]*record),
		byID:          make(map[string]string),
		cfg:           cfg,
		now:           time.Now,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Submit returns the job for the fingerprint, creating one if needed.
// existing is true when the caller was deduplicated onto a prior job:
// non-terminal jobs always dedup, succeeded jobs dedup within SuccessReuse,
// failed and cancelled jobs dedup within FailedGrace.
func (r *Registry) Submit(fp string, spec model.JobSpec) (job model.Job, existing bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if rec, ok := r.byFingerprint[fp]; ok {
		if r.reusable(rec, now) {
			return rec.job, true
		}
		delete(r.byID, rec.job.ID)
	}

	rec := &record{
		job: model.Job{
			ID:          uuid.New().String(),
			Fingerprint: fp,
			Spec:        spec,
			State:       model.JobStateQueued,
			CreatedAt:   now,
		},
	}
	r.byFingerprint[fp] = rec
	r.byID[rec.job.ID] = fp
	return rec.job, false
}

func (r *Registry) reusable(rec *record, now time.Time) bool {
	if !rec.job.State.Terminal() {
		return true
	}
	if rec.job.CompletedAt == nil {
		return false
	}
	since := now.Sub(*rec.job.CompletedAt)
	if rec.job.State == model.JobStateSucceeded {
		return since < r.cfg.SuccessReuse
	}
	return since < r.cfg.FailedGrace
}

// Get returns a snapshot of the job for a fingerprint.
func (r *Registry) Get(fp string) (model.Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byFingerprint[fp]
	if !ok {
		return model.Job{}, false
	}
	return rec.job, true
}

// GetByID returns a snapshot of the job with the given ID.
func (r *Registry) GetByID(id string) (model.Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fp, ok := r.byID[id]
	if !ok {
		return model.Job{}, false
	}
	rec, ok := r.byFingerprint[fp]
	if !ok {
		return model.Job{}, false
	}
	return rec.job, true
}

// RequestCancel flags the job for cooperative cancellation and fires its
// cancel function if one is registered. Returns the pre-cancel snapshot;
// requested is false when the job is unknown or already terminal.
func (r *Registry) RequestCancel(fp string) (job model.Job, requested bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byFingerprint[fp]
	if !ok || rec.job.State.Terminal() {
		if ok {
			return rec.job, false
		}
		return model.Job{}, false
	}
	rec.cancelRequested = true
	if rec.cancel != nil {
		rec.cancel()
	}
	return rec.job, true
}

// CancelRequested reports whether cancellation was requested for the job.
func (r *Registry) CancelRequested(fp string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byFingerprint[fp]
	return ok && rec.cancelRequested
}

// MarkRunning transitions Queued→Running and registers the cancel function
// that terminates the extraction. Returns false when the record is gone, not
// in Queued state, or flagged for cancellation: a cancel request that lands
// while the job sits in the queue must never let the extraction start.
func (r *Registry) MarkRunning(fp string, cancel context.CancelFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byFingerprint[fp]
	if !ok || rec.job.State != model.JobStateQueued || rec.cancelRequested {
		return false
	}
	now := r.now()
	rec.job.State = model.JobStateRunning
	rec.job.StartedAt = &now
	rec.cancel = cancel
	return true
}

// SetProgress records percent complete for a running job. Values are clamped
// to [0,100] and never decrease.
func (r *Registry) SetProgress(fp string, pct int) (model.Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byFingerprint[fp]
	if !ok || rec.job.State.Terminal() {
		return model.Job{}, false
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	if pct > rec.job.Progress {
		rec.job.Progress = pct
	}
	return rec.job, true
}

// MarkTerminal transitions the job to a terminal state exactly once.
// Subsequent calls for the same fingerprint are no-ops. A registered cancel
// function is fired before being cleared, so an extraction still in flight
// when its job is finalized elsewhere always has its context cancelled.
func (r *Registry) MarkTerminal(fp string, state model.JobState, kind model.ErrorKind, detail string) (model.Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byFingerprint[fp]
	if !ok || rec.job.State.Terminal() {
		return model.Job{}, false
	}
	now := r.now()
	rec.job.State = state
	rec.job.ErrorKind = kind
	rec.job.ErrorDetail = detail
	rec.job.CompletedAt = &now
	if rec.cancel != nil {
		rec.cancel()
		rec.cancel = nil
	}
	if state == model.JobStateSucceeded {
		rec.job.Progress = 100
	}
	return rec.job, true
}

// Discard removes a just-created record whose enqueue was rejected. Only a
// Queued record with a matching job ID is removed, so a concurrent
// resubmission that already replaced it is left alone.
func (r *Registry) Discard(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fp, ok := r.byID[jobID]
	if !ok {
		return
	}
	rec, ok := r.byFingerprint[fp]
	if !ok || rec.job.ID != jobID || rec.job.State != model.JobStateQueued {
		return
	}
	delete(r.byFingerprint, fp)
	delete(r.byID, jobID)
}

// StartSweeper evicts terminal records past the retention window until Stop
// is called.
func (r *Registry) StartSweeper() {
	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.sweep()
			case <-r.stop:
				return
			}
		}
	}()
}

// Stop terminates the sweeper.
func (r *Registry) Stop() {
	close(r.stop)
	<-r.done
}

func (r *Registry) sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for fp, rec := range r.byFingerprint {
		if !rec.job.State.Terminal() || rec.job.CompletedAt == nil {
			continue
		}
		if now.Sub(*rec.job.CompletedAt) >= r.cfg.Retention {
			delete(r.byFingerprint, fp)
			delete(r.byID, rec.job.ID)
		}
	}
}
