// Package tracker records job lifecycle transitions in the registry and
// broadcasts them to subscribers. Every subscriber of a fingerprint sees the
// same event sequence: progress percents are non-decreasing and the terminal
// event arrives exactly once, after all progress.
package tracker

import (
	"errors"
	"sync"

	"github.com/fdown/api/internal/model"
	"github.com/fdown/api/internal/registry"
)

// ErrUnknownJob is returned when subscribing to a fingerprint with no record.
var ErrUnknownJob = errors.New("unknown job")

// subscriberBuffer bounds the per-subscriber channel. When a slow subscriber
// falls behind, the oldest buffered progress event is dropped; the terminal
// event is never dropped.
const subscriberBuffer = 16

// EventType discriminates tracker events.
type EventType string

const (
	EventProgress EventType = "progress"
	EventTerminal EventType = "terminal"
)

// Event is one lifecycle update for a job.
type Event struct {
	Type        EventType
	JobID       string
	Fingerprint string
	Progress    int
	State       model.JobState
	ErrorKind   model.ErrorKind
	ErrorDetail string
}

// Tracker fans job updates out to subscribers and mutates the registry
// record on the way through.
type Tracker struct {
	registry *registry.Registry

	mu   sync.Mutex
	subs map[string]map[chan Event]struct{}
}

// New creates a Tracker bound to the registry.
func New(reg *registry.Registry) *Tracker {
	return &Tracker{
		registry: reg,
		subs:     make(map[string]map[chan Event]struct{}),
	}
}

// Subscribe returns a channel of events for the fingerprint and a cancel
// function. The channel is closed after the terminal event or on cancel.
// Subscribing to an already-terminal job yields that terminal event
// immediately.
func (t *Tracker) Subscribe(fp string) (<-chan Event, func(), error) {
	job, ok := t.registry.Get(fp)
	if !ok {
		return nil, nil, ErrUnknownJob
	}

	ch := make(chan Event, subscriberBuffer)

	if job.State.Terminal() {
		ch <- terminalEvent(job)
		close(ch)
		return ch, func() {}, nil
	}

	t.mu.Lock()
	// The job may have gone terminal between the registry read and taking
	// the lock; re-check so the subscriber is not left hanging.
	if job2, ok := t.registry.Get(fp); ok && job2.State.Terminal() {
		t.mu.Unlock()
		ch <- terminalEvent(job2)
		close(ch)
		return ch, func() {}, nil
	}
	if t.subs[fp] == nil {
		t.subs[fp] = make(map[chan Event]struct{})
	}
	t.subs[fp][ch] = struct{}{}
	t.mu.Unlock()

	cancel := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if set, ok := t.subs[fp]; ok {
			if _, ok := set[ch]; ok {
				delete(set, ch)
				close(ch)
				if len(set) == 0 {
					delete(t.subs, fp)
				}
			}
		}
	}
	return ch, cancel, nil
}

// OnProgress records percent complete and broadcasts it. The registry clamps
// and enforces monotonicity, so subscribers only ever see non-decreasing
// values in [0,100].
func (t *Tracker) OnProgress(fp string, pct int) {
	job, ok := t.registry.SetProgress(fp, pct)
	if !ok {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for ch := range t.subs[fp] {
		send(ch, Event{
			Type:        EventProgress,
			JobID:       job.ID,
			Fingerprint: fp,
			Progress:    job.Progress,
			State:       job.State,
		})
	}
}

// OnTerminal transitions the job to a terminal state and broadcasts the
// outcome. Only the first call per fingerprint has any effect; the event is
// delivered after all prior progress events and the subscription channels
// are closed.
func (t *Tracker) OnTerminal(fp string, state model.JobState, kind model.ErrorKind, detail string) {
	job, ok := t.registry.MarkTerminal(fp, state, kind, detail)
	if !ok {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for ch := range t.subs[fp] {
		send(ch, terminalEvent(job))
		close(ch)
	}
	delete(t.subs, fp)
}

// send delivers without blocking the producer: when the buffer is full the
// oldest event is dropped to make room. All sends happen under t.mu, so the
// drain cannot race another producer.
func send(ch chan Event, e Event) {
	for {
		select {
		case ch <- e:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}

func terminalEvent(job model.Job) Event {
	return Event{
		Type:        EventTerminal,
		JobID:       job.ID,
		Fingerprint: job.Fingerprint,
		Progress:    job.Progress,
		State:       job.State,
		ErrorKind:   job.ErrorKind,
		ErrorDetail: job.ErrorDetail,
	}
}
