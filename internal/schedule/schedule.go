// Package schedule submits envelopes on recurring cron schedules, for
// periodic work such as cleanup sweeps or heartbeat notifications.
package schedule

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/courier-dev/courier/agent"
)

// Submitter accepts envelopes for dispatch. The host service satisfies it.
type Submitter interface {
	Submit(ctx context.Context, env *agent.Envelope) (*agent.DispatchResult, error)
}

// Entry describes one recurring submission.
type Entry struct {
	// Spec is a cron expression ("*/5 * * * *") or descriptor ("@every 30s").
	Spec string

	// Type is the envelope type submitted on each firing.
	Type string

	// Payload builds the payload for each firing. Nil submits an empty
	// payload.
	Payload func() interface{}

	// Sender stamps the submitted envelopes. Defaults to "scheduler".
	Sender string
}

// Scheduler fires entries on their cron schedules and submits the resulting
// envelopes.
type Scheduler struct {
	submitter Submitter
	cron      *cron.Cron

	mu      sync.Mutex
	entries map[cron.EntryID]Entry
	running bool
}

// New creates a scheduler that submits through the given submitter. Cron
// options pass through, e.g. cron.WithSeconds for second-granularity specs.
func New(submitter Submitter, opts ...cron.Option) *Scheduler {
	return &Scheduler{
		submitter: submitter,
		cron:      cron.New(opts...),
		entries:   make(map[cron.EntryID]Entry),
	}
}

// Add registers a recurring submission and returns its entry ID.
func (s *Scheduler) Add(e Entry) (cron.EntryID, error) {
	if e.Type == "" {
		return 0, fmt.Errorf("schedule entry requires a type")
	}
	if e.Sender == "" {
		e.Sender = "scheduler"
	}

	id, err := s.cron.AddFunc(e.Spec, func() { s.fire(e) })
	if err != nil {
		return 0, fmt.Errorf("invalid schedule %q: %w", e.Spec, err)
	}

	s.mu.Lock()
	s.entries[id] = e
	s.mu.Unlock()
	return id, nil
}

// Remove drops a recurring submission. Unknown IDs are a no-op.
func (s *Scheduler) Remove(id cron.EntryID) {
	s.cron.Remove(id)
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
}

// Entries returns a snapshot of the registered entries keyed by ID.
func (s *Scheduler) Entries() map[cron.EntryID]Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[cron.EntryID]Entry, len(s.entries))
	for id, e := range s.entries {
		out[id] = e
	}
	return out
}

// Start begins firing schedules. Starting a running scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.cron.Start()
	log.Printf("[Scheduler] Started with %d entries", len(s.entries))
}

// Stop halts scheduling and waits for in-flight firings to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	log.Printf("[Scheduler] Stopped")
}

func (s *Scheduler) fire(e Entry) {
	var payload interface{}
	if e.Payload != nil {
		payload = e.Payload()
	}

	env, err := agent.NewEnvelope(e.Type, payload)
	if err != nil {
		log.Printf("[Scheduler] Failed to build %s envelope: %v", e.Type, err)
		return
	}
	env = env.WithSender(e.Sender)

	result, err := s.submitter.Submit(context.Background(), env)
	if err != nil {
		log.Printf("[Scheduler] Submit %s failed: %v", e.Type, err)
		return
	}
	if len(result.Failures) > 0 {
		log.Printf("[Scheduler] Dispatch %s finished %s with %d failure(s)",
			e.Type, result.Status, len(result.Failures))
	}
}
