package dispatch

import (
	"sync"
	"sync/atomic"
	"time"
)

// RunState is the dispatcher's shared status. The two flags are independent:
// running tracks the watch loop, awaitingCompletion is set when a launch
// begins and cleared by the completion watcher.
type RunState struct {
	running            atomic.Bool
	awaitingCompletion atomic.Bool

	mu           sync.Mutex
	currentJob   string
	currentSince time.Time
}

func (s *RunState) Running() bool {
	return s.running.Load()
}

func (s *RunState) AwaitingCompletion() bool {
	return s.awaitingCompletion.Load()
}

func (s *RunState) setRunning(v bool) {
	s.running.Store(v)
}

// beginJob marks id as the gate holder and raises awaitingCompletion. It must
// run before the completion watcher is armed.
func (s *RunState) beginJob(id string) {
	s.mu.Lock()
	s.currentJob = id
	s.currentSince = time.Now()
	s.mu.Unlock()
	s.awaitingCompletion.Store(true)
}

// MarkCompleted clears awaitingCompletion. It is the completion watcher's
// callback.
func (s *RunState) MarkCompleted() {
	s.awaitingCompletion.Store(false)
}

// endJob forgets the gate holder and clears any leftover wait.
func (s *RunState) endJob() {
	s.awaitingCompletion.Store(false)
	s.mu.Lock()
	s.currentJob = ""
	s.currentSince = time.Time{}
	s.mu.Unlock()
}

// Current returns the identifier of the job holding the gate, if any.
func (s *RunState) Current() (string, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentJob, s.currentSince
}
