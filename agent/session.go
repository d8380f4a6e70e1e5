package agent

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ronaldjohnatanoso/agent-data-wrangler/llm"
)

// State is a phase of the director state machine.
type State string

const (
	StateInit           State = "init"
	StateRequesting     State = "requesting"
	StateAwaitingAction State = "awaiting_action"
	StateTerminal       State = "terminal"
)

// Observation is one entry in a session's auxiliary trace. The trace is
// kept apart from the conversation and never sent to the model.
type Observation struct {
	Time   time.Time `json:"time"`
	Kind   string    `json:"kind"`
	Detail string    `json:"detail"`
}

// pendingOutcome is an action result waiting to be formatted.
type pendingOutcome struct {
	call     ActionCall
	outcome  ExecutionOutcome
	terminal bool
}

// Session is one end-to-end run over a single input resource. The director
// is its only writer; accessors are safe to call from other goroutines.
type Session struct {
	id        string
	inputPath string
	createdAt time.Time

	mu          sync.RWMutex
	history     []Turn
	lastOutcome *ExecutionOutcome
	pending     *pendingOutcome
	state       State
	haltReason  string
	requests    int
	reportPath  string
	trace       []Observation
	finishedAt  time.Time
}

// NewSession creates a session in the init state for the given input path.
func NewSession(inputPath string) *Session {
	return &Session{
		id:        uuid.New().String(),
		inputPath: inputPath,
		createdAt: time.Now(),
		state:     StateInit,
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// InputPath returns the absolute path of the resource under analysis.
func (s *Session) InputPath() string { return s.inputPath }

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Append adds a turn to history. Instruction turns are only accepted first.
func (s *Session) Append(turn Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateTerminal {
		return ErrSessionTerminal
	}
	if !turn.valid() {
		return fmt.Errorf("invalid %s turn: payload does not match kind", turn.Kind)
	}
	if turn.Kind == TurnInstruction && len(s.history) > 0 {
		return ErrInstructionNotFirst
	}
	s.history = append(s.history, turn)
	return nil
}

// History returns a copy of the conversation history.
func (s *Session) History() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Turn, len(s.history))
	copy(out, s.history)
	return out
}

// Len returns the number of turns in history.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}

// LastTurn returns the most recent turn, if any.
func (s *Session) LastTurn() (Turn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.history) == 0 {
		return Turn{}, false
	}
	return s.history[len(s.history)-1], true
}

// Usage sums the token usage reported on every proposal so far.
func (s *Session) Usage() llm.Usage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total llm.Usage
	for _, t := range s.history {
		if t.Kind == TurnProposal && t.Proposal != nil {
			total = total.Add(t.Proposal.Usage)
		}
	}
	return total
}

// Finalized reports whether a terminal action has completed successfully
// anywhere in history.
func (s *Session) Finalized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.history {
		if t.finalizes() {
			return true
		}
	}
	return false
}

// LastOutcome returns the most recent execution outcome, or nil.
func (s *Session) LastOutcome() *ExecutionOutcome {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastOutcome == nil {
		return nil
	}
	o := *s.lastOutcome
	return &o
}

// State returns the current state machine phase.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// HaltReason returns why the session stopped, or "" while it runs.
func (s *Session) HaltReason() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.haltReason
}

// Requests returns how many decision requests have been dispatched.
func (s *Session) Requests() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.requests
}

// ReportPath returns where the report was written, or "".
func (s *Session) ReportPath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reportPath
}

// Trace returns a copy of the auxiliary observations.
func (s *Session) Trace() []Observation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Observation, len(s.trace))
	copy(out, s.trace)
	return out
}

// FinishedAt returns when the session became terminal, or the zero time.
func (s *Session) FinishedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.finishedAt
}

// Observe appends an entry to the auxiliary trace.
func (s *Session) Observe(kind, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trace = append(s.trace, Observation{Time: time.Now(), Kind: kind, Detail: detail})
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateTerminal {
		return
	}
	s.state = state
}

// terminate moves the session to the terminal state. The first reason wins.
func (s *Session) terminate(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateTerminal {
		return
	}
	s.state = StateTerminal
	s.haltReason = reason
	s.finishedAt = time.Now()
}

func (s *Session) countRequest() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++
	return s.requests
}

func (s *Session) setReportPath(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reportPath = path
}

// setPending stores an action result for the formatter.
func (s *Session) setPending(call ActionCall, outcome ExecutionOutcome, terminal bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = &pendingOutcome{call: call, outcome: outcome, terminal: terminal}
	o := outcome
	s.lastOutcome = &o
}

// takePending returns the pending result and clears it.
func (s *Session) takePending() (pendingOutcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return pendingOutcome{}, false
	}
	p := *s.pending
	s.pending = nil
	return p, true
}
