package agent

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ronaldjohnatanoso/agent-data-wrangler/sandbox"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedDecider returns its turns in order, then free-text proposals.
type scriptedDecider struct {
	mu        sync.Mutex
	turns     []Turn
	calls     int
	histories [][]Turn
}

func (d *scriptedDecider) Decide(ctx context.Context, req DecisionRequest) (Turn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.histories = append(d.histories, req.History)
	d.calls++
	if d.calls > len(d.turns) {
		return NewProposalTurn("I am done.", nil), nil
	}
	return d.turns[d.calls-1], nil
}

func (d *scriptedDecider) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// fakeRunner returns a fixed result and records the code it was given.
type fakeRunner struct {
	mu     sync.Mutex
	result sandbox.Result
	codes  []string
	hook   func()
}

func (r *fakeRunner) Execute(ctx context.Context, code string) sandbox.Result {
	r.mu.Lock()
	r.codes = append(r.codes, code)
	hook := r.hook
	r.mu.Unlock()
	if hook != nil {
		hook()
	}
	return r.result
}

func (r *fakeRunner) Runs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.codes)
}

// fakeAudit records persisted sessions.
type fakeAudit struct {
	mu       sync.Mutex
	err      error
	sessions []*Session
}

func (a *fakeAudit) Persist(s *Session) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions = append(a.sessions, s)
	return a.err
}

func (a *fakeAudit) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions)
}

func proposal(name string, args map[string]any) Turn {
	return NewProposalTurn("", &ActionCall{ID: "call_" + name, Name: name, Arguments: args})
}

// writeInput creates a CSV file in a fresh directory and returns the directory.
func writeInput(t *testing.T, name string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, name), []byte("region,amount\nnorth,10\nsouth,20\n"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return dir
}

func newTestDirector(t *testing.T, cfg Config) *Director {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = discardLogger()
	}
	d, err := NewDirector(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return d
}
