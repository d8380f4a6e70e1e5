package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ronaldjohnatanoso/agent-data-wrangler/sandbox"
)

func TestNewDirectorRequiresDeciderAndActions(t *testing.T) {
	if _, err := NewDirector(Config{Actions: NewActionRegistry()}); err == nil {
		t.Error("expected error without decider")
	}
	if _, err := NewDirector(Config{Decider: &scriptedDecider{}}); err == nil {
		t.Error("expected error without actions")
	}
}

func TestInitOpensSession(t *testing.T) {
	dir := writeInput(t, "sales.csv")
	d := newTestDirector(t, Config{
		Decider: &scriptedDecider{},
		Actions: DefaultActions(&fakeRunner{}),
		BaseDir: dir,
	})

	s, err := d.Init("sales.csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := filepath.Join(dir, "sales.csv")
	if s.InputPath() != want {
		t.Errorf("expected input %q, got %q", want, s.InputPath())
	}
	h := s.History()
	if len(h) != 2 || h[0].Kind != TurnInstruction || h[1].Kind != TurnRequest {
		t.Fatalf("expected instruction and request turns, got %+v", h)
	}
	if h[0].TextContent() != DefaultInstruction {
		t.Error("expected default instruction")
	}
	if !strings.Contains(h[1].TextContent(), want) {
		t.Errorf("expected request to name the input, got %q", h[1].TextContent())
	}
	if s.State() != StateRequesting {
		t.Errorf("expected requesting state, got %s", s.State())
	}
}

func TestRunMissingInput(t *testing.T) {
	dir := t.TempDir()
	decider := &scriptedDecider{}
	audit := &fakeAudit{}
	d := newTestDirector(t, Config{
		Decider: decider,
		Actions: DefaultActions(&fakeRunner{}),
		BaseDir: dir,
		Audit:   audit,
	})

	for _, input := range []string{"missing.csv", "."} {
		_, err := d.Run(context.Background(), input)
		if !errors.Is(err, ErrInputNotFound) {
			t.Errorf("%s: expected ErrInputNotFound, got %v", input, err)
		}
	}
	if decider.Calls() != 0 {
		t.Errorf("expected no decision request, got %d", decider.Calls())
	}
	if audit.Calls() != 0 {
		t.Errorf("expected no audit for a session that never started, got %d", audit.Calls())
	}
}

func TestRunFailedCodeGetsCorrectiveFeedback(t *testing.T) {
	dir := writeInput(t, "sales.csv")
	decider := &scriptedDecider{turns: []Turn{
		proposal(ActionExecuteCode, map[string]any{"code": "raise ValueError('x')"}),
		NewProposalTurn("I could not finish.", nil),
	}}
	runner := &fakeRunner{result: sandbox.Result{Success: false, Stderr: "ValueError: x", ExitCode: 1}}
	audit := &fakeAudit{}

	d := newTestDirector(t, Config{
		Decider: decider,
		Actions: DefaultActions(runner),
		BaseDir: dir,
		Audit:   audit,
	})

	res, err := d.Run(context.Background(), "sales.csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decider.Calls() != 2 || runner.Runs() != 1 {
		t.Fatalf("expected 2 decisions and 1 run, got %d and %d", decider.Calls(), runner.Runs())
	}

	second := decider.histories[1]
	last := second[len(second)-1]
	if last.Kind != TurnOutcome {
		t.Fatalf("expected second request to end with an outcome, got %s", last.Kind)
	}
	for _, want := range []string{"ValueError: x", CorrectiveDirective} {
		if !strings.Contains(last.TextContent(), want) {
			t.Errorf("expected %q in feedback, got %q", want, last.TextContent())
		}
	}

	if res.HaltReason != HaltNoAction {
		t.Errorf("expected no_action halt, got %q", res.HaltReason)
	}
	if res.FinalMessage != "I could not finish." {
		t.Errorf("unexpected final message %q", res.FinalMessage)
	}
	if res.Requests != 2 {
		t.Errorf("expected 2 requests, got %d", res.Requests)
	}
	if res.ReportPath != "" {
		t.Errorf("expected no report, got %q", res.ReportPath)
	}
	if audit.Calls() != 1 {
		t.Errorf("expected one audit write, got %d", audit.Calls())
	}
}

func TestRunWritesReportAndStops(t *testing.T) {
	dir := writeInput(t, "sales.csv")
	decider := &scriptedDecider{turns: []Turn{
		proposal(ActionCreateReport, map[string]any{
			"report_content": "Two regions. Total amount 30.",
			"subject_path":   "sales.csv",
		}),
	}}
	d := newTestDirector(t, Config{
		Decider: decider,
		Actions: DefaultActions(&fakeRunner{}),
		BaseDir: dir,
	})

	res, err := d.Run(context.Background(), "sales.csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decider.Calls() != 1 {
		t.Errorf("expected exactly one decision request, got %d", decider.Calls())
	}
	if res.HaltReason != HaltFinalized {
		t.Errorf("expected finalized halt, got %q", res.HaltReason)
	}

	want := filepath.Join(dir, "sales_report.txt")
	if res.ReportPath != want {
		t.Errorf("expected report at %q, got %q", want, res.ReportPath)
	}
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "Two regions. Total amount 30." {
		t.Errorf("unexpected report content %q", data)
	}

	h := res.Session.History()
	last := h[len(h)-1]
	if last.Kind != TurnOutcome || !last.Outcome.Terminal || !last.Outcome.Result.Success {
		t.Errorf("expected successful terminal outcome last, got %+v", last)
	}
}

func TestStepNeverRequestsAfterFinalize(t *testing.T) {
	dir := writeInput(t, "sales.csv")
	decider := &scriptedDecider{}
	d := newTestDirector(t, Config{
		Decider: decider,
		Actions: DefaultActions(&fakeRunner{}),
		BaseDir: dir,
	})

	s, err := d.Init("sales.csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Append(proposal(ActionCreateReport, map[string]any{
		"report_content": "done", "subject_path": "sales.csv",
	})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	halted, err := d.Step(context.Background(), s)
	if err != nil || halted {
		t.Fatalf("expected the pending report to run, halted=%v err=%v", halted, err)
	}
	for i := 0; i < 3; i++ {
		halted, err := d.Step(context.Background(), s)
		if err != nil || !halted {
			t.Fatalf("step %d: expected halt, halted=%v err=%v", i, halted, err)
		}
	}
	if decider.Calls() != 0 {
		t.Errorf("expected no decision requests after finalize, got %d", decider.Calls())
	}
	if s.HaltReason() != HaltFinalized || s.State() != StateTerminal {
		t.Errorf("expected finalized terminal session, got %s/%s", s.State(), s.HaltReason())
	}
}

func TestRunHaltsOnUnusableProposal(t *testing.T) {
	tests := []struct {
		name   string
		turn   Turn
		reason string
	}{
		{"unknown action", proposal("delete_everything", map[string]any{}), HaltUnknownAction},
		{"missing argument", proposal(ActionExecuteCode, map[string]any{"source": "print(1)"}), HaltMalformedAction},
		{"undecodable call", NewMalformedProposalTurn("", "bad json"), HaltMalformedAction},
		{"wrong turn kind", NewRequestTurn("not a proposal"), HaltMalformedAction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeInput(t, "sales.csv")
			runner := &fakeRunner{}
			d := newTestDirector(t, Config{
				Decider: &scriptedDecider{turns: []Turn{tt.turn}},
				Actions: DefaultActions(runner),
				BaseDir: dir,
			})

			res, err := d.Run(context.Background(), "sales.csv")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.HaltReason != tt.reason {
				t.Errorf("expected %q, got %q", tt.reason, res.HaltReason)
			}
			if runner.Runs() != 0 {
				t.Error("expected nothing to be executed")
			}
		})
	}
}

func TestRunDecisionTimeout(t *testing.T) {
	dir := writeInput(t, "sales.csv")
	block := make(chan struct{})
	defer close(block)

	tests := map[string]Decider{
		"watches context": DeciderFunc(func(ctx context.Context, _ DecisionRequest) (Turn, error) {
			<-ctx.Done()
			return Turn{}, ctx.Err()
		}),
		"ignores context": DeciderFunc(func(context.Context, DecisionRequest) (Turn, error) {
			<-block
			return NewProposalTurn("too late", nil), nil
		}),
	}

	for name, decider := range tests {
		t.Run(name, func(t *testing.T) {
			audit := &fakeAudit{}
			d := newTestDirector(t, Config{
				Decider:         decider,
				Actions:         DefaultActions(&fakeRunner{}),
				BaseDir:         dir,
				DecisionTimeout: 50 * time.Millisecond,
				Audit:           audit,
			})

			start := time.Now()
			res, err := d.Run(context.Background(), "sales.csv")
			if !errors.Is(err, ErrDecisionTimeout) {
				t.Fatalf("expected ErrDecisionTimeout, got %v", err)
			}
			if time.Since(start) > 5*time.Second {
				t.Error("expected the director to return promptly")
			}
			if res.HaltReason != HaltDecisionTimeout {
				t.Errorf("expected decision_timeout, got %q", res.HaltReason)
			}
			if audit.Calls() != 1 {
				t.Errorf("expected aborted session to be audited, got %d", audit.Calls())
			}
		})
	}
}

func TestRunDecisionError(t *testing.T) {
	dir := writeInput(t, "sales.csv")
	boom := errors.New("boom")
	d := newTestDirector(t, Config{
		Decider: DeciderFunc(func(context.Context, DecisionRequest) (Turn, error) { return Turn{}, boom }),
		Actions: DefaultActions(&fakeRunner{}),
		BaseDir: dir,
	})

	res, err := d.Run(context.Background(), "sales.csv")
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped decider error, got %v", err)
	}
	if res.HaltReason != HaltDecisionError {
		t.Errorf("expected decision_error, got %q", res.HaltReason)
	}
}

func TestRunRequestLimit(t *testing.T) {
	dir := writeInput(t, "sales.csv")
	decider := DeciderFunc(func(context.Context, DecisionRequest) (Turn, error) {
		return proposal(ActionExecuteCode, map[string]any{"code": "print(1)"}), nil
	})
	runner := &fakeRunner{result: sandbox.Result{Success: true, Stdout: "1\n"}}
	d := newTestDirector(t, Config{
		Decider:     decider,
		Actions:     DefaultActions(runner),
		BaseDir:     dir,
		MaxRequests: 3,
	})

	res, err := d.Run(context.Background(), "sales.csv")
	if !errors.Is(err, ErrRequestLimit) {
		t.Fatalf("expected ErrRequestLimit, got %v", err)
	}
	if res.Requests != 3 || runner.Runs() != 3 {
		t.Errorf("expected 3 requests and runs, got %d and %d", res.Requests, runner.Runs())
	}
	if res.HaltReason != HaltRequestLimit {
		t.Errorf("expected request_limit, got %q", res.HaltReason)
	}
}

func TestRunCancelledDuringAction(t *testing.T) {
	dir := writeInput(t, "sales.csv")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	decider := &scriptedDecider{turns: []Turn{
		proposal(ActionExecuteCode, map[string]any{"code": "import time; time.sleep(60)"}),
	}}
	runner := &fakeRunner{
		result: sandbox.Result{Success: false, Stderr: "execution cancelled: context canceled", ExitCode: -1},
		hook:   cancel,
	}
	d := newTestDirector(t, Config{
		Decider: decider,
		Actions: DefaultActions(runner),
		BaseDir: dir,
	})

	res, err := d.Run(ctx, "sales.csv")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if res.HaltReason != HaltCancelled {
		t.Errorf("expected cancelled, got %q", res.HaltReason)
	}
	if decider.Calls() != 1 {
		t.Errorf("expected no request after cancellation, got %d", decider.Calls())
	}
	h := res.Session.History()
	if h[len(h)-1].Kind != TurnOutcome {
		t.Error("expected the interrupted outcome to be recorded")
	}
}

func TestRunCancelledDuringDecisionWritesNoReport(t *testing.T) {
	dir := writeInput(t, "sales.csv")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	decider := DeciderFunc(func(context.Context, DecisionRequest) (Turn, error) {
		cancel()
		return proposal(ActionCreateReport, map[string]any{
			"report_content": "partial", "subject_path": "sales.csv",
		}), nil
	})
	d := newTestDirector(t, Config{
		Decider: decider,
		Actions: DefaultActions(&fakeRunner{}),
		BaseDir: dir,
	})

	res, err := d.Run(ctx, "sales.csv")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if res.HaltReason != HaltCancelled {
		t.Errorf("expected cancelled, got %q", res.HaltReason)
	}
	if _, err := os.Stat(filepath.Join(dir, "sales_report.txt")); !os.IsNotExist(err) {
		t.Errorf("expected no report, stat err=%v", err)
	}
}

func TestRunAuditFailureIsNotFatal(t *testing.T) {
	dir := writeInput(t, "sales.csv")
	audit := &fakeAudit{err: errors.New("disk full")}
	d := newTestDirector(t, Config{
		Decider: &scriptedDecider{},
		Actions: DefaultActions(&fakeRunner{}),
		BaseDir: dir,
		Audit:   audit,
	})

	res, err := d.Run(context.Background(), "sales.csv")
	if err != nil {
		t.Fatalf("expected audit failure to be swallowed, got %v", err)
	}
	if res.HaltReason != HaltNoAction {
		t.Errorf("expected no_action, got %q", res.HaltReason)
	}

	found := false
	for _, o := range res.Session.Trace() {
		if o.Kind == "audit_error" && strings.Contains(o.Detail, "disk full") {
			found = true
		}
	}
	if !found {
		t.Error("expected audit failure in the trace")
	}
}

func TestRunEmitsEvents(t *testing.T) {
	dir := writeInput(t, "sales.csv")
	events := NewEventEmitter(64)
	d := newTestDirector(t, Config{
		Decider: DeciderFunc(func(context.Context, DecisionRequest) (Turn, error) {
			return proposal(ActionExecuteCode, map[string]any{"code": "print(1)"}), nil
		}),
		Actions:     DefaultActions(&fakeRunner{result: sandbox.Result{Success: true}}),
		BaseDir:     dir,
		MaxRequests: 3,
		LoopWindow:  3,
		Events:      events,
	})

	_, _ = d.Run(context.Background(), "sales.csv")
	events.Close()

	var kinds []EventKind
	for ev := range events.Events() {
		kinds = append(kinds, ev.Kind)
	}
	if len(kinds) < 2 || kinds[0] != EventSessionStart || kinds[len(kinds)-1] != EventSessionEnd {
		t.Fatalf("expected session start and end around events, got %v", kinds)
	}

	counts := make(map[EventKind]int)
	for _, k := range kinds {
		counts[k]++
	}
	if counts[EventDecisionRequest] != 3 || counts[EventActionEnd] != 3 {
		t.Errorf("unexpected event counts %v", counts)
	}
	if counts[EventLoopDetection] != 1 {
		t.Errorf("expected one loop detection, got %d", counts[EventLoopDetection])
	}
	if counts[EventError] != 1 {
		t.Errorf("expected the request limit to be reported, got %d", counts[EventError])
	}
}

func TestRunWithShellSandbox(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	dir := writeInput(t, "sales.csv")
	executor := sandbox.New(sandbox.Config{
		Interpreter: "/bin/sh",
		FileExt:     ".sh",
		TempRoot:    t.TempDir(),
		Timeout:     10 * time.Second,
	})
	decider := &scriptedDecider{turns: []Turn{
		proposal(ActionExecuteCode, map[string]any{"code": "echo broken >&2; exit 3"}),
		proposal(ActionExecuteCode, map[string]any{"code": "wc -l < " + filepath.Join(dir, "sales.csv")}),
		proposal(ActionCreateReport, map[string]any{"report_content": "3 lines", "subject_path": "sales.csv"}),
	}}
	d := newTestDirector(t, Config{
		Decider: decider,
		Actions: DefaultActions(executor),
		BaseDir: dir,
	})

	res, err := d.Run(context.Background(), "sales.csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.HaltReason != HaltFinalized || decider.Calls() != 3 {
		t.Fatalf("expected finalize after 3 requests, got %q after %d", res.HaltReason, decider.Calls())
	}

	var outcomes []*OutcomeTurn
	for _, turn := range res.Session.History() {
		if turn.Kind == TurnOutcome {
			outcomes = append(outcomes, turn.Outcome)
		}
	}
	if len(outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(outcomes))
	}
	if outcomes[0].Result.Success || !strings.Contains(outcomes[0].Content, "broken") {
		t.Errorf("expected first run to fail with stderr, got %+v", outcomes[0])
	}
	if !outcomes[1].Result.Success || strings.TrimSpace(outcomes[1].Result.Stdout) != "3" {
		t.Errorf("expected second run to count lines, got %+v", outcomes[1].Result)
	}
}
