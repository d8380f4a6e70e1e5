package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ronaldjohnatanoso/agent-data-wrangler/llm"
)

// Halt reasons set by the director itself, beside the gate's.
const (
	HaltRequestLimit    = "request_limit"
	HaltDecisionTimeout = "decision_timeout"
	HaltDecisionError   = "decision_error"
	HaltCancelled       = "cancelled"
)

// AuditLog persists a finished session. *audit.FileLog implements it.
type AuditLog interface {
	Persist(s *Session) error
}

// Config holds everything a Director needs. Decider and Actions are required.
type Config struct {
	Decider Decider
	Actions *ActionRegistry

	// BaseDir resolves relative input paths. Empty means the working directory.
	BaseDir string

	// Instruction is the system directive. Empty means DefaultInstruction.
	Instruction string

	// DecisionTimeout bounds each decision request. Zero disables it.
	DecisionTimeout time.Duration

	// MaxRequests bounds decision requests per session. Zero means unlimited.
	MaxRequests int

	// LoopWindow is how many recent calls loop detection compares. Zero disables it.
	LoopWindow int

	Audit  AuditLog
	Events *EventEmitter
	Logger *slog.Logger
}

// DefaultConfig returns limits suitable for interactive use. Decider and
// Actions still have to be filled in.
func DefaultConfig() Config {
	return Config{
		DecisionTimeout: 2 * time.Minute,
		MaxRequests:     25,
		LoopWindow:      4,
	}
}

// Result summarizes a finished session.
type Result struct {
	SessionID    string
	InputPath    string
	ReportPath   string
	Requests     int
	Usage        llm.Usage
	HaltReason   string
	FinalMessage string
	Session      *Session
}

// Director drives sessions through init, requesting, awaiting_action and
// terminal. It keeps no per-session state and may run many sessions at once.
type Director struct {
	cfg    Config
	gate   *Gate
	logger *slog.Logger
}

// NewDirector validates cfg and creates a Director.
func NewDirector(cfg Config) (*Director, error) {
	if cfg.Decider == nil {
		return nil, errors.New("director: decider is required")
	}
	if cfg.Actions == nil {
		return nil, errors.New("director: actions are required")
	}
	if cfg.Instruction == "" {
		cfg.Instruction = DefaultInstruction
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Director{
		cfg:    cfg,
		gate:   NewGate(cfg.Actions),
		logger: logger.With("component", "director"),
	}, nil
}

// Init validates the input resource and opens a session with the
// instruction and request turns. A missing input aborts with ErrInputNotFound
// before any decision request.
func (d *Director) Init(inputPath string) (*Session, error) {
	path := inputPath
	if !filepath.IsAbs(path) && d.cfg.BaseDir != "" {
		path = filepath.Join(d.cfg.BaseDir, path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInputNotFound, inputPath, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInputNotFound, abs)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrInputNotFound, abs)
	}

	s := NewSession(abs)
	if err := s.Append(NewInstructionTurn(d.cfg.Instruction)); err != nil {
		return nil, err
	}
	if err := s.Append(NewRequestTurn(TaskDescription(abs))); err != nil {
		return nil, err
	}
	s.setState(StateRequesting)
	s.Observe("init", abs)

	d.cfg.Events.Emit(s.ID(), EventSessionStart, map[string]any{"input_path": abs})
	d.logger.Info("session started", "session_id", s.ID(), "input_path", abs)
	return s, nil
}

// Step runs one cycle and reports whether the session has halted. Once a
// terminal action has completed, Step halts without another decision request.
func (d *Director) Step(ctx context.Context, s *Session) (bool, error) {
	if s.State() == StateTerminal {
		return true, nil
	}

	ctx, span := tracer.Start(ctx, "director.step",
		trace.WithAttributes(attribute.String("session.id", s.ID())))
	defer span.End()

	if s.Finalized() {
		d.halt(ctx, s, HaltFinalized, "")
		return true, nil
	}

	if err := ctx.Err(); err != nil {
		d.abort(ctx, s, HaltCancelled, err)
		return true, err
	}

	if last, ok := s.LastTurn(); !ok || last.Kind != TurnProposal {
		if err := d.request(ctx, s); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return true, err
		}
	}
	s.setState(StateAwaitingAction)

	decision := d.gate.Decide(s)
	s.Observe("gate", fmt.Sprintf("%s %s", decision.Verdict, decision.Reason))
	if decision.Verdict == Halt {
		d.halt(ctx, s, decision.Reason, decision.Detail)
		return true, nil
	}

	if err := d.runAction(ctx, s, decision); err != nil {
		return true, err
	}
	if err := ctx.Err(); err != nil {
		d.abort(ctx, s, HaltCancelled, err)
		return true, err
	}

	s.setState(StateRequesting)
	return false, nil
}

// Run initializes a session for inputPath and steps it until it halts, then
// persists it to the audit log. The session is returned in Result even when
// an error ends it early.
func (d *Director) Run(ctx context.Context, inputPath string) (Result, error) {
	s, err := d.Init(inputPath)
	if err != nil {
		d.logger.Error("session aborted at init", "input_path", inputPath, "error", err)
		return Result{}, err
	}
	defer d.persist(s)

	for {
		halted, err := d.Step(ctx, s)
		if err != nil {
			return d.result(s), err
		}
		if halted {
			return d.result(s), nil
		}
	}
}

func (d *Director) request(ctx context.Context, s *Session) error {
	if d.cfg.MaxRequests > 0 && s.Requests() >= d.cfg.MaxRequests {
		err := fmt.Errorf("%w (%d)", ErrRequestLimit, d.cfg.MaxRequests)
		d.abort(ctx, s, HaltRequestLimit, err)
		return err
	}

	n := s.countRequest()
	s.Observe("request", fmt.Sprintf("#%d", n))
	d.cfg.Events.Emit(s.ID(), EventDecisionRequest, map[string]any{"request": n, "history_len": s.Len()})

	reqCtx := ctx
	if d.cfg.DecisionTimeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, d.cfg.DecisionTimeout)
		defer cancel()
	}
	reqCtx, span := tracer.Start(reqCtx, "director.decide",
		trace.WithAttributes(attribute.Int("request", n)))
	defer span.End()

	start := time.Now()
	turn, err := d.decide(reqCtx, DecisionRequest{
		SessionID: s.ID(),
		History:   s.History(),
		Actions:   d.cfg.Actions.Definitions(),
	})
	decisionDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		decisionRequestsTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		switch {
		case ctx.Err() != nil:
			d.abort(ctx, s, HaltCancelled, ctx.Err())
			return ctx.Err()
		case errors.Is(reqCtx.Err(), context.DeadlineExceeded):
			err = fmt.Errorf("%w after %s", ErrDecisionTimeout, d.cfg.DecisionTimeout)
			d.abort(ctx, s, HaltDecisionTimeout, err)
			return err
		default:
			err = fmt.Errorf("decision request: %w", err)
			d.abort(ctx, s, HaltDecisionError, err)
			return err
		}
	}
	decisionRequestsTotal.WithLabelValues("success").Inc()

	if turn.Kind != TurnProposal || turn.Proposal == nil {
		turn = NewMalformedProposalTurn(turn.TextContent(),
			fmt.Sprintf("decider returned a %q turn instead of a proposal", turn.Kind))
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	if err := s.Append(turn); err != nil {
		return err
	}

	p := turn.Proposal
	data := map[string]any{"content": p.Content}
	if p.Call != nil {
		data["action"] = p.Call.Name
		s.Observe("proposal", p.Call.Name)
	} else {
		s.Observe("proposal", "no action")
	}
	d.cfg.Events.Emit(s.ID(), EventProposal, data)

	if d.cfg.LoopWindow > 0 && DetectLoop(s.History(), d.cfg.LoopWindow) {
		msg := fmt.Sprintf("the last %d action calls repeat the same pattern", d.cfg.LoopWindow)
		s.Observe("loop_detected", msg)
		d.cfg.Events.Emit(s.ID(), EventLoopDetection, map[string]any{"message": msg})
		d.logger.Warn("loop detected", "session_id", s.ID(), "window", d.cfg.LoopWindow)
	}
	return nil
}

// decide calls the decider and gives up when ctx ends, even if the decider
// does not watch ctx itself.
func (d *Director) decide(ctx context.Context, req DecisionRequest) (Turn, error) {
	type reply struct {
		turn Turn
		err  error
	}
	ch := make(chan reply, 1)
	go func() {
		t, err := d.cfg.Decider.Decide(ctx, req)
		ch <- reply{t, err}
	}()

	select {
	case r := <-ch:
		if r.err == nil && ctx.Err() != nil {
			return Turn{}, ctx.Err()
		}
		return r.turn, r.err
	case <-ctx.Done():
		return Turn{}, ctx.Err()
	}
}

func (d *Director) runAction(ctx context.Context, s *Session, decision GateDecision) error {
	call, action := decision.Call, decision.Action

	ctx, span := tracer.Start(ctx, "director.action",
		trace.WithAttributes(attribute.String("action.name", call.Name)))
	defer span.End()

	d.cfg.Events.Emit(s.ID(), EventActionStart, map[string]any{"action": call.Name, "call_id": call.ID})
	s.Observe("action", call.Name)
	start := time.Now()

	outcome := action.Run(ctx, s, call)
	s.setPending(call, outcome, action.Terminal)

	pending, ok := s.takePending()
	if !ok {
		return errors.New("director: no pending outcome to format")
	}
	turn := FormatOutcome(pending.call, pending.outcome)
	turn.Outcome.Terminal = pending.terminal
	if err := s.Append(turn); err != nil {
		return err
	}

	actionsTotal.WithLabelValues(call.Name, successLabel(outcome.Success)).Inc()
	if !outcome.Success {
		span.SetStatus(codes.Error, "action failed")
	}
	d.cfg.Events.Emit(s.ID(), EventActionEnd, map[string]any{
		"action":      call.Name,
		"call_id":     call.ID,
		"success":     outcome.Success,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	d.logger.Info("action executed",
		"session_id", s.ID(),
		"action", call.Name,
		"success", outcome.Success,
		"duration", time.Since(start),
	)
	return nil
}

func (d *Director) halt(ctx context.Context, s *Session, reason, detail string) {
	s.terminate(reason)
	s.Observe("halt", reason)
	sessionsTotal.WithLabelValues(reason).Inc()
	d.cfg.Events.Emit(s.ID(), EventHalt, map[string]any{"reason": reason, "detail": detail})
	d.logger.InfoContext(ctx, "session halted",
		"session_id", s.ID(),
		"reason", reason,
		"requests", s.Requests(),
		"report_path", s.ReportPath(),
		"total_tokens", s.Usage().TotalTokens,
	)
}

func (d *Director) abort(ctx context.Context, s *Session, reason string, err error) {
	s.terminate(reason)
	s.Observe("error", err.Error())
	sessionsTotal.WithLabelValues(reason).Inc()
	d.cfg.Events.Emit(s.ID(), EventError, map[string]any{"reason": reason, "error": err.Error()})
	d.logger.ErrorContext(ctx, "session aborted", "session_id", s.ID(), "reason", reason, "error", err)
}

// persist writes the audit trail. Failures are logged and never returned.
func (d *Director) persist(s *Session) {
	defer d.cfg.Events.Emit(s.ID(), EventSessionEnd, map[string]any{"reason": s.HaltReason()})
	if d.cfg.Audit == nil {
		return
	}
	if err := d.cfg.Audit.Persist(s); err != nil {
		s.Observe("audit_error", err.Error())
		d.logger.Error("failed to persist audit log", "session_id", s.ID(), "error", err)
	}
}

func (d *Director) result(s *Session) Result {
	res := Result{
		SessionID:  s.ID(),
		InputPath:  s.InputPath(),
		ReportPath: s.ReportPath(),
		Requests:   s.Requests(),
		Usage:      s.Usage(),
		HaltReason: s.HaltReason(),
		Session:    s,
	}
	history := s.History()
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Kind == TurnProposal {
			res.FinalMessage = history[i].TextContent()
			break
		}
	}
	return res
}
