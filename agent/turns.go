package agent

import (
	"time"

	"github.com/ronaldjohnatanoso/agent-data-wrangler/llm"
)

// TurnKind discriminates between turn types.
type TurnKind string

const (
	TurnInstruction TurnKind = "instruction"
	TurnRequest     TurnKind = "request"
	TurnProposal    TurnKind = "proposal"
	TurnOutcome     TurnKind = "outcome"
)

// Turn is a single immutable entry in the conversation history. Exactly one
// payload, the one matching Kind, is set.
type Turn struct {
	Kind        TurnKind         `json:"kind"`
	Timestamp   time.Time        `json:"timestamp"`
	Instruction *InstructionTurn `json:"instruction,omitempty"`
	Request     *RequestTurn     `json:"request,omitempty"`
	Proposal    *ProposalTurn    `json:"proposal,omitempty"`
	Outcome     *OutcomeTurn     `json:"outcome,omitempty"`
}

// InstructionTurn holds the system-level directive.
type InstructionTurn struct {
	Content string `json:"content"`
}

// RequestTurn holds the task description.
type RequestTurn struct {
	Content string `json:"content"`
}

// ProposalTurn holds the model's reply: free text, and at most one action.
type ProposalTurn struct {
	Content string      `json:"content"`
	Call    *ActionCall `json:"call,omitempty"`

	// Malformed is set when the model tried to call an action but the call
	// could not be decoded. Call is nil in that case.
	Malformed string `json:"malformed,omitempty"`

	// DroppedCalls counts additional calls in the same reply that were ignored.
	DroppedCalls int `json:"dropped_calls,omitempty"`

	// Usage is the token cost of the reply, when the decider reports one.
	Usage llm.Usage `json:"usage"`
}

// OutcomeTurn holds formatted feedback for one executed action.
type OutcomeTurn struct {
	CallID   string           `json:"call_id"`
	Action   string           `json:"action"`
	Result   ExecutionOutcome `json:"result"`
	Terminal bool             `json:"terminal,omitempty"`
	Content  string           `json:"content"`
}

// ActionCall is a named operation the model wants to invoke.
type ActionCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ExecutionOutcome is the result of running one ActionCall.
type ExecutionOutcome struct {
	Success bool   `json:"success"`
	Stdout  string `json:"stdout"`
	Stderr  string `json:"stderr"`
}

// NewInstructionTurn creates a Turn wrapping a system directive.
func NewInstructionTurn(content string) Turn {
	return Turn{
		Kind:        TurnInstruction,
		Timestamp:   time.Now(),
		Instruction: &InstructionTurn{Content: content},
	}
}

// NewRequestTurn creates a Turn wrapping a task description.
func NewRequestTurn(content string) Turn {
	return Turn{
		Kind:      TurnRequest,
		Timestamp: time.Now(),
		Request:   &RequestTurn{Content: content},
	}
}

// NewProposalTurn creates a Turn wrapping a model reply. call may be nil.
func NewProposalTurn(content string, call *ActionCall) Turn {
	return Turn{
		Kind:      TurnProposal,
		Timestamp: time.Now(),
		Proposal:  &ProposalTurn{Content: content, Call: call},
	}
}

// NewMalformedProposalTurn creates a proposal whose action could not be decoded.
func NewMalformedProposalTurn(content, reason string) Turn {
	return Turn{
		Kind:      TurnProposal,
		Timestamp: time.Now(),
		Proposal:  &ProposalTurn{Content: content, Malformed: reason},
	}
}

// valid reports whether the payload matches the kind.
func (t Turn) valid() bool {
	set := 0
	for _, p := range []bool{t.Instruction != nil, t.Request != nil, t.Proposal != nil, t.Outcome != nil} {
		if p {
			set++
		}
	}
	if set != 1 {
		return false
	}
	switch t.Kind {
	case TurnInstruction:
		return t.Instruction != nil
	case TurnRequest:
		return t.Request != nil
	case TurnProposal:
		return t.Proposal != nil
	case TurnOutcome:
		return t.Outcome != nil
	}
	return false
}

// TextContent returns the text content of a turn regardless of its kind.
func (t Turn) TextContent() string {
	switch t.Kind {
	case TurnInstruction:
		if t.Instruction != nil {
			return t.Instruction.Content
		}
	case TurnRequest:
		if t.Request != nil {
			return t.Request.Content
		}
	case TurnProposal:
		if t.Proposal != nil {
			return t.Proposal.Content
		}
	case TurnOutcome:
		if t.Outcome != nil {
			return t.Outcome.Content
		}
	}
	return ""
}

// finalizes reports whether the turn records a successfully executed
// terminal action.
func (t Turn) finalizes() bool {
	return t.Kind == TurnOutcome && t.Outcome != nil && t.Outcome.Terminal && t.Outcome.Result.Success
}
