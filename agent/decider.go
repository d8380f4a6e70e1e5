package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ronaldjohnatanoso/agent-data-wrangler/llm"
)

// DecisionRequest is everything the decision capability sees for one round.
type DecisionRequest struct {
	SessionID string
	History   []Turn
	Actions   []ActionDefinition
}

// Decider produces exactly one proposal turn per call.
type Decider interface {
	Decide(ctx context.Context, req DecisionRequest) (Turn, error)
}

// DeciderFunc adapts a function to the Decider interface.
type DeciderFunc func(ctx context.Context, req DecisionRequest) (Turn, error)

// Decide calls f.
func (f DeciderFunc) Decide(ctx context.Context, req DecisionRequest) (Turn, error) {
	return f(ctx, req)
}

// Completer is the part of *llm.Client the LLMDecider needs.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// LLMDecider asks a language model for the next action.
type LLMDecider struct {
	client      Completer
	model       string
	provider    string
	temperature *float64
	maxTokens   *int
	retry       llm.RetryPolicy
	logger      *slog.Logger
}

// LLMDeciderOption configures an LLMDecider.
type LLMDeciderOption func(*LLMDecider)

// WithDecisionModel sets the model name sent with each request.
func WithDecisionModel(model string) LLMDeciderOption {
	return func(d *LLMDecider) { d.model = model }
}

// WithDecisionProvider pins requests to one registered provider.
func WithDecisionProvider(provider string) LLMDeciderOption {
	return func(d *LLMDecider) { d.provider = provider }
}

// WithDecisionTemperature sets the sampling temperature.
func WithDecisionTemperature(t float64) LLMDeciderOption {
	return func(d *LLMDecider) { d.temperature = &t }
}

// WithDecisionMaxTokens caps the reply length.
func WithDecisionMaxTokens(n int) LLMDeciderOption {
	return func(d *LLMDecider) { d.maxTokens = &n }
}

// WithRetryPolicy replaces llm.DefaultRetryPolicy.
func WithRetryPolicy(p llm.RetryPolicy) LLMDeciderOption {
	return func(d *LLMDecider) { d.retry = p }
}

// WithDecisionLogger sets the logger.
func WithDecisionLogger(l *slog.Logger) LLMDeciderOption {
	return func(d *LLMDecider) { d.logger = l }
}

// NewLLMDecider creates a decider backed by client.
func NewLLMDecider(client Completer, opts ...LLMDeciderOption) *LLMDecider {
	d := &LLMDecider{
		client: client,
		retry:  llm.DefaultRetryPolicy(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decide sends the history and action definitions to the model and returns
// its reply as a proposal. Retryable transport errors are retried under the
// decider's policy.
func (d *LLMDecider) Decide(ctx context.Context, req DecisionRequest) (Turn, error) {
	tools := make([]llm.ToolDefinition, 0, len(req.Actions))
	for _, a := range req.Actions {
		tools = append(tools, llm.ToolDefinition{
			Name:        a.Name,
			Description: a.Description,
			Parameters:  a.Parameters,
		})
	}

	llmReq := llm.Request{
		Model:       d.model,
		Provider:    d.provider,
		Messages:    HistoryToMessages(req.History),
		Tools:       tools,
		Temperature: d.temperature,
		MaxTokens:   d.maxTokens,
		Metadata:    map[string]string{"session_id": req.SessionID},
	}
	if len(tools) > 0 {
		llmReq.ToolChoice = &llm.ToolChoice{Mode: "auto"}
	}

	policy := d.retry
	userOnRetry := policy.OnRetry
	policy.OnRetry = func(err error, attempt int, delay time.Duration) {
		d.logger.WarnContext(ctx, "retrying decision request",
			"session_id", req.SessionID, "attempt", attempt, "delay", delay, "error", err)
		if userOnRetry != nil {
			userOnRetry(err, attempt, delay)
		}
	}

	resp, err := llm.Retry(ctx, policy, func(ctx context.Context) (*llm.Response, error) {
		return d.client.Complete(ctx, llmReq)
	})
	if err != nil {
		return Turn{}, err
	}

	turn := ProposalFromResponse(resp)
	turn.Proposal.Usage = resp.Usage
	if n := turn.Proposal.DroppedCalls; n > 0 {
		d.logger.WarnContext(ctx, "model proposed several actions, keeping the first",
			"session_id", req.SessionID, "dropped", n)
	}
	return turn, nil
}

// ProposalFromResponse converts a model reply into a proposal turn. Only the
// first tool call is kept; arguments that are not a JSON object make the
// proposal malformed.
func ProposalFromResponse(resp *llm.Response) Turn {
	text := resp.Text()
	calls := resp.ToolCalls()
	if len(calls) == 0 {
		return NewProposalTurn(text, nil)
	}

	first := calls[0]
	var args map[string]any
	if err := json.Unmarshal(first.Arguments, &args); err != nil || args == nil {
		reason := fmt.Sprintf("arguments for %s are not a JSON object", first.Name)
		if err != nil {
			reason = fmt.Sprintf("%s: %v", reason, err)
		}
		turn := NewMalformedProposalTurn(text, reason)
		turn.Proposal.DroppedCalls = len(calls) - 1
		return turn
	}

	turn := NewProposalTurn(text, &ActionCall{ID: first.ID, Name: first.Name, Arguments: args})
	turn.Proposal.DroppedCalls = len(calls) - 1
	return turn
}

// HistoryToMessages converts session history into LLM messages.
func HistoryToMessages(history []Turn) []llm.Message {
	var messages []llm.Message
	for _, t := range history {
		switch t.Kind {
		case TurnInstruction:
			if t.Instruction != nil {
				messages = append(messages, llm.SystemMessage(t.Instruction.Content))
			}
		case TurnRequest:
			if t.Request != nil {
				messages = append(messages, llm.UserMessage(t.Request.Content))
			}
		case TurnProposal:
			if t.Proposal == nil {
				continue
			}
			msg := llm.Message{Role: llm.RoleAssistant}
			if t.Proposal.Content != "" {
				msg = llm.AssistantMessage(t.Proposal.Content)
			}
			if c := t.Proposal.Call; c != nil {
				args, _ := json.Marshal(c.Arguments)
				msg.Content = append(msg.Content, llm.ToolCallPart(c.ID, c.Name, args))
			}
			if len(msg.Content) > 0 {
				messages = append(messages, msg)
			}
		case TurnOutcome:
			if t.Outcome != nil {
				messages = append(messages,
					llm.ToolResultMessage(t.Outcome.CallID, t.Outcome.Content, !t.Outcome.Result.Success))
			}
		}
	}
	return messages
}
