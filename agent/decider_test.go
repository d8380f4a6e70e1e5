package agent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ronaldjohnatanoso/agent-data-wrangler/llm"
)

type fakeCompleter struct {
	responses []*llm.Response
	errs      []error
	requests  []llm.Request
}

func (f *fakeCompleter) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	i := len(f.requests)
	f.requests = append(f.requests, req)
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	return f.responses[i], nil
}

func response(parts ...llm.ContentPart) *llm.Response {
	return &llm.Response{Message: llm.Message{Role: llm.RoleAssistant, Content: parts}}
}

func TestProposalFromResponse(t *testing.T) {
	t.Run("free text", func(t *testing.T) {
		turn := ProposalFromResponse(response(llm.TextPart("Summary done.")))
		if turn.Proposal.Call != nil || turn.Proposal.Content != "Summary done." {
			t.Errorf("unexpected proposal %+v", turn.Proposal)
		}
	})

	t.Run("first call kept", func(t *testing.T) {
		turn := ProposalFromResponse(response(
			llm.TextPart("Checking."),
			llm.ToolCallPart("c1", ActionExecuteCode, json.RawMessage(`{"code":"print(1)"}`)),
			llm.ToolCallPart("c2", ActionCreateReport, json.RawMessage(`{}`)),
		))
		p := turn.Proposal
		if p.Call == nil || p.Call.ID != "c1" || p.Call.Arguments["code"] != "print(1)" {
			t.Fatalf("unexpected call %+v", p.Call)
		}
		if p.DroppedCalls != 1 {
			t.Errorf("expected 1 dropped call, got %d", p.DroppedCalls)
		}
	})

	t.Run("malformed arguments", func(t *testing.T) {
		for _, raw := range []string{`not json`, `[1,2]`, `null`} {
			turn := ProposalFromResponse(response(llm.ToolCallPart("c1", ActionExecuteCode, json.RawMessage(raw))))
			if turn.Proposal.Call != nil || turn.Proposal.Malformed == "" {
				t.Errorf("%s: expected malformed proposal, got %+v", raw, turn.Proposal)
			}
		}
	})
}

func TestHistoryToMessages(t *testing.T) {
	call := &ActionCall{ID: "c1", Name: ActionExecuteCode, Arguments: map[string]any{"code": "x"}}
	history := []Turn{
		NewInstructionTurn("system"),
		NewRequestTurn("task"),
		NewProposalTurn("thinking", call),
		FormatOutcome(*call, ExecutionOutcome{Success: false, Stderr: "boom"}),
		NewMalformedProposalTurn("", "bad"),
	}

	msgs := HistoryToMessages(history)
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	wantRoles := []llm.Role{llm.RoleSystem, llm.RoleUser, llm.RoleAssistant, llm.RoleTool}
	for i, role := range wantRoles {
		if msgs[i].Role != role {
			t.Errorf("message %d: expected role %s, got %s", i, role, msgs[i].Role)
		}
	}

	parts := msgs[2].Content
	if len(parts) != 2 || parts[1].ToolCall == nil || parts[1].ToolCall.ID != "c1" {
		t.Fatalf("expected text and tool call parts, got %+v", parts)
	}
	if string(parts[1].ToolCall.Arguments) != `{"code":"x"}` {
		t.Errorf("unexpected arguments %s", parts[1].ToolCall.Arguments)
	}

	if msgs[2].TextContent() != "thinking" {
		t.Errorf("expected proposal text on the assistant message, got %q", msgs[2].TextContent())
	}

	result := msgs[3].Content[0].ToolResult
	if result == nil || result.ToolCallID != "c1" || !result.IsError {
		t.Errorf("unexpected tool result %+v", result)
	}
}

func TestLLMDeciderDecide(t *testing.T) {
	reply := response(llm.ToolCallPart("c1", ActionExecuteCode, json.RawMessage(`{"code":"print(1)"}`)))
	reply.Usage = llm.Usage{InputTokens: 120, OutputTokens: 30, TotalTokens: 150}
	fc := &fakeCompleter{
		responses: []*llm.Response{nil, reply},
		errs:      []error{llm.ErrorFromStatusCode(503, "unavailable", "openai")},
	}

	retries := 0
	d := NewLLMDecider(fc,
		WithDecisionModel("gpt-4o-mini"),
		WithDecisionProvider("openai"),
		WithDecisionTemperature(0.1),
		WithDecisionLogger(discardLogger()),
		WithRetryPolicy(llm.RetryPolicy{
			MaxRetries:        2,
			BaseDelay:         time.Millisecond,
			MaxDelay:          time.Millisecond,
			BackoffMultiplier: 1,
			OnRetry:           func(error, int, time.Duration) { retries++ },
		}),
	)

	turn, err := d.Decide(context.Background(), DecisionRequest{
		SessionID: "s1",
		History:   []Turn{NewInstructionTurn("sys"), NewRequestTurn("task")},
		Actions:   DefaultActions(&fakeRunner{}).Definitions(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if turn.Proposal == nil || turn.Proposal.Call == nil || turn.Proposal.Call.Name != ActionExecuteCode {
		t.Fatalf("unexpected turn %+v", turn)
	}
	if turn.Proposal.Usage != reply.Usage {
		t.Errorf("expected usage %+v on the proposal, got %+v", reply.Usage, turn.Proposal.Usage)
	}
	if retries != 1 || len(fc.requests) != 2 {
		t.Errorf("expected one retry, got retries=%d requests=%d", retries, len(fc.requests))
	}

	req := fc.requests[1]
	if req.Model != "gpt-4o-mini" || req.Provider != "openai" {
		t.Errorf("unexpected routing %q/%q", req.Provider, req.Model)
	}
	if len(req.Tools) != 2 || req.ToolChoice == nil || req.ToolChoice.Mode != "auto" {
		t.Errorf("expected both actions offered as tools, got %+v", req.Tools)
	}
	if req.Temperature == nil || *req.Temperature != 0.1 {
		t.Errorf("expected temperature to be sent")
	}
	if req.Metadata["session_id"] != "s1" {
		t.Errorf("expected session id in metadata")
	}
}

func TestLLMDeciderNonRetryableError(t *testing.T) {
	fc := &fakeCompleter{errs: []error{llm.ErrorFromStatusCode(401, "bad key", "openai")}}
	d := NewLLMDecider(fc, WithDecisionLogger(discardLogger()))

	_, err := d.Decide(context.Background(), DecisionRequest{})
	var ke *llm.KindError
	if !errors.As(err, &ke) || ke.Kind != llm.KindAuthentication {
		t.Errorf("expected authentication error, got %v", err)
	}
	if len(fc.requests) != 1 {
		t.Errorf("expected no retry, got %d requests", len(fc.requests))
	}
}
