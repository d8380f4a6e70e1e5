package agent

import "testing"

func TestGateDecide(t *testing.T) {
	registry := DefaultActions(&fakeRunner{})
	gate := NewGate(registry)

	finalized := FormatOutcome(ActionCall{ID: "r", Name: ActionCreateReport}, ExecutionOutcome{Success: true})
	finalized.Outcome.Terminal = true

	failedReport := FormatOutcome(ActionCall{ID: "r", Name: ActionCreateReport}, ExecutionOutcome{Success: false})
	failedReport.Outcome.Terminal = true

	tests := []struct {
		name    string
		history []Turn
		verdict Verdict
		reason  string
	}{
		{
			name:    "empty history",
			verdict: Halt,
			reason:  HaltEmptyHistory,
		},
		{
			name:    "code proposal",
			history: []Turn{NewRequestTurn("task"), proposal(ActionExecuteCode, map[string]any{"code": "print(1)"})},
			verdict: Continue,
		},
		{
			name: "finalize proposal executes once",
			history: []Turn{NewRequestTurn("task"), proposal(ActionCreateReport, map[string]any{
				"report_content": "r", "subject_path": "s.csv",
			})},
			verdict: Continue,
		},
		{
			name:    "free text",
			history: []Turn{NewRequestTurn("task"), NewProposalTurn("All done.", nil)},
			verdict: Halt,
			reason:  HaltNoAction,
		},
		{
			name:    "unknown action",
			history: []Turn{NewRequestTurn("task"), proposal("drop_table", map[string]any{})},
			verdict: Halt,
			reason:  HaltUnknownAction,
		},
		{
			name:    "missing argument",
			history: []Turn{NewRequestTurn("task"), proposal(ActionExecuteCode, map[string]any{})},
			verdict: Halt,
			reason:  HaltMalformedAction,
		},
		{
			name:    "wrong argument type",
			history: []Turn{NewRequestTurn("task"), proposal(ActionExecuteCode, map[string]any{"code": 42.0})},
			verdict: Halt,
			reason:  HaltMalformedAction,
		},
		{
			name:    "undecodable call",
			history: []Turn{NewRequestTurn("task"), NewMalformedProposalTurn("", "bad json")},
			verdict: Halt,
			reason:  HaltMalformedAction,
		},
		{
			name:    "last turn is a request",
			history: []Turn{NewRequestTurn("task")},
			verdict: Halt,
			reason:  HaltNoPendingProposal,
		},
		{
			name: "finalized earlier in history",
			history: []Turn{
				NewRequestTurn("task"),
				finalized,
				proposal(ActionExecuteCode, map[string]any{"code": "print(1)"}),
			},
			verdict: Halt,
			reason:  HaltFinalized,
		},
		{
			name: "failed report does not finalize",
			history: []Turn{
				NewRequestTurn("task"),
				failedReport,
				proposal(ActionExecuteCode, map[string]any{"code": "print(1)"}),
			},
			verdict: Continue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSession("/data/sales.csv")
			for _, turn := range tt.history {
				if err := s.Append(turn); err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
			}

			got := gate.Decide(s)
			if got.Verdict != tt.verdict {
				t.Fatalf("expected %s, got %s (%s: %s)", tt.verdict, got.Verdict, got.Reason, got.Detail)
			}
			if tt.verdict == Halt && got.Reason != tt.reason {
				t.Errorf("expected reason %q, got %q", tt.reason, got.Reason)
			}
			if tt.verdict == Continue && (got.Action == nil || got.Call.Name == "") {
				t.Errorf("expected call and action on continue, got %+v", got)
			}
		})
	}
}

func TestGateHaltsRepeatedlyAfterFinalize(t *testing.T) {
	gate := NewGate(DefaultActions(&fakeRunner{}))
	s := NewSession("/data/sales.csv")

	done := FormatOutcome(ActionCall{ID: "r", Name: ActionCreateReport}, ExecutionOutcome{Success: true})
	done.Outcome.Terminal = true
	for _, turn := range []Turn{NewRequestTurn("task"), done} {
		if err := s.Append(turn); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	for i := 0; i < 3; i++ {
		if got := gate.Decide(s); got.Verdict != Halt || got.Reason != HaltFinalized {
			t.Fatalf("evaluation %d: expected finalized halt, got %+v", i, got)
		}
	}
}
