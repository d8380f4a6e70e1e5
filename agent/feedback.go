package agent

import (
	"strings"
	"time"
)

// CorrectiveDirective is appended to every failed outcome.
const CorrectiveDirective = "You MUST analyze the error above before doing anything else. " +
	"Do NOT resubmit the same code unchanged. " +
	"Only resubmit a corrected version that fixes the cause of the error."

// FormatOutcome turns an execution outcome into the outcome turn fed back to
// the model. Failures carry both streams and CorrectiveDirective; successes
// carry stdout verbatim and never the directive.
func FormatOutcome(call ActionCall, outcome ExecutionOutcome) Turn {
	var sb strings.Builder
	if outcome.Success {
		sb.WriteString("Execution succeeded.\n\n")
		writeStream(&sb, "STDOUT", outcome.Stdout)
	} else {
		sb.WriteString("Execution failed.\n\n")
		writeStream(&sb, "STDOUT", outcome.Stdout)
		sb.WriteString("\n\n")
		writeStream(&sb, "STDERR", outcome.Stderr)
		sb.WriteString("\n\n")
		sb.WriteString(CorrectiveDirective)
	}

	return Turn{
		Kind:      TurnOutcome,
		Timestamp: time.Now(),
		Outcome: &OutcomeTurn{
			CallID:  call.ID,
			Action:  call.Name,
			Result:  outcome,
			Content: sb.String(),
		},
	}
}

// writeStream writes a labelled stream. An empty stream is marked on the
// label line, so the body below a label is always the program's own output.
func writeStream(sb *strings.Builder, label, s string) {
	sb.WriteString(label)
	if s == "" {
		sb.WriteString(": (no output)")
		return
	}
	sb.WriteString(":\n")
	sb.WriteString(s)
}
