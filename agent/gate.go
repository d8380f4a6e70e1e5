package agent

// Verdict is the Completion Gate's routing decision.
type Verdict int

const (
	Halt Verdict = iota
	Continue
)

func (v Verdict) String() string {
	if v == Continue {
		return "continue"
	}
	return "halt"
}

// Halt reasons reported by the gate.
const (
	HaltEmptyHistory      = "empty_history"
	HaltFinalized         = "finalized"
	HaltNoAction          = "no_action"
	HaltUnknownAction     = "unknown_action"
	HaltMalformedAction   = "malformed_action"
	HaltNoPendingProposal = "no_pending_proposal"
)

// GateDecision is the result of one gate evaluation.
type GateDecision struct {
	Verdict Verdict
	Call    ActionCall // set when Verdict is Continue
	Action  *Action    // set when Verdict is Continue
	Reason  string     // set when Verdict is Halt
	Detail  string
}

// Gate decides whether the latest proposal should be executed.
type Gate struct {
	actions *ActionRegistry
}

// NewGate creates a gate that recognizes the actions in r.
func NewGate(r *ActionRegistry) *Gate {
	return &Gate{actions: r}
}

// Decide evaluates s. It continues only when the last turn is a proposal
// with one recognized, well-formed call and no terminal action has completed.
// A terminal call is executed like any other; the evaluation after it halts.
func (g *Gate) Decide(s *Session) GateDecision {
	last, ok := s.LastTurn()
	if !ok {
		return halt(HaltEmptyHistory, "")
	}
	if s.Finalized() {
		return halt(HaltFinalized, "")
	}
	if last.Kind != TurnProposal || last.Proposal == nil {
		return halt(HaltNoPendingProposal, string(last.Kind))
	}

	p := last.Proposal
	if p.Malformed != "" {
		return halt(HaltMalformedAction, p.Malformed)
	}
	if p.Call == nil {
		return halt(HaltNoAction, "")
	}

	action := g.actions.Get(p.Call.Name)
	if action == nil {
		return halt(HaltUnknownAction, p.Call.Name)
	}
	if err := action.Validate(p.Call.Arguments); err != nil {
		return halt(HaltMalformedAction, err.Error())
	}

	return GateDecision{Verdict: Continue, Call: *p.Call, Action: action}
}

func halt(reason, detail string) GateDecision {
	return GateDecision{Verdict: Halt, Reason: reason, Detail: detail}
}
