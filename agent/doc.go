// Package agent implements the control loop of the CSV analyst.
//
// A Director drives one Session per input file through a small state
// machine: it asks a Decider for the next proposal, lets the Gate decide
// whether that proposal may run, executes the chosen action, and feeds the
// formatted outcome back into the conversation. The loop ends when the model
// stops proposing actions, proposes something unusable, or completes a
// terminal action such as create_report.
//
// # Architecture
//
//   - Session: append-only turn history plus state, budget and trace.
//   - Director: the state machine (init, requesting, awaiting_action, terminal).
//   - Gate: CONTINUE or HALT for the latest proposal. After a terminal
//     action has succeeded it always halts.
//   - ActionRegistry: execute_code (runs through a CodeRunner such as
//     *sandbox.Executor) and create_report.
//   - FormatOutcome: turns an execution outcome into model feedback, adding
//     CorrectiveDirective on failure only.
//   - LLMDecider: a Decider backed by the llm package.
//   - EventEmitter: typed event stream for hosts.
//
// # Quick Start
//
//	exec := sandbox.New(sandbox.DefaultConfig())
//	cfg := agent.DefaultConfig()
//	cfg.Decider = agent.NewLLMDecider(client)
//	cfg.Actions = agent.DefaultActions(exec)
//	cfg.Audit = audit.NewFileLog()
//
//	d, err := agent.NewDirector(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	res, err := d.Run(ctx, "sales.csv")
//	fmt.Println(res.HaltReason, res.ReportPath)
package agent
