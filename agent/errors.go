package agent

import "errors"

var (
	// ErrInputNotFound aborts a session whose input resource is missing.
	ErrInputNotFound = errors.New("input resource not found")

	// ErrDecisionTimeout aborts a session whose decision request did not
	// answer in time.
	ErrDecisionTimeout = errors.New("decision request timed out")

	// ErrRequestLimit aborts a session that used its whole request budget.
	ErrRequestLimit = errors.New("decision request limit reached")

	// ErrInstructionNotFirst rejects an instruction turn appended after
	// other turns.
	ErrInstructionNotFirst = errors.New("instruction turn must be first in history")

	// ErrSessionTerminal rejects changes to a session that has finished.
	ErrSessionTerminal = errors.New("session is terminal")
)
