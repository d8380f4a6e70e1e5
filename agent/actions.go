package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ronaldjohnatanoso/agent-data-wrangler/sandbox"
)

// Names of the built-in actions.
const (
	ActionExecuteCode  = "execute_code"
	ActionCreateReport = "create_report"
)

// ActionFunc runs a validated call against a session.
type ActionFunc func(ctx context.Context, s *Session, call ActionCall) ExecutionOutcome

// ActionDefinition describes an action to the model.
type ActionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// Action pairs a definition with its implementation.
type Action struct {
	Definition ActionDefinition
	// Required lists argument names that must be present as strings.
	Required []string
	// Terminal marks actions whose success ends the session.
	Terminal bool
	Run      ActionFunc
}

// Validate checks call arguments against Required.
func (a *Action) Validate(args map[string]any) error {
	var errs []error
	for _, name := range a.Required {
		v, ok := args[name]
		if !ok {
			errs = append(errs, fmt.Errorf("missing argument %q", name))
			continue
		}
		if _, ok := v.(string); !ok {
			errs = append(errs, fmt.Errorf("argument %q must be a string, got %T", name, v))
		}
	}
	return errors.Join(errs...)
}

// ActionRegistry holds the actions a director recognizes.
type ActionRegistry struct {
	mu      sync.RWMutex
	actions map[string]*Action
}

// NewActionRegistry creates an empty registry.
func NewActionRegistry() *ActionRegistry {
	return &ActionRegistry{actions: make(map[string]*Action)}
}

// Register adds or replaces an action.
func (r *ActionRegistry) Register(a Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[a.Definition.Name] = &a
}

// Get returns an action by name, or nil.
func (r *ActionRegistry) Get(name string) *Action {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.actions[name]
}

// Definitions returns all definitions sorted by name.
func (r *ActionRegistry) Definitions() []ActionDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]ActionDefinition, 0, len(r.actions))
	for _, a := range r.actions {
		defs = append(defs, a.Definition)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Names returns the registered action names, sorted.
func (r *ActionRegistry) Names() []string {
	defs := r.Definitions()
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	return names
}

// CodeRunner executes a standalone program. *sandbox.Executor implements it.
type CodeRunner interface {
	Execute(ctx context.Context, code string) sandbox.Result
}

// DefaultActions returns a registry with execute_code and create_report.
func DefaultActions(runner CodeRunner) *ActionRegistry {
	r := NewActionRegistry()
	r.Register(ExecuteCodeAction(runner))
	r.Register(CreateReportAction())
	return r
}

// ExecuteCodeAction runs the "code" argument through runner.
func ExecuteCodeAction(runner CodeRunner) Action {
	return Action{
		Definition: ActionDefinition{
			Name: ActionExecuteCode,
			Description: "Run a complete, self-contained Python program and capture its output. " +
				"Nothing carries over between runs: re-import libraries and re-load the data every time. " +
				"Print what you need to see, sparingly.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"code": map[string]any{
						"type":        "string",
						"description": "The full program source.",
					},
				},
				"required": []string{"code"},
			},
		},
		Required: []string{"code"},
		Run: func(ctx context.Context, s *Session, call ActionCall) ExecutionOutcome {
			code, _ := call.Arguments["code"].(string)
			res := runner.Execute(ctx, code)
			return ExecutionOutcome{Success: res.Success, Stdout: res.Stdout, Stderr: res.Stderr}
		},
	}
}

// CreateReportAction writes the final report next to the session's input.
func CreateReportAction() Action {
	return Action{
		Definition: ActionDefinition{
			Name:        ActionCreateReport,
			Description: "Write the final plain-text report about the data file. This ends the session.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"report_content": map[string]any{
						"type":        "string",
						"description": "The full report text.",
					},
					"subject_path": map[string]any{
						"type":        "string",
						"description": "Path of the data file the report describes.",
					},
				},
				"required": []string{"report_content", "subject_path"},
			},
		},
		Required: []string{"report_content", "subject_path"},
		Terminal: true,
		Run:      runCreateReport,
	}
}

func runCreateReport(ctx context.Context, s *Session, call ActionCall) ExecutionOutcome {
	if err := ctx.Err(); err != nil {
		return ExecutionOutcome{Stderr: fmt.Sprintf("report not written: %v", err)}
	}
	if existing := s.ReportPath(); existing != "" {
		return ExecutionOutcome{Stderr: fmt.Sprintf("a report was already written to %s", existing)}
	}

	content, _ := call.Arguments["report_content"].(string)
	subject, _ := call.Arguments["subject_path"].(string)

	target := ReportPath(s.InputPath())
	if err := writeFileAtomic(target, content); err != nil {
		return ExecutionOutcome{Stderr: fmt.Sprintf("write report: %v", err)}
	}
	s.setReportPath(target)

	return ExecutionOutcome{
		Success: true,
		Stdout:  fmt.Sprintf("Report written to %s (subject: %s, %d bytes)", target, subject, len(content)),
	}
}

// ReportPath derives the report location from the input path: same
// directory, same base name, "_report.txt" suffix.
func ReportPath(inputPath string) string {
	dir := filepath.Dir(inputPath)
	base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	return filepath.Join(dir, base+"_report.txt")
}

func writeFileAtomic(path, content string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
