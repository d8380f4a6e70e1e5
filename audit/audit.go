// Package audit writes a plain-text record of a finished session next to the
// resource it analyzed.
package audit

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ronaldjohnatanoso/agent-data-wrangler/agent"
)

// ErrPersistFailed wraps every write failure.
var ErrPersistFailed = errors.New("audit persist failed")

// FileLog persists sessions as "<base>_audit_<session id>.txt" files.
type FileLog struct {
	// Dir overrides the output directory. Empty means the input's directory.
	Dir string
}

// NewFileLog creates a FileLog writing next to each session's input.
func NewFileLog() *FileLog {
	return &FileLog{}
}

// Path returns where s will be written.
func (l *FileLog) Path(s *agent.Session) string {
	dir := l.Dir
	if dir == "" {
		dir = filepath.Dir(s.InputPath())
	}
	base := strings.TrimSuffix(filepath.Base(s.InputPath()), filepath.Ext(s.InputPath()))
	return filepath.Join(dir, fmt.Sprintf("%s_audit_%s.txt", base, s.ID()))
}

// Persist writes the full trail for s. The file appears atomically.
func (l *FileLog) Persist(s *agent.Session) error {
	path := l.Path(s)
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, ".audit-*")
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPersistFailed, path, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(Render(s)); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: %s: %v", ErrPersistFailed, path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %s: %v", ErrPersistFailed, path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %s: %v", ErrPersistFailed, path, err)
	}
	return nil
}

const rule = "----------------------------------------------------------------"

// Render formats a session: header, every turn in order, then the trace.
func Render(s *agent.Session) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "session:     %s\n", s.ID())
	fmt.Fprintf(&sb, "input:       %s\n", s.InputPath())
	fmt.Fprintf(&sb, "state:       %s\n", s.State())
	fmt.Fprintf(&sb, "halt reason: %s\n", orNone(s.HaltReason()))
	fmt.Fprintf(&sb, "requests:    %d\n", s.Requests())
	fmt.Fprintf(&sb, "report:      %s\n", orNone(s.ReportPath()))
	fmt.Fprintf(&sb, "started:     %s\n", s.CreatedAt().Format(time.RFC3339))
	if f := s.FinishedAt(); !f.IsZero() {
		fmt.Fprintf(&sb, "finished:    %s\n", f.Format(time.RFC3339))
	}

	history := s.History()
	fmt.Fprintf(&sb, "\n%s\nHISTORY (%d turns)\n%s\n", rule, len(history), rule)
	for i, t := range history {
		writeTurn(&sb, i, t)
	}

	trace := s.Trace()
	fmt.Fprintf(&sb, "\n%s\nTRACE (%d observations)\n%s\n", rule, len(trace), rule)
	for _, o := range trace {
		fmt.Fprintf(&sb, "%s  %-14s %s\n", o.Time.Format("15:04:05.000"), o.Kind, o.Detail)
	}
	return sb.String()
}

func writeTurn(sb *strings.Builder, i int, t agent.Turn) {
	fmt.Fprintf(sb, "\n[%d] %s @ %s\n", i, strings.ToUpper(string(t.Kind)), t.Timestamp.Format(time.RFC3339))

	switch t.Kind {
	case agent.TurnProposal:
		if p := t.Proposal; p != nil {
			if p.Call != nil {
				fmt.Fprintf(sb, "action: %s (id=%s)\n", p.Call.Name, p.Call.ID)
				keys := make([]string, 0, len(p.Call.Arguments))
				for k := range p.Call.Arguments {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					fmt.Fprintf(sb, "  %s:\n%s\n", k, indent(fmt.Sprint(p.Call.Arguments[k])))
				}
			}
			if p.Malformed != "" {
				fmt.Fprintf(sb, "malformed: %s\n", p.Malformed)
			}
			if p.DroppedCalls > 0 {
				fmt.Fprintf(sb, "dropped calls: %d\n", p.DroppedCalls)
			}
		}
	case agent.TurnOutcome:
		if o := t.Outcome; o != nil {
			fmt.Fprintf(sb, "action: %s (id=%s) success=%v terminal=%v\n", o.Action, o.CallID, o.Result.Success, o.Terminal)
		}
	}

	if text := t.TextContent(); text != "" {
		sb.WriteString(text)
		if !strings.HasSuffix(text, "\n") {
			sb.WriteString("\n")
		}
	}
}

func indent(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = "    " + l
	}
	return strings.Join(lines, "\n")
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
