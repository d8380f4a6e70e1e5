package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ronaldjohnatanoso/agent-data-wrangler/agent"
	"github.com/ronaldjohnatanoso/agent-data-wrangler/audit"
	"github.com/ronaldjohnatanoso/agent-data-wrangler/config"
	"github.com/ronaldjohnatanoso/agent-data-wrangler/llm"
	"github.com/ronaldjohnatanoso/agent-data-wrangler/sandbox"
)

// CLI defines the command-line interface.
type CLI struct {
	Run     RunCmd     `cmd:"" help:"Analyze a CSV file and write a report next to it"`
	Models  ModelsCmd  `cmd:"" help:"List the models in the built-in catalog"`
	Version VersionCmd `cmd:"" help:"Show version information"`
}

// RunCmd runs one analysis session.
type RunCmd struct {
	Input       string `arg:"" help:"CSV file to analyze"`
	Config      string `short:"c" help:"Config file path (TOML)"`
	Provider    string `help:"LLM provider (overrides config)"`
	Model       string `short:"m" help:"Model name (overrides config)"`
	BaseDir     string `help:"Directory relative inputs are resolved against"`
	LogLevel    string `help:"Log level: debug, info, warn, error (overrides config)"`
	MetricsAddr string `help:"Serve Prometheus metrics on this address while running" placeholder:"HOST:PORT"`
	Events      bool   `help:"Write session events to stderr as JSON lines"`
	NoAudit     bool   `help:"Do not write the audit log"`
}

// ModelsCmd lists catalog models.
type ModelsCmd struct {
	Provider string `help:"Only list models of this provider"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func kongVars() kong.Vars {
	return kong.Vars{
		"version": version,
	}
}

// Run prints the build version.
func (v *VersionCmd) Run() error {
	fmt.Printf("wrangler %s (commit %s)\n", version, commit)
	return nil
}

// Run prints the catalog.
func (m *ModelsCmd) Run() error {
	return m.list(os.Stdout)
}

func (m *ModelsCmd) list(w io.Writer) error {
	models := llm.ListModels(m.Provider)
	if len(models) == 0 {
		return fmt.Errorf("no models known for provider %q", m.Provider)
	}
	for _, info := range models {
		tools := ""
		if !info.SupportsTools {
			tools = "  (no tools)"
		}
		fmt.Fprintf(w, "%-10s  %-28s  %8d ctx%s\n", info.Provider, info.ID, info.ContextWindow, tools)
	}
	return nil
}

// Run analyzes the input file.
func (r *RunCmd) Run(ctx context.Context) error {
	cfg, err := r.loadConfig()
	if err != nil {
		return err
	}
	logger, err := cfg.NewLogger(os.Stderr)
	if err != nil {
		return err
	}

	if r.MetricsAddr != "" {
		stop := serveMetrics(r.MetricsAddr, logger)
		defer stop()
	}

	adapter, err := llm.NewGollmAdapter(cfg.LLM.Provider, cfg.APIKey(), cfg.AdapterOptions()...)
	if err != nil {
		return err
	}

	var events *agent.EventEmitter
	if r.Events {
		events = agent.NewEventEmitter(0)
		done := streamEvents(events, os.Stderr)
		defer func() {
			events.Close()
			<-done
		}()
	}

	director, closeFn, err := newDirector(cfg, adapter, events, logger)
	if err != nil {
		return err
	}
	defer closeFn()

	res, runErr := director.Run(ctx, r.Input)
	if res.Session != nil {
		printResult(os.Stdout, res, cfg)
	}
	return runErr
}

func (r *RunCmd) loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if r.Config != "" {
		loaded, err := config.LoadFile(r.Config)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if r.Provider != "" {
		cfg.LLM.Provider = r.Provider
		// a catalog model of another provider falls back to the new provider's default
		if info := llm.GetModelInfo(cfg.LLM.Model); r.Model == "" && info != nil && info.Provider != r.Provider {
			cfg.LLM.Model = ""
		}
	}
	if r.Model != "" {
		cfg.LLM.Model = r.Model
	}
	if r.BaseDir != "" {
		cfg.Session.BaseDir = r.BaseDir
	}
	if r.LogLevel != "" {
		cfg.Log.Level = r.LogLevel
	}
	if r.NoAudit {
		cfg.Session.Audit = false
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newDirector wires the decision model, sandbox, actions and audit log into
// a Director. The returned func releases the LLM client.
func newDirector(cfg *config.Config, adapter llm.ProviderAdapter, events *agent.EventEmitter, logger *slog.Logger) (*agent.Director, func(), error) {
	client := llm.NewClient(
		llm.WithProvider(adapter.Name(), adapter),
		llm.WithDefaultProvider(adapter.Name()),
		llm.WithMiddleware(llm.LoggingMiddleware(logger)),
	)
	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Warn("closing llm client", "error", err)
		}
	}

	decider := agent.NewLLMDecider(client,
		agent.WithDecisionModel(cfg.ModelName()),
		agent.WithDecisionProvider(adapter.Name()),
		agent.WithDecisionTemperature(cfg.LLM.Temperature),
		agent.WithDecisionMaxTokens(cfg.LLM.MaxTokens),
		agent.WithRetryPolicy(cfg.RetryPolicy()),
		agent.WithDecisionLogger(logger),
	)

	dc := cfg.DirectorConfig(logger)
	dc.Decider = decider
	dc.Actions = agent.DefaultActions(sandbox.New(cfg.SandboxConfig(logger)))
	dc.Events = events
	if cfg.Session.Audit {
		fl := audit.NewFileLog()
		fl.Dir = cfg.Session.AuditDir
		dc.Audit = fl
	}

	director, err := agent.NewDirector(dc)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return director, closeFn, nil
}

// serveMetrics exposes /metrics until the returned func is called.
func serveMetrics(addr string, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// streamEvents writes each event as a JSON line. The returned channel closes
// once the emitter is closed and drained.
func streamEvents(events *agent.EventEmitter, w io.Writer) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		enc := json.NewEncoder(w)
		for ev := range events.Events() {
			_ = enc.Encode(ev)
		}
	}()
	return done
}

func printResult(w io.Writer, res agent.Result, cfg *config.Config) {
	fmt.Fprintf(w, "session:  %s\n", res.SessionID)
	fmt.Fprintf(w, "input:    %s\n", res.InputPath)
	fmt.Fprintf(w, "halted:   %s\n", res.HaltReason)
	fmt.Fprintf(w, "requests: %d\n", res.Requests)
	fmt.Fprintf(w, "tokens:   %d (in %d, out %d)\n", res.Usage.TotalTokens, res.Usage.InputTokens, res.Usage.OutputTokens)
	if res.ReportPath != "" {
		fmt.Fprintf(w, "report:   %s\n", res.ReportPath)
	} else {
		fmt.Fprintln(w, "report:   (none)")
	}
	if cfg.Session.Audit {
		fl := audit.NewFileLog()
		fl.Dir = cfg.Session.AuditDir
		fmt.Fprintf(w, "audit:    %s\n", fl.Path(res.Session))
	}
	if res.FinalMessage != "" {
		fmt.Fprintf(w, "\n%s\n", res.FinalMessage)
	}
}
