// Package config loads the wrangler's TOML configuration and converts it into
// the runtime configs of the sandbox, the director and the LLM client.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/teilomillet/gollm"

	"github.com/ronaldjohnatanoso/agent-data-wrangler/agent"
	"github.com/ronaldjohnatanoso/agent-data-wrangler/llm"
	"github.com/ronaldjohnatanoso/agent-data-wrangler/sandbox"
)

// Config is the root of the configuration file.
type Config struct {
	LLM     LLMConfig     `toml:"llm"`
	Sandbox SandboxConfig `toml:"sandbox"`
	Session SessionConfig `toml:"session"`
	Log     LogConfig     `toml:"log"`
}

// LLMConfig selects the decision model and how it is called.
type LLMConfig struct {
	Provider    string   `toml:"provider"`
	Model       string   `toml:"model"`       // empty picks the catalog default
	APIKeyEnv   string   `toml:"api_key_env"` // empty uses the provider's usual variable
	Temperature float64  `toml:"temperature"`
	MaxTokens   int      `toml:"max_tokens"`
	MaxRetries  int      `toml:"max_retries"`
	RetryDelay  Duration `toml:"retry_delay"`

	RequestTimeout Duration `toml:"request_timeout"` // per HTTP call; zero keeps gollm's default
	Endpoint       string   `toml:"endpoint"`        // ollama only
}

// SandboxConfig controls how generated programs run.
type SandboxConfig struct {
	Interpreter    string            `toml:"interpreter"`
	Args           []string          `toml:"args"`
	FileExt        string            `toml:"file_ext"`
	TempRoot       string            `toml:"temp_root"`
	Timeout        Duration          `toml:"timeout"`
	MemoryLimitMB  uint64            `toml:"memory_limit_mb"`
	CPUSeconds     uint64            `toml:"cpu_seconds"`
	MaxOpenFiles   uint64            `toml:"max_open_files"`
	MaxFileSizeMB  uint64            `toml:"max_file_size_mb"`
	MaxOutputBytes int               `toml:"max_output_bytes"`
	DenyNetwork    bool              `toml:"deny_network"`
	Env            map[string]string `toml:"env"`
}

// SessionConfig bounds a single analysis session.
type SessionConfig struct {
	BaseDir         string   `toml:"base_dir"`
	DecisionTimeout Duration `toml:"decision_timeout"`
	MaxRequests     int      `toml:"max_requests"`
	LoopWindow      int      `toml:"loop_window"`
	Audit           bool     `toml:"audit"`
	AuditDir        string   `toml:"audit_dir"` // empty writes next to the input
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `toml:"level"`  // debug|info|warn|error
	Format string `toml:"format"` // text|json
}

// Duration is a time.Duration written as a string ("90s", "2m") in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	sb := sandbox.DefaultConfig()
	ag := agent.DefaultConfig()
	return &Config{
		LLM: LLMConfig{
			Provider:    "openai",
			Temperature: 0.2,
			MaxTokens:   4096,
			MaxRetries:  2,
			RetryDelay:  Duration{time.Second},
		},
		Sandbox: SandboxConfig{
			Interpreter:    sb.Interpreter,
			FileExt:        sb.FileExt,
			Timeout:        Duration{sb.Timeout},
			MemoryLimitMB:  sb.MemoryLimitBytes >> 20,
			CPUSeconds:     sb.CPUSeconds,
			MaxOpenFiles:   sb.MaxOpenFiles,
			MaxFileSizeMB:  sb.MaxFileSize >> 20,
			MaxOutputBytes: sb.MaxOutputBytes,
		},
		Session: SessionConfig{
			DecisionTimeout: Duration{ag.DecisionTimeout},
			MaxRequests:     ag.MaxRequests,
			LoopWindow:      ag.LoopWindow,
			Audit:           true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFile reads a TOML file over the defaults. Unknown keys are rejected.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	if c.LLM.Provider == "" {
		errs = append(errs, errors.New("llm.provider is required"))
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature must be within [0, 2], got %v", c.LLM.Temperature))
	}
	if c.LLM.MaxTokens < 0 || c.LLM.MaxRetries < 0 {
		errs = append(errs, errors.New("llm.max_tokens and llm.max_retries must not be negative"))
	}
	if c.LLM.RequestTimeout.Duration < 0 {
		errs = append(errs, errors.New("llm.request_timeout must not be negative"))
	}
	if c.LLM.Endpoint != "" && c.LLM.Provider != "ollama" {
		errs = append(errs, fmt.Errorf("llm.endpoint is only supported for ollama, provider is %q", c.LLM.Provider))
	}
	if c.Sandbox.Interpreter == "" {
		errs = append(errs, errors.New("sandbox.interpreter is required"))
	}
	if c.Sandbox.Timeout.Duration < 0 || c.Session.DecisionTimeout.Duration < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	if c.Session.MaxRequests < 0 || c.Session.LoopWindow < 0 {
		errs = append(errs, errors.New("session.max_requests and session.loop_window must not be negative"))
	}
	if _, err := c.Log.level(); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// APIKey returns the key from the configured environment variable, or from
// the provider's usual variable when none is configured.
func (c *Config) APIKey() string {
	env := c.LLM.APIKeyEnv
	if env == "" {
		env = DefaultAPIKeyEnv(c.LLM.Provider)
	}
	if env == "" {
		return ""
	}
	return os.Getenv(env)
}

// DefaultAPIKeyEnv returns the conventional API key variable for a provider.
func DefaultAPIKeyEnv(provider string) string {
	switch provider {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	case "groq":
		return "GROQ_API_KEY"
	case "mistral":
		return "MISTRAL_API_KEY"
	default:
		return ""
	}
}

// ModelName is the configured model, with catalog aliases resolved, or the
// catalog default for the provider.
func (c *Config) ModelName() string {
	if c.LLM.Model != "" {
		if info := llm.GetModelInfo(c.LLM.Model); info != nil {
			return info.ID
		}
		return c.LLM.Model
	}
	return llm.DefaultModel(c.LLM.Provider)
}

// RetryPolicy builds the decision retry policy.
func (c *Config) RetryPolicy() llm.RetryPolicy {
	p := llm.DefaultRetryPolicy()
	p.MaxRetries = c.LLM.MaxRetries
	if c.LLM.RetryDelay.Duration > 0 {
		p.BaseDelay = c.LLM.RetryDelay.Duration
	}
	return p
}

// SandboxConfig converts the [sandbox] section.
func (c *Config) SandboxConfig(logger *slog.Logger) sandbox.Config {
	s := c.Sandbox
	return sandbox.Config{
		Interpreter:      s.Interpreter,
		Args:             s.Args,
		FileExt:          s.FileExt,
		TempRoot:         s.TempRoot,
		Timeout:          s.Timeout.Duration,
		MemoryLimitBytes: s.MemoryLimitMB << 20,
		CPUSeconds:       s.CPUSeconds,
		MaxOpenFiles:     s.MaxOpenFiles,
		MaxFileSize:      s.MaxFileSizeMB << 20,
		MaxOutputBytes:   s.MaxOutputBytes,
		DenyNetwork:      s.DenyNetwork,
		ExtraEnv:         s.Env,
		Logger:           logger,
	}
}

// DirectorConfig converts the [session] section. Decider, Actions, Audit and
// Events are left for the caller.
func (c *Config) DirectorConfig(logger *slog.Logger) agent.Config {
	return agent.Config{
		BaseDir:         c.Session.BaseDir,
		DecisionTimeout: c.Session.DecisionTimeout.Duration,
		MaxRequests:     c.Session.MaxRequests,
		LoopWindow:      c.Session.LoopWindow,
		Logger:          logger,
	}
}

// NewLogger builds the slog logger described by [log], writing to w.
func (c *Config) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := c.Log.level()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func (l LogConfig) level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// AdapterOptions returns the gollm adapter options for the llm section.
func (c *Config) AdapterOptions() []llm.GollmAdapterOption {
	opts := []llm.GollmAdapterOption{
		llm.WithModel(c.ModelName()),
		llm.WithMaxTokens(c.LLM.MaxTokens),
		llm.WithTemperature(c.LLM.Temperature),
	}
	var extra []gollm.ConfigOption
	if c.LLM.RequestTimeout.Duration > 0 {
		extra = append(extra, gollm.SetTimeout(c.LLM.RequestTimeout.Duration))
	}
	if c.LLM.Endpoint != "" {
		extra = append(extra, gollm.SetOllamaEndpoint(c.LLM.Endpoint))
	}
	if len(extra) > 0 {
		opts = append(opts, llm.WithGollmOptions(extra...))
	}
	return opts
}
