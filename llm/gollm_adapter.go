package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/teilomillet/gollm"
)

// GollmAdapter wraps a gollm.LLM instance and implements ProviderAdapter.
type GollmAdapter struct {
	provider    string
	model       string
	temperature float64
	maxTokens   int

	// gollm options are set on the shared instance before each call.
	mu  sync.Mutex
	llm gollm.LLM
}

// GollmAdapterOption configures a GollmAdapter.
type GollmAdapterOption func(*gollmAdapterConfig)

type gollmAdapterConfig struct {
	model       string
	maxTokens   int
	temperature float64
	extraOpts   []gollm.ConfigOption
}

// WithModel sets the default model for the adapter.
func WithModel(model string) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.model = model
	}
}

// WithMaxTokens sets the default max tokens.
func WithMaxTokens(n int) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.maxTokens = n
	}
}

// WithTemperature sets the default temperature.
func WithTemperature(t float64) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.temperature = t
	}
}

// WithGollmOptions adds extra gollm configuration options.
func WithGollmOptions(opts ...gollm.ConfigOption) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.extraOpts = append(c.extraOpts, opts...)
	}
}

// NewGollmAdapter creates a GollmAdapter for the given provider.
// If apiKey is empty, gollm reads it from the provider's environment variable.
func NewGollmAdapter(provider, apiKey string, opts ...GollmAdapterOption) (*GollmAdapter, error) {
	cfg := &gollmAdapterConfig{
		maxTokens:   4096,
		temperature: 0.2,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	model := cfg.model
	if model == "" {
		model = DefaultModel(provider)
	}

	gollmOpts := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetModel(model),
		gollm.SetMaxTokens(cfg.maxTokens),
		gollm.SetTemperature(cfg.temperature),
		gollm.SetMaxRetries(0), // retries are driven by Retry
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if apiKey != "" {
		gollmOpts = append(gollmOpts, gollm.SetAPIKey(apiKey))
	}
	gollmOpts = append(gollmOpts, cfg.extraOpts...)

	l, err := gollm.NewLLM(gollmOpts...)
	if err != nil {
		return nil, &ConfigurationError{BaseError{
			Message: fmt.Sprintf("create gollm client for provider %s", provider),
			Cause:   err,
		}}
	}

	return &GollmAdapter{
		provider:    provider,
		model:       model,
		temperature: cfg.temperature,
		maxTokens:   cfg.maxTokens,
		llm:         l,
	}, nil
}

// Name returns the provider identifier.
func (a *GollmAdapter) Name() string {
	return a.provider
}

// Complete renders the conversation into a gollm prompt, generates, and
// extracts any tool calls the model wrote into its reply.
func (a *GollmAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	if a.llm == nil {
		return nil, &ConfigurationError{BaseError{Message: "gollm adapter has no client"}}
	}
	prompt := gollm.NewPrompt(RenderTranscript(req.Messages), a.promptOptions(req)...)

	a.mu.Lock()
	a.applyRequestOptions(req)
	text, err := a.llm.Generate(ctx, prompt)
	a.mu.Unlock()
	if err != nil {
		if ctx.Err() != nil {
			return nil, &AbortError{BaseError{Message: "generation cancelled", Cause: ctx.Err()}}
		}
		return nil, a.translateError(err)
	}

	return a.buildResponse(req, text), nil
}

func (a *GollmAdapter) promptOptions(req Request) []gollm.PromptOption {
	var opts []gollm.PromptOption

	var system []string
	for _, msg := range req.Messages {
		if msg.Role == RoleSystem {
			system = append(system, msg.TextContent())
		}
	}
	if len(system) > 0 {
		opts = append(opts, gollm.WithSystemPrompt(strings.Join(system, "\n\n"), gollm.CacheTypeEphemeral))
	}

	if req.MaxTokens != nil {
		opts = append(opts, gollm.WithMaxLength(*req.MaxTokens))
	}

	if len(req.Tools) > 0 {
		tools := make([]gollm.Tool, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, gollm.Tool{
				Type: "function",
				Function: gollm.Function{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
		opts = append(opts, gollm.WithTools(tools))
	}

	if req.ToolChoice != nil {
		opts = append(opts, gollm.WithToolChoice(req.ToolChoice.Mode))
	}
	return opts
}

// applyRequestOptions sets model, temperature and max_tokens on every call,
// using the adapter defaults for whatever the request leaves unset.
func (a *GollmAdapter) applyRequestOptions(req Request) {
	model, temperature, maxTokens := a.model, a.temperature, a.maxTokens
	if req.Model != "" {
		model = req.Model
	}
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	a.llm.SetOption("model", model)
	a.llm.SetOption("temperature", temperature)
	a.llm.SetOption("max_tokens", maxTokens)
}

// RenderTranscript flattens non-system messages into the single prompt text
// gollm sends. Tool calls and tool results are rendered inline so the model
// sees its own previous actions and their outcomes.
func RenderTranscript(messages []Message) string {
	var sb strings.Builder
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			continue
		}
		for _, part := range msg.Content {
			var line string
			switch {
			case part.Kind == ContentText && part.Text != "":
				switch msg.Role {
				case RoleAssistant:
					line = "[Assistant]: " + part.Text
				default:
					line = part.Text
				}
			case part.Kind == ContentToolCall && part.ToolCall != nil:
				line = fmt.Sprintf("[Assistant called %s]: %s", part.ToolCall.Name, string(part.ToolCall.Arguments))
			case part.Kind == ContentToolResult && part.ToolResult != nil:
				prefix := "[Tool Result]"
				if part.ToolResult.IsError {
					prefix = "[Tool Error]"
				}
				line = prefix + ": " + part.ToolResult.Content
			}
			if line == "" {
				continue
			}
			if sb.Len() > 0 {
				sb.WriteString("\n\n")
			}
			sb.WriteString(line)
		}
	}
	if sb.Len() == 0 {
		return "Hello"
	}
	return sb.String()
}

func (a *GollmAdapter) buildResponse(req Request, text string) *Response {
	model := req.Model
	if model == "" {
		model = a.model
	}

	calls, remaining := ParseToolCalls(text)

	var parts []ContentPart
	if remaining != "" {
		parts = append(parts, TextPart(remaining))
	}
	for _, tc := range calls {
		parts = append(parts, ToolCallPart(tc.ID, tc.Name, tc.Arguments))
	}
	if len(parts) == 0 {
		parts = []ContentPart{TextPart(text)}
	}

	finish := FinishReason{Reason: "stop", Raw: "stop"}
	if len(calls) > 0 {
		finish = FinishReason{Reason: "tool_calls", Raw: "tool_calls"}
	}

	in := estimateTokens(req)
	out := len(text) / 4
	return &Response{
		ID:       "resp_" + uuid.New().String()[:8],
		Model:    model,
		Provider: a.provider,
		Message: Message{
			Role:    RoleAssistant,
			Content: parts,
		},
		FinishReason: finish,
		Usage:        Usage{InputTokens: in, OutputTokens: out, TotalTokens: in + out},
	}
}

type rawToolCall struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Arguments  json.RawMessage `json:"arguments"`
	Parameters json.RawMessage `json:"parameters"`
	Function   *struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

func (r rawToolCall) toolCall() (ToolCall, bool) {
	name, args := r.Name, r.Arguments
	if r.Function != nil {
		name, args = r.Function.Name, r.Function.Arguments
	}
	if len(args) == 0 {
		args = r.Parameters
	}
	if name == "" {
		return ToolCall{}, false
	}
	id := r.ID
	if id == "" {
		id = "call_" + uuid.New().String()[:8]
	}
	return ToolCall{ID: id, Name: name, Arguments: normalizeArguments(args)}, true
}

// normalizeArguments unwraps arguments encoded as a JSON string. Anything that
// is not valid JSON is kept verbatim so callers can reject it.
func normalizeArguments(args json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(args)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage("{}")
	}
	if trimmed[0] != '"' {
		return trimmed
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return trimmed
	}
	return json.RawMessage(strings.TrimSpace(s))
}

// maxParseCandidates bounds how many JSON starts ParseToolCalls tries.
const maxParseCandidates = 32

// ParseToolCalls extracts tool calls written as JSON inside model text. It
// accepts {"tool_calls": [...]}, a bare array of calls, or a single
// {"name": ..., "arguments": ...} object, with OpenAI-style "function"
// wrappers in any of them. The text with the JSON removed is returned
// alongside the calls.
func ParseToolCalls(text string) ([]ToolCall, string) {
	tried := 0
	for i := 0; i < len(text) && tried < maxParseCandidates; i++ {
		if text[i] != '{' && text[i] != '[' {
			continue
		}
		tried++

		dec := json.NewDecoder(strings.NewReader(text[i:]))
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			continue
		}
		calls := decodeToolCalls(raw)
		if len(calls) == 0 {
			continue
		}
		end := i + int(dec.InputOffset())
		return calls, cleanRemainder(text[:i] + text[end:])
	}
	return nil, strings.TrimSpace(text)
}

func decodeToolCalls(raw json.RawMessage) []ToolCall {
	var list []rawToolCall
	switch raw[0] {
	case '[':
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil
		}
	case '{':
		var wrapper struct {
			ToolCalls []rawToolCall `json:"tool_calls"`
		}
		if err := json.Unmarshal(raw, &wrapper); err == nil && len(wrapper.ToolCalls) > 0 {
			list = wrapper.ToolCalls
			break
		}
		var single rawToolCall
		if err := json.Unmarshal(raw, &single); err != nil {
			return nil
		}
		list = []rawToolCall{single}
	}

	var calls []ToolCall
	for _, r := range list {
		if tc, ok := r.toolCall(); ok {
			calls = append(calls, tc)
		}
	}
	return calls
}

func cleanRemainder(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// translateError classifies a gollm error by its message. gollm does not
// expose status codes.
func (a *GollmAdapter) translateError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	lower := strings.ToLower(msg)

	kind, status, retryable := KindUnknown, 0, true
	switch {
	case containsAny(lower, "401", "unauthorized", "invalid key", "invalid api key"):
		kind, status, retryable = KindAuthentication, 401, false
	case containsAny(lower, "403", "forbidden"):
		kind, status, retryable = KindAccessDenied, 403, false
	case containsAny(lower, "404", "not found"):
		kind, status, retryable = KindNotFound, 404, false
	case containsAny(lower, "429", "rate limit"):
		kind, status = KindRateLimit, 429
	case containsAny(lower, "context length", "too many tokens"):
		kind, status, retryable = KindContextLength, 413, false
	case containsAny(lower, "500", "502", "503", "internal server", "overloaded"):
		kind, status = KindServer, 500
	case containsAny(lower, "timeout", "timed out"):
		kind, status = KindTimeout, 408
	case containsAny(lower, "connection refused", "no such host", "connection reset"):
		return &NetworkError{BaseError{Message: msg, Cause: err}}
	}

	return &KindError{
		ProviderError: ProviderError{
			BaseError:  BaseError{Message: msg, Cause: err},
			Provider:   a.provider,
			StatusCode: status,
			Retryable:  retryable,
		},
		Kind: kind,
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func estimateTokens(req Request) int {
	total := 0
	for _, msg := range req.Messages {
		for _, part := range msg.Content {
			switch {
			case part.Kind == ContentText:
				total += len(part.Text) / 4
			case part.Kind == ContentToolResult && part.ToolResult != nil:
				total += len(part.ToolResult.Content) / 4
			}
		}
	}
	if total == 0 {
		total = 10
	}
	return total
}
