package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Handler is one step of the Complete pipeline.
type Handler func(ctx context.Context, req Request) (*Response, error)

// Middleware wraps a provider call. It receives the request and the next
// handler in the chain.
type Middleware func(ctx context.Context, req Request, next Handler) (*Response, error)

// Client routes requests to registered provider adapters and applies
// middleware. There is no package-level default; callers build and own one.
type Client struct {
	mu              sync.RWMutex
	providers       map[string]ProviderAdapter
	defaultProvider string
	middleware      []Middleware
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithProvider registers a provider adapter.
func WithProvider(name string, adapter ProviderAdapter) ClientOption {
	return func(c *Client) {
		c.providers[name] = adapter
	}
}

// WithDefaultProvider sets the provider used when a request names none.
func WithDefaultProvider(name string) ClientOption {
	return func(c *Client) {
		c.defaultProvider = name
	}
}

// WithMiddleware appends middleware. The first registered runs outermost.
func WithMiddleware(mw ...Middleware) ClientOption {
	return func(c *Client) {
		c.middleware = append(c.middleware, mw...)
	}
}

// NewClient creates a new Client with the given options.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		providers: make(map[string]ProviderAdapter),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.defaultProvider == "" && len(c.providers) == 1 {
		for name := range c.providers {
			c.defaultProvider = name
		}
	}
	return c
}

// RegisterProvider adds a provider adapter to the client. The first one
// registered becomes the default if none was set.
func (c *Client) RegisterProvider(name string, adapter ProviderAdapter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers[name] = adapter
	if c.defaultProvider == "" {
		c.defaultProvider = name
	}
}

func (c *Client) resolveProvider(req Request) (ProviderAdapter, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	name := req.Provider
	if name == "" {
		name = c.defaultProvider
	}
	if name == "" {
		if info := GetModelInfo(req.Model); info != nil {
			name = info.Provider
		}
	}
	if name == "" {
		return nil, &ConfigurationError{BaseError{
			Message: "no provider specified and no default provider configured",
		}}
	}

	adapter, ok := c.providers[name]
	if !ok {
		return nil, &ConfigurationError{BaseError{
			Message: fmt.Sprintf("provider %q is not registered", name),
		}}
	}
	return adapter, nil
}

// Complete sends a blocking request through middleware to the resolved provider.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	adapter, err := c.resolveProvider(req)
	if err != nil {
		return nil, err
	}
	if req.Provider == "" {
		req.Provider = adapter.Name()
	}

	handler := Handler(adapter.Complete)

	c.mu.RLock()
	chain := append([]Middleware(nil), c.middleware...)
	c.mu.RUnlock()

	for i := len(chain) - 1; i >= 0; i-- {
		mw := chain[i]
		next := handler
		handler = func(ctx context.Context, r Request) (*Response, error) {
			return mw(ctx, r, next)
		}
	}

	return handler(ctx, req)
}

// Close releases resources held by all registered providers.
func (c *Client) Close() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var firstErr error
	for _, adapter := range c.providers {
		if closer, ok := adapter.(Closer); ok {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// LoggingMiddleware logs each completion with its latency and token usage.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, req Request, next Handler) (*Response, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		attrs := []any{
			"provider", req.Provider,
			"model", req.Model,
			"messages", len(req.Messages),
			"duration", time.Since(start),
		}
		if err != nil {
			logger.WarnContext(ctx, "llm completion failed", append(attrs, "error", err)...)
			return nil, err
		}
		logger.DebugContext(ctx, "llm completion",
			append(attrs,
				"finish_reason", resp.FinishReason.Reason,
				"input_tokens", resp.Usage.InputTokens,
				"output_tokens", resp.Usage.OutputTokens,
			)...)
		return resp, nil
	}
}
