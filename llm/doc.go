// Package llm is the transport behind the analyst's decision capability. It
// presents a provider-agnostic request/response client on top of the gollm
// library (github.com/teilomillet/gollm).
//
// The package is layered the same way from the bottom up:
//
//   - ProviderAdapter: the single blocking Complete call every backend implements
//   - Errors and Retry: a typed error hierarchy with retryability, plus backoff
//   - Client: provider routing and middleware
//   - GollmAdapter: the production adapter
//
// Using the Client directly:
//
//	adapter, _ := llm.NewGollmAdapter("openai", os.Getenv("OPENAI_API_KEY"))
//	client := llm.NewClient(llm.WithProvider("openai", adapter))
//
//	resp, _ := client.Complete(ctx, llm.Request{
//	    Model:    "gpt-4o-mini",
//	    Messages: []llm.Message{llm.UserMessage("Summarize sales.csv")},
//	})
//	fmt.Println(resp.Text())
//
// Tool calls are surfaced through Response.ToolCalls. Models reached through
// gollm's text interface emit them as JSON in the reply, which the adapter
// extracts; see ParseToolCalls for the accepted shapes.
package llm
