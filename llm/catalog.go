package llm

// ModelInfo describes a known model in the catalog.
type ModelInfo struct {
	ID            string   `json:"id"`
	Provider      string   `json:"provider"`
	DisplayName   string   `json:"display_name"`
	ContextWindow int      `json:"context_window"`
	MaxOutput     int      `json:"max_output,omitempty"`
	SupportsTools bool     `json:"supports_tools"`
	Aliases       []string `json:"aliases,omitempty"`
}

// Models is the built-in catalog, newest first within each provider.
var Models = []ModelInfo{
	// Anthropic
	{
		ID: "claude-sonnet-4-5", Provider: "anthropic", DisplayName: "Claude Sonnet 4.5",
		ContextWindow: 200000, MaxOutput: 16384, SupportsTools: true,
		Aliases: []string{"sonnet", "claude-sonnet"},
	},
	{
		ID: "claude-haiku-4-5", Provider: "anthropic", DisplayName: "Claude Haiku 4.5",
		ContextWindow: 200000, MaxOutput: 8192, SupportsTools: true,
		Aliases: []string{"haiku", "claude-haiku"},
	},

	// OpenAI
	{
		ID: "gpt-4o-mini", Provider: "openai", DisplayName: "GPT-4o mini",
		ContextWindow: 128000, MaxOutput: 16384, SupportsTools: true,
		Aliases: []string{"4o-mini"},
	},
	{
		ID: "gpt-4o", Provider: "openai", DisplayName: "GPT-4o",
		ContextWindow: 128000, MaxOutput: 16384, SupportsTools: true,
		Aliases: []string{"4o"},
	},

	// Groq
	{
		ID: "llama-3.3-70b-versatile", Provider: "groq", DisplayName: "Llama 3.3 70B",
		ContextWindow: 128000, MaxOutput: 32768, SupportsTools: true,
		Aliases: []string{"llama-70b"},
	},

	// Ollama
	{
		ID: "llama3.1", Provider: "ollama", DisplayName: "Llama 3.1 (local)",
		ContextWindow: 128000, SupportsTools: true,
	},
}

// GetModelInfo returns the catalog entry for a model ID or alias, or nil.
func GetModelInfo(modelID string) *ModelInfo {
	for i := range Models {
		if Models[i].ID == modelID {
			return &Models[i]
		}
		for _, alias := range Models[i].Aliases {
			if alias == modelID {
				return &Models[i]
			}
		}
	}
	return nil
}

// ListModels returns all known models, optionally filtered by provider.
func ListModels(provider string) []ModelInfo {
	if provider == "" {
		result := make([]ModelInfo, len(Models))
		copy(result, Models)
		return result
	}
	var result []ModelInfo
	for _, m := range Models {
		if m.Provider == provider {
			result = append(result, m)
		}
	}
	return result
}

// GetLatestModel returns the first tool-capable model for a provider, or nil.
func GetLatestModel(provider string) *ModelInfo {
	for i := range Models {
		if Models[i].Provider == provider && Models[i].SupportsTools {
			return &Models[i]
		}
	}
	return nil
}

// DefaultModel resolves the model used when none is configured.
func DefaultModel(provider string) string {
	if info := GetLatestModel(provider); info != nil {
		return info.ID
	}
	return "gpt-4o-mini"
}
