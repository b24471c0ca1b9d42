package llm

import "strings"

// defaultCapabilities is used for model names not found in knownModels.
var defaultCapabilities = ModelCapabilities{
	ContextWindow:   128_000,
	MaxOutputTokens: 4_096,
}

// knownModels maps model name fragments to their limits. Entries are checked
// in order, so more specific fragments must precede their prefixes
// (e.g. "gpt-4o" before "gpt-4").
var knownModels = []struct {
	fragment string
	caps     ModelCapabilities
}{
	{"gpt-4o-mini", ModelCapabilities{128_000, 16_384}},
	{"gpt-4o", ModelCapabilities{128_000, 16_384}},
	{"gpt-4.1", ModelCapabilities{1_047_576, 32_768}},
	{"gpt-4-turbo", ModelCapabilities{128_000, 4_096}},
	{"gpt-4-32k", ModelCapabilities{32_768, 4_096}},
	{"gpt-4", ModelCapabilities{8_192, 4_096}},
	{"gpt-35-turbo", ModelCapabilities{16_385, 4_096}},
	{"gpt-3.5-turbo", ModelCapabilities{16_385, 4_096}},
	{"o1-mini", ModelCapabilities{128_000, 65_536}},
	{"o3-mini", ModelCapabilities{200_000, 100_000}},
	{"o1", ModelCapabilities{200_000, 100_000}},
	{"o3", ModelCapabilities{200_000, 100_000}},
	{"claude-3-opus", ModelCapabilities{200_000, 4_096}},
	{"claude", ModelCapabilities{200_000, 8_192}},
	{"gemini-1.5-pro", ModelCapabilities{2_097_152, 8_192}},
	{"gemini-1.5-flash", ModelCapabilities{1_048_576, 8_192}},
	{"gemini-2.0-flash", ModelCapabilities{1_048_576, 8_192}},
	{"gemini", ModelCapabilities{128_000, 8_192}},
	{"mistral", ModelCapabilities{32_000, 4_096}},
	{"llama3", ModelCapabilities{8_192, 2_048}},
}

// CapabilitiesFor returns the limits of a model by name. Matching is
// case-insensitive; unknown models get a 128k context window.
func CapabilitiesFor(model string) ModelCapabilities {
	lower := strings.ToLower(model)
	for _, m := range knownModels {
		if strings.Contains(lower, m.fragment) {
			return m.caps
		}
	}
	return defaultCapabilities
}
