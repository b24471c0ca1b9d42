package llm

import "testing"

func TestCapabilitiesFor(t *testing.T) {
	tests := []struct {
		model         string
		contextWindow int
	}{
		{"gpt-4o-mini", 128_000},
		{"GPT-4O", 128_000},
		{"gpt-4", 8_192},
		{"gpt-4-32k", 32_768},
		{"gpt-35-turbo", 16_385},
		{"claude-3-opus-20240229", 200_000},
		{"gemini-1.5-pro", 2_097_152},
		{"totally-unknown", defaultCapabilities.ContextWindow},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			if got := CapabilitiesFor(tt.model).ContextWindow; got != tt.contextWindow {
				t.Errorf("CapabilitiesFor(%q).ContextWindow = %d, want %d", tt.model, got, tt.contextWindow)
			}
		})
	}
}

func TestCountTokens_Empty(t *testing.T) {
	n, err := CountTokens("gpt-4o", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 tokens, got %d", n)
	}
}

func TestCountTokens_OverheadPerMessage(t *testing.T) {
	msgs := []Message{{Role: RoleUser, Content: ""}, {Role: RoleSystem, Content: ""}}
	n, err := CountTokens("gpt-4o", msgs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2*messageOverhead {
		t.Errorf("expected %d tokens for empty messages, got %d", 2*messageOverhead, n)
	}
}

func TestCountTokens_UnknownModelFallsBack(t *testing.T) {
	n, err := CountTokens("llama3", []Message{{Role: RoleUser, Content: "Hello world"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n <= messageOverhead {
		t.Errorf("expected content tokens, got %d", n)
	}
}
