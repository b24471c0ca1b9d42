package llm

import (
	"fmt"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// messageOverhead is the per-message token cost of role and framing tokens in
// the chat format.
const messageOverhead = 4

var (
	codecMu sync.Mutex
	codecs  = map[string]tokenizer.Codec{}
)

// codecFor returns the BPE codec for model, falling back to cl100k_base for
// model names the tokenizer does not know. Codecs are cached per model.
func codecFor(model string) (tokenizer.Codec, error) {
	codecMu.Lock()
	defer codecMu.Unlock()

	if c, ok := codecs[model]; ok {
		return c, nil
	}
	c, err := tokenizer.ForModel(tokenizer.Model(model))
	if err != nil {
		c, err = tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			return nil, fmt.Errorf("llm: load tokenizer: %w", err)
		}
	}
	codecs[model] = c
	return c, nil
}

// CountTokens counts the tokens messages would occupy in model's context
// window using the model's BPE vocabulary plus a fixed per-message overhead.
// Providers without a native tokenisation API use it to implement
// [Provider.CountTokens].
func CountTokens(model string, messages []Message) (int, error) {
	codec, err := codecFor(model)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, m := range messages {
		ids, _, err := codec.Encode(m.Content)
		if err != nil {
			return 0, fmt.Errorf("llm: encode message: %w", err)
		}
		total += len(ids) + messageOverhead
	}
	return total, nil
}
