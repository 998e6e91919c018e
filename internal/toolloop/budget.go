package toolloop

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// Budget tracks a consultation's token usage against a context window so
// read_file truncation and tool-result inclusion account for token cost,
// not just line count (SPEC_FULL.md §2: "tiktoken-go/tokenizer ... the
// tool loop's read_file truncation accounts for token cost").
type Budget struct {
	mu       sync.Mutex
	codec    tokenizer.Codec
	limit    int
	consumed int
}

// NewBudget builds a Budget against the given context-window size (in
// tokens), lazily resolving the cl100k_base codec the way an OpenAI-
// compatible embedding/LLM stack expects.
func NewBudget(limit int) (*Budget, error) {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 128_000
	}
	return &Budget{codec: codec, limit: limit}, nil
}

// Count returns the token count of text, or an approximation (4 chars per
// token) if the codec can't encode it for some reason — a budget estimate
// degrading is not worth failing the whole consultation over.
func (b *Budget) Count(text string) int {
	ids, _, err := b.codec.Encode(text)
	if err != nil {
		return len(text)/4 + 1
	}
	return len(ids)
}

// Reserve charges n tokens against the remaining budget, reporting whether
// there was room. Safe for concurrent tool-call goroutines.
func (b *Budget) Reserve(n int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.consumed+n > b.limit {
		return false
	}
	b.consumed += n
	return true
}

// Remaining returns the unconsumed token budget.
func (b *Budget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.limit - b.consumed
}

// TruncateToFit shortens text to fit within the remaining budget, token-
// aware rather than byte-aware, appending a truncation marker if it had to
// cut.
func (b *Budget) TruncateToFit(text string) string {
	remaining := b.Remaining()
	ids, _, err := b.codec.Encode(text)
	if err != nil || len(ids) <= remaining {
		return text
	}
	if remaining <= 0 {
		return "[truncated: token budget exhausted]"
	}
	decoded, err := b.codec.Decode(ids[:remaining])
	if err != nil {
		return text
	}
	return decoded + "\n... [truncated: token budget]"
}
