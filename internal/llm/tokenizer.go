package llm

import (
	"fmt"
	"sync"

	"github.com/hession/pepper/internal/logger"
	"github.com/hession/pepper/internal/memory"
	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the BPE encoding used by current OpenAI chat models
const DefaultEncoding = "cl100k_base"

// Per-message framing overhead of the chat format
const (
	tokensPerMessage = 4
	tokensPerReply   = 3
)

// Tokenizer counts tokens client-side. A nil Tokenizer falls back to
// EstimateTokens.
type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

// NewTokenizer loads the default encoding. Loading may need network access
// on first use, so callers should tolerate an error.
func NewTokenizer() (*Tokenizer, error) {
	enc, err := tiktoken.GetEncoding(DefaultEncoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s encoding: %w", DefaultEncoding, err)
	}
	return &Tokenizer{enc: enc}, nil
}

// CountTokens returns the token count of text
func (t *Tokenizer) CountTokens(text string) int {
	if t == nil || t.enc == nil {
		return EstimateTokens(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

// CountTurnsTokens returns the prompt size of turns including chat framing
func (t *Tokenizer) CountTurnsTokens(turns []memory.Turn) int {
	total := tokensPerReply
	for _, turn := range turns {
		total += tokensPerMessage + t.CountTokens(string(turn.Role)) + t.CountTokens(turn.Content)
	}
	return total
}

// LazyTokenizer loads the encoding on first use and falls back to
// EstimateTokens when loading fails
type LazyTokenizer struct {
	once sync.Once
	load func() (*Tokenizer, error)
	tok  *Tokenizer
}

// NewLazyTokenizer returns a tokenizer that defers NewTokenizer until a count
// is requested
func NewLazyTokenizer() *LazyTokenizer {
	return &LazyTokenizer{load: NewTokenizer}
}

func (l *LazyTokenizer) tokenizer() *Tokenizer {
	l.once.Do(func() {
		var err error
		l.tok, err = l.load()
		if err != nil {
			logger.Debug("Tokenizer unavailable, estimating: %v", err)
		}
	})
	return l.tok
}

// CountTokens returns the token count of text
func (l *LazyTokenizer) CountTokens(text string) int {
	return l.tokenizer().CountTokens(text)
}

// CountTurnsTokens returns the prompt size of turns including chat framing
func (l *LazyTokenizer) CountTurnsTokens(turns []memory.Turn) int {
	return l.tokenizer().CountTurnsTokens(turns)
}

// EstimateTokens approximates the token count at about 3 bytes per token
func EstimateTokens(text string) int {
	return (len(text) + 2) / 3
}
