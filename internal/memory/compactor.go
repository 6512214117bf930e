package memory

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/hession/pepper/internal/logger"
)

// Completer is the remote completion capability: turns in, reply text out
type Completer interface {
	Complete(ctx context.Context, turns []Turn) (string, error)
}

// CompleterFunc adapts a function to Completer
type CompleterFunc func(ctx context.Context, turns []Turn) (string, error)

// Complete calls f
func (f CompleterFunc) Complete(ctx context.Context, turns []Turn) (string, error) {
	return f(ctx, turns)
}

// DefaultCompactionInstructions is the compaction policy sent with every
// summary refresh. %d is replaced by the character cap.
const DefaultCompactionInstructions = `You maintain the long-term memory of an assistant as a single summary.
Update the existing summary with what matters from the recent conversation.

Rules:
- Be concise and information-dense.
- Prefer stable facts, goals, decisions and preferences about the user and their work.
- Omit transient chatter, greetings and small talk.
- Never record secrets such as passwords, API keys or tokens.
- Keep the result under about %d characters.
- Output only the new summary, with no preamble or explanation.`

// noSummaryMarker stands in for an absent summary in compaction requests
const noSummaryMarker = "(none)"

// Compactor folds recent records into the rolling summary
type Compactor struct {
	maxChars     int
	instructions string
}

// NewCompactor creates a compactor. An empty instructions string selects
// DefaultCompactionInstructions; every %d in it is replaced by maxChars.
func NewCompactor(maxChars int, instructions string) *Compactor {
	if maxChars <= 0 {
		maxChars = DefaultSummaryMaxChars
	}
	if strings.TrimSpace(instructions) == "" {
		instructions = DefaultCompactionInstructions
	}
	instructions = strings.ReplaceAll(instructions, "%d", strconv.Itoa(maxChars))
	return &Compactor{maxChars: maxChars, instructions: instructions}
}

// Instructions returns the resolved compaction policy text
func (c *Compactor) Instructions() string {
	return c.instructions
}

// BuildRequest assembles the turns sent to the summarizer
func (c *Compactor) BuildRequest(existing string, records []Record) []Turn {
	existing = strings.TrimSpace(existing)
	if existing == "" {
		existing = noSummaryMarker
	}

	var b strings.Builder
	b.WriteString("Existing summary:\n")
	b.WriteString(existing)
	b.WriteString("\n\nRecent conversation (oldest first):\n")
	if len(records) == 0 {
		b.WriteString(noSummaryMarker)
		b.WriteString("\n")
	}
	for _, rec := range records {
		if !rec.Timestamp.IsZero() {
			b.WriteString("[")
			b.WriteString(rec.Timestamp.UTC().Format(timestampLayout))
			b.WriteString("] ")
		}
		b.WriteString(string(rec.Role))
		b.WriteString(": ")
		b.WriteString(rec.Content)
		b.WriteString("\n")
	}

	return []Turn{
		{Role: RoleSystem, Content: c.instructions},
		{Role: RoleUser, Content: b.String()},
	}
}

// UpdateSummary asks summarize for a new summary. summarize should be a
// low-temperature completer. On any failure the existing summary is
// returned unchanged together with a *CompactionError.
func (c *Compactor) UpdateSummary(ctx context.Context, existing string, records []Record, summarize Completer) (string, error) {
	existing = strings.TrimSpace(existing)
	if summarize == nil {
		return existing, &CompactionError{Err: fmt.Errorf("no summarizer configured")}
	}

	reply, err := summarize.Complete(ctx, c.BuildRequest(existing, records))
	if err != nil {
		logger.Warn("Summary compaction failed: %v", err)
		return existing, &CompactionError{Err: err}
	}

	reply = strings.TrimSpace(reply)
	if reply == "" {
		logger.Warn("Summary compaction returned no text, keeping previous summary")
		return existing, &CompactionError{Err: ErrEmptySummary}
	}

	logger.Info("Summary compacted from %d records (%d chars)", len(records), len([]rune(reply)))
	return reply, nil
}
