package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hession/pepper/internal/llm"
	"github.com/hession/pepper/internal/memory"
)

// Commands handles slash commands against the memory manager
type Commands struct {
	mgr     *memory.Manager
	confirm func(question string) bool
	model   string
}

// NewCommands creates a command handler. confirm is asked before
// destructive commands; nil declines them.
func NewCommands(mgr *memory.Manager, confirm func(question string) bool, model string) *Commands {
	return &Commands{mgr: mgr, confirm: confirm, model: model}
}

// IsExitCommand reports whether input ends the session
func IsExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "quit", "/exit", "/quit", "/q":
		return true
	default:
		return false
	}
}

// HandleCommand handles a slash command
// Returns: (whether the command was handled, output)
func (c *Commands) HandleCommand(ctx context.Context, cmd string) (bool, string) {
	if !isSlashCommand(cmd) {
		return false, ""
	}
	output, _ := c.Execute(ctx, cmd)
	return true, output
}

// Execute runs one slash command. The output is meant for the user either
// way; err is non-nil when the command failed. A declined confirmation is
// not a failure.
func (c *Commands) Execute(ctx context.Context, cmd string) (string, error) {
	if !isSlashCommand(cmd) {
		return "", fmt.Errorf("not a command: %q", cmd)
	}

	word := strings.Fields(cmd)[0]
	switch strings.ToLower(word) {
	case "/help":
		return helpText(), nil
	case "/summary":
		return c.summary(), nil
	case "/compact", "/summarize":
		return c.compact(ctx)
	case "/reset":
		return c.reset(), nil
	case "/recall":
		return c.recall()
	case "/forget-today":
		return c.forgetToday()
	default:
		return fmt.Sprintf("Unknown command: %s\nType /help for available commands", word), fmt.Errorf("unknown command %s", word)
	}
}

func isSlashCommand(cmd string) bool {
	parts := strings.Fields(cmd)
	return len(parts) > 0 && strings.HasPrefix(parts[0], "/")
}

func (c *Commands) summary() string {
	summary := c.mgr.Summary()
	if summary == "" {
		return "No long-term summary yet. Use /compact to create one."
	}
	return "Long-term summary:\n\n" + summary
}

func (c *Commands) compact(ctx context.Context) (string, error) {
	summary, err := c.mgr.Compact(ctx)
	if err != nil {
		if errors.Is(err, memory.ErrBusy) {
			return "Busy, try again in a moment.", err
		}
		msg := err.Error()
		if hint := llm.Guidance(err, c.model); hint != "" {
			msg += "\n" + hint
		}
		return msg, err
	}
	if summary == "" {
		return "Compaction finished; nothing to remember yet.", nil
	}
	return fmt.Sprintf("Summary updated (%d characters).\n%s", len([]rune(summary)), truncateForDisplay(summary, summaryPreviewLen)), nil
}

func (c *Commands) reset() string {
	c.mgr.ResetSession()
	return "Session context reset. Long-term memory is untouched."
}

func (c *Commands) recall() (string, error) {
	info, err := c.mgr.Recall()
	if err != nil {
		return fmt.Sprintf("Failed to read recall window: %v", err), err
	}

	var b strings.Builder
	b.WriteString("Recall window\n\n")
	b.WriteString(fmt.Sprintf("Messages: up to %d\n", info.Messages))
	b.WriteString(fmt.Sprintf("Days:     %d\n", info.Days))
	if len(info.Partitions) == 0 {
		b.WriteString("Partitions: (none)\n")
	} else {
		b.WriteString(fmt.Sprintf("Partitions: %s\n", strings.Join(info.Partitions, ", ")))
	}
	b.WriteString(fmt.Sprintf("Loaded now: %d messages, ~%d tokens\n", info.Loaded, info.EstimatedTokens))
	b.WriteString(fmt.Sprintf("Session:    %d turns, ~%d tokens per request", info.ContextTurns, info.ContextTokens))
	return b.String(), nil
}

func (c *Commands) forgetToday() (string, error) {
	if c.confirm == nil || !c.confirm("Delete everything logged today? (y/N): ") {
		return "Cancelled.", nil
	}
	if err := c.mgr.ClearToday(); err != nil {
		return fmt.Sprintf("Failed to clear today's log: %v", err), err
	}
	return "Today's log was deleted. The long-term summary is untouched.", nil
}

func helpText() string {
	var b strings.Builder
	b.WriteString("Commands\n\n")
	for _, s := range GetCommandSuggestions() {
		b.WriteString(fmt.Sprintf("  %-14s - %s\n", s.Text, s.Description))
	}
	b.WriteString("\nAnything else is sent to Pepper.")
	return b.String()
}

// summaryPreviewLen bounds the summary line printed after compaction
const summaryPreviewLen = 120

// truncateForDisplay truncates text for one-line display
func truncateForDisplay(text string, maxLen int) string {
	// Remove newlines
	text = strings.ReplaceAll(text, "\n", " ")
	text = strings.ReplaceAll(text, "\r", "")
	text = strings.TrimSpace(text)

	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	return string(runes[:maxLen]) + "..."
}

// CommandSuggestion command suggestion
type CommandSuggestion struct {
	Text        string
	Description string
}

// GetCommandSuggestions returns command suggestions for autocompletion
func GetCommandSuggestions() []CommandSuggestion {
	return []CommandSuggestion{
		{Text: "/help", Description: "Show available commands"},
		{Text: "/summary", Description: "Show the long-term summary"},
		{Text: "/compact", Description: "Update the summary from recent messages now"},
		{Text: "/summarize", Description: "Same as /compact"},
		{Text: "/reset", Description: "Reset this session's context"},
		{Text: "/recall", Description: "Show the recall window"},
		{Text: "/forget-today", Description: "Delete today's log"},
		{Text: "/exit", Description: "Leave (also exit or quit)"},
	}
}
