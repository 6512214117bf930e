package cli

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hession/pepper/internal/config"
	"github.com/hession/pepper/internal/llm"
	"github.com/hession/pepper/internal/logger"
	"github.com/hession/pepper/internal/memory"
)

// App wires configuration, the completion client and the memory subsystem
type App struct {
	Config    *config.Config
	Prompts   *config.PromptConfig
	Client    *llm.Client
	Events    *memory.EventStore
	Summaries *memory.SummaryStore
	Manager   *memory.Manager
}

// NewApp builds the application from configuration. Storage that cannot be
// opened is an error here; later storage failures degrade to session-only
// memory.
func NewApp(cfg *config.Config, prompts *config.PromptConfig) (*App, error) {
	if prompts == nil {
		prompts = config.DefaultPromptConfig()
	}

	client := llm.New(
		cfg.Model.APIKey,
		cfg.Model.BaseURL,
		cfg.Model.Model,
		cfg.Model.Temperature,
		cfg.Model.MaxTokens,
		llm.WithTimeout(time.Duration(cfg.Model.TimeoutSeconds)*time.Second),
		llm.WithMaxRetries(cfg.Model.MaxRetries),
	)
	summarizer := client.WithTemperature(cfg.Memory.SummaryTemperature)

	backend, err := memory.OpenBackend(cfg.Memory.Backend, cfg.Memory.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize memory store: %w", err)
	}

	sessionID := uuid.NewString()
	events := memory.NewEventStore(backend, memory.WithSessionTag(sessionID))
	summaries := memory.NewSummaryStore(cfg.SummaryPath(), cfg.Memory.SummaryMaxChars)
	compactor := memory.NewCompactor(cfg.Memory.SummaryMaxChars, prompts.GetCompactionInstructions())

	tokens := llm.NewLazyTokenizer()
	mgr := memory.NewManager(events, summaries, compactor, client, summarizer, memory.Options{
		SessionID:          sessionID,
		SystemPrompt:       prompts.GetSystemPrompt(),
		SummaryPreamble:    prompts.GetSummaryPreamble(),
		RecallMessages:     cfg.Memory.RecallMessages,
		RecallDays:         cfg.Memory.RecallDays,
		CompactionBatch:    cfg.Memory.SummaryBatchMessages,
		AutoSummarizeEvery: cfg.Memory.AutoSummarizeEvery,
	}, memory.WithTokenCounter(tokens.CountTokens), memory.WithContextCounter(tokens.CountTurnsTokens))

	logger.Info("Memory opened: backend=%s, location=%s, session=%s",
		cfg.Memory.Backend, events.Location(), mgr.SessionID())

	return &App{
		Config:    cfg,
		Prompts:   prompts,
		Client:    client,
		Events:    events,
		Summaries: summaries,
		Manager:   mgr,
	}, nil
}

// Close releases the event store
func (a *App) Close() error {
	return a.Events.Close()
}
