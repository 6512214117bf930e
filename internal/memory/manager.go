package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/hession/pepper/internal/logger"
)

// Defaults for Options fields left at zero
const (
	DefaultRecallMessages     = 30
	DefaultRecallDays         = 3
	DefaultCompactionBatch    = 60
	DefaultAutoSummarizeEvery = 12
	DefaultSummaryPreamble    = "Long-term memory from earlier conversations:"
)

// EventLog is the part of the event store the manager depends on
type EventLog interface {
	Append(role Role, content string) error
	RecentPartitions(days int) ([]Partition, error)
	LoadRecent(limit, days int) ([]Record, error)
	ClearToday() error
}

// State is the manager's position in the turn cycle
type State int

const (
	StateIdle State = iota
	StateSending
	StateCompacting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateCompacting:
		return "compacting"
	default:
		return "unknown"
	}
}

// Options configures a Manager
type Options struct {
	SessionID       string
	SystemPrompt    string
	SummaryPreamble string

	RecallMessages  int // RECALL_MESSAGES
	RecallDays      int // RECALL_DAYS
	CompactionBatch int // records fed to each compaction

	// AutoSummarizeEvery compacts after every N completed assistant turns; 0 disables
	AutoSummarizeEvery int
}

// TurnResult is the outcome of one successful exchange
type TurnResult struct {
	Reply string
	Turn  int // completed assistant turns so far

	// StorageErr is set when a turn could not be logged; the session keeps it
	StorageErr error

	// Compaction outcome when auto-compaction ran
	Compacted  bool
	Summary    string
	CompactErr error
}

// RecallInfo describes the recall configuration and the current window
type RecallInfo struct {
	Messages        int
	Days            int
	Partitions      []string
	Loaded          int
	EstimatedTokens int
	ContextTurns    int
	ContextTokens   int
}

// ManagerOption configures optional Manager collaborators
type ManagerOption func(*Manager)

// WithTokenCounter sets the function used to estimate record size
func WithTokenCounter(count func(string) int) ManagerOption {
	return func(m *Manager) {
		m.countTokens = count
	}
}

// WithContextCounter sets the function used to size the session context as
// a chat request
func WithContextCounter(count func([]Turn) int) ManagerOption {
	return func(m *Manager) {
		m.countContext = count
	}
}

// Manager assembles session context and drives compaction
type Manager struct {
	mu sync.Mutex

	events     EventLog
	summaries  *SummaryStore
	compactor  *Compactor
	completer  Completer
	summarizer Completer
	opts       Options

	countTokens  func(string) int
	countContext func([]Turn) int

	session []Turn
	turns   int
	state   State
}

// NewManager creates a memory manager. completer answers chat turns and
// summarizer serves compaction; they may be the same client configured
// with different temperatures.
func NewManager(events EventLog, summaries *SummaryStore, compactor *Compactor, completer, summarizer Completer, opts Options, mopts ...ManagerOption) *Manager {
	if opts.SessionID == "" {
		opts.SessionID = uuid.NewString()
	}
	if opts.SummaryPreamble == "" {
		opts.SummaryPreamble = DefaultSummaryPreamble
	}
	if opts.RecallMessages < 0 {
		opts.RecallMessages = 0
	}
	if opts.RecallDays < 0 {
		opts.RecallDays = 0
	}
	if opts.CompactionBatch <= 0 {
		opts.CompactionBatch = DefaultCompactionBatch
	}
	if opts.AutoSummarizeEvery < 0 {
		opts.AutoSummarizeEvery = 0
	}

	m := &Manager{
		events:      events,
		summaries:   summaries,
		compactor:   compactor,
		completer:   completer,
		summarizer:  summarizer,
		opts:        opts,
		countTokens: func(s string) int { return (len(s) + 2) / 3 },
		state:       StateIdle,
	}
	for _, opt := range mopts {
		opt(m)
	}
	m.session = []Turn{m.systemTurn()}
	return m
}

func (m *Manager) systemTurn() Turn {
	return Turn{Role: RoleSystem, Content: m.opts.SystemPrompt}
}

// MaybeAutoCompact reports whether compaction is due after turnCounter
// completed assistant turns
func MaybeAutoCompact(every, turnCounter int) bool {
	return every > 0 && turnCounter > 0 && turnCounter%every == 0
}

// begin moves from Idle to next, failing with ErrBusy otherwise
func (m *Manager) begin(next State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateIdle {
		return fmt.Errorf("%w: %s", ErrBusy, m.state)
	}
	m.state = next
	return nil
}

func (m *Manager) end() {
	m.mu.Lock()
	m.state = StateIdle
	m.mu.Unlock()
}

// BuildInitialContext resets the session to the system prompt, the stored
// summary (when present) and the recall window
func (m *Manager) BuildInitialContext() []Turn {
	turns := []Turn{m.systemTurn()}

	if summary := m.summaries.Load(); summary != "" {
		turns = append(turns, Turn{
			Role:    RoleSystem,
			Content: m.opts.SummaryPreamble + "\n" + summary,
		})
	}

	records, err := m.events.LoadRecent(m.opts.RecallMessages, m.opts.RecallDays)
	if err != nil {
		logger.Warn("Failed to load recall window, starting without history: %v", err)
	}
	for _, rec := range records {
		turns = append(turns, rec.Turn())
	}
	logger.Info("Session %s started with %d recalled records", m.opts.SessionID, len(records))

	m.mu.Lock()
	m.session = turns
	m.mu.Unlock()
	return m.Context()
}

// ResetSession drops every session turn except the system prompt.
// Persisted records and the summary are untouched.
func (m *Manager) ResetSession() {
	m.mu.Lock()
	m.session = []Turn{m.systemTurn()}
	m.mu.Unlock()
}

// RecordTurn appends a turn to the session context and to the event log.
// A log failure is returned but the session copy is kept.
func (m *Manager) RecordTurn(role Role, content string) error {
	if !role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	m.mu.Lock()
	m.session = append(m.session, Turn{Role: role, Content: content})
	m.mu.Unlock()

	if err := m.events.Append(role, content); err != nil {
		logger.Error("Failed to persist %s turn, it will not be recalled later: %v", role, err)
		return err
	}
	return nil
}

// Send runs one exchange: log the user turn, ask the completer with the
// whole session context, log the reply and compact when due.
// On a completer failure the user turn stays in the session, the turn is
// not counted and the error is returned unchanged.
func (m *Manager) Send(ctx context.Context, input string) (*TurnResult, error) {
	if err := m.begin(StateSending); err != nil {
		return nil, err
	}

	result := &TurnResult{}
	if err := m.RecordTurn(RoleUser, input); err != nil {
		result.StorageErr = err
	}

	reply, err := m.completer.Complete(ctx, m.Context())
	if err != nil {
		m.end()
		logger.Warn("Completion failed: %v", err)
		return result, err
	}

	if err := m.RecordTurn(RoleAssistant, reply); err != nil {
		result.StorageErr = errors.Join(result.StorageErr, err)
	}

	m.mu.Lock()
	m.turns++
	result.Turn = m.turns
	m.mu.Unlock()
	result.Reply = reply
	m.end()

	// Checked after the assistant turn is logged so compaction sees it
	if MaybeAutoCompact(m.opts.AutoSummarizeEvery, result.Turn) {
		logger.Info("Auto-compaction after turn %d", result.Turn)
		summary, err := m.Compact(ctx)
		result.Summary = summary
		result.CompactErr = err
		result.Compacted = err == nil
	}

	return result, nil
}

// Compact refreshes the stored summary from the most recent records.
// It returns the summary in effect afterwards; on failure that is the
// previous summary, unchanged on disk.
func (m *Manager) Compact(ctx context.Context) (string, error) {
	if err := m.begin(StateCompacting); err != nil {
		return "", err
	}
	defer m.end()

	existing := m.summaries.Load()
	records, err := m.events.LoadRecent(m.opts.CompactionBatch, m.opts.RecallDays)
	if err != nil {
		logger.Warn("Failed to load records for compaction: %v", err)
		return existing, &CompactionError{Err: err}
	}

	updated, err := m.compactor.UpdateSummary(ctx, existing, records, m.summarizer)
	if err != nil {
		return existing, err
	}

	stored, err := m.summaries.Save(updated)
	if err != nil {
		logger.Error("Failed to save summary: %v", err)
		return existing, &CompactionError{Err: err}
	}
	return stored, nil
}

// Summary returns the stored summary
func (m *Manager) Summary() string {
	return m.summaries.Load()
}

// ClearToday wipes today's partition. The session context is untouched.
func (m *Manager) ClearToday() error {
	if err := m.events.ClearToday(); err != nil {
		return err
	}
	logger.Info("Cleared today's event partition")
	return nil
}

// Recall reports the recall configuration and what it currently yields
func (m *Manager) Recall() (*RecallInfo, error) {
	info := &RecallInfo{
		Messages: m.opts.RecallMessages,
		Days:     m.opts.RecallDays,
	}

	partitions, err := m.events.RecentPartitions(m.opts.RecallDays)
	if err != nil {
		return info, err
	}
	for _, p := range partitions {
		info.Partitions = append(info.Partitions, p.Key)
	}

	records, err := m.events.LoadRecent(m.opts.RecallMessages, m.opts.RecallDays)
	if err != nil {
		return info, err
	}
	info.Loaded = len(records)
	for _, rec := range records {
		info.EstimatedTokens += m.countTokens(rec.Content)
	}

	session := m.Context()
	info.ContextTurns = len(session)
	if m.countContext != nil {
		info.ContextTokens = m.countContext(session)
	} else {
		for _, t := range session {
			info.ContextTokens += m.countTokens(t.Content)
		}
	}
	return info, nil
}

// Context returns a copy of the session context
func (m *Manager) Context() []Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Turn, len(m.session))
	copy(out, m.session)
	return out
}

// State returns the current state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Turns returns the number of completed assistant turns in this process
func (m *Manager) Turns() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.turns
}

// SessionID returns the id tagging this session's records
func (m *Manager) SessionID() string {
	return m.opts.SessionID
}

// Options returns the effective options
func (m *Manager) Options() Options {
	return m.opts
}
