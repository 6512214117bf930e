package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	prompt "github.com/c-bata/go-prompt"
	"github.com/hession/pepper/internal/config"
	"github.com/hession/pepper/internal/llm"
	"github.com/hession/pepper/internal/logger"
	"github.com/hession/pepper/internal/memory"
	"github.com/mattn/go-isatty"
)

const (
	Version = "0.1.0"

	userPrefix   = "You: "
	historyLimit = 1000
)

// Run starts the CLI interactive interface
func Run(cfg *config.Config) error {
	if err := InitLogger(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logger: %v\n", err)
	}
	defer logger.Close()

	in := newLineReader(os.Stdin, os.Stdout)

	// Display welcome message
	printWelcome(os.Stdout)

	// Check API Key
	if !cfg.IsAPIKeyConfigured() {
		if err := promptAPIKey(cfg, in, os.Stdout); err != nil {
			return err
		}
	}

	prompts, err := config.LoadPromptConfig()
	if err != nil {
		logger.Warn("Failed to load prompt config, using defaults: %v", err)
		prompts = config.DefaultPromptConfig()
	}

	app, err := NewApp(cfg, prompts)
	if err != nil {
		return err
	}
	defer app.Close()

	// SIGINT/SIGTERM cancel the in-flight request
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := newREPL(app.Manager, in, os.Stdout, NewRenderer(DefaultWrapWidth, ""), cfg.Model.Model, prompts.GetErrorPrefix())
	logger.Info("Session started: model=%s", cfg.Model.Model)
	err = r.run(ctx)
	logger.Info("Session ended after %d turns", app.Manager.Turns())
	return err
}

// InitLogger initializes the default logger from configuration
func InitLogger(cfg *config.Config) error {
	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = logger.INFO
	}
	return logger.Init(logger.Config{
		LogDir:     config.LogDir(),
		Prefix:     logger.DefaultPrefix,
		Level:      level,
		MaxDays:    cfg.Log.MaxDays,
		ConsoleOut: cfg.Log.Console,
	})
}

// printWelcome prints welcome message
func printWelcome(out io.Writer) {
	fmt.Fprintf(out, "\n%s v%s\n", bannerStyle.Render("Pepper Terminal"), Version)
	fmt.Fprintln(out, hintStyle.Render("Type /help for commands, exit to quit"))
	fmt.Fprintln(out)
}

// promptAPIKey asks for an API key and saves it to the config file
func promptAPIKey(cfg *config.Config, in lineReader, out io.Writer) error {
	fmt.Fprintln(out, warnStyle.Render("API Key not configured"))

	apiKey, err := in.ReadLine("Please enter your OpenAI API Key: ")
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return fmt.Errorf("API Key cannot be empty")
	}

	cfg.Model.APIKey = apiKey
	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Fprintln(out, okStyle.Render("API Key saved"))
	fmt.Fprintln(out)
	return nil
}

// repl is the interactive chat loop
type repl struct {
	mgr         *memory.Manager
	in          lineReader
	out         io.Writer
	renderer    *Renderer
	commands    *Commands
	model       string
	errorPrefix string
}

func newREPL(mgr *memory.Manager, in lineReader, out io.Writer, renderer *Renderer, model, errorPrefix string) *repl {
	if errorPrefix == "" {
		errorPrefix = "Error"
	}
	r := &repl{
		mgr:         mgr,
		in:          in,
		out:         out,
		renderer:    renderer,
		model:       model,
		errorPrefix: errorPrefix,
	}
	r.commands = NewCommands(mgr, r.confirm, model)
	return r
}

// run reads input until exit, end of input or interruption
func (r *repl) run(ctx context.Context) error {
	if turns := r.mgr.BuildInitialContext(); len(turns) > 1 {
		fmt.Fprintln(r.out, hintStyle.Render(fmt.Sprintf("Restored %d context entries from memory.", len(turns)-1)))
		fmt.Fprintln(r.out)
	}

	for {
		if ctx.Err() != nil {
			fmt.Fprintln(r.out, warnStyle.Render("Interrupted."))
			return nil
		}

		line, err := r.in.ReadLine(userPrefix)
		if errors.Is(err, errInterrupted) {
			fmt.Fprintln(r.out, warnStyle.Render("Interrupted."))
			return nil
		}
		if err != nil {
			fmt.Fprintln(r.out, "Goodbye.")
			return nil
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		if IsExitCommand(input) {
			fmt.Fprintln(r.out, "Goodbye.")
			return nil
		}

		// Handle built-in commands
		if handled, output := r.commands.HandleCommand(ctx, input); handled {
			fmt.Fprintln(r.out, output)
			fmt.Fprintln(r.out)
			continue
		}

		if interrupted := r.send(ctx, input); interrupted {
			fmt.Fprintln(r.out, warnStyle.Render("Interrupted."))
			return nil
		}
	}
}

// send runs one exchange and prints the reply; it reports whether the
// exchange was interrupted
func (r *repl) send(ctx context.Context, input string) bool {
	result, err := r.mgr.Send(ctx, input)
	if err != nil {
		if ctx.Err() != nil || llm.KindOf(err) == llm.KindCanceled {
			return true
		}
		r.printError(err)
		return false
	}

	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, labelStyle.Render("Pepper:"))
	fmt.Fprintln(r.out, r.renderer.Render(result.Reply))
	fmt.Fprintln(r.out)

	if result.StorageErr != nil {
		fmt.Fprintln(r.out, warnStyle.Render(fmt.Sprintf("Could not save this exchange; it stays in this session only: %v", result.StorageErr)))
	}
	if result.Compacted {
		fmt.Fprintln(r.out, hintStyle.Render("Long-term summary updated."))
	}
	if result.CompactErr != nil {
		fmt.Fprintln(r.out, warnStyle.Render(result.CompactErr.Error()))
	}
	return false
}

func (r *repl) printError(err error) {
	if errors.Is(err, memory.ErrBusy) {
		fmt.Fprintln(r.out, warnStyle.Render("Busy, try again in a moment."))
		return
	}
	fmt.Fprintln(r.out, errorStyle.Render(fmt.Sprintf("%s: %v", r.errorPrefix, err)))
	if hint := llm.Guidance(err, r.model); hint != "" {
		fmt.Fprintln(r.out, hintStyle.Render(hint))
	}
	fmt.Fprintln(r.out)
}

// confirm asks a yes/no question, defaulting to no
func (r *repl) confirm(question string) bool {
	answer, err := r.in.ReadLine(question)
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

// errInterrupted is returned by a lineReader when the user presses Ctrl+C
var errInterrupted = errors.New("input interrupted")

// lineReader reads one line of input. It returns io.EOF at end of input and
// errInterrupted on Ctrl+C.
type lineReader interface {
	ReadLine(prefix string) (string, error)
}

// newLineReader returns an interactive editor on a terminal and a plain
// line scanner otherwise
func newLineReader(in *os.File, out io.Writer) lineReader {
	if isatty.IsTerminal(in.Fd()) || isatty.IsCygwinTerminal(in.Fd()) {
		return newPromptReader(getHistoryFilePath())
	}
	return newScanReader(in, out)
}

// promptReader reads lines with go-prompt, completing slash commands
type promptReader struct {
	history     []string
	historyFile string
}

func newPromptReader(historyFile string) *promptReader {
	return &promptReader{
		history:     loadHistory(historyFile),
		historyFile: historyFile,
	}
}

func (p *promptReader) ReadLine(prefix string) (string, error) {
	keys := &promptKeys{}
	line := prompt.Input(prefix, completeCommand,
		prompt.OptionTitle("Pepper"),
		prompt.OptionHistory(p.history),
		prompt.OptionPrefixTextColor(prompt.Green),
		prompt.OptionSuggestionBGColor(prompt.DarkGray),
		prompt.OptionDescriptionBGColor(prompt.LightGray),
		prompt.OptionAddKeyBind(keys.bindings()...),
		prompt.OptionSetExitCheckerOnInput(keys.exitOnInput),
	)
	line, err := keys.result(line)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(line) != "" && prefix == userPrefix {
		p.history = append(p.history, line)
		appendHistory(p.historyFile, line)
	}
	return line, nil
}

// promptKeys tracks how one go-prompt Input call ended. Input returns ""
// for an empty submitted line, Ctrl+D on an empty buffer and our Ctrl+C
// exit alike, so the key that ended it is recorded here.
type promptKeys struct {
	submitted   bool
	interrupted bool
}

func (k *promptKeys) bindings() []prompt.KeyBind {
	submit := func(*prompt.Buffer) { k.submitted = true }
	return []prompt.KeyBind{
		{Key: prompt.Enter, Fn: submit},
		{Key: prompt.ControlM, Fn: submit},
		{Key: prompt.ControlJ, Fn: submit},
		{Key: prompt.ControlC, Fn: func(*prompt.Buffer) { k.interrupted = true }},
	}
}

// exitOnInput stops Input once Ctrl+C was seen
func (k *promptKeys) exitOnInput(_ string, breakline bool) bool {
	return !breakline && k.interrupted
}

// result maps the value Input returned to a line or a reader error
func (k *promptKeys) result(line string) (string, error) {
	switch {
	case k.interrupted:
		return "", errInterrupted
	case !k.submitted:
		return "", io.EOF
	}
	return line, nil
}

// completeCommand suggests slash commands while the first word is typed
func completeCommand(d prompt.Document) []prompt.Suggest {
	text := d.TextBeforeCursor()
	if !strings.HasPrefix(text, "/") || strings.Contains(text, " ") {
		return nil
	}

	commands := GetCommandSuggestions()
	suggestions := make([]prompt.Suggest, 0, len(commands))
	for _, c := range commands {
		suggestions = append(suggestions, prompt.Suggest{Text: c.Text, Description: c.Description})
	}
	return prompt.FilterHasPrefix(suggestions, text, true)
}

// scanReader reads lines from a non-interactive input
type scanReader struct {
	scanner *bufio.Scanner
	out     io.Writer
}

func newScanReader(in io.Reader, out io.Writer) *scanReader {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &scanReader{scanner: scanner, out: out}
}

func (s *scanReader) ReadLine(prefix string) (string, error) {
	fmt.Fprint(s.out, prefix)
	if !s.scanner.Scan() {
		fmt.Fprintln(s.out)
		if err := s.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return s.scanner.Text(), nil
}

// getHistoryFilePath returns the history file path
func getHistoryFilePath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	historyDir := filepath.Join(homeDir, ".pepper")
	if err := os.MkdirAll(historyDir, 0755); err != nil {
		return ""
	}
	return filepath.Join(historyDir, "history")
}

// loadHistory returns the last historyLimit entries of the history file
func loadHistory(path string) []string {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) > historyLimit {
		lines = lines[len(lines)-historyLimit:]
	}
	return lines
}

func appendHistory(path, line string) {
	if path == "" {
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		logger.Debug("Failed to open history file: %v", err)
		return
	}
	defer f.Close()
	if _, err := f.WriteString(strings.ReplaceAll(line, "\n", " ") + "\n"); err != nil {
		logger.Debug("Failed to write history: %v", err)
	}
}
