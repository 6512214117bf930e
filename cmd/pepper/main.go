package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hession/pepper/internal/cli"
	"github.com/hession/pepper/internal/config"
	"github.com/hession/pepper/internal/logger"
	"github.com/spf13/cobra"
)

var (
	version = cli.Version
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configDir string

	rootCmd := &cobra.Command{
		Use:   "pepper",
		Short: "Pepper - a terminal chat companion that remembers",
		Long: `Pepper is a terminal chat client with durable memory.

It:
  • Logs every exchange to a daily, append-only history
  • Recalls recent days of conversation when a session starts
  • Keeps a compact long-term summary of what matters`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if configDir != "" {
				config.SetConfigDir(configDir)
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// Load configuration
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			// Start CLI
			return cli.Run(cfg)
		},
	}
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "configuration directory (default ./config)")

	// config subcommand
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Show configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), cfg.String())

			path, _ := config.ConfigPath()
			fmt.Fprintf(cmd.OutOrStdout(), "\nConfig file path: %s\n", path)
			return nil
		},
	}

	// version subcommand
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "Pepper v%s\n", version)
		},
	}

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(memoryCmd("summary", "Show the long-term summary", "/summary"))
	rootCmd.AddCommand(memoryCmd("compact", "Update the long-term summary from recent messages", "/compact"))
	rootCmd.AddCommand(memoryCmd("recall", "Show the recall window", "/recall"))
	rootCmd.AddCommand(forgetTodayCmd())

	return rootCmd
}

// memoryCmd runs one slash command outside the interactive session
func memoryCmd(use, short, slash string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMemoryCommand(cmd, slash, nil)
		},
	}
}

func forgetTodayCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "forget-today",
		Short: "Delete everything logged today",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			confirm := func(question string) bool {
				if yes {
					return true
				}
				return askYesNo(cmd.InOrStdin(), cmd.OutOrStdout(), question)
			}
			return runMemoryCommand(cmd, "/forget-today", confirm)
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func runMemoryCommand(cmd *cobra.Command, slash string, confirm func(string) bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cli.InitLogger(cfg); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: failed to initialize logger: %v\n", err)
	}
	defer logger.Close()
	logConfigInfo(cfg)

	prompts, err := config.LoadPromptConfig()
	if err != nil {
		logger.Warn("Failed to load prompt config, using defaults: %v", err)
		prompts = config.DefaultPromptConfig()
	}

	app, err := cli.NewApp(cfg, prompts)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	output, err := cli.NewCommands(app.Manager, confirm, cfg.Model.Model).Execute(ctx, slash)
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), output)
		return fmt.Errorf("%s failed", cmd.Name())
	}
	fmt.Fprintln(cmd.OutOrStdout(), output)
	return nil
}

// askYesNo reads one answer from in, defaulting to no
func askYesNo(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprint(out, question)
	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && answer == "" {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

// logConfigInfo logs the effective configuration without secrets
func logConfigInfo(cfg *config.Config) {
	apiKey := "(not configured)"
	if len(cfg.Model.APIKey) > 8 {
		apiKey = cfg.Model.APIKey[:8] + "..."
	} else if cfg.Model.APIKey != "" {
		apiKey = "***"
	}
	logger.Info("Config: model=%s, base_url=%s, api_key=%s, temperature=%.1f",
		cfg.Model.Model, cfg.Model.BaseURL, apiKey, cfg.Model.Temperature)
	logger.Info("Memory: dir=%s, backend=%s, recall=%d messages/%d days, summary_max_chars=%d, auto_summarize_every=%d",
		cfg.Memory.Dir, cfg.Memory.Backend, cfg.Memory.RecallMessages, cfg.Memory.RecallDays,
		cfg.Memory.SummaryMaxChars, cfg.Memory.AutoSummarizeEvery)
}
