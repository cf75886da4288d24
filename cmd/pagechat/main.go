package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"pagechat/internal/app"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "pagechat",
	Short: "Background streaming coordinator for page-aware LLM chat",
	Long: `pagechat runs the background side of the page chat extension: it keeps
settings and API keys, streams replies from the configured provider and
delivers them to the page that asked.

Examples:
  pagechat serve                      # WebSocket gateway + Telegram
  pagechat chat                       # chat from the terminal
  pagechat models anthropic           # list models of a provider
  pagechat key set openai             # store an API key (read from stdin)`,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	SilenceUsage:      true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.pagechat/config.json)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newApp() (*app.App, error) {
	a, err := app.New(app.Options{ConfigPath: configPath})
	if err != nil {
		return nil, fmt.Errorf("init: %w", err)
	}
	return a, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
