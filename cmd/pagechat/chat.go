package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the configured model from the terminal",
	Long: `Reads prompts from stdin and streams replies to stdout.

Commands: /page <url>, /new, /cancel, /models, /model <id>, /personas,
/persona <id>, /help.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Shutdown(context.Background())

		ctx, stop := signalContext()
		defer stop()

		cfg := a.Settings().Settings()
		fmt.Fprintf(os.Stdout, "pagechat: %s/%s (/help for commands)\n", cfg.LLM.Provider, cfg.LLM.Model)

		done, err := a.StartConsole(ctx, os.Stdin, os.Stdout)
		if err != nil {
			return err
		}
		select {
		case <-done:
		case <-ctx.Done():
		}
		fmt.Fprintln(os.Stdout)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
}
