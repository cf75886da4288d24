package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"pagechat/internal/llm"
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage provider API keys",
}

var keySetCmd = &cobra.Command{
	Use:   "set <provider>",
	Short: "Store an API key read from stdin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		provider := args[0]
		if !slices.Contains(llm.KnownProviders, provider) {
			return fmt.Errorf("unknown provider %q (known: %s)", provider, strings.Join(llm.KnownProviders, ", "))
		}

		fmt.Fprintf(os.Stderr, "%s API key: ", provider)
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("read key: %w", err)
		}
		key := strings.TrimSpace(line)
		if key == "" {
			return fmt.Errorf("empty key")
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Shutdown(context.Background())
		return a.Settings().SetAPIKey(provider, key)
	},
}

var keyDeleteCmd = &cobra.Command{
	Use:   "delete <provider>",
	Short: "Remove the stored API key of a provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Shutdown(context.Background())
		return a.Settings().SetAPIKey(args[0], "")
	},
}

var keyListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show which providers have a key (masked)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Shutdown(context.Background())

		keys := a.ConfigSummary()["api_keys"].(map[string]string)
		for _, p := range llm.KnownProviders {
			if k, ok := keys[p]; ok {
				fmt.Printf("%-11s %s\n", p, k)
			}
		}
		return nil
	},
}

func init() {
	keyCmd.AddCommand(keySetCmd, keyDeleteCmd, keyListCmd)
	rootCmd.AddCommand(keyCmd)
}
