package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var modelsCmd = &cobra.Command{
	Use:   "models [provider]",
	Short: "List the models a provider offers",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Shutdown(context.Background())

		provider := ""
		if len(args) == 1 {
			provider = args[0]
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()

		models, err := a.Coordinator().FetchModels(ctx, provider, "")
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tCONTEXT")
		for _, m := range models {
			window := "-"
			if m.ContextWindow > 0 {
				window = fmt.Sprint(m.ContextWindow)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", m.ID, m.Name, window)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}
