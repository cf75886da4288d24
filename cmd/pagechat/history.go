package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List saved conversations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Shutdown(context.Background())

		convs, err := a.Store().ListConversations(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "UPDATED\tMESSAGES\tMODEL\tTITLE")
		for _, c := range convs {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", c.UpdatedAt.Format("2006-01-02 15:04"), c.MessageCount, c.Model, c.Title)
		}
		return w.Flush()
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum conversations to show")
	rootCmd.AddCommand(historyCmd)
}
