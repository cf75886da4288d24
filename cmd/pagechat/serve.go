package main

import (
	"context"
	"log"
	"time"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the WebSocket gateway and chat channels",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		ctx, stop := signalContext()
		defer stop()

		if err := a.Start(ctx); err != nil {
			a.Shutdown(context.Background())
			return err
		}
		log.Printf("[pagechat] serving on %s", a.Addr())

		<-ctx.Done()
		log.Printf("[pagechat] shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.Shutdown(shutdownCtx)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
