// Command respping dials a RESP3 server and issues a single PING,
// printing the decoded response or a formatted error. It exists to
// exercise Redis, Connection, Command, and the error taxonomy end to
// end, the way l00pss-redkit/example/main.go demonstrates the server
// side of the same protocol.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/l00pss/resp3"
)

func main() {
	var (
		url     string
		verbose bool
	)

	root := &cobra.Command{
		Use:   "respping",
		Short: "Dial a redis:// URL and PING it",
		RunE: func(cmd *cobra.Command, args []string) error {
			var logger *zap.Logger
			if verbose {
				logger, _ = zap.NewDevelopment()
			} else {
				logger = zap.NewNop()
			}
			defer logger.Sync()

			return ping(cmd.Context(), url, logger)
		},
	}

	root.Flags().StringVar(&url, "url", "redis://127.0.0.1:6379", "redis:// URL to connect to")
	root.Flags().BoolVar(&verbose, "verbose", false, "enable debug logging of connection events")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func ping(ctx context.Context, url string, logger *zap.Logger) error {
	client, err := resp3.NewFromURL(url)
	if err != nil {
		return fmt.Errorf("respping: %w", err)
	}

	conn, err := client.GetConnection(ctx, resp3.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("respping: %w", err)
	}
	defer client.Disconnect()

	result, err := resp3.NewCommand("PING").Execute(ctx, conn)
	if err != nil {
		return fmt.Errorf("respping: PING failed: %w", err)
	}

	fmt.Printf("PING -> %s %q\n", result.Kind(), result.Bytes())
	return nil
}
