package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/joescharf/continuity/internal/transport"
)

var stdioCmd = &cobra.Command{
	Use:   "stdio",
	Short: "Serve JSON-RPC over stdin/stdout",
	Long: `Serve the tool server over stdio: one JSON-RPC 2.0 request per line on
stdin, one response per line on stdout. Logs go to stderr.

  echo '{"jsonrpc":"2.0","id":1,"method":"execute","params":{"tool":"tool_list"}}' | continuity stdio`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return stdioRun(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(stdioCmd)
}

func stdioRun(ctx context.Context) error {
	d, err := newDispatcher()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, shutdownSignals()...)
	defer stop()

	s := &transport.Stdio{
		Dispatcher: d,
		Namespace:  defaultNamespace(),
		Logger:     slog.Default(),
	}
	if err := s.Serve(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
