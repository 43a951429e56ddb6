package cmd

import (
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/joescharf/continuity/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for MCP-native clients",
	Long: `Start an MCP (Model Context Protocol) server on stdio exposing the same
tools as the JSON-RPC server. Configure in an MCP client with:

  {
    "mcpServers": {
      "continuity": { "command": "continuity", "args": ["mcp"] }
    }
  }

Run 'continuity tools' to list the available tools.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDispatcher()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), shutdownSignals()...)
		defer stop()

		srv := mcp.NewServer(d, defaultNamespace(), buildVersion)
		return srv.ServeStdio(ctx, os.Stdin, os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
