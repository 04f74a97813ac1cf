package cmd

import (
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/scorecard/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for assistant integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets an assistant read review scores, answers, and appeal state.
Configure it with:

  {
    "mcpServers": {
      "scorecard": { "command": "scorecard", "args": ["mcp"] }
    }
  }

Available tools: scorecard_review_score, scorecard_review_show,
scorecard_appeal_status, scorecard_list_reviews`,
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := getBackend()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmdContext(cmd), shutdownSignals()...)
		defer stop()
		return mcp.NewServer(b, viper.GetString("display.locale"), buildVersion).ServeStdio(ctx)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
