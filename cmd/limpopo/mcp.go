package main

import (
	"github.com/aretw0/limpopo/internal/cli"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the quiz to AI agents over MCP (stdio)",
	Long:  `Starts a Model Context Protocol server on stdin/stdout with the start_dialog, reply and fetch_messages tools. Logs go to stderr.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cli.NewSignalContext(cmd.Context())
		defer ctx.Cancel()

		rt, quiz, err := bootstrap(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()

		return cli.RunMCP(ctx, rt, quiz, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
