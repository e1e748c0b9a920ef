package main

import (
	"github.com/aretw0/limpopo/internal/cli"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP transport",
	Long:  `Serves the quiz to web clients: POST replies and GET messages under /respondents/{id}, or subscribe to /respondents/{id}/events.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cli.NewSignalContext(cmd.Context())
		defer ctx.Cancel()

		rt, quiz, err := bootstrap(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()

		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			rt.Config.HTTP.Addr = addr
		}
		rt.ServeMetrics(ctx, rt.Config.MetricsAddr)
		err = cli.ServeHTTP(ctx, rt, quiz, nil)
		if sig := ctx.Signal(); sig != nil {
			rt.Logger.Info("Received signal", "signal", sig.String())
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("addr", "a", "", "Address to listen on (overrides http.addr)")
}
