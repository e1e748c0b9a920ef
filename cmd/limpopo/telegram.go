package main

import (
	"github.com/aretw0/limpopo/internal/cli"
	"github.com/spf13/cobra"
)

var telegramCmd = &cobra.Command{
	Use:   "telegram",
	Short: "Run the quiz as a Telegram bot",
	Long:  `Polls Telegram for updates with the token from telegram.token or LIMPOPO_TELEGRAM_TOKEN.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cli.NewSignalContext(cmd.Context())
		defer ctx.Cancel()

		rt, quiz, err := bootstrap(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()

		rt.ServeMetrics(ctx, rt.Config.MetricsAddr)
		return cli.RunTelegram(ctx, rt, quiz)
	},
}

func init() {
	rootCmd.AddCommand(telegramCmd)
}
