package main

import (
	"io"
	"os"

	"github.com/aretw0/limpopo/internal/cli"
	"github.com/aretw0/limpopo/internal/presentation/tui"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the quiz in the terminal",
	Long:  `Runs the quiz for a single local respondent. Type the number or the text of an option; exit or quit leaves.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cli.NewSignalContext(cmd.Context())
		defer ctx.Cancel()

		rt, quiz, err := bootstrap(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()

		interactive := isTerminal(cmd.InOrStdin())
		if quiet, _ := cmd.Flags().GetBool("quiet"); !quiet && interactive {
			tui.PrintBanner(cmd.OutOrStdout(), rt.Config.Console.NoColor)
		}
		if md, _ := cmd.Flags().GetBool("markdown"); md {
			rt.Config.Console.Markdown = true
		}

		start := rt.Config.Console.StartCommand
		if wait, _ := cmd.Flags().GetBool("wait"); wait {
			start = ""
		}
		return cli.RunConsole(ctx, rt, quiz, cli.ConsoleOptions{
			In:          cmd.InOrStdin(),
			Out:         cmd.OutOrStdout(),
			Start:       start,
			Interactive: interactive,
		})
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().Bool("quiet", false, "Do not print the banner")
	runCmd.Flags().Bool("wait", false, "Wait for the start command instead of starting right away")
	runCmd.Flags().Bool("markdown", false, "Render messages as markdown")
}

// isTerminal reports whether r is an interactive terminal.
func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
