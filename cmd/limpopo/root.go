package main

import (
	"fmt"
	"os"

	"github.com/aretw0/limpopo/examples/profile"
	"github.com/aretw0/limpopo/examples/yesno"
	"github.com/aretw0/limpopo/internal/cli"
	"github.com/aretw0/limpopo/internal/config"
	"github.com/aretw0/limpopo/pkg/registry"
	"github.com/aretw0/limpopo/pkg/session"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "limpopo",
	Short: "Limpopo is a dialog session engine for chat bots",
	Long: `Limpopo runs quiz scripts as persistent dialogs over Telegram, HTTP or the terminal.
Configuration is read from an optional YAML file and LIMPOPO_* environment variables.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a YAML configuration file")
	rootCmd.PersistentFlags().StringP("quiz", "q", "yesno", "Name of the quiz to run")
}

// quizzes lists the scripts the binary can run.
func quizzes(rt *cli.Runtime) *registry.Registry {
	reg := registry.NewRegistry()
	reg.Register("yesno", yesno.Quiz)
	reg.Register("profile", profile.Quiz(profile.LogNotifier(rt.Logger)))
	return reg
}

// bootstrap loads the configuration and resolves the quiz selected by --quiz.
func bootstrap(cmd *cobra.Command) (*cli.Runtime, session.QuizFunc, error) {
	path, _ := cmd.Flags().GetString("config")
	name, _ := cmd.Flags().GetString("quiz")

	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	rt, err := cli.Bootstrap(cmd.Context(), cfg, nil)
	if err != nil {
		return nil, nil, err
	}
	quiz, err := quizzes(rt).Lookup(name)
	if err != nil {
		rt.Close()
		return nil, nil, err
	}
	return rt, quiz, nil
}
