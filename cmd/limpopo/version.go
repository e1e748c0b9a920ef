package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/limpopo"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of limpopo",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "limpopo version %s\n", strings.TrimSpace(limpopo.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
