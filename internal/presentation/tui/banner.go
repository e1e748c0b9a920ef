// Package tui holds the terminal decorations of the limpopo binary.
package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

var bannerLines = []struct {
	text  string
	color string
}{
	{" _ _                               ", "#34d399"},
	{"| (_)_ __ ___  _ __   ___  _ __   ___ ", "#2dd4bf"},
	{"| | | '_ ` _ \\| '_ \\ / _ \\| '_ \\ / _ \\", "#22d3ee"},
	{"| | | | | | | | |_) | (_) | |_) | (_) |", "#38bdf8"},
	{"|_|_|_| |_| |_| .__/ \\___/| .__/ \\___/", "#60a5fa"},
	{"              |_|         |_|         ", "#818cf8"},
}

// PrintBanner writes the limpopo banner to w. noColor prints it without styling.
func PrintBanner(w io.Writer, noColor bool) {
	opts := []termenv.OutputOption{}
	if noColor {
		opts = append(opts, termenv.WithProfile(termenv.Ascii))
	}
	out := termenv.NewOutput(w, opts...)

	fmt.Fprintln(out)
	for _, line := range bannerLines {
		fmt.Fprintln(out, out.String(line.text).Foreground(out.Color(line.color)))
	}
	fmt.Fprintln(out)
}
