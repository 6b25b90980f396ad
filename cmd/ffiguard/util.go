package main

import (
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

var (
	red    = color.New(color.FgRed).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func isTerminalOutput() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// useColor decides whether output is colored. Color is off when disabled in
// the config or when stdout is not a terminal.
func useColor(enabled bool) bool {
	if !enabled || !isTerminalOutput() {
		color.NoColor = true
		return false
	}
	return true
}
