// Package main is the entry point for the fimwatch file integrity monitor.
// It registers every subcommand and executes the root command.
package main

import (
	"github.com/lucho00cuba/fimwatch/cmd"
	_ "github.com/lucho00cuba/fimwatch/cmd/diff"
	_ "github.com/lucho00cuba/fimwatch/cmd/export"
	_ "github.com/lucho00cuba/fimwatch/cmd/hash"
	_ "github.com/lucho00cuba/fimwatch/cmd/scan"
	_ "github.com/lucho00cuba/fimwatch/cmd/verify"
	_ "github.com/lucho00cuba/fimwatch/cmd/watch"
)

// main is the entry point of the application. It executes the root
// command, which dispatches to whichever subcommand was invoked.
func main() {
	cmd.Execute()
}
