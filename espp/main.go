// Command espp computes the Norwegian tax report of ESPP and RSU shares.
package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/etnz/espp/cmd"
	"github.com/google/subcommands"
)

func main() {
	// Answers the shell completion requests, and exits.
	cmd.Completion().Complete("espp")

	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(commander.CommandsCommand(), "")
	cmd.Register(commander)

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
