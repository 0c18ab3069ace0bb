package main

import (
	"os"

	"github.com/dvloznov/bank-sheets-sync/internal/commands"
)

func main() {
	if err := commands.NewRootCommand().Execute(); err != nil {
		os.Exit(commands.ExitCode(err))
	}
}
