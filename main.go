package main

import (
	"os"

	"github.com/codemie-ai/codemie-sync/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(cmd.ExitCode(err))
	}
}
