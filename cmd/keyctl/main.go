// Command keyctl administers stored provider credentials from a terminal.
package main

import (
	"fmt"
	"os"

	"github.com/fairyhunter13/neurowell-ai-gateway/cmd/keyctl/commands"
)

var version = "dev"

func main() {
	root := commands.NewRootCommand(commands.DefaultEnv())
	root.Version = version
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
