// Package main provides the entry point for the agentbridge CLI.
package main

import (
	"fmt"
	"os"

	"github.com/agentbridge/agentbridge/cmd/agentbridge/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
