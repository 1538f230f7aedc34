package main

import (
	"os"

	"payment-reconciliation-engine/internal/commands"
)

func main() {
	if err := commands.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
