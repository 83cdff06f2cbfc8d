package main

import (
	"fmt"
	"os"

	"mtf-ensembles/cmd/mtf-ensembles/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
