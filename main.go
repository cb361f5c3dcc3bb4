// ./main.go
package main

import (
	"github.com/pulse-sim/pulse/cmd"
)

// main is the entry point for the Pulse CLI application.
func main() {
	// Execute the root command defined in the cmd package.
	// This handles all command-line parsing, configuration, and execution.
	cmd.Execute()
}
