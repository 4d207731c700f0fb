// Command alertd runs the market alert engine and manages its rules.
package main

import (
	"fmt"
	"os"

	"market-alerts/internal/cli"
	"market-alerts/internal/logging"
)

func main() {
	logger := logging.NewLogger()

	rootCmd := cli.NewRootCmd(nil, logger)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
