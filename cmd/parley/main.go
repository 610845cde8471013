package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Parley - multi-agent debate orchestrator",
	Long: `Parley runs structured debates between heterogeneous AI agents:
propose, critique, revise, vote, with consensus detection, audience
participation over WebSocket, and an ELO ledger across debates.`,
}

func main() {
	// A missing .env is fine; the environment may be set directly.
	godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
