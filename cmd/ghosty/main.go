package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	verbose    bool
	configFile string
)

// ============================================================================
// Root command
// ============================================================================

var rootCmd = &cobra.Command{
	Use:          "ghosty",
	Short:        "Ghosty chat client",
	Long:         "Command-line client for the Ghosty chat service.\nSign in, manage chats, send messages and follow events in real time.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log engine activity to stderr")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Settings file (default ~/.ghosty/config.toml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
