package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "kiyeovo",
	Short: "Kiyeovo CLI - identity, messaging and peer-to-peer network operations",
	Long: `Kiyeovo CLI manages a node's identity vault and runs the
peer-to-peer messaging daemon: direct sessions over libp2p, offline
delivery through the DHT, and group chats.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
