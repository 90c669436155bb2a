package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "replydesk",
	Short: "Marketplace customer-communication desk",
	Long: `replydesk pulls reviews, questions and chats from a marketplace, keeps an
operator queue ordered by SLA, drafts guarded replies and sends automatic
replies to positive reviews.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, syncCmd, migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
