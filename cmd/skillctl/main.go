package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var serverURL string

var rootCmd = &cobra.Command{
	Use:   "skillctl",
	Short: "Command line client for a skillchat server",
	Long: `Chat with a skillchat server and manage its skill catalog.

The server address defaults to $SKILLCHAT_SERVER or http://localhost:8080.`,
	SilenceUsage: true,
}

func init() {
	def := os.Getenv("SKILLCHAT_SERVER")
	if def == "" {
		def = "http://localhost:8080"
	}
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", def, "skillchat server URL")

	rootCmd.AddCommand(chatCmd, skillsCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func color(code, s string) string {
	return fmt.Sprintf("\033[%sm%s\033[0m", code, s)
}

func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "\033[31m"+format+"\033[0m\n", args...)
}
