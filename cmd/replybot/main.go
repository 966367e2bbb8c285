package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgPath string
	envPath string
)

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:   "replybot",
	Short: "Chat auto-reply bot with a live rule dashboard",
	Long: `replybot joins chat channels, lets moderators manage auto-reply rules with
#set and #remove, and pushes every rule change to connected dashboards.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./config.json", "path to config (json or yaml)")
	rootCmd.PersistentFlags().StringVar(&envPath, "env", ".env", "dotenv file loaded before the config")

	rulesCmd.AddCommand(rulesListCmd, rulesSetCmd, rulesRemoveCmd)
	rootCmd.AddCommand(runCmd, rulesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
