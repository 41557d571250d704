// Package cli implements the mailsync command line.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ajy121650/mailer-back/internal/model"
)

var configPath string

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "mailsync",
	Short: "Synchronize, deduplicate, and classify IMAP mailboxes",
	Long: `mailsync pulls new mail from the configured IMAP accounts, stores it
with per-account folders and flags, and files spam using an external
classifier.

Examples:
  mailsync run                       # schedule every account and serve /metrics
  mailsync sync acc-1                # run one window for one account
  mailsync watch                     # live status of the scheduler
  mailsync credential set acc-1-pw   # store an app password in the keyring
  mailsync account add               # register an account interactively`,
	SilenceUsage: true,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorLine(err))
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/mailer/config.yaml)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(credentialCmd)
	rootCmd.AddCommand(accountCmd)
	rootCmd.AddCommand(entryCmd)
	rootCmd.AddCommand(configCmd)
}

// resolvedConfigPath returns the --config value or the default path.
func resolvedConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return model.DefaultConfigPath()
}
