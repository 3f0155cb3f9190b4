// Package commands implements the CLI commands for the mediaftpd daemon.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "mediaftpd",
	Short: "mediaftpd - embeddable FTP server for media directories",
	Long: `mediaftpd serves a local directory over FTP with every session jailed
to it. It is designed to expose a media library to FTP clients on a home
network with a single configurable account.

Use "mediaftpd [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called once from main.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		rootCmd.PrintErrf("Error: %v\n", err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(hashpwCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// configFile returns the config file path from the global flag, defaulting
// to ./config.yaml.
func configFile() string {
	if cfgFile != "" {
		return cfgFile
	}
	return "config.yaml"
}
