// Package app provides the entry point for the gatekeeper command-line application.
package app

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gatekeeper-proxy/gatekeeper/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:               "gatekeeper",
	DisableAutoGenTag: true,
	Short:             "Gatekeeper is an authenticating reverse-proxy gateway",
	Long: `Gatekeeper sits in front of one or more backend services, forces every
inbound request through an OpenID Connect login flow, evaluates a declarative
access-control policy per route, and forwards authorized requests to the
configured upstream, streaming the response back unmodified.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
}

// NewRootCmd creates a new root command for the gatekeeper CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	rootCmd.AddCommand(serveCmd)

	return rootCmd
}
