package main

import (
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var jsonOutput bool

var rootCmd = &cobra.Command{
	Use:           "possync",
	Short:         "possync - contingency mode sync between store locations and the admin node",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")

	rootCmd.AddCommand(startContingencyCmd)
	rootCmd.AddCommand(endContingencyCmd)
	rootCmd.AddCommand(syncLocationCmd)
	rootCmd.AddCommand(syncToAdminCmd)
	rootCmd.AddCommand(processPendingCmd)
	rootCmd.AddCommand(paramsInitCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(serveCmd)
}
