// Package config implements the cifsd config management subcommands.
package config

import "github.com/spf13/cobra"

// Cmd is the "cifsd config" subcommand.
var Cmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect cifsd configuration",
}

func init() {
	Cmd.AddCommand(showCmd)
}
