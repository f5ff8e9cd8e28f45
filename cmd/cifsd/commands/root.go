// Package commands implements the cifsd CLI: starting the server and
// inspecting its configuration.
package commands

import (
	"os"

	"github.com/opencifsd/cifsd/cmd/cifsd/commands/config"
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "cifsd",
	Short: "cifsd - an SMB1/CIFS file server",
	Long: `cifsd serves files over the legacy SMB1/CIFS dialect: NEGOTIATE
through NT_CREATE_ANDX/READ_ANDX/WRITE_ANDX, byte-range locking,
durable handle reconnect, and a named-pipe SRVSVC RPC service for
share enumeration.

Use "cifsd [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/cifsd/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(config.Cmd)
}

// GetConfigFile returns the --config flag value.
func GetConfigFile() string {
	return cfgFile
}

// Exit prints an error to stderr and exits with status 1.
func Exit(format string, args ...any) {
	rootCmd.PrintErrf(format+"\n", args...)
	os.Exit(1)
}
