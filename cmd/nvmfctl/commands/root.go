// Package commands implements nvmfctl's CLI commands: a thin root wiring
// resource-scoped subcommand groups together, each talking to the live
// daemon or the config file rather than embedding business logic itself.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/nvmftcpd/nvmftcpd/pkg/config"
)

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	cfgFile string
	socket  string
)

var rootCmd = &cobra.Command{
	Use:           "nvmfctl",
	Short:         "nvmfctl - inspect and configure an nvmftcpd target",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/nvmftcpd/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&socket, "socket", "", "control socket path (default: from config, or $XDG_STATE_HOME/nvmftcpd/nvmftcpd.sock)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(subsystemCmd)
	rootCmd.AddCommand(ctrlrCmd)
	rootCmd.AddCommand(qpairCmd)
	rootCmd.AddCommand(configCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("nvmfctl %s (commit: %s, built: %s)\n", Version, Commit, Date)
	},
}

// GetConfigFile returns the --config flag value, empty meaning "use the
// default search path".
func GetConfigFile() string {
	return cfgFile
}

// resolveSocket returns the control socket path to dial: the --socket
// flag if given, else whatever the loaded config declares, else the
// package default.
func resolveSocket() string {
	if socket != "" {
		return socket
	}
	cfg, err := config.Load(cfgFile)
	if err == nil && cfg.ControlSocket != "" {
		return cfg.ControlSocket
	}
	return config.GetDefaultControlSocketPath()
}
