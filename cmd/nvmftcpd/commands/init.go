package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nvmftcpd/nvmftcpd/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample nvmftcpd configuration file.

By default the file is written to $XDG_CONFIG_HOME/nvmftcpd/config.yaml.
Use --config to choose a different path.

Examples:
  nvmftcpd init
  nvmftcpd init --config /etc/nvmftcpd/config.yaml
  nvmftcpd init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := GetConfigFile()
	if path == "" {
		path = config.GetDefaultConfigPath()
	}

	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	if err := config.SaveConfig(config.GetDefaultConfig(), path); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	cmd.Printf("Configuration file created at: %s\n", path)
	cmd.Println("\nNext steps:")
	cmd.Println("  1. Edit the configuration file to customize your subsystems and namespaces")
	cmd.Printf("  2. Start the server with: nvmftcpd start --config %s\n", path)
	return nil
}
