package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvmftcpd/nvmftcpd/internal/cli/output"
	"github.com/nvmftcpd/nvmftcpd/internal/cli/prompt"
	"github.com/nvmftcpd/nvmftcpd/pkg/config"
	"github.com/nvmftcpd/nvmftcpd/pkg/control"
)

var subsystemOutputFormat string

var subsystemCmd = &cobra.Command{
	Use:   "subsystem",
	Short: "Inspect and configure NVM subsystems",
}

var subsystemListCmd = &cobra.Command{
	Use:   "list",
	Short: "List subsystems currently live on the daemon",
	RunE:  runSubsystemList,
}

var subsystemCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Add a subsystem to the config file (wizard)",
	Long: `Walks through creating a new subsystem entry and namespace, appending
it to the config file. nvmftcpd reads its subsystem list at startup, so
the daemon must be restarted ('nvmfctl subsystem create' does not talk
to a running daemon) for the new subsystem to take effect.`,
	RunE: runSubsystemCreate,
}

func init() {
	subsystemCmd.PersistentFlags().StringVarP(&subsystemOutputFormat, "output", "o", "table", "output format: table, json, yaml")
	subsystemCmd.AddCommand(subsystemListCmd)
	subsystemCmd.AddCommand(subsystemCreateCmd)
}

func runSubsystemList(cmd *cobra.Command, args []string) error {
	client, err := control.Dial(resolveSocket())
	if err != nil {
		return fmt.Errorf("failed to connect to nvmftcpd: %w", err)
	}
	defer client.Close()

	var subs []control.SubsystemInfo
	if err := client.Call("Service.ListSubsystems", control.Args{}, &subs); err != nil {
		return fmt.Errorf("failed to list subsystems: %w", err)
	}

	format, err := output.ParseFormat(subsystemOutputFormat)
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(subs))
	for _, s := range subs {
		rows = append(rows, []string{s.NQN, s.Subtype, s.State, s.Serial, s.Model, fmt.Sprintf("%d", len(s.Namespaces))})
	}

	table := output.SimpleTable([]string{"NQN", "SUBTYPE", "STATE", "SERIAL", "MODEL", "NAMESPACES"}, rows)
	return output.NewPrinter(cmd.OutOrStdout(), format).PrintTable(table, subs)
}

func runSubsystemCreate(cmd *cobra.Command, args []string) error {
	path := GetConfigFile()
	if path == "" {
		path = config.GetDefaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	nqn, err := prompt.InputRequired("Subsystem NQN")
	if err != nil {
		return err
	}
	serial, err := prompt.InputRequired("Serial number")
	if err != nil {
		return err
	}
	model, err := prompt.Input("Model number", "nvmftcpd")
	if err != nil {
		return err
	}
	allowAny, err := prompt.Confirm("Allow any host to connect", true)
	if err != nil {
		return err
	}

	sub := config.SubsystemConfig{
		NQN:          nqn,
		Serial:       serial,
		Model:        model,
		AllowAnyHost: allowAny,
	}

	addNS, err := prompt.Confirm("Add a namespace now", true)
	if err != nil {
		return err
	}
	if addNS {
		backend, err := prompt.SelectString("Namespace backend", []string{"memory", "s3"})
		if err != nil {
			return err
		}
		nsid, err := prompt.InputUint("Namespace ID", 1)
		if err != nil {
			return err
		}
		blockSize, err := prompt.InputUint("Block size (bytes)", 4096)
		if err != nil {
			return err
		}
		blockCount, err := prompt.InputUint("Block count", 262144)
		if err != nil {
			return err
		}

		ns := config.NamespaceConfig{NSID: uint32(nsid), Backend: backend}
		switch backend {
		case "memory":
			ns.Memory = &config.MemoryBackendConfig{
				BlockSize:  uint32(blockSize),
				BlockCount: blockCount,
			}
		case "s3":
			bucket, err := prompt.InputRequired("S3 bucket")
			if err != nil {
				return err
			}
			region, err := prompt.Input("S3 region", "us-east-1")
			if err != nil {
				return err
			}
			ns.S3 = &config.S3BackendConfig{
				Bucket:     bucket,
				Region:     region,
				BlockSize:  uint32(blockSize),
				BlockCount: blockCount,
			}
		}
		sub.Namespaces = append(sub.Namespaces, ns)
	}

	cfg.Subsystems = append(cfg.Subsystems, sub)

	if err := config.SaveConfig(cfg, path); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	cmd.Printf("Added subsystem %s to %s\n", nqn, path)
	cmd.Println("Restart nvmftcpd for the change to take effect.")
	return nil
}
