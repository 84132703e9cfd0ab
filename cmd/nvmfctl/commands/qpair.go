package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvmftcpd/nvmftcpd/internal/cli/output"
	"github.com/nvmftcpd/nvmftcpd/pkg/control"
)

var qpairOutputFormat string

var qpairCmd = &cobra.Command{
	Use:   "qpair",
	Short: "Inspect live listeners and their queue pairs",
}

var qpairListCmd = &cobra.Command{
	Use:   "list",
	Short: "List bound listeners and their active connection counts",
	RunE:  runQpairList,
}

func init() {
	qpairCmd.PersistentFlags().StringVarP(&qpairOutputFormat, "output", "o", "table", "output format: table, json, yaml")
	qpairCmd.AddCommand(qpairListCmd)
}

func runQpairList(cmd *cobra.Command, args []string) error {
	client, err := control.Dial(resolveSocket())
	if err != nil {
		return fmt.Errorf("failed to connect to nvmftcpd: %w", err)
	}
	defer client.Close()

	var ports []control.PortInfo
	if err := client.Call("Service.ListPorts", control.Args{}, &ports); err != nil {
		return fmt.Errorf("failed to list ports: %w", err)
	}

	format, err := output.ParseFormat(qpairOutputFormat)
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(ports))
	for _, p := range ports {
		rows = append(rows, []string{p.Address, fmt.Sprintf("%d", p.ActiveConns)})
	}

	table := output.SimpleTable([]string{"LISTENER", "ACTIVE QPAIRS"}, rows)
	return output.NewPrinter(cmd.OutOrStdout(), format).PrintTable(table, ports)
}
