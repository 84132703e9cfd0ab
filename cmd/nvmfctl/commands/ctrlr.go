package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvmftcpd/nvmftcpd/internal/cli/output"
	"github.com/nvmftcpd/nvmftcpd/pkg/control"
)

var ctrlrOutputFormat string

var ctrlrCmd = &cobra.Command{
	Use:   "ctrlr",
	Short: "Inspect live controllers",
}

var ctrlrListCmd = &cobra.Command{
	Use:   "list",
	Short: "List controllers currently attached to the daemon",
	RunE:  runCtrlrList,
}

func init() {
	ctrlrCmd.PersistentFlags().StringVarP(&ctrlrOutputFormat, "output", "o", "table", "output format: table, json, yaml")
	ctrlrCmd.AddCommand(ctrlrListCmd)
}

func runCtrlrList(cmd *cobra.Command, args []string) error {
	client, err := control.Dial(resolveSocket())
	if err != nil {
		return fmt.Errorf("failed to connect to nvmftcpd: %w", err)
	}
	defer client.Close()

	var ctrlrs []control.ControllerInfo
	if err := client.Call("Service.ListControllers", control.Args{}, &ctrlrs); err != nil {
		return fmt.Errorf("failed to list controllers: %w", err)
	}

	format, err := output.ParseFormat(ctrlrOutputFormat)
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(ctrlrs))
	for _, c := range ctrlrs {
		ready := "no"
		if c.Ready {
			ready = "yes"
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", c.CNTLID),
			c.SubNQN,
			c.HostNQN,
			ready,
			fmt.Sprintf("%d", c.ActiveQpairs),
			c.KeepAliveTimeout.String(),
		})
	}

	table := output.SimpleTable([]string{"CNTLID", "SUBNQN", "HOSTNQN", "READY", "QPAIRS", "KATO"}, rows)
	return output.NewPrinter(cmd.OutOrStdout(), format).PrintTable(table, ctrlrs)
}
