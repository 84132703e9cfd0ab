package commands

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nvmftcpd/nvmftcpd/pkg/config"
	"github.com/nvmftcpd/nvmftcpd/pkg/control"
)

var statusPidFile string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	RunE:  runStatus,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running server",
	RunE:  runStop,
}

func init() {
	statusCmd.Flags().StringVar(&statusPidFile, "pid-file", "", "PID file path (default: $XDG_STATE_HOME/nvmftcpd/nvmftcpd.pid)")
	stopCmd.Flags().StringVar(&statusPidFile, "pid-file", "", "PID file path (default: $XDG_STATE_HOME/nvmftcpd/nvmftcpd.pid)")
}

func pidFromFile(path string) (int, bool) {
	if path == "" {
		path = config.GetDefaultPidFilePath()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return 0, false
	}
	if err := process.Signal(syscall.Signal(0)); err != nil {
		return 0, false
	}
	return pid, true
}

func runStatus(cmd *cobra.Command, args []string) error {
	pid, running := pidFromFile(statusPidFile)
	if !running {
		cmd.Println("nvmftcpd is not running")
		return nil
	}
	cmd.Printf("nvmftcpd is running (PID %d)\n", pid)

	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return nil
	}
	client, err := control.Dial(cfg.ControlSocket)
	if err != nil {
		cmd.Println("(control socket unreachable)")
		return nil
	}
	defer client.Close()

	var ports []control.PortInfo
	if err := client.Call("Service.ListPorts", control.Args{}, &ports); err == nil {
		for _, p := range ports {
			cmd.Printf("  listener %s: %d active connections\n", p.Address, p.ActiveConns)
		}
	}

	var subs []control.SubsystemInfo
	if err := client.Call("Service.ListSubsystems", control.Args{}, &subs); err == nil {
		cmd.Printf("  subsystems: %d\n", len(subs))
	}
	return nil
}

func runStop(cmd *cobra.Command, args []string) error {
	pid, running := pidFromFile(statusPidFile)
	if !running {
		return fmt.Errorf("nvmftcpd is not running")
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to signal PID %d: %w", pid, err)
	}
	cmd.Printf("Sent SIGTERM to nvmftcpd (PID %d)\n", pid)
	return nil
}
