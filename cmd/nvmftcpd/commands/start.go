package commands

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nvmftcpd/nvmftcpd/internal/log"
	"github.com/nvmftcpd/nvmftcpd/internal/telemetry"
	"github.com/nvmftcpd/nvmftcpd/pkg/config"
	"github.com/nvmftcpd/nvmftcpd/pkg/control"
	"github.com/nvmftcpd/nvmftcpd/pkg/metrics"
	nvmfprometheus "github.com/nvmftcpd/nvmftcpd/pkg/metrics/prometheus"
)

var (
	foreground bool
	pidFile    string
	logFile    string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the nvmftcpd server",
	Long: `Start the nvmftcpd NVMe/TCP target.

By default the server daemonizes into the background. Use --foreground to
run under a process supervisor (systemd, docker) instead.

Examples:
  nvmftcpd start
  nvmftcpd start --foreground
  nvmftcpd start --config /etc/nvmftcpd/config.yaml`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "run in foreground instead of daemonizing")
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "PID file path (default: $XDG_STATE_HOME/nvmftcpd/nvmftcpd.pid)")
	startCmd.Flags().StringVar(&logFile, "log-file", "", "log file path for daemon mode (default: $XDG_STATE_HOME/nvmftcpd/nvmftcpd.log)")
}

func runStart(cmd *cobra.Command, args []string) error {
	if !foreground {
		return startDaemon()
	}

	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "nvmftcpd",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			log.Error("telemetry shutdown error", "error", err)
		}
	}()

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Profiling.Enabled,
		ServiceName:    "nvmftcpd",
		ServiceVersion: Version,
		Endpoint:       cfg.Profiling.Endpoint,
		ProfileTypes:   cfg.Profiling.ProfileTypes,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			log.Error("profiling shutdown error", "error", err)
		}
	}()

	log.Info("nvmftcpd starting", "version", Version, "config", getConfigSource(GetConfigFile()))

	var nvmfMetrics metrics.NVMfMetrics
	if cfg.Metrics.Enabled {
		metrics.Init()
		nvmfMetrics = nvmfprometheus.NewNVMfMetrics()
		metricsServer := newMetricsHTTPServer(cfg.Metrics.Port)
		defer func() { _ = metricsServer.Close() }()
		log.Info("metrics enabled", "port", cfg.Metrics.Port)
	} else {
		log.Info("metrics disabled")
	}

	tr, closer, err := config.BuildTransport(ctx, cfg, nvmfMetrics)
	if err != nil {
		return fmt.Errorf("failed to build transport: %w", err)
	}
	defer tr.Stop()
	defer func() {
		if err := closer(); err != nil {
			log.Error("registry close error", "error", err)
		}
	}()

	for _, l := range cfg.Listeners {
		port, err := tr.Listen(l.Address)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", l.Address, err)
		}
		log.Info("listening", "address", port.Addr())
	}

	var controlServer *control.Server
	if cfg.ControlSocket != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.ControlSocket), 0755); err != nil {
			return fmt.Errorf("failed to create control socket directory: %w", err)
		}
		controlServer, err = control.Serve(cfg.ControlSocket, tr)
		if err != nil {
			return fmt.Errorf("failed to start control socket: %w", err)
		}
		defer func() { _ = controlServer.Close() }()
		log.Info("control socket listening", "path", cfg.ControlSocket)
	}

	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log.Info("nvmftcpd is running, press Ctrl+C to stop")
	<-sigCh
	signal.Stop(sigCh)
	log.Info("shutdown signal received, draining connections")
	cancel()

	return nil
}

// startDaemon re-execs the current binary with --foreground and a PID
// file, detaching it into the background.
func startDaemon() error {
	stateDir := config.GetDefaultControlSocketPath()
	stateDir = filepath.Dir(stateDir)
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	pidPath := pidFile
	if pidPath == "" {
		pidPath = config.GetDefaultPidFilePath()
	}

	if data, err := os.ReadFile(pidPath); err == nil {
		var pid int
		if _, err := fmt.Sscanf(string(data), "%d", &pid); err == nil {
			if process, err := os.FindProcess(pid); err == nil {
				if err := process.Signal(syscall.Signal(0)); err == nil {
					return fmt.Errorf("nvmftcpd is already running (PID %d); use 'nvmftcpd stop' first", pid)
				}
			}
		}
		_ = os.Remove(pidPath)
	}

	logPath := logFile
	if logPath == "" {
		logPath = filepath.Join(stateDir, "nvmftcpd.log")
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	daemonArgs := []string{"start", "--foreground", "--pid-file", pidPath}
	if GetConfigFile() != "" {
		daemonArgs = append(daemonArgs, "--config", GetConfigFile())
	}

	logFileHandle, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = logFileHandle.Close() }()

	proc := exec.Command(executable, daemonArgs...)
	proc.Stdout = logFileHandle
	proc.Stderr = logFileHandle
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := proc.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	fmt.Printf("nvmftcpd started in background (PID %d)\n", proc.Process.Pid)
	fmt.Printf("  PID file: %s\n", pidPath)
	fmt.Printf("  Log file: %s\n", logPath)
	fmt.Println("Use 'nvmftcpd stop' to stop the server, 'nvmftcpd status' to check it")
	return nil
}
