package main

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Nikhilk147/RepoScan/internal/config"
	"github.com/Nikhilk147/RepoScan/internal/daemon"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the RepoScan daemon",
	Long: `Manage the RepoScan daemon for always-on service.

The daemon provides:
- HTTP API for submitting repository analyses
- Durable work queue that survives restarts
- Bounded worker pool with timeout and crash detection`,
}

// Daemon flags
var (
	daemonPort       int
	daemonBind       string
	daemonForeground bool
	daemonLines      int
)

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon",
	Long: `Start the RepoScan daemon in the background.

The daemon listens on 127.0.0.1:7860 by default.
Use --foreground to run in the foreground for debugging.`,
	RunE: runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the daemon",
	RunE:  runDaemonStop,
}

var daemonRestartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the daemon",
	RunE:  runDaemonRestart,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	RunE:  runDaemonStatus,
}

var daemonLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View daemon logs",
	RunE:  runDaemonLogs,
}

func init() {
	rootCmd.AddCommand(daemonCmd)

	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonRestartCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
	daemonCmd.AddCommand(daemonLogsCmd)

	daemonStartCmd.Flags().IntVar(&daemonPort, "port", 7860, "HTTP port")
	daemonStartCmd.Flags().StringVar(&daemonBind, "bind", "127.0.0.1", "Bind address")
	daemonStartCmd.Flags().BoolVar(&daemonForeground, "foreground", false, "Run in foreground")

	daemonLogsCmd.Flags().IntVar(&daemonLines, "lines", 100, "Number of lines to show")
}

func daemonLogPath(cfg *config.Config) string {
	if cfg.Daemon.LogFile != "" {
		return cfg.Daemon.LogFile
	}
	return filepath.Join(cfg.DataDir, "daemon.log")
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	running, pid, err := daemon.IsRunning(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to check daemon status: %w", err)
	}
	if running {
		fmt.Printf("Daemon is already running (PID: %d)\n", pid)
		return nil
	}

	if cmd.Flags().Changed("port") {
		cfg.Daemon.Port = daemonPort
	}
	if cmd.Flags().Changed("bind") {
		cfg.Daemon.Bind = daemonBind
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if daemonForeground {
		return runDaemonForeground(cfg)
	}
	return runDaemonBackground(cfg)
}

func runDaemonForeground(cfg *config.Config) error {
	fmt.Printf("Starting RepoScan daemon on %s:%d (foreground mode)\n", cfg.Daemon.Bind, cfg.Daemon.Port)

	d, err := daemon.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	d.Wait()

	return d.Stop()
}

func runDaemonBackground(cfg *config.Config) error {
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	args := []string{"daemon", "start", "--foreground",
		fmt.Sprintf("--data-dir=%s", cfg.DataDir),
		fmt.Sprintf("--port=%d", cfg.Daemon.Port),
		fmt.Sprintf("--bind=%s", cfg.Daemon.Bind),
	}

	cmd := exec.Command(executable, args...)
	setDaemonSysProcAttr(cmd)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	logPath := daemonLogPath(cfg)
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	_ = logFile.Close()

	fmt.Printf("Daemon started (PID: %d)\n", cmd.Process.Pid)
	fmt.Printf("Listening on %s:%d\n", cfg.Daemon.Bind, cfg.Daemon.Port)
	fmt.Printf("Log file: %s\n", logPath)
	return nil
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	dataDir := resolveDataDir()

	running, pid, err := daemon.IsRunning(dataDir)
	if err != nil {
		return fmt.Errorf("failed to check daemon status: %w", err)
	}
	if !running {
		fmt.Println("Daemon is not running")
		return nil
	}

	fmt.Printf("Stopping daemon (PID: %d)...\n", pid)
	if err := daemon.StopRemote(dataDir); err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}

	fmt.Println("Daemon stopped")
	return nil
}

func runDaemonRestart(cmd *cobra.Command, args []string) error {
	running, _, _ := daemon.IsRunning(resolveDataDir())
	if running {
		if err := runDaemonStop(cmd, args); err != nil {
			return err
		}
	}
	return runDaemonStart(cmd, args)
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	running, pid, err := daemon.IsRunning(resolveDataDir())
	if err != nil {
		return fmt.Errorf("failed to check daemon status: %w", err)
	}

	if !running {
		fmt.Println("Status: stopped")
		return nil
	}

	fmt.Printf("Status: running\n")
	fmt.Printf("PID: %d\n", pid)

	cfg, err := loadConfig()
	if err != nil {
		return nil //nolint:nilerr
	}
	if state, err := daemonClient(cfg).Status(); err == nil {
		fmt.Printf("Uptime: %s\n", state.Uptime)
		fmt.Printf("Jobs running: %d\n", state.JobsRunning)
		if state.Queue != nil {
			fmt.Printf("Queue: %d pending, %d processing\n", state.Queue.Pending, state.Queue.Processing)
		}
	}
	return nil
}

func runDaemonLogs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logPath := daemonLogPath(cfg)
	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		fmt.Println("No log file found")
		return nil
	}

	return showLastLines(logPath, daemonLines)
}

func showLastLines(path string, n int) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > n {
			lines = lines[1:]
		}
	}

	for _, line := range lines {
		fmt.Println(line)
	}

	return scanner.Err()
}
