package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/abcfe/abcfe-wallet/app"
	"github.com/abcfe/abcfe-wallet/common/logger"
	"github.com/spf13/cobra"
)

// Version info (Injected from Makefile)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// PID file management - Use user home directory
func getPidFilePath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		// fallback to current directory
		return "./abcfe-wallet.pid"
	}
	return filepath.Join(homeDir, ".abcfe-wallet", "abcfe-wallet.pid")
}

var (
	pidFile = getPidFilePath()
)

var configFile string

func main() {
	var rootCmd = &cobra.Command{
		Use:     "walletd",
		Short:   "ABCFe wallet background",
		Long:    `Privileged wallet background: owns the encrypted vault and serves UI channels over websocket or stdio.`,
		Version: fmt.Sprintf("%s (built %s)", Version, BuildTime),
		Run: func(cmd *cobra.Command, args []string) {
			runBackground()
		},
	}

	// Register global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(daemonCmd())
	rootCmd.AddCommand(stdioCmd())
	rootCmd.AddCommand(vaultCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Println("Failed to execute command:", err)
		os.Exit(1)
	}
}

func daemonCmd() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "daemon",
		Short: "Background process management commands",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Start the background as daemon",
		Run: func(cmd *cobra.Command, args []string) {
			runDaemon(pidFile)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Stop the background",
		Run: func(cmd *cobra.Command, args []string) {
			stopDaemon(pidFile)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Run: func(cmd *cobra.Command, args []string) {
			showStatus(pidFile)
		},
	})

	return cmd
}

func stdioCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stdio",
		Short: "Serve one UI channel over stdin/stdout",
		Long:  `Native messaging mode: length-prefixed JSON envelopes on stdin/stdout. Exits when the peer closes the stream.`,
		Run: func(cmd *cobra.Command, args []string) {
			application, err := app.New(configFile)
			if err != nil {
				fmt.Fprintln(os.Stderr, "Failed to initialize application:", err)
				os.Exit(1)
			}
			application.SigHandler()
			application.ServeStdio()
			application.Terminate()
		},
	}
}

func runBackground() {
	application, err := app.New(configFile)
	if err != nil {
		fmt.Println("Failed to initialize application:", err)
		os.Exit(1)
	}

	application.SigHandler()
	logger.Info("Wallet background start.")

	if err := application.Start(); err != nil {
		logger.Error("Failed to start services:", err)
		application.Terminate()
		os.Exit(1)
	}

	application.Wait()
	if os.Getenv("ABCFE_DAEMON_CHILD") == "1" {
		removePidFile(pidFile)
	}
	logger.Info("Wallet background terminated.")
}

// Start as daemon
func runDaemon(pidFilePath string) {
	// Check internal execution via env var (prevent infinite recursion)
	if os.Getenv("ABCFE_DAEMON_CHILD") == "1" {
		runBackground()
		return
	}

	if isRunning(pidFilePath) {
		fmt.Println("Wallet background is already running")
		return
	}

	executable, err := os.Executable()
	if err != nil {
		// Use fmt as logger might not be initialized
		fmt.Printf("Failed to get executable path: %v\n", err)
		os.Exit(1)
	}

	args := []string{"daemon", "start"}
	if configFile != "" {
		args = append(args, "--config", configFile)
	}
	cmd := exec.Command(executable, args...)
	cmd.Env = append(os.Environ(), "ABCFE_DAEMON_CHILD=1")

	// Redirect standard I/O to null (Complete daemonization)
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil

	// Start in a new process group
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}

	if err := cmd.Start(); err != nil {
		fmt.Printf("Failed to start daemon: %v\n", err)
		os.Exit(1)
	}

	if err := writePidFile(pidFilePath, cmd.Process.Pid); err != nil {
		fmt.Printf("Failed to write PID file: %v\n", err)
		cmd.Process.Kill()
		os.Exit(1)
	}

	fmt.Printf("Wallet background started as daemon with PID %d\n", cmd.Process.Pid)
	os.Exit(0)
}

func stopDaemon(pidFilePath string) {
	pid, err := readPidFile(pidFilePath)
	if err != nil {
		fmt.Println("Wallet background is not running or PID file not found")
		return
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		fmt.Println("Process not found")
		removePidFile(pidFilePath)
		return
	}

	// SIGTERM makes the background lock the vault before exiting
	if err := process.Signal(syscall.SIGTERM); err != nil {
		fmt.Printf("Failed to stop process: %v\n", err)
		return
	}

	fmt.Printf("Stopping wallet background (PID: %d)...\n", pid)
	removePidFile(pidFilePath)
}

// Check status
func showStatus(pidFilePath string) {
	fmt.Printf("PID file path: %s\n", pidFilePath)

	if isRunning(pidFilePath) {
		pid, _ := readPidFile(pidFilePath)
		fmt.Printf("Wallet background is running (PID: %d)\n", pid)
		return
	}

	fmt.Println("Wallet background is not running")
	if _, err := os.Stat(pidFilePath); err == nil {
		fmt.Println("PID file exists but process is not running - cleaning up")
		removePidFile(pidFilePath)
	}
}

// Check if running
func isRunning(pidFilePath string) bool {
	pid, err := readPidFile(pidFilePath)
	if err != nil {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// Check if process is actually alive (Unix/Linux)
	err = process.Signal(syscall.Signal(0))
	return err == nil
}

func readPidFile(pidFilePath string) (int, error) {
	data, err := os.ReadFile(pidFilePath)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func writePidFile(pidFilePath string, pid int) error {
	// Create directory if not exists
	dir := filepath.Dir(pidFilePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(pidFilePath, []byte(strconv.Itoa(pid)), 0644)
}

func removePidFile(pidFilePath string) {
	os.Remove(pidFilePath)
}
