// Package cmd implements the irm CLI: spec.md §6's "external collaborator"
// surface over IRMd's control socket — irm ipcp {create|destroy|bootstrap|
// enroll}, irm bind {program|process}, irm register/unregister, irm list.
package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"irmd-go/client"
	"irmd-go/logging"
)

var (
	globalSockPath string
	globalLog      string
	globalLogFormat string
	globalDebug    bool
	globalTimeout  time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "irm",
	Short: "control client for the IPC resource manager daemon",
	Long: `irm is the CLI collaborator for irmd: it creates and bootstraps
IPCPs, binds names to programs or processes, registers names with a
layer, and lists the running IPCPs, all by dialing irmd's control
socket.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging()
		return nil
	},
}

// Execute runs the root command; its exit code is 0 on success, 1 on
// failure, per spec.md §6.
func Execute() error {
	return rootCmd.Execute()
}

// GetContext returns a context that cancels on SIGINT/SIGTERM.
func GetContext() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	return ctx
}

// GetClient dials IRMd's control socket using the --sock flag (or
// IRM_SOCK_PATH, or the compiled-in default).
func GetClient() *client.Client {
	path := globalSockPath
	if path == "" {
		path = client.SockPath()
	}
	return client.New(path).WithTimeout(globalTimeout)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalSockPath, "sock", "", "irmd control socket path (default: $IRM_SOCK_PATH or "+client.DefaultSockPath+")")
	rootCmd.PersistentFlags().StringVar(&globalLog, "log", "", "set the log file path")
	rootCmd.PersistentFlags().StringVar(&globalLogFormat, "log-format", "text", "set the format for log output (text or json)")
	rootCmd.PersistentFlags().BoolVar(&globalDebug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().DurationVar(&globalTimeout, "timeout", 5*time.Second, "dial/IO timeout for control-socket requests")
}

func setupLogging() {
	out := os.Stderr
	if globalLog != "" {
		if f, err := os.OpenFile(globalLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600); err == nil {
			out = f
		}
	}

	level := slog.LevelInfo
	if globalDebug {
		level = slog.LevelDebug
	}

	logger := logging.NewLogger(logging.Config{
		Level:  level,
		Format: globalLogFormat,
		Output: out,
	})
	logging.SetDefault(logger)
}
