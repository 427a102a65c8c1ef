// Command irmd is the IPC resource manager daemon: it owns the registry
// of IPCPs, names, and flows, and dispatches the control operations of
// spec.md §4.1 over its well-known UNIX socket.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"irmd-go/client"
	"irmd-go/directory"
	"irmd-go/irmd"
	"irmd-go/logging"
)

func main() {
	var (
		sockPath      string
		lockPath      string
		ipcpdPath     string
		logFormat     string
		debug         bool
		addThreads    int
		cleanupTimer  time.Duration
		flowTimeout   time.Duration
		socketTimeout time.Duration
		maxFlows      int
		hashAlgo      string
	)

	flag.StringVar(&sockPath, "sock", client.DefaultSockPath, "control socket path (IRM_SOCK_PATH)")
	flag.StringVar(&lockPath, "lock", "/run/irmd-go/irmd.lock", "lockfile path")
	flag.StringVar(&ipcpdPath, "ipcpd", "ipcpd", "path to the ipcpd binary create_ipcp forks")
	flag.StringVar(&logFormat, "log-format", "text", "log output format: text or json")
	flag.BoolVar(&debug, "debug", false, "enable debug logging")
	flag.IntVar(&addThreads, "add-threads", irmd.DefaultAddThreads, "worker pool growth increment")
	flag.DurationVar(&cleanupTimer, "cleanup-timer", irmd.DefaultCleanupTimer, "sanitiser period")
	flag.DurationVar(&flowTimeout, "flow-timeout", irmd.DefaultFlowTimeout, "alloc-pending flow aging timeout")
	flag.DurationVar(&socketTimeout, "socket-timeout", irmd.DefaultSocketTimeout, "create_ipcp ipcp_create_r wait bound")
	flag.IntVar(&maxFlows, "max-flows", irmd.DefaultMaxFlows, "size of the port-id bitmap")
	flag.StringVar(&hashAlgo, "hash-algo", "blake2b-256", "default directory hash algorithm: blake2b-256 or sha256")
	flag.Parse()

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := logging.NewLogger(logging.Config{Level: level, Format: logFormat, Output: os.Stderr})
	logging.SetDefault(logger)

	if err := run(sockPath, lockPath, ipcpdPath, addThreads, cleanupTimer, flowTimeout, socketTimeout, maxFlows, hashAlgo, logger); err != nil {
		fmt.Fprintln(os.Stderr, "irmd:", err)
		os.Exit(1)
	}
}

func run(sockPath, lockPath, ipcpdPath string, addThreads int, cleanupTimer, flowTimeout, socketTimeout time.Duration, maxFlows int, hashAlgo string, logger *slog.Logger) error {
	os.MkdirAll(filepath.Dir(sockPath), 0755)
	os.MkdirAll(filepath.Dir(lockPath), 0755)

	if irmd.Stale(lockPath) {
		logger.Warn("reclaiming stale lockfile", "path", lockPath)
	}
	lf := irmd.NewLockfile(lockPath)
	if err := lf.Acquire(); err != nil {
		return fmt.Errorf("acquire lockfile: %w", err)
	}
	defer lf.Release()

	algo := directory.Blake2b256
	if hashAlgo == "sha256" {
		algo = directory.SHA256
	}

	d := irmd.New(irmd.Config{
		MaxFlows:      maxFlows,
		AddThreads:    addThreads,
		CleanupTimer:  cleanupTimer,
		FlowTimeout:   flowTimeout,
		SocketTimeout: socketTimeout,
		Algorithm:     algo,
		Logger:        logger,
	})

	srv := irmd.NewServer(d, sockPath)
	srv.SetIPCPClient(irmd.NewIPCPClient(socketTimeout))
	srv.SetIPCPDPath(ipcpdPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 2)
	go func() { errc <- d.Run(ctx) }()
	go func() { errc <- srv.Serve(ctx) }()

	logger.Info("irmd started", "sock", sockPath)
	select {
	case <-ctx.Done():
		<-errc
		<-errc
		return nil
	case err := <-errc:
		stop()
		<-errc
		return err
	}
}
