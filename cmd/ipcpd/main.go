// Command ipcpd is the generic IPC process: a spec.md §4.2 Runtime
// carrying a transport-specific Variant (local, shim-udp, shim-eth-llc),
// bound to its own per-pid control socket and (where the type demands
// one) a data-plane fiber. It is always forked by irmd's create_ipcp,
// never run standalone, and reports readiness over its inherited fd 3
// sync pipe.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"irmd-go/client"
	"irmd-go/ipcp"
	"irmd-go/ipcp/local"
	"irmd-go/ipcp/shimethllc"
	"irmd-go/ipcp/shimudp"
	"irmd-go/irmd"
	"irmd-go/logging"
	"irmd-go/ring"
)

// syncPipeFD is the fd create_ipcp wires as the child's ExtraFiles[0].
const syncPipeFD = 3

const (
	defaultSlabCount = 4096
	defaultSlabSize  = 2048
)

func main() {
	var (
		ipcpType string
		name     string
		iface    string
		udpPort  int
		ddnsAddr string
	)
	flag.StringVar(&ipcpType, "type", "local", "ipcp type: local, shim-udp, shim-eth-llc, normal")
	flag.StringVar(&name, "name", "", "ipcp name")
	flag.StringVar(&iface, "iface", "", "shim-eth-llc: network interface to bind")
	flag.IntVar(&udpPort, "udp-port", 6280, "shim-udp: well-known listener port")
	flag.StringVar(&ddnsAddr, "ddns", "", "shim-udp: DDNS server host:port (empty: system DNS)")
	flag.Parse()

	syncPipe := os.NewFile(syncPipeFD, "syncpipe-child")

	logger := logging.Default()

	if err := run(ipcpType, name, iface, udpPort, ddnsAddr, logger, syncPipe); err != nil {
		if syncPipe != nil {
			syncPipe.Write([]byte(err.Error()))
			syncPipe.Close()
		}
		fmt.Fprintln(os.Stderr, "ipcpd:", err)
		os.Exit(1)
	}
}

func run(ipcpType, name, iface string, udpPort int, ddnsAddr string, logger *slog.Logger, syncPipe *os.File) error {
	pid := os.Getpid()
	logger = logging.WithIPCP(logger, pid)

	pool, err := ring.NewPool(defaultSlabCount, defaultSlabSize)
	if err != nil {
		return fmt.Errorf("allocate buffer pool: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	irmClient := client.New(client.SockPath())

	var rt *ipcp.Runtime
	var dataPlane func(context.Context) error

	switch ipcpType {
	case "local":
		var loc *local.Local
		arrival := func(hash string, qos int) (int, int, error) {
			res, err := irmClient.IPCPFlowReqArr(pid, hash, qos)
			return res.PortID, res.ServerPID, err
		}
		reply := func(portID, response int) error {
			return irmClient.IPCPFlowAllocReply(portID, response)
		}
		newVariant := local.New(arrival, reply)
		rt = ipcp.New(pid, name, pool, logger, func(r *ipcp.Runtime) ipcp.Variant {
			v := newVariant(r)
			loc = v.(*local.Local)
			return v
		})
		dataPlane = loc.Run

	case "shim-udp":
		newVariant := shimudp.New(shimudp.Config{ListenPort: udpPort, DDNSServer: ddnsAddr})
		rt = ipcp.New(pid, name, pool, logger, newVariant)

	case "shim-eth-llc":
		newVariant := shimethllc.New(shimethllc.Config{Iface: iface})
		rt = ipcp.New(pid, name, pool, logger, newVariant)

	default:
		return fmt.Errorf("unsupported ipcp type %q", ipcpType)
	}

	sockPath := irmd.IPCPSockPath(pid)
	srv := ipcp.NewServer(rt, sockPath)

	errc := make(chan error, 2)
	go func() { errc <- srv.Serve(ctx) }()
	if dataPlane != nil {
		go func() { errc <- dataPlane(ctx) }()
	}

	if syncPipe != nil {
		syncPipe.Write([]byte{0})
		syncPipe.Close()
	}
	logger.Info("ipcpd started", "type", ipcpType, "name", name, "sock", sockPath)

	select {
	case <-ctx.Done():
		rt.Shutdown()
		return nil
	case err := <-errc:
		stop()
		return err
	}
}
