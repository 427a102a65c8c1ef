package irmd

import (
	"context"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	ferrors "irmd-go/errors"
	"irmd-go/logging"
	"irmd-go/proto"
)

// maxWorkers bounds how large the worker pool can grow; it stands in for
// the source's hard cap on spawned threads.
const maxWorkers = 256

// defaultQueueDepth sizes the FIFO command queue fed by every accepted
// connection.
const defaultQueueDepth = 256

// job is one dispatch request handed from a connection's reader to the
// worker pool, with done carrying the reply back so the reader can write
// it onto its own connection (never onto another connection's socket).
type job struct {
	msg  *proto.Message
	done chan *proto.Reply
}

// Server binds the IRMd control socket (IRM_SOCK_PATH) and serves
// requests through a fixed-minimum worker pool that grows by AddThreads
// whenever the FIFO queue backs up, mirroring the source's scheduler:
// "a fixed-minimum worker pool served by a single mutex-protected FIFO
// command queue, grown on demand and never shrunk below the minimum."
type Server struct {
	daemon   *Daemon
	sockPath string

	queue   chan job
	workers atomic.Int64
	sem     *semaphore.Weighted

	listener net.Listener
	wg       sync.WaitGroup
	logger   *slog.Logger

	ipcpClient *IPCPClient
	ipcpdPath  string
}

// SetIPCPClient configures the client dispatch uses to forward operations
// to a spawned IPCP's own control socket (bootstrap, enroll, flow_alloc
// and its query, and flow_accept's flow_alloc_resp). Until this is set,
// bootstrap_ipcp, enroll_ipcp and flow_alloc fail with EIPCP instead of
// dialling nothing, and flow_accept skips the flow_alloc_resp call.
func (s *Server) SetIPCPClient(c *IPCPClient) {
	s.ipcpClient = c
}

// SetIPCPDPath configures the path to the ipcpd binary create_ipcp forks.
func (s *Server) SetIPCPDPath(path string) {
	s.ipcpdPath = path
}

// NewServer creates a Server for d, listening at sockPath once Serve runs.
func NewServer(d *Daemon, sockPath string) *Server {
	return &Server{
		daemon:   d,
		sockPath: sockPath,
		queue:    make(chan job, defaultQueueDepth),
		sem:      semaphore.NewWeighted(maxWorkers),
		logger:   d.logger,
	}
}

// Serve binds the control socket with 0666 permissions (matching
// spec.md's "any local process may connect" contract) and accepts
// connections until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	os.Remove(s.sockPath)
	l, err := net.Listen("unix", s.sockPath)
	if err != nil {
		return ferrors.Wrap(err, ferrors.EIRMD, "control.Serve")
	}
	if err := os.Chmod(s.sockPath, 0666); err != nil {
		l.Close()
		return ferrors.Wrap(err, ferrors.EIRMD, "control.Serve")
	}
	s.listener = l

	s.growWorkers(ctx, s.daemon.addThreads)

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	var connWG sync.WaitGroup
	for {
		conn, err := l.Accept()
		if err != nil {
			connWG.Wait()
			close(s.queue)
			select {
			case <-ctx.Done():
				return nil
			default:
				return ferrors.Wrap(err, ferrors.EIRMD, "control.Serve")
			}
		}
		connWG.Add(1)
		go func() {
			defer connWG.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// growWorkers adds up to n workers, never exceeding maxWorkers.
func (s *Server) growWorkers(ctx context.Context, n int) {
	for i := 0; i < n; i++ {
		if s.workers.Load() >= maxWorkers {
			return
		}
		s.workers.Add(1)
		go s.worker(ctx)
	}
}

// worker drains the FIFO queue, holding one of maxWorkers semaphore
// units for the duration of each dispatch so a burst of queued jobs
// can't spawn unbounded concurrent work even if growWorkers raced ahead
// of the cap.
func (s *Server) worker(ctx context.Context) {
	for j := range s.queue {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			j.done <- errReply(ferrors.ErrShuttingDown)
			continue
		}
		rep := s.dispatch(j.msg)
		s.sem.Release(1)
		j.done <- rep
	}
}

// handleConn reads one Message at a time from conn, queues it for the
// worker pool, and writes back the Reply once ready. A connection serves
// exactly one client and therefore never needs a write-side mutex: no
// two workers ever write to the same conn concurrently.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	for {
		msg, err := proto.ReadMessage(conn)
		if err != nil {
			return
		}

		if len(s.queue) > cap(s.queue)/2 {
			s.growWorkers(ctx, s.daemon.addThreads)
		}

		done := make(chan *proto.Reply, 1)
		select {
		case s.queue <- job{msg: msg, done: done}:
		case <-ctx.Done():
			return
		}

		select {
		case rep := <-done:
			if err := proto.WriteReply(conn, rep); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func errReply(err error) *proto.Reply {
	kind, ok := ferrors.GetKind(err)
	if !ok {
		kind = ferrors.EINVAL
	}
	return &proto.Reply{Result: int(kind) + 1}
}

func okReply(payload any) *proto.Reply {
	if payload == nil {
		return &proto.Reply{Result: 0}
	}
	body, err := proto.MarshalPayload(payload)
	if err != nil {
		return errReply(err)
	}
	return &proto.Reply{Result: 0, Payload: body}
}

// dispatch routes one Message to the matching Daemon method and builds
// its Reply. Requests that need to call back into a spawned IPCP's own
// control socket (bootstrap, enroll, flow_alloc's allocFn and the
// Selector used for name resolution) use the client set via
// SetIPCPClient; until that's configured those operations fail with
// EIPCP rather than panicking.
func (s *Server) dispatch(msg *proto.Message) *proto.Reply {
	d := s.daemon
	logging.WithOperation(s.logger, string(msg.Op)).Debug("dispatch")

	switch msg.Op {
	case proto.OpBindProgram:
		var req proto.BindRequest
		if err := proto.UnmarshalPayload(msg.Payload, &req); err != nil {
			return errReply(err)
		}
		return boolReply(d.BindProgram(req.Name, []string{req.Target}))

	case proto.OpUnbindProgram:
		var req proto.BindRequest
		if err := proto.UnmarshalPayload(msg.Payload, &req); err != nil {
			return errReply(err)
		}
		return boolReply(d.UnbindProgram(req.Name))

	case proto.OpBindProcess:
		var req proto.BindRequest
		if err := proto.UnmarshalPayload(msg.Payload, &req); err != nil {
			return errReply(err)
		}
		pid, err := strconv.Atoi(req.Target)
		if err != nil {
			return errReply(ferrors.Wrap(err, ferrors.EINVAL, "bind_process"))
		}
		return boolReply(d.BindProcess(req.Name, pid))

	case proto.OpUnbindProcess:
		var req proto.BindRequest
		if err := proto.UnmarshalPayload(msg.Payload, &req); err != nil {
			return errReply(err)
		}
		pid, err := strconv.Atoi(req.Target)
		if err != nil {
			return errReply(ferrors.Wrap(err, ferrors.EINVAL, "unbind_process"))
		}
		return boolReply(d.UnbindProcess(req.Name, pid))

	case proto.OpProcAnnounce:
		var req proto.ProcAnnounceRequest
		if err := proto.UnmarshalPayload(msg.Payload, &req); err != nil {
			return errReply(err)
		}
		return boolReply(d.ProcAnnounce(req.PID, req.ProgramTag))

	case proto.OpReg:
		var req proto.RegRequest
		if err := proto.UnmarshalPayload(msg.Payload, &req); err != nil {
			return errReply(err)
		}
		return boolReply(d.Reg(req.Name, req.LayerGlobs))

	case proto.OpUnreg:
		var req proto.RegRequest
		if err := proto.UnmarshalPayload(msg.Payload, &req); err != nil {
			return errReply(err)
		}
		return boolReply(d.Unreg(req.Name))

	case proto.OpListIPCPs:
		var req proto.ListIPCPsRequest
		if err := proto.UnmarshalPayload(msg.Payload, &req); err != nil {
			return errReply(err)
		}
		return okReply(proto.ListIPCPsReply{PIDs: d.ListIPCPs(req.Glob)})

	case proto.OpDestroyIPCP:
		var req proto.DestroyIPCPRequest
		if err := proto.UnmarshalPayload(msg.Payload, &req); err != nil {
			return errReply(err)
		}
		return boolReply(d.DestroyIPCP(req.PID))

	case proto.OpFlowAccept:
		var req proto.FlowAcceptRequest
		if err := proto.UnmarshalPayload(msg.Payload, &req); err != nil {
			return errReply(err)
		}
		portID, ipcpPID, qos, err := d.FlowAccept(req.PID, time.Duration(req.TimeoutSec)*time.Second)
		if err != nil {
			return errReply(err)
		}
		if s.ipcpClient != nil {
			// "IRMd calls the IPCP's flow_alloc_resp(0); the flow moves
			// to allocated" — best-effort: the flow is already allocated
			// in IRMd's own table, so an RPC failure here is logged, not
			// surfaced to the accepting client.
			if err := s.ipcpClient.FlowAllocResp(ipcpPID, portID, req.PID, 0); err != nil {
				logging.WithFlow(s.logger, portID).Warn("flow_alloc_resp failed", "error", err)
			}
		}
		return okReply(proto.FlowAcceptReply{PortID: portID, IPCPPID: ipcpPID, QoSCube: qos})

	case proto.OpFlowDealloc:
		var req proto.FlowDeallocRequest
		if err := proto.UnmarshalPayload(msg.Payload, &req); err != nil {
			return errReply(err)
		}
		return boolReply(d.FlowDealloc(req.PID, req.PortID))

	case proto.OpIPCPFlowAllocReply:
		var req proto.IPCPFlowAllocReplyRequest
		if err := proto.UnmarshalPayload(msg.Payload, &req); err != nil {
			return errReply(err)
		}
		return boolReply(d.IPCPFlowAllocReply(req.PortID, req.Response))

	case proto.OpCreateIPCP:
		var req proto.CreateIPCPRequest
		if err := proto.UnmarshalPayload(msg.Payload, &req); err != nil {
			return errReply(err)
		}
		if s.ipcpdPath == "" {
			return errReply(ferrors.New(ferrors.EIPCP, "create_ipcp", "ipcpd path not configured"))
		}
		ipcpType, err := parseIPCPType(req.Type)
		if err != nil {
			return errReply(err)
		}
		pid, err := d.CreateIPCP(req.Name, ipcpType, s.ipcpdPath)
		if err != nil {
			return errReply(err)
		}
		return okReply(proto.CreateIPCPReply{PID: pid})

	case proto.OpIPCPCreateReply:
		var req proto.IPCPCreateReport
		if err := proto.UnmarshalPayload(msg.Payload, &req); err != nil {
			return errReply(err)
		}
		return boolReply(d.ReportIPCPCreate(req.PID, req.Result))

	case proto.OpBootstrapIPCP:
		var req proto.BootstrapIPCPRequest
		if err := proto.UnmarshalPayload(msg.Payload, &req); err != nil {
			return errReply(err)
		}
		if s.ipcpClient == nil {
			return errReply(ferrors.New(ferrors.EIPCP, "bootstrap_ipcp", "ipcp client not configured"))
		}
		layerName, _ := req.Config["layer"].(string)
		hashAlgo, _ := req.Config["hash_algo"].(string)
		err := d.BootstrapCaller(req.PID, layerName, hashAlgo, func() error {
			return s.ipcpClient.Bootstrap(req.PID, req.Config)
		})
		return boolReply(err)

	case proto.OpEnrollIPCP:
		var req proto.EnrollIPCPRequest
		if err := proto.UnmarshalPayload(msg.Payload, &req); err != nil {
			return errReply(err)
		}
		if s.ipcpClient == nil {
			return errReply(ferrors.New(ferrors.EIPCP, "enroll_ipcp", "ipcp client not configured"))
		}
		err := d.EnrollCaller(req.PID, req.DstLayer, func() error {
			return s.ipcpClient.Enroll(req.PID, req.DstLayer)
		})
		return boolReply(err)

	case proto.OpFlowAlloc:
		var req proto.FlowAllocRequest
		if err := proto.UnmarshalPayload(msg.Payload, &req); err != nil {
			return errReply(err)
		}
		if s.ipcpClient == nil {
			return errReply(ferrors.New(ferrors.EIPCP, "flow_alloc", "ipcp client not configured"))
		}
		portID, err := d.FlowAlloc(req.PID, req.DstName, req.QoSCube, time.Duration(req.TimeoutSec)*time.Second,
			s.ipcpClient,
			func(ipcpPID, portID int, dstName string, qos int) error {
				hash, herr := d.dir.Hash(dstName)
				if herr != nil {
					return herr
				}
				return s.ipcpClient.FlowAlloc(ipcpPID, portID, req.PID, hash.String(), qos)
			})
		if err != nil {
			return errReply(err)
		}
		return okReply(proto.FlowAllocReply{PortID: portID})

	case proto.OpIPCPFlowReqArr:
		var req proto.IPCPFlowReqArrRequest
		if err := proto.UnmarshalPayload(msg.Payload, &req); err != nil {
			return errReply(err)
		}
		portID, serverPID, err := d.IPCPFlowReqArrByHash(req.PID, req.Hash, req.QoSCube, d.spawnProgram)
		if err != nil {
			return errReply(err)
		}
		return okReply(proto.IPCPFlowReqArrReply{PortID: portID, ServerPID: serverPID})

	default:
		return errReply(ferrors.New(ferrors.EINVAL, "dispatch", "unsupported or unwired operation: "+string(msg.Op)))
	}
}

// parseIPCPType parses the create_ipcp request's type string, the wire
// counterpart of IPCPType.String().
func parseIPCPType(s string) (IPCPType, error) {
	switch s {
	case "local":
		return IPCPLocal, nil
	case "shim-udp":
		return IPCPShimUDP, nil
	case "shim-eth-llc":
		return IPCPShimEthLLC, nil
	case "normal":
		return IPCPNormal, nil
	default:
		return 0, ferrors.New(ferrors.EINVAL, "create_ipcp", "unknown ipcp type: "+s)
	}
}

func boolReply(err error) *proto.Reply {
	if err != nil {
		return errReply(err)
	}
	return &proto.Reply{Result: 0}
}
