package ipcp

import (
	"context"
	"net"
	"os"
	"sync"

	ferrors "irmd-go/errors"
	"irmd-go/logging"
	"irmd-go/proto"
)

// Server binds an IPCP's per-pid control socket (ipcp_sock_path(pid)) and
// dispatches the operations of spec.md §4.2's table: bootstrap, enroll,
// register, unregister, flow_alloc, flow_alloc_resp, flow_dealloc, query.
// Unlike IRMd's control.Server this has no worker pool: an IPCP serves
// far fewer concurrent control RPCs than IRMd's registry, and one
// goroutine per connection is sufficient (matching spec.md §4.2's silence
// on any scheduler requirement for this socket).
type Server struct {
	rt       *Runtime
	sockPath string
	listener net.Listener
}

// NewServer creates a Server for rt, listening at sockPath once Serve runs.
func NewServer(rt *Runtime, sockPath string) *Server {
	return &Server{rt: rt, sockPath: sockPath}
}

// Serve binds the control socket and accepts connections until ctx is
// done.
func (s *Server) Serve(ctx context.Context) error {
	os.Remove(s.sockPath)
	l, err := net.Listen("unix", s.sockPath)
	if err != nil {
		return ferrors.Wrap(err, ferrors.EIPCP, "ipcp.Serve")
	}
	if err := os.Chmod(s.sockPath, 0666); err != nil {
		l.Close()
		return ferrors.Wrap(err, ferrors.EIPCP, "ipcp.Serve")
	}
	s.listener = l

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	var wg sync.WaitGroup
	for {
		conn, err := l.Accept()
		if err != nil {
			wg.Wait()
			select {
			case <-ctx.Done():
				return nil
			default:
				return ferrors.Wrap(err, ferrors.EIPCP, "ipcp.Serve")
			}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleConn(conn)
		}()
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	for {
		msg, err := proto.ReadMessage(conn)
		if err != nil {
			return
		}
		rep := s.dispatch(msg)
		if err := proto.WriteReply(conn, rep); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(msg *proto.Message) *proto.Reply {
	logging.WithOperation(s.rt.Logger(), string(msg.Op)).Debug("ipcp dispatch")

	if err := s.rt.requireLive(); err != nil {
		return errReply(err)
	}

	switch msg.Op {
	case proto.OpBootstrap:
		var req proto.BootstrapRequest
		if err := proto.UnmarshalPayload(msg.Payload, &req); err != nil {
			return errReply(err)
		}
		return boolReply(s.rt.Bootstrap(req.Config))

	case proto.OpEnroll:
		var req proto.EnrollRequest
		if err := proto.UnmarshalPayload(msg.Payload, &req); err != nil {
			return errReply(err)
		}
		return boolReply(s.rt.Enroll(req.DstLayer))

	case proto.OpRegister:
		var req proto.RegisterRequest
		if err := proto.UnmarshalPayload(msg.Payload, &req); err != nil {
			return errReply(err)
		}
		return boolReply(s.rt.Register(req.Hashes))

	case proto.OpUnregister:
		var req proto.RegisterRequest
		if err := proto.UnmarshalPayload(msg.Payload, &req); err != nil {
			return errReply(err)
		}
		return boolReply(s.rt.Unregister(req.Hashes))

	case proto.OpFlowAllocIPCP:
		var req proto.IPCPFlowAllocRequest
		if err := proto.UnmarshalPayload(msg.Payload, &req); err != nil {
			return errReply(err)
		}
		return boolReply(s.rt.FlowAlloc(req.PortID, req.NPid, req.DstHash, req.QoSCube))

	case proto.OpFlowAllocResp:
		var req proto.IPCPFlowAllocRespRequest
		if err := proto.UnmarshalPayload(msg.Payload, &req); err != nil {
			return errReply(err)
		}
		return boolReply(s.rt.FlowAllocResp(req.PortID, req.NPid, req.Response))

	case proto.OpFlowDeallocIPCP:
		var req proto.IPCPFlowDeallocRequest
		if err := proto.UnmarshalPayload(msg.Payload, &req); err != nil {
			return errReply(err)
		}
		return boolReply(s.rt.FlowDealloc(req.PortID))

	case proto.OpQuery:
		var req proto.QueryRequest
		if err := proto.UnmarshalPayload(msg.Payload, &req); err != nil {
			return errReply(err)
		}
		result := 1
		if s.rt.Query(req.Hash) {
			result = 0
		}
		return okReply(proto.QueryReply{Result: result})

	default:
		return errReply(ferrors.New(ferrors.EINVAL, "ipcp.dispatch", "unsupported operation: "+string(msg.Op)))
	}
}

func errReply(err error) *proto.Reply {
	return &proto.Reply{Result: 1}
}

func boolReply(err error) *proto.Reply {
	if err != nil {
		return errReply(err)
	}
	return &proto.Reply{Result: 0}
}

func okReply(payload any) *proto.Reply {
	body, err := proto.MarshalPayload(payload)
	if err != nil {
		return errReply(err)
	}
	return &proto.Reply{Result: 0, Payload: body}
}
