package irmd

import (
	"net"
	"time"

	ferrors "irmd-go/errors"
	"irmd-go/proto"
)

// IPCPClient dials a per-IPCP control socket to forward the operations
// IRMd's own control loop cannot complete locally: bootstrap, enroll,
// register/unregister, flow_alloc, flow_alloc_resp, flow_dealloc, query.
// It also implements Selector so flow_alloc's name-selection loop can
// query candidate IPCPs directly.
type IPCPClient struct {
	dialTimeout time.Duration
}

// NewIPCPClient creates an IPCPClient that bounds every dial+round-trip
// by dialTimeout.
func NewIPCPClient(dialTimeout time.Duration) *IPCPClient {
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	return &IPCPClient{dialTimeout: dialTimeout}
}

func (c *IPCPClient) call(pid int, op proto.Op, req, reply any) error {
	conn, err := net.DialTimeout("unix", IPCPSockPath(pid), c.dialTimeout)
	if err != nil {
		return ferrors.WrapObject(err, ferrors.EIPCP, string(op), IPCPSockPath(pid))
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(c.dialTimeout))

	payload, err := proto.MarshalPayload(req)
	if err != nil {
		return err
	}
	if err := proto.WriteMessage(conn, &proto.Message{Op: op, Payload: payload}); err != nil {
		return err
	}

	rep, err := proto.ReadReply(conn)
	if err != nil {
		return err
	}
	if rep.Result != 0 {
		return ferrors.New(ferrors.EIPCP, string(op), "ipcp rejected the request")
	}
	if reply != nil {
		return proto.UnmarshalPayload(rep.Payload, reply)
	}
	return nil
}

// Bootstrap forwards bootstrap_ipcp's config to pid's control socket.
func (c *IPCPClient) Bootstrap(pid int, config map[string]any) error {
	return c.call(pid, proto.OpBootstrap, proto.BootstrapRequest{Config: config}, nil)
}

// Enroll forwards enroll_ipcp to pid's control socket.
func (c *IPCPClient) Enroll(pid int, dstLayer string) error {
	return c.call(pid, proto.OpEnroll, proto.EnrollRequest{DstLayer: dstLayer}, nil)
}

// Register forwards reg's per-IPCP membership update.
func (c *IPCPClient) Register(pid int, hashes []string) error {
	return c.call(pid, proto.OpRegister, proto.RegisterRequest{Hashes: hashes}, nil)
}

// Unregister forwards unreg's per-IPCP membership update.
func (c *IPCPClient) Unregister(pid int, hashes []string) error {
	return c.call(pid, proto.OpUnregister, proto.RegisterRequest{Hashes: hashes}, nil)
}

// FlowAlloc forwards flow_alloc's transport-specific half to pid's
// control socket: the signature required by irmd.FlowAlloc's allocFn.
func (c *IPCPClient) FlowAlloc(ipcpPID, portID, nPid int, dstHash string, qos int) error {
	return c.call(ipcpPID, proto.OpFlowAllocIPCP, proto.IPCPFlowAllocRequest{
		PortID: portID, NPid: nPid, DstHash: dstHash, QoSCube: qos,
	}, nil)
}

// FlowAllocResp forwards flow_alloc_resp, completing a pending arrival (or
// tearing down the half-built flow on a non-zero response).
func (c *IPCPClient) FlowAllocResp(pid, portID, nPid, response int) error {
	return c.call(pid, proto.OpFlowAllocResp, proto.IPCPFlowAllocRespRequest{
		PortID: portID, NPid: nPid, Response: response,
	}, nil)
}

// FlowDealloc forwards flow_dealloc's local half to pid's control socket.
func (c *IPCPClient) FlowDealloc(pid, portID int) error {
	return c.call(pid, proto.OpFlowDeallocIPCP, proto.IPCPFlowDeallocRequest{PortID: portID}, nil)
}

// Query implements Selector: it reports whether pid's IPCP knows how to
// reach hash, treating any RPC failure as "not reachable" rather than
// propagating the error, matching "selects IPCP via ipcp_query" being a
// best-effort probe over several candidates.
func (c *IPCPClient) Query(pid int, hash string) bool {
	var reply proto.QueryReply
	if err := c.call(pid, proto.OpQuery, proto.QueryRequest{Hash: hash}, &reply); err != nil {
		return false
	}
	return reply.Result == 0
}
