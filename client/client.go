// Package client is the application-facing library for the fabric: the
// thin wrapper every program linking against irmd-go uses to create
// IPCPs, register names, and allocate/accept/deallocate flows, dialing
// IRMd's well-known control socket (IRM_SOCK_PATH) exactly as the CLI
// and any end-to-end scenario in spec.md §8 does.
package client

import (
	"net"
	"os"
	"time"

	ferrors "irmd-go/errors"
	"irmd-go/proto"
)

// DefaultSockPath is IRM_SOCK_PATH's default value, overridable by the
// IRM_SOCK_PATH environment variable.
const DefaultSockPath = "/run/irmd-go/irmd.sock"

// SockPath resolves IRM_SOCK_PATH: the environment variable if set,
// otherwise DefaultSockPath.
func SockPath() string {
	if p := os.Getenv("IRM_SOCK_PATH"); p != "" {
		return p
	}
	return DefaultSockPath
}

// Client dials IRMd's control socket for one request/reply round trip at
// a time; it keeps no persistent connection since spec.md's operations
// table describes each request as a self-contained transaction.
type Client struct {
	sockPath string
	timeout  time.Duration
}

// New constructs a Client against sockPath (use SockPath() for the
// default).
func New(sockPath string) *Client {
	return &Client{sockPath: sockPath, timeout: 5 * time.Second}
}

// WithTimeout overrides the dial/IO timeout (not the server-side wait
// bound carried in the message itself).
func (c *Client) WithTimeout(d time.Duration) *Client {
	c.timeout = d
	return c
}

func (c *Client) call(op proto.Op, req any, reply any) error {
	return c.callTimeo(op, req, reply, 0, 0)
}

func (c *Client) callTimeo(op proto.Op, req any, reply any, timeoSec, timeoNsec int64) error {
	conn, err := net.DialTimeout("unix", c.sockPath, c.timeout)
	if err != nil {
		return ferrors.WrapObject(err, ferrors.EIRMD, string(op), c.sockPath)
	}
	defer conn.Close()

	payload, err := proto.MarshalPayload(req)
	if err != nil {
		return err
	}
	msg := &proto.Message{Op: op, Payload: payload, TimeoSec: timeoSec, TimeoNsec: timeoNsec}

	// A server-side wait bound (flow_accept, flow_alloc) can legitimately
	// block longer than a fixed IO deadline, so only bound the write and
	// leave the read deadline to the caller-specified timeout plus a
	// fixed grace window.
	conn.SetWriteDeadline(time.Now().Add(c.timeout))
	if err := proto.WriteMessage(conn, msg); err != nil {
		return err
	}

	readTimeout := c.timeout
	if timeoSec > 0 {
		readTimeout = time.Duration(timeoSec)*time.Second + c.timeout
	}
	conn.SetReadDeadline(time.Now().Add(readTimeout))

	rep, err := proto.ReadReply(conn)
	if err != nil {
		return err
	}
	if rep.Result != 0 {
		return ferrors.New(ferrors.EIRMD, string(op), "request rejected")
	}
	if reply != nil {
		return proto.UnmarshalPayload(rep.Payload, reply)
	}
	return nil
}

// CreateIPCP creates a new IPCP process of ipcpType under name, returning
// its pid.
func (c *Client) CreateIPCP(name, ipcpType string) (int, error) {
	var reply proto.CreateIPCPReply
	err := c.call(proto.OpCreateIPCP, proto.CreateIPCPRequest{Name: name, Type: ipcpType}, &reply)
	return reply.PID, err
}

// DestroyIPCP tears down the IPCP process at pid.
func (c *Client) DestroyIPCP(pid int) error {
	return c.call(proto.OpDestroyIPCP, proto.DestroyIPCPRequest{PID: pid}, nil)
}

// BootstrapIPCP configures pid as the first member of a new layer.
func (c *Client) BootstrapIPCP(pid int, config map[string]any) error {
	return c.call(proto.OpBootstrapIPCP, proto.BootstrapIPCPRequest{PID: pid, Config: config}, nil)
}

// EnrollIPCP joins pid to an existing layer via a member reachable as
// dstLayer.
func (c *Client) EnrollIPCP(pid int, dstLayer string) error {
	return c.call(proto.OpEnrollIPCP, proto.EnrollIPCPRequest{PID: pid, DstLayer: dstLayer}, nil)
}

// BindProgram binds name to a program tag runnable on demand.
func (c *Client) BindProgram(name, target string) error {
	return c.call(proto.OpBindProgram, proto.BindRequest{Name: name, Target: target}, nil)
}

// UnbindProgram removes a binding added by BindProgram.
func (c *Client) UnbindProgram(name, target string) error {
	return c.call(proto.OpUnbindProgram, proto.BindRequest{Name: name, Target: target}, nil)
}

// BindProcess binds name to an already-running process id (target is the
// pid as a string).
func (c *Client) BindProcess(name, target string) error {
	return c.call(proto.OpBindProcess, proto.BindRequest{Name: name, Target: target}, nil)
}

// UnbindProcess removes a binding added by BindProcess.
func (c *Client) UnbindProcess(name, target string) error {
	return c.call(proto.OpUnbindProcess, proto.BindRequest{Name: name, Target: target}, nil)
}

// ListIPCPs lists the pids of IPCPs whose name matches glob ("" for all).
func (c *Client) ListIPCPs(glob string) ([]int, error) {
	var reply proto.ListIPCPsReply
	err := c.call(proto.OpListIPCPs, proto.ListIPCPsRequest{Glob: glob}, &reply)
	return reply.PIDs, err
}

// Reg registers name as reachable over any layer matching layerGlobs.
func (c *Client) Reg(name string, layerGlobs []string) error {
	return c.call(proto.OpReg, proto.RegRequest{Name: name, LayerGlobs: layerGlobs}, nil)
}

// Unreg withdraws a registration added by Reg. IRMd removes name from
// every layer; layerGlobs is sent with the request but not used.
func (c *Client) Unreg(name string, layerGlobs []string) error {
	return c.call(proto.OpUnreg, proto.RegRequest{Name: name, LayerGlobs: layerGlobs}, nil)
}

// ProcAnnounce tells IRMd that the calling process (pid) is ready to
// accept flows for the program tag it was spawned under.
func (c *Client) ProcAnnounce(pid int, programTag string) error {
	return c.call(proto.OpProcAnnounce, proto.ProcAnnounceRequest{PID: pid, ProgramTag: programTag}, nil)
}

// FlowAllocResult is FlowAlloc's return value.
type FlowAllocResult struct {
	PortID int
}

// FlowAlloc requests a flow to dstName at qosCube, blocking up to timeout
// for the arrival side to accept.
func (c *Client) FlowAlloc(pid int, dstName string, qosCube int, timeout time.Duration) (FlowAllocResult, error) {
	var reply proto.FlowAllocReply
	err := c.callTimeo(proto.OpFlowAlloc, proto.FlowAllocRequest{
		PID: pid, DstName: dstName, QoSCube: qosCube, TimeoutSec: int64(timeout / time.Second),
	}, &reply, int64(timeout/time.Second), int64(timeout%time.Second))
	return FlowAllocResult{PortID: reply.PortID}, err
}

// FlowAcceptResult is FlowAccept's return value.
type FlowAcceptResult struct {
	PortID  int
	IPCPPID int
	QoSCube int
}

// FlowAccept blocks up to timeout for an incoming flow request addressed
// to pid.
func (c *Client) FlowAccept(pid int, timeout time.Duration) (FlowAcceptResult, error) {
	var reply proto.FlowAcceptReply
	err := c.callTimeo(proto.OpFlowAccept, proto.FlowAcceptRequest{
		PID: pid, TimeoutSec: int64(timeout / time.Second),
	}, &reply, int64(timeout/time.Second), int64(timeout%time.Second))
	return FlowAcceptResult{PortID: reply.PortID, IPCPPID: reply.IPCPPID, QoSCube: reply.QoSCube}, err
}

// FlowDealloc tears down portID, owned by pid.
func (c *Client) FlowDealloc(pid, portID int) error {
	return c.call(proto.OpFlowDealloc, proto.FlowDeallocRequest{PID: pid, PortID: portID}, nil)
}

// IPCPFlowReqArrResult is IPCPFlowReqArr's return value.
type IPCPFlowReqArrResult struct {
	PortID    int
	ServerPID int
}

// IPCPFlowReqArr is the IPCP-side entry point into IRMd's arrival path
// (ipcp_flow_req_arr): ipcpPID reports a flow request arriving for hash,
// and IRMd finds or spawns the serving process and allocates its
// arrival-side port id. Used directly by a Variant whose arrival-side
// endpoint is reachable only through IRMd itself (the loopback shim).
func (c *Client) IPCPFlowReqArr(ipcpPID int, hash string, qosCube int) (IPCPFlowReqArrResult, error) {
	var reply proto.IPCPFlowReqArrReply
	err := c.call(proto.OpIPCPFlowReqArr, proto.IPCPFlowReqArrRequest{
		PID: ipcpPID, Hash: hash, QoSCube: qosCube,
	}, &reply)
	return IPCPFlowReqArrResult{PortID: reply.PortID, ServerPID: reply.ServerPID}, err
}

// IPCPFlowAllocReply reports the outcome of a previously requested
// arrival-side allocation (ipcp_flow_alloc_reply): response is 0 on
// success, non-zero on failure.
func (c *Client) IPCPFlowAllocReply(portID, response int) error {
	return c.call(proto.OpIPCPFlowAllocReply, proto.IPCPFlowAllocReplyRequest{
		PortID: portID, Response: response,
	}, nil)
}
