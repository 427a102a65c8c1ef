package proto

// Payload types for the IRMd control socket. Field names follow the
// operation table's input/output description; every payload round-trips
// through gojson.

// CreateIPCPRequest is the payload for OpCreateIPCP.
type CreateIPCPRequest struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// CreateIPCPReply is the payload for OpCreateIPCP's reply.
type CreateIPCPReply struct {
	PID int `json:"pid"`
}

// IPCPCreateReport is the payload an IPCP sends back over OpIPCPCreateReply
// once it has bound its control socket.
type IPCPCreateReport struct {
	PID    int `json:"pid"`
	Result int `json:"result"`
}

// DestroyIPCPRequest is the payload for OpDestroyIPCP.
type DestroyIPCPRequest struct {
	PID int `json:"pid"`
}

// BootstrapIPCPRequest is the payload for OpBootstrapIPCP.
type BootstrapIPCPRequest struct {
	PID    int            `json:"pid"`
	Config map[string]any `json:"config"`
}

// EnrollIPCPRequest is the payload for OpEnrollIPCP.
type EnrollIPCPRequest struct {
	PID      int    `json:"pid"`
	DstLayer string `json:"dst_layer"`
}

// BindRequest is the payload for bind_program/bind_process and their
// unbind counterparts.
type BindRequest struct {
	Name   string `json:"name"`
	Target string `json:"target"`
}

// ListIPCPsRequest is the payload for OpListIPCPs.
type ListIPCPsRequest struct {
	Glob string `json:"glob"`
}

// ListIPCPsReply is the payload for OpListIPCPs's reply.
type ListIPCPsReply struct {
	PIDs []int `json:"pids"`
}

// RegRequest is the payload for reg/unreg.
type RegRequest struct {
	Name        string   `json:"name"`
	LayerGlobs  []string `json:"layer_globs"`
}

// ProcAnnounceRequest is the payload for OpProcAnnounce.
type ProcAnnounceRequest struct {
	PID        int    `json:"pid"`
	ProgramTag string `json:"program_tag"`
}

// FlowAcceptRequest is the payload for OpFlowAccept.
type FlowAcceptRequest struct {
	PID        int   `json:"pid"`
	TimeoutSec int64 `json:"timeout_sec"`
}

// FlowAcceptReply is the payload for OpFlowAccept's reply.
type FlowAcceptReply struct {
	PortID  int `json:"port_id"`
	IPCPPID int `json:"ipcp_pid"`
	QoSCube int `json:"qos_cube"`
}

// FlowAllocRequest is the payload for OpFlowAlloc.
type FlowAllocRequest struct {
	PID        int    `json:"pid"`
	DstName    string `json:"dst_name"`
	QoSCube    int    `json:"qos_cube"`
	TimeoutSec int64  `json:"timeout_sec"`
}

// FlowAllocReply is the payload for OpFlowAlloc's reply.
type FlowAllocReply struct {
	PortID int `json:"port_id"`
}

// FlowDeallocRequest is the payload for OpFlowDealloc.
type FlowDeallocRequest struct {
	PID    int `json:"pid"`
	PortID int `json:"port_id"`
}

// IPCPFlowReqArrRequest is the payload for OpIPCPFlowReqArr.
type IPCPFlowReqArrRequest struct {
	PID     int    `json:"pid"`
	Hash    string `json:"hash"`
	QoSCube int    `json:"qos_cube"`
}

// IPCPFlowReqArrReply is the payload for OpIPCPFlowReqArr's reply.
type IPCPFlowReqArrReply struct {
	PortID    int `json:"port_id"`
	ServerPID int `json:"server_pid"`
}

// IPCPFlowAllocReplyRequest is the payload for OpIPCPFlowAllocReply.
type IPCPFlowAllocReplyRequest struct {
	PortID   int `json:"port_id"`
	Response int `json:"response"`
}

// Payload types for the per-IPCP control socket.

// BootstrapRequest is the payload for an IPCP's bootstrap operation.
type BootstrapRequest struct {
	Config map[string]any `json:"config"`
}

// EnrollRequest is the payload for an IPCP's enroll operation.
type EnrollRequest struct {
	DstLayer string `json:"dst_layer"`
}

// RegisterRequest is the payload for an IPCP's register/unregister
// operations.
type RegisterRequest struct {
	Hashes []string `json:"hashes"`
}

// IPCPFlowAllocRequest is the payload for an IPCP's flow_alloc operation.
type IPCPFlowAllocRequest struct {
	PortID  int    `json:"port_id"`
	NPid    int    `json:"n_pid"`
	DstHash string `json:"dst_hash"`
	QoSCube int    `json:"qos_cube"`
}

// IPCPFlowAllocRespRequest is the payload for an IPCP's flow_alloc_resp
// operation.
type IPCPFlowAllocRespRequest struct {
	PortID   int `json:"port_id"`
	NPid     int `json:"n_pid"`
	Response int `json:"response"`
}

// IPCPFlowDeallocRequest is the payload for an IPCP's flow_dealloc
// operation.
type IPCPFlowDeallocRequest struct {
	PortID int `json:"port_id"`
}

// QueryRequest is the payload for an IPCP's query operation.
type QueryRequest struct {
	Hash string `json:"hash"`
}

// QueryReply is the payload for an IPCP's query reply: Result is 0 iff
// the hash is reachable in this layer.
type QueryReply struct {
	Result int `json:"result"`
}
