// Package ipcp implements the generic IPC process runtime from spec.md
// §4.2: the per-pid control socket, the state machine every IPCP type
// shares (init/enrolled/shutdown/null), and the port-id-indexed flow
// table. Transport-specific behavior is supplied by a Variant; the
// loopback, shim-udp and shim-eth-llc packages each provide one.
package ipcp

// State is an IPCP's own lifecycle, distinct from IRMd's bookkeeping of
// the same process (irmd.IPCPLifecycle tracks boot/live/dead from the
// outside; State tracks init/enrolled/shutdown/null from the inside).
type State int

const (
	// StateInit is the state immediately after the process starts, before
	// bootstrap or enroll has completed.
	StateInit State = iota
	// StateEnrolled means bootstrap or enroll has succeeded; the IPCP
	// can serve register/flow_alloc/query.
	StateEnrolled
	// StateShutdown means a shutdown signal was observed; loops are
	// draining.
	StateShutdown
	// StateNull means the runtime has fully torn down.
	StateNull
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateEnrolled:
		return "enrolled"
	case StateShutdown:
		return "shutdown"
	case StateNull:
		return "null"
	default:
		return "unknown"
	}
}

// FlowState is a flow-table entry's state, keyed by port id.
type FlowState int

const (
	// FlowNull means no entry exists (the zero value for a missing flow).
	FlowNull FlowState = iota
	// FlowPending means flow_alloc/flow_alloc_resp is in flight.
	FlowPending
	// FlowAllocated means the flow is wired and usable.
	FlowAllocated
)

func (s FlowState) String() string {
	switch s {
	case FlowNull:
		return "null"
	case FlowPending:
		return "pending"
	case FlowAllocated:
		return "allocated"
	default:
		return "unknown"
	}
}

// Flow is one entry in an IPCP's flow table: {state, peer}. A flow's ring
// is kept in the Runtime's ring table, keyed by port id, not here. Peer
// is transport-specific; the variants in this module leave it unset and
// track peers in their own tables (the loopback IPCP's pair map, the
// shims' per-flow sockets or MACs).
type Flow struct {
	State FlowState
	Peer  int
}
