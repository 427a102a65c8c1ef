// Package irmd implements the IPC Resource Manager daemon: the
// process-wide registry of names, programs, processes and IPCPs, and the
// flow broker that mediates allocation and deallocation of flows between
// them.
package irmd

import (
	"time"
)

// RegState is the state of a name's registry entry.
type RegState int

const (
	// RegIdle means the name has no active acceptor and no auto-accept
	// program bound.
	RegIdle RegState = iota
	// RegAutoAccept means a program is bound and will be forked on
	// arrival.
	RegAutoAccept
	// RegAutoExec means a program is currently being forked in response
	// to an arrival, and the resulting process hasn't yet announced.
	RegAutoExec
	// RegFlowAccept means a process has announced and is asleep in
	// flow_accept, ready to receive an arrival.
	RegFlowAccept
	// RegFlowArrived means a flow has arrived and is being handed to a
	// woken flow_accept caller.
	RegFlowArrived
	// RegDestroyed marks an entry that Unreg has removed from the
	// registry.
	RegDestroyed
)

func (s RegState) String() string {
	switch s {
	case RegIdle:
		return "idle"
	case RegAutoAccept:
		return "auto-accept"
	case RegAutoExec:
		return "auto-exec"
	case RegFlowAccept:
		return "flow-accept"
	case RegFlowArrived:
		return "flow-arrived"
	case RegDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// IPCPType classifies an IPCP by transport, and also fixes the ascending
// iteration order used for outgoing-flow IPCP selection (locals first,
// normals last, shims in between).
type IPCPType int

const (
	// IPCPLocal is the mandatory loopback shim.
	IPCPLocal IPCPType = iota
	// IPCPShimUDP is the UDP shim.
	IPCPShimUDP
	// IPCPShimEthLLC is the raw-Ethernet LLC shim.
	IPCPShimEthLLC
	// IPCPNormal is a full routing/data-transfer IPCP.
	IPCPNormal
)

func (t IPCPType) String() string {
	switch t {
	case IPCPLocal:
		return "local"
	case IPCPShimUDP:
		return "shim-udp"
	case IPCPShimEthLLC:
		return "shim-eth-llc"
	case IPCPNormal:
		return "normal"
	default:
		return "unknown"
	}
}

// IPCPLifecycle is the IPCP's lifecycle state as tracked by IRMd (distinct
// from the IPCP's own internal state, which it tracks itself).
type IPCPLifecycle int

const (
	// IPCPBooting means create_ipcp forked the child but hasn't yet
	// received its ipcp_create_r.
	IPCPBooting IPCPLifecycle = iota
	// IPCPLive means the IPCP reported ready.
	IPCPLive
	// IPCPDead means the sanitiser reaped it.
	IPCPDead
)

// IPCPEntry is IRMd's record of a spawned IPCP process.
type IPCPEntry struct {
	PID       int
	Name      string
	Type      IPCPType
	Lifecycle IPCPLifecycle
	Layer     string
	HashAlgo  string
	SockPath  string
}

// ProgramEntry binds a program's argv to one or more registry names so
// IRMd can auto-exec it on an inbound flow arrival.
type ProgramEntry struct {
	Name string
	Argv []string
}

// ProcessEntry is a process that has called proc_announce: a consumer
// (or producer) of names bound via bind_process/auto-exec.
type ProcessEntry struct {
	PID        int
	ProgramTag string
	Names      map[string]struct{}
}

// RegistryEntry is the per-name state machine: who can serve this name
// (a bound program/process) and what state that binding is in.
type RegistryEntry struct {
	Name        string
	State       RegState
	ProcessPID  int    // pid currently parked in flow_accept, if any
	ProgramArgv []string
	LayerGlobs  []string
}

// FlowState is an IRM flow's lifecycle state.
type FlowState int

const (
	// FlowAllocPending means flow_alloc has been issued but not yet
	// confirmed by the serving IPCP.
	FlowAllocPending FlowState = iota
	// FlowAllocated means the flow is usable.
	FlowAllocated
	// FlowDeallocPending means one side has deallocated; resources are
	// retained until the other side also deallocates or the sanitiser
	// reclaims it.
	FlowDeallocPending
	// FlowNull means the flow no longer exists; its port id has been
	// returned to the bitmap.
	FlowNull
)

func (s FlowState) String() string {
	switch s {
	case FlowAllocPending:
		return "alloc-pending"
	case FlowAllocated:
		return "allocated"
	case FlowDeallocPending:
		return "dealloc-pending"
	case FlowNull:
		return "null"
	default:
		return "unknown"
	}
}

// IRMFlow is IRMd's record of one flow, keyed by port id. At most one
// IRMFlow exists per port id at any time; the port id returns to the
// bitmap exactly when State transitions to FlowNull.
type IRMFlow struct {
	PortID   int
	NPid     int // the requesting/accepting application process
	N1Pid    int // the serving IPCP process
	QoSCube  int
	State    FlowState
	T0       time.Time
	DstName  string

	// NDeallocated/N1Deallocated record which side(s) have called
	// flow_dealloc, implementing the two-phase "partial -> full"
	// deallocation spec.md §4.3 describes.
	NDeallocated  bool
	N1Deallocated bool
}
