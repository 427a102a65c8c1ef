package ipcp

import (
	"log/slog"
	"sync"

	ferrors "irmd-go/errors"
	"irmd-go/ring"
)

// ArrivalFunc requests that IRMd run the arrival side of flow allocation
// for hash (ipcp_flow_req_arr), returning the arrival-side port id and
// the serving process's pid. It is how a Variant's FlowAlloc reaches back
// into IRMd when the serving endpoint lives behind the same IPCP (the
// loopback shim always does; a normal IPCP's remote peer does not).
type ArrivalFunc func(hash string, qos int) (portID, serverPID int, err error)

// Runtime is the generic IPCP process described by spec.md §4.2: a state
// machine, a local hash registry, and a port-id-indexed flow table,
// shared by every IPCP type. Transport-specific behavior is delegated to
// a Variant.
type Runtime struct {
	mu    sync.RWMutex
	state State
	pid   int
	name  string

	variant Variant

	flowMu sync.RWMutex
	flows  map[int]*Flow
	rings  map[int]*ring.Ring // one ring per port id, shared rx/tx for simplicity

	hashMu sync.Mutex
	hashes map[string]struct{}

	pool   *ring.Pool
	logger *slog.Logger
}

// New creates a Runtime for the process with the given pid and name. The
// variant is constructed by newVariant, which receives the Runtime itself
// so it can register flows and resolve rings (Local needs this to pair
// two port ids' rings together).
func New(pid int, name string, pool *ring.Pool, logger *slog.Logger, newVariant func(*Runtime) Variant) *Runtime {
	rt := &Runtime{
		pid:    pid,
		name:   name,
		flows:  make(map[int]*Flow),
		rings:  make(map[int]*ring.Ring),
		hashes: make(map[string]struct{}),
		pool:   pool,
		logger: logger,
	}
	rt.variant = newVariant(rt)
	return rt
}

// PID returns the runtime's own process id.
func (r *Runtime) PID() int { return r.pid }

// Name returns the IPCP's registered name.
func (r *Runtime) Name() string { return r.name }

// State returns the runtime's current lifecycle state.
func (r *Runtime) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *Runtime) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Bootstrap enters the enrolled state for shims (acquiring transport
// resources) or initialises routing/DTP for normals.
func (r *Runtime) Bootstrap(config map[string]any) error {
	if err := r.variant.Bootstrap(config); err != nil {
		return err
	}
	r.setState(StateEnrolled)
	return nil
}

// Enroll exchanges with a remote layer member and, on success, enters
// enrolled state.
func (r *Runtime) Enroll(dstLayer string) error {
	if err := r.variant.Enroll(dstLayer); err != nil {
		return err
	}
	r.setState(StateEnrolled)
	return nil
}

// Register adds hashes to the local directory.
func (r *Runtime) Register(hashes []string) error {
	if err := r.variant.Register(hashes); err != nil {
		return err
	}
	r.hashMu.Lock()
	for _, h := range hashes {
		r.hashes[h] = struct{}{}
	}
	r.hashMu.Unlock()
	return nil
}

// Unregister removes hashes from the local directory.
func (r *Runtime) Unregister(hashes []string) error {
	if err := r.variant.Unregister(hashes); err != nil {
		return err
	}
	r.hashMu.Lock()
	for _, h := range hashes {
		delete(r.hashes, h)
	}
	r.hashMu.Unlock()
	return nil
}

// Query reports whether hash is in the local directory.
func (r *Runtime) Query(hash string) bool {
	r.hashMu.Lock()
	_, ok := r.hashes[hash]
	r.hashMu.Unlock()
	if ok {
		return true
	}
	known, _ := r.variant.Query(hash)
	return known
}

// FlowAlloc starts allocation of portID on behalf of application nPid,
// transport-specific to dstHash. On success a pending Flow entry exists;
// the Variant is responsible for driving the arrival side (directly, for
// a loopback; over the wire, for a shim).
func (r *Runtime) FlowAlloc(portID, nPid int, dstHash string, qos int) error {
	r.flowMu.Lock()
	r.flows[portID] = &Flow{State: FlowPending}
	r.flowMu.Unlock()

	if err := r.variant.FlowAlloc(portID, nPid, dstHash, qos); err != nil {
		r.flowMu.Lock()
		delete(r.flows, portID)
		r.flowMu.Unlock()
		return err
	}
	return nil
}

// FlowAllocResp completes a pending arrival (response == 0) or tears down
// the half-built flow (response != 0).
func (r *Runtime) FlowAllocResp(portID, nPid, response int) error {
	err := r.variant.FlowAllocResp(portID, nPid, response)

	r.flowMu.Lock()
	if response == 0 {
		if f, ok := r.flows[portID]; ok {
			f.State = FlowAllocated
		}
	} else {
		delete(r.flows, portID)
		delete(r.rings, portID)
	}
	r.flowMu.Unlock()

	return err
}

// FlowDealloc tears down the local half of portID.
func (r *Runtime) FlowDealloc(portID int) error {
	err := r.variant.FlowDealloc(portID)

	r.flowMu.Lock()
	delete(r.flows, portID)
	delete(r.rings, portID)
	r.flowMu.Unlock()

	return err
}

// FlowState reports the flow-table state for portID, for diagnostics and
// tests.
func (r *Runtime) FlowState(portID int) FlowState {
	r.flowMu.RLock()
	defer r.flowMu.RUnlock()
	f, ok := r.flows[portID]
	if !ok {
		return FlowNull
	}
	return f.State
}

// Ring returns (creating if necessary) the SPSC ring backing portID's
// data plane. Shared between the rx and tx role since the pool's Entry
// already carries PortID, and a single ring per endpoint is sufficient
// for the loopback data-plane fiber to copy indices between two
// endpoints' rings.
func (r *Runtime) Ring(portID int, capacity int) *ring.Ring {
	r.flowMu.Lock()
	defer r.flowMu.Unlock()
	rg, ok := r.rings[portID]
	if !ok {
		rg = ring.NewRing(capacity)
		r.rings[portID] = rg
	}
	return rg
}

// Pool returns the shared buffer pool backing this runtime's rings.
func (r *Runtime) Pool() *ring.Pool { return r.pool }

// Logger returns the runtime's logger.
func (r *Runtime) Logger() *slog.Logger { return r.logger }

// errShuttingDown is returned by operations invoked after Shutdown.
var errShuttingDown = ferrors.New(ferrors.EIRMD, "ipcp", "runtime is shutting down")

// Shutdown marks the runtime null, rejecting further operations.
func (r *Runtime) Shutdown() {
	r.setState(StateNull)
}

// requireLive returns errShuttingDown once Shutdown has been called.
func (r *Runtime) requireLive() error {
	if r.State() == StateNull {
		return errShuttingDown
	}
	return nil
}
