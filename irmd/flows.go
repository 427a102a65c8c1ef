package irmd

import (
	"time"

	ferrors "irmd-go/errors"
	"irmd-go/notifier"
)

// arrival is the handoff record written by ipcp_flow_req_arr (or its
// synthetic caller in tests/client code) to wake a process parked in
// flow_accept.
type arrival struct {
	portID  int
	ipcpPID int
	qosCube int
}

// Selector selects the IPCP that should serve an outgoing flow to name,
// implementing the "name selection for outgoing flow" rule: iterate
// ascending type order, skip the caller's own IPCP, query each, return
// the first that reports known.
type Selector interface {
	// Query reports whether pid's IPCP knows how to reach hash.
	Query(pid int, hash string) bool
}

// FlowAlloc implements the request side of flow allocation: atomically
// allocate a port id, insert alloc-pending, call the chosen IPCP, then
// block until allocated or the deadline passes.
func (d *Daemon) FlowAlloc(pid int, dstName string, qos int, timeout time.Duration, sel Selector, allocFn func(ipcpPID, portID int, dstName string, qos int) error) (int, error) {
	if err := d.requireRunning(); err != nil {
		return 0, err
	}

	hash, err := d.dir.Hash(dstName)
	if err != nil {
		return 0, err
	}

	ipcpPID, err := d.selectIPCP(pid, hash.String(), sel)
	if err != nil {
		return 0, err
	}

	portID, err := d.ports.Alloc()
	if err != nil {
		return 0, err
	}

	flow := &IRMFlow{
		PortID:  portID,
		NPid:    pid,
		N1Pid:   ipcpPID,
		QoSCube: qos,
		State:   FlowAllocPending,
		T0:      time.Now(),
		DstName: dstName,
	}

	d.flowsMu.Lock()
	d.flows[portID] = flow
	d.flowsMu.Unlock()

	if err := allocFn(ipcpPID, portID, dstName, qos); err != nil {
		d.flowsMu.Lock()
		delete(d.flows, portID)
		d.flowsMu.Unlock()
		d.ports.Free(portID)
		return 0, ferrors.Wrap(err, ferrors.EAGAIN, "flow_alloc")
	}

	state, err := d.waitFlowState(portID, timeout, func(s FlowState) bool {
		return s == FlowAllocated || s == FlowNull
	})
	if err != nil {
		d.flowsMu.Lock()
		delete(d.flows, portID)
		d.flowsMu.Unlock()
		d.ports.Free(portID)
		return 0, err
	}

	if state == FlowNull {
		return 0, ferrors.New(ferrors.EPIPE, "flow_alloc", "peer rejected flow")
	}

	d.bus.Publish(notifier.EventFlowAlloc, portID)
	return portID, nil
}

func (d *Daemon) selectIPCP(callerPID int, hash string, sel Selector) (int, error) {
	d.regMu.Lock()
	candidates := make([]*IPCPEntry, 0, len(d.ipcps))
	for _, ipcp := range d.ipcps {
		if ipcp.PID == callerPID || ipcp.Lifecycle != IPCPLive {
			continue
		}
		candidates = append(candidates, ipcp)
	}
	d.regMu.Unlock()

	// Ascending type order: locals first, normals last, shims between.
	order := func(t IPCPType) int {
		switch t {
		case IPCPLocal:
			return 0
		case IPCPShimUDP, IPCPShimEthLLC:
			return 1
		case IPCPNormal:
			return 2
		default:
			return 3
		}
	}
	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			if order(candidates[j].Type) < order(candidates[i].Type) {
				candidates[i], candidates[j] = candidates[j], candidates[i]
			}
		}
	}

	for _, ipcp := range candidates {
		if sel.Query(ipcp.PID, hash) {
			return ipcp.PID, nil
		}
	}
	return 0, ferrors.New(ferrors.EAGAIN, "flow_alloc", "no ipcp reports the destination reachable")
}

// FlowAccept implements flow_accept: the caller sleeps until an arrival
// is posted for pid (or the deadline passes), then checks that the
// arrival's flow still exists and is neither dealloc-pending nor null (a
// racing dealloc wins the tie and the acceptor fails with
// ErrFlowNotOwned).
func (d *Daemon) FlowAccept(pid int, timeout time.Duration) (portID, ipcpPID, qos int, err error) {
	if err := d.requireRunning(); err != nil {
		return 0, 0, 0, err
	}

	deadline := time.Now().Add(timeout)

	d.acceptMu.Lock()
	for {
		if a, ok := d.arrivals[pid]; ok {
			delete(d.arrivals, pid)
			d.acceptMu.Unlock()

			d.flowsMu.Lock()
			flow, exists := d.flows[a.portID]
			if !exists || flow.State == FlowDeallocPending || flow.State == FlowNull {
				d.flowsMu.Unlock()
				return 0, 0, 0, ferrors.ErrFlowNotOwned
			}
			flow.State = FlowAllocated
			d.flowsCond.Broadcast()
			d.flowsMu.Unlock()

			return a.portID, a.ipcpPID, a.qosCube, nil
		}

		if d.isShuttingDown() {
			d.acceptMu.Unlock()
			return 0, 0, 0, ferrors.ErrShuttingDown
		}
		if time.Now().After(deadline) {
			d.acceptMu.Unlock()
			return 0, 0, 0, ferrors.ErrFlowAcceptTimeout
		}

		waitUntil(&d.acceptMu, d.acceptCond, deadline)
	}
}

// ipcpFlowReqArr implements the arrival side: IRMd allocates a port id,
// inserts alloc-pending, and wakes (or schedules the spawn of) the
// listening process for name.
//
// The tie-break rule ("flow-arrived blocks concurrent arrivals") is
// enforced by the registry entry's state: a second arrival for a name
// still in flow-arrived fails with ErrNoProcesses; it does not fall back
// to auto-exec, even when a program is bound.
func (d *Daemon) ipcpFlowReqArr(ipcpPID int, name string, qos int, spawn func(argv []string) (int, error)) (portID, serverPID int, err error) {
	d.regMu.Lock()
	entry, ok := d.registry[name]
	if !ok {
		d.regMu.Unlock()
		return 0, 0, ferrors.ErrNameNotFound
	}

	switch entry.State {
	case RegFlowAccept:
		serverPID = entry.ProcessPID
		entry.State = RegFlowArrived
	case RegAutoAccept:
		if spawn == nil {
			d.regMu.Unlock()
			return 0, 0, ferrors.ErrNoProcesses
		}
		argv := entry.ProgramArgv
		entry.State = RegAutoExec
		d.regMu.Unlock()

		serverPID, err = spawn(argv)
		if err != nil {
			d.regMu.Lock()
			entry.State = RegAutoAccept
			d.regMu.Unlock()
			return 0, 0, ferrors.Wrap(err, ferrors.EAGAIN, "ipcp_flow_req_arr")
		}

		d.regMu.Lock()
		entry.State = RegFlowArrived
	case RegFlowArrived:
		d.regMu.Unlock()
		return 0, 0, ferrors.ErrNoProcesses
	default:
		d.regMu.Unlock()
		return 0, 0, ferrors.ErrNoProcesses
	}
	entry.ProcessPID = serverPID
	d.regMu.Unlock()

	portID, err = d.ports.Alloc()
	if err != nil {
		return 0, 0, err
	}

	flow := &IRMFlow{
		PortID:  portID,
		NPid:    serverPID,
		N1Pid:   ipcpPID,
		QoSCube: qos,
		State:   FlowAllocPending,
		T0:      time.Now(),
		DstName: name,
	}
	d.flowsMu.Lock()
	d.flows[portID] = flow
	d.flowsMu.Unlock()

	d.acceptMu.Lock()
	d.arrivals[serverPID] = &arrival{portID: portID, ipcpPID: ipcpPID, qosCube: qos}
	d.acceptCond.Broadcast()
	d.acceptMu.Unlock()

	d.regMu.Lock()
	entry.State = RegIdle
	d.regMu.Unlock()

	return portID, serverPID, nil
}

// IPCPFlowReqArr is the name-addressed entry point to the arrival side,
// used by the unit tests. The control socket dispatches through
// IPCPFlowReqArrByHash instead, since an arriving IPCP only ever carries
// a hash.
func (d *Daemon) IPCPFlowReqArr(ipcpPID int, name string, qos int, spawn func(argv []string) (int, error)) (portID, serverPID int, err error) {
	return d.ipcpFlowReqArr(ipcpPID, name, qos, spawn)
}

// IPCPFlowReqArrByHash is the hash-addressed counterpart called from the
// control socket's ipcp_flow_req_arr dispatch.
func (d *Daemon) IPCPFlowReqArrByHash(ipcpPID int, hash string, qos int, spawn func(argv []string) (int, error)) (portID, serverPID int, err error) {
	name, ok := d.nameByHash(hash)
	if !ok {
		return 0, 0, ferrors.ErrNameNotFound
	}
	return d.ipcpFlowReqArr(ipcpPID, name, qos, spawn)
}

// IPCPFlowAllocReply drives the reply side: the remote IPCP's flow_alloc
// completion reports 0 (allocated) or non-0 (rejected, -> null).
func (d *Daemon) IPCPFlowAllocReply(portID, response int) error {
	d.flowsMu.Lock()
	defer d.flowsMu.Unlock()

	flow, ok := d.flows[portID]
	if !ok {
		return ferrors.ErrFlowNotFound
	}

	if response == 0 {
		flow.State = FlowAllocated
	} else {
		flow.State = FlowNull
		delete(d.flows, portID)
		d.ports.Free(portID)
	}
	d.flowsCond.Broadcast()
	return nil
}

// FlowDealloc implements the two-phase deallocation: the first call from
// either endpoint marks that side as deallocated and moves alloc-pending
// or allocated -> dealloc-pending; the call from the other endpoint
// removes the entry and returns the port id to the bitmap.
func (d *Daemon) FlowDealloc(pid, portID int) error {
	d.flowsMu.Lock()
	defer d.flowsMu.Unlock()

	flow, ok := d.flows[portID]
	if !ok {
		return ferrors.ErrFlowNotFound
	}
	if flow.NPid != pid && flow.N1Pid != pid {
		return ferrors.ErrFlowNotOwned
	}

	if flow.NPid == pid {
		flow.NDeallocated = true
	}
	if flow.N1Pid == pid {
		flow.N1Deallocated = true
	}

	if flow.State == FlowAllocPending || flow.State == FlowAllocated {
		flow.State = FlowDeallocPending
	}

	if flow.NDeallocated && flow.N1Deallocated {
		flow.State = FlowNull
		delete(d.flows, portID)
		d.ports.Free(portID)
		d.bus.Publish(notifier.EventFlowDealloc, portID)
	}

	d.flowsCond.Broadcast()
	return nil
}

// FlowState returns the current state of portID's flow, for diagnostics
// and tests.
func (d *Daemon) FlowState(portID int) (FlowState, bool) {
	d.flowsMu.Lock()
	defer d.flowsMu.Unlock()
	flow, ok := d.flows[portID]
	if !ok {
		return FlowNull, false
	}
	return flow.State, true
}

// waitFlowState blocks until until(state) is true or timeout elapses.
func (d *Daemon) waitFlowState(portID int, timeout time.Duration, until func(FlowState) bool) (FlowState, error) {
	deadline := time.Now().Add(timeout)

	d.flowsMu.Lock()
	defer d.flowsMu.Unlock()

	for {
		flow, ok := d.flows[portID]
		if !ok {
			// A flow leaves the table when it becomes null (a rejected
			// reply or a completed dealloc), so report it as null.
			if until(FlowNull) {
				return FlowNull, nil
			}
			return FlowNull, ferrors.ErrFlowNotFound
		}
		if until(flow.State) {
			return flow.State, nil
		}
		if d.state == stateShuttingDown {
			return flow.State, ferrors.ErrShuttingDown
		}
		if time.Now().After(deadline) {
			return flow.State, ferrors.ErrFlowAllocTimeout
		}
		waitUntil(&d.flowsMu, d.flowsCond, deadline)
	}
}
