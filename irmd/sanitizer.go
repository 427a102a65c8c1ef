package irmd

import (
	"context"
	"time"

	"golang.org/x/sys/unix"

	"irmd-go/notifier"
)

// alive reports whether pid still exists, via the kill(pid, 0) liveness
// probe the source uses (no signal is actually delivered).
func alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return unix.Kill(pid, 0) == nil
}

// sanitizeLoop runs the IRM sanitiser on cleanupTimer, until ctx is done.
func (d *Daemon) sanitizeLoop(ctx context.Context) {
	ticker := time.NewTicker(d.cleanupTimer)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.reapDead()
			d.ageAllocPending()
		}
	}
}

// reapDead evicts process, IPCP, and per-name process entries whose
// kill(pid, 0) probe fails, and force-completes any flow whose remaining
// endpoint is confirmed dead. This is kept as a distinct pass from
// ageAllocPending, matching the source's separate log conditions for
// each.
func (d *Daemon) reapDead() {
	d.regMu.Lock()
	for pid, ipcp := range d.ipcps {
		if ipcp.Lifecycle == IPCPDead || !alive(pid) {
			ipcp.Lifecycle = IPCPDead
			delete(d.ipcps, pid)
			d.bus.Publish(notifier.EventIPCPDied, pid)
		}
	}
	for pid := range d.processes {
		if !alive(pid) {
			delete(d.processes, pid)
			d.bus.Publish(notifier.EventProcessDied, pid)
		}
	}
	for name, entry := range d.registry {
		if entry.ProcessPID != 0 && !alive(entry.ProcessPID) {
			entry.ProcessPID = 0
			if entry.State == RegFlowAccept || entry.State == RegFlowArrived {
				entry.State = RegIdle
			}
			_ = name
		}
	}
	d.regMu.Unlock()

	d.flowsMu.Lock()
	for portID, flow := range d.flows {
		nDead := !alive(flow.NPid)
		n1Dead := !alive(flow.N1Pid)
		if flow.State == FlowDeallocPending && (nDead || n1Dead) {
			flow.State = FlowNull
			delete(d.flows, portID)
			d.ports.Free(portID)
			d.bus.Publish(notifier.EventFlowDealloc, portID)
		}
	}
	d.flowsCond.Broadcast()
	d.flowsMu.Unlock()
}

// ageAllocPending moves alloc-pending flows older than flowTimeout into
// dealloc-pending, rather than leaving them dangling forever when a
// reply never arrives.
func (d *Daemon) ageAllocPending() {
	d.flowsMu.Lock()
	defer d.flowsMu.Unlock()

	now := time.Now()
	for _, flow := range d.flows {
		if flow.State == FlowAllocPending && now.Sub(flow.T0) > d.flowTimeout {
			flow.State = FlowDeallocPending
		}
	}
	d.flowsCond.Broadcast()
}
