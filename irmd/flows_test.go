package irmd

import (
	"testing"
	"time"

	ferrors "irmd-go/errors"
)

type fakeSelector struct {
	known map[int]bool
}

func (s *fakeSelector) Query(pid int, hash string) bool {
	return s.known[pid]
}

func newTestDaemon(t *testing.T) *Daemon {
	t.Helper()
	return New(Config{MaxFlows: 64, CleanupTimer: time.Hour, FlowTimeout: time.Hour})
}

func registerLiveIPCP(d *Daemon, pid int, typ IPCPType, layer string) {
	d.regMu.Lock()
	d.ipcps[pid] = &IPCPEntry{PID: pid, Name: "ipcp", Type: typ, Lifecycle: IPCPLive, Layer: layer}
	d.regMu.Unlock()
}

func TestFlowAlloc_SucceedsWhenIPCPReportsKnown(t *testing.T) {
	d := newTestDaemon(t)
	registerLiveIPCP(d, 100, IPCPLocal, "loopback")

	sel := &fakeSelector{known: map[int]bool{100: true}}

	called := make(chan int, 1)
	allocFn := func(ipcpPID, portID int, dstName string, qos int) error {
		called <- portID
		go func() {
			time.Sleep(5 * time.Millisecond)
			_ = d.IPCPFlowAllocReply(portID, 0)
		}()
		return nil
	}

	portID, err := d.FlowAlloc(1, "example.app", 1, time.Second, sel, allocFn)
	if err != nil {
		t.Fatalf("FlowAlloc() error = %v", err)
	}
	if portID != <-called {
		t.Error("allocFn was not called with the allocated port id")
	}

	state, ok := d.FlowState(portID)
	if !ok || state != FlowAllocated {
		t.Errorf("expected FlowAllocated, got %v (ok=%v)", state, ok)
	}
}

func TestFlowAlloc_NoIPCPKnownFails(t *testing.T) {
	d := newTestDaemon(t)
	registerLiveIPCP(d, 100, IPCPLocal, "loopback")

	sel := &fakeSelector{known: map[int]bool{}}

	_, err := d.FlowAlloc(1, "nowhere", 1, 50*time.Millisecond, sel, func(int, int, string, int) error {
		t.Fatal("allocFn should not be called when no IPCP matches")
		return nil
	})
	if !ferrors.IsKind(err, ferrors.EAGAIN) {
		t.Errorf("expected EAGAIN, got %v", err)
	}
}

func TestFlowAlloc_RejectedByPeerReturnsNull(t *testing.T) {
	d := newTestDaemon(t)
	registerLiveIPCP(d, 100, IPCPLocal, "loopback")
	sel := &fakeSelector{known: map[int]bool{100: true}}

	allocFn := func(ipcpPID, portID int, dstName string, qos int) error {
		go func() {
			time.Sleep(5 * time.Millisecond)
			_ = d.IPCPFlowAllocReply(portID, -1)
		}()
		return nil
	}

	_, err := d.FlowAlloc(1, "example.app", 1, time.Second, sel, allocFn)
	if !ferrors.IsKind(err, ferrors.EPIPE) {
		t.Errorf("expected EPIPE for rejected flow, got %v", err)
	}
}

func TestFlowAlloc_TimeoutReleasesPortID(t *testing.T) {
	d := newTestDaemon(t)
	registerLiveIPCP(d, 100, IPCPLocal, "loopback")
	sel := &fakeSelector{known: map[int]bool{100: true}}

	var allocatedPort int
	_, err := d.FlowAlloc(1, "timeout.app", 1, 30*time.Millisecond, sel, func(_, portID int, _ string, _ int) error {
		allocatedPort = portID
		return nil // never replies
	})
	if !ferrors.IsKind(err, ferrors.ETIMEDOUT) {
		t.Errorf("expected ETIMEDOUT, got %v", err)
	}
	if d.ports.InUse(allocatedPort) {
		t.Error("expected port id to be released after timeout")
	}
}

func TestFlowAccept_ArrivalWakesAcceptor(t *testing.T) {
	d := newTestDaemon(t)

	d.regMu.Lock()
	d.registry["svc"] = &RegistryEntry{Name: "svc", State: RegFlowAccept, ProcessPID: 55}
	d.regMu.Unlock()

	go func() {
		time.Sleep(10 * time.Millisecond)
		_, _, err := d.IPCPFlowReqArr(100, "svc", 2, nil)
		if err != nil {
			t.Errorf("IPCPFlowReqArr() error = %v", err)
		}
	}()

	portID, ipcpPID, qos, err := d.FlowAccept(55, time.Second)
	if err != nil {
		t.Fatalf("FlowAccept() error = %v", err)
	}
	if ipcpPID != 100 || qos != 2 {
		t.Errorf("unexpected arrival: ipcpPID=%d qos=%d", ipcpPID, qos)
	}

	state, ok := d.FlowState(portID)
	if !ok || state != FlowAllocated {
		t.Errorf("expected flow allocated after accept, got %v", state)
	}
}

func TestFlowAccept_TimesOutWithNoArrival(t *testing.T) {
	d := newTestDaemon(t)
	_, _, _, err := d.FlowAccept(7, 30*time.Millisecond)
	if !ferrors.IsKind(err, ferrors.ETIMEDOUT) {
		t.Errorf("expected ETIMEDOUT, got %v", err)
	}
}

func TestFlowDealloc_TwoPhaseReleasesPortOnSecondCall(t *testing.T) {
	d := newTestDaemon(t)

	portID, err := d.ports.Alloc()
	if err != nil {
		t.Fatal(err)
	}
	d.flowsMu.Lock()
	d.flows[portID] = &IRMFlow{PortID: portID, NPid: 1, N1Pid: 2, State: FlowAllocated}
	d.flowsMu.Unlock()

	if err := d.FlowDealloc(1, portID); err != nil {
		t.Fatalf("first FlowDealloc() error = %v", err)
	}
	state, ok := d.FlowState(portID)
	if !ok || state != FlowDeallocPending {
		t.Fatalf("expected dealloc-pending after first call, got %v", state)
	}

	if err := d.FlowDealloc(2, portID); err != nil {
		t.Fatalf("second FlowDealloc() error = %v", err)
	}
	if _, ok := d.FlowState(portID); ok {
		t.Error("expected flow removed after second dealloc")
	}
	if d.ports.InUse(portID) {
		t.Error("expected port id freed after second dealloc")
	}
}

func TestFlowDealloc_RejectsNonOwner(t *testing.T) {
	d := newTestDaemon(t)
	portID, _ := d.ports.Alloc()
	d.flowsMu.Lock()
	d.flows[portID] = &IRMFlow{PortID: portID, NPid: 1, N1Pid: 2, State: FlowAllocated}
	d.flowsMu.Unlock()

	err := d.FlowDealloc(999, portID)
	if !ferrors.IsKind(err, ferrors.EPERM) {
		t.Errorf("expected EPERM, got %v", err)
	}
}

func TestIPCPFlowReqArr_SecondArrivalBlockedWhileFlowArrived(t *testing.T) {
	d := newTestDaemon(t)

	d.regMu.Lock()
	d.registry["svc"] = &RegistryEntry{Name: "svc", State: RegFlowArrived, ProcessPID: 1}
	d.regMu.Unlock()

	_, _, err := d.IPCPFlowReqArr(100, "svc", 1, nil)
	if !ferrors.Is(err, ferrors.ErrNoProcesses) {
		t.Errorf("expected ErrNoProcesses for concurrent arrival, got %v", err)
	}
}
