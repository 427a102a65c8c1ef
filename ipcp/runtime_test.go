package ipcp

import (
	"testing"

	"irmd-go/ring"
)

// fakeVariant records calls for assertions without involving a real
// transport.
type fakeVariant struct {
	Unsupported
	bootstrapped bool
	registered   []string
	allocErr     error
}

func (f *fakeVariant) Bootstrap(map[string]any) error {
	f.bootstrapped = true
	return nil
}

func (f *fakeVariant) Register(hashes []string) error {
	f.registered = append(f.registered, hashes...)
	return nil
}

func (f *fakeVariant) Unregister(hashes []string) error {
	return nil
}

func (f *fakeVariant) FlowAlloc(portID, nPid int, dstHash string, qos int) error {
	return f.allocErr
}

func newTestRuntime(t *testing.T, variant *fakeVariant) *Runtime {
	t.Helper()
	pool, err := ring.NewPool(8, 256)
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return New(1234, "test-ipcp", pool, nil, func(*Runtime) Variant { return variant })
}

func TestRuntime_BootstrapEntersEnrolled(t *testing.T) {
	rt := newTestRuntime(t, &fakeVariant{})
	if rt.State() != StateInit {
		t.Fatalf("initial state = %v, want StateInit", rt.State())
	}
	if err := rt.Bootstrap(map[string]any{"layer": "l0"}); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	if rt.State() != StateEnrolled {
		t.Errorf("state after bootstrap = %v, want StateEnrolled", rt.State())
	}
}

func TestRuntime_RegisterTracksHashesAndQuery(t *testing.T) {
	rt := newTestRuntime(t, &fakeVariant{})
	if err := rt.Register([]string{"h1", "h2"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if !rt.Query("h1") {
		t.Error("Query(h1) = false, want true after Register")
	}
	if rt.Query("unknown") {
		t.Error("Query(unknown) = true, want false")
	}
	if err := rt.Unregister([]string{"h1"}); err != nil {
		t.Fatalf("Unregister() error = %v", err)
	}
	if rt.Query("h1") {
		t.Error("Query(h1) = true after Unregister, want false")
	}
}

func TestRuntime_FlowAllocFailureDropsPendingEntry(t *testing.T) {
	rt := newTestRuntime(t, &fakeVariant{allocErr: errUnsupported("flow_alloc")})
	err := rt.FlowAlloc(1, 100, "hash", 0)
	if err == nil {
		t.Fatal("FlowAlloc() error = nil, want failure")
	}
	if got := rt.FlowState(1); got != FlowNull {
		t.Errorf("FlowState(1) = %v after failed alloc, want FlowNull", got)
	}
}

func TestRuntime_FlowAllocRespCompletesOrTearsDown(t *testing.T) {
	rt := newTestRuntime(t, &fakeVariant{})
	if err := rt.FlowAlloc(1, 100, "hash", 0); err != nil {
		t.Fatalf("FlowAlloc() error = %v", err)
	}
	if got := rt.FlowState(1); got != FlowPending {
		t.Fatalf("FlowState(1) = %v, want FlowPending", got)
	}

	if err := rt.FlowAllocResp(1, 100, 0); err != nil {
		t.Fatalf("FlowAllocResp() error = %v", err)
	}
	if got := rt.FlowState(1); got != FlowAllocated {
		t.Errorf("FlowState(1) = %v after success response, want FlowAllocated", got)
	}
}

func TestRuntime_ShutdownRejectsFurtherOps(t *testing.T) {
	rt := newTestRuntime(t, &fakeVariant{})
	rt.Shutdown()
	if err := rt.requireLive(); err == nil {
		t.Error("requireLive() = nil after Shutdown, want error")
	}
}

func TestRuntime_RingLazyCreateAndShare(t *testing.T) {
	rt := newTestRuntime(t, &fakeVariant{})
	r1 := rt.Ring(7, 16)
	r2 := rt.Ring(7, 16)
	if r1 != r2 {
		t.Error("Ring(7) returned different instances on repeat calls")
	}
}
