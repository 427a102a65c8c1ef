package shimethllc

import (
	"net"
	"testing"

	"irmd-go/ipcp"
)

var _ ipcp.Variant = (*ShimEthLLC)(nil)

func newTestShim(t *testing.T, cfg Config) *ShimEthLLC {
	t.Helper()
	return New(cfg)(nil).(*ShimEthLLC)
}

func TestHtons(t *testing.T) {
	// ETH_P_ALL is 0x0003; network byte order puts the high byte first.
	if got := htons(0x0003); got != 0x0300 {
		t.Errorf("htons(0x0003) = %#04x, want 0x0300", got)
	}
	if got := htons(0x1234); got != 0x3412 {
		t.Errorf("htons(0x1234) = %#04x, want 0x3412", got)
	}
}

func TestNextFrameSeq_Increments(t *testing.T) {
	s := newTestShim(t, Config{Iface: "eth0"})
	a := s.nextFrameSeq()
	b := s.nextFrameSeq()
	c := s.nextFrameSeq()
	if !(a < b && b < c) {
		t.Errorf("sequence not strictly increasing: %d, %d, %d", a, b, c)
	}
}

func TestBuildFrame_NoError(t *testing.T) {
	src := net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	dst := net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	frame, err := buildFrame(src, dst, defaultSAP, 1, []byte("flow_req:abc"))
	if err != nil {
		t.Fatalf("buildFrame() error = %v", err)
	}
	if len(frame) == 0 {
		t.Error("buildFrame() returned an empty frame")
	}
}

func TestShimEthLLC_RegisterAndQuery(t *testing.T) {
	s := newTestShim(t, Config{Iface: "eth0"})

	s.mu.Lock()
	s.names["h1"] = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	s.mu.Unlock()

	ok, err := s.Query("h1")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if !ok {
		t.Error("Query(h1) = false, want true for a learned MAC")
	}

	if err := s.Unregister([]string{"h1"}); err != nil {
		t.Fatalf("Unregister() error = %v", err)
	}
	ok, _ = s.Query("h1")
	if ok {
		t.Error("Query(h1) = true after Unregister, want false")
	}
}

func TestShimEthLLC_FlowAllocRequiresBootstrap(t *testing.T) {
	s := newTestShim(t, Config{Iface: "eth0"})
	if err := s.FlowAlloc(1, 100, "dst-hash", 0); err == nil {
		t.Error("FlowAlloc() error = nil before Bootstrap, want failure")
	}
}

func TestShimEthLLC_FlowAllocRespTearsDownOnFailure(t *testing.T) {
	s := newTestShim(t, Config{Iface: "eth0"})
	s.mu.Lock()
	s.flows[1] = &flow{peerMAC: net.HardwareAddr{0x02, 0, 0, 0, 0, 1}, seq: 1}
	s.mu.Unlock()

	if err := s.FlowAllocResp(1, 100, 1); err != nil {
		t.Fatalf("FlowAllocResp() error = %v", err)
	}

	s.mu.Lock()
	_, ok := s.flows[1]
	s.mu.Unlock()
	if ok {
		t.Error("flows[1] still present after a failure response")
	}
}
