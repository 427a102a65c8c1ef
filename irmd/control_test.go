package irmd

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"irmd-go/proto"
)

func startTestServer(t *testing.T) (*Daemon, string) {
	t.Helper()
	d := New(Config{MaxFlows: 64, CleanupTimer: time.Hour, FlowTimeout: time.Hour})
	sockPath := filepath.Join(t.TempDir(), "irmd.sock")
	srv := NewServer(d, sockPath)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-errCh:
		case <-time.After(time.Second):
		}
	})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if conn, err := net.Dial("unix", sockPath); err == nil {
			conn.Close()
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	return d, sockPath
}

func roundTrip(t *testing.T, sockPath string, msg *proto.Message) *proto.Reply {
	t.Helper()
	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	if err := proto.WriteMessage(conn, msg); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	rep, err := proto.ReadReply(conn)
	if err != nil {
		t.Fatalf("ReadReply() error = %v", err)
	}
	return rep
}

func TestServer_BindProgramRoundTrip(t *testing.T) {
	_, sockPath := startTestServer(t)

	payload, err := proto.MarshalPayload(proto.BindRequest{Name: "svc", Target: "/bin/svc"})
	if err != nil {
		t.Fatal(err)
	}
	rep := roundTrip(t, sockPath, &proto.Message{Op: proto.OpBindProgram, Payload: payload})
	if rep.Result != 0 {
		t.Errorf("expected success, got result %d", rep.Result)
	}
}

func TestServer_ListIPCPsRoundTrip(t *testing.T) {
	d, sockPath := startTestServer(t)
	d.regMu.Lock()
	d.ipcps[1] = &IPCPEntry{PID: 1, Name: "loop0"}
	d.regMu.Unlock()

	payload, err := proto.MarshalPayload(proto.ListIPCPsRequest{Glob: "*"})
	if err != nil {
		t.Fatal(err)
	}
	rep := roundTrip(t, sockPath, &proto.Message{Op: proto.OpListIPCPs, Payload: payload})
	if rep.Result != 0 {
		t.Fatalf("expected success, got result %d", rep.Result)
	}

	var out proto.ListIPCPsReply
	if err := proto.UnmarshalPayload(rep.Payload, &out); err != nil {
		t.Fatal(err)
	}
	if len(out.PIDs) != 1 || out.PIDs[0] != 1 {
		t.Errorf("expected [1], got %v", out.PIDs)
	}
}

func TestServer_FlowAcceptTimeoutReturnsNonZeroResult(t *testing.T) {
	_, sockPath := startTestServer(t)

	payload, err := proto.MarshalPayload(proto.FlowAcceptRequest{PID: 1, TimeoutSec: 0})
	if err != nil {
		t.Fatal(err)
	}

	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	if err := proto.WriteMessage(conn, &proto.Message{Op: proto.OpFlowAccept, Payload: payload}); err != nil {
		t.Fatal(err)
	}
	rep, err := proto.ReadReply(conn)
	if err != nil {
		t.Fatalf("ReadReply() error = %v", err)
	}
	if rep.Result == 0 {
		t.Error("expected a non-zero result for an immediately-expired flow_accept")
	}
}

func TestServer_UnknownOpReturnsError(t *testing.T) {
	_, sockPath := startTestServer(t)
	rep := roundTrip(t, sockPath, &proto.Message{Op: "nonsense_op"})
	if rep.Result == 0 {
		t.Error("expected a non-zero result for an unsupported op")
	}
}

func TestServer_ConcurrentFlowAcceptsDontBlockEachOther(t *testing.T) {
	_, sockPath := startTestServer(t)

	payload, err := proto.MarshalPayload(proto.FlowAcceptRequest{PID: 1, TimeoutSec: 0})
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{}, 3)
	for i := 0; i < 3; i++ {
		go func() {
			roundTrip(t, sockPath, &proto.Message{Op: proto.OpFlowAccept, Payload: payload})
			done <- struct{}{}
		}()
	}

	deadline := time.After(2 * time.Second)
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-deadline:
			t.Fatal("concurrent flow_accept calls did not all complete in time")
		}
	}
}
