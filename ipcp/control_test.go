package ipcp

import (
	"io"
	"log/slog"
	"testing"

	"irmd-go/proto"
	"irmd-go/ring"
)

func newTestServer(t *testing.T, variant *fakeVariant) *Server {
	t.Helper()
	pool, err := ring.NewPool(8, 256)
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rt := New(1234, "test-ipcp", pool, logger, func(*Runtime) Variant { return variant })
	return NewServer(rt, "")
}

func TestDispatch_BootstrapEntersEnrolled(t *testing.T) {
	srv := newTestServer(t, &fakeVariant{})
	payload, err := proto.MarshalPayload(proto.BootstrapRequest{Config: map[string]any{"layer": "l0"}})
	if err != nil {
		t.Fatalf("MarshalPayload() error = %v", err)
	}

	rep := srv.dispatch(&proto.Message{Op: proto.OpBootstrap, Payload: payload})
	if rep.Result != 0 {
		t.Fatalf("dispatch(bootstrap) Result = %d, want 0", rep.Result)
	}
	if srv.rt.State() != StateEnrolled {
		t.Errorf("state after dispatch(bootstrap) = %v, want StateEnrolled", srv.rt.State())
	}
}

func TestDispatch_RegisterThenQuery(t *testing.T) {
	srv := newTestServer(t, &fakeVariant{})

	regPayload, _ := proto.MarshalPayload(proto.RegisterRequest{Hashes: []string{"h1"}})
	rep := srv.dispatch(&proto.Message{Op: proto.OpRegister, Payload: regPayload})
	if rep.Result != 0 {
		t.Fatalf("dispatch(register) Result = %d, want 0", rep.Result)
	}

	qPayload, _ := proto.MarshalPayload(proto.QueryRequest{Hash: "h1"})
	rep = srv.dispatch(&proto.Message{Op: proto.OpQuery, Payload: qPayload})
	var qReply proto.QueryReply
	if err := proto.UnmarshalPayload(rep.Payload, &qReply); err != nil {
		t.Fatalf("UnmarshalPayload() error = %v", err)
	}
	if qReply.Result != 0 {
		t.Errorf("query(h1) Result = %d, want 0 (reachable)", qReply.Result)
	}

	qPayload, _ = proto.MarshalPayload(proto.QueryRequest{Hash: "unknown"})
	rep = srv.dispatch(&proto.Message{Op: proto.OpQuery, Payload: qPayload})
	if err := proto.UnmarshalPayload(rep.Payload, &qReply); err != nil {
		t.Fatalf("UnmarshalPayload() error = %v", err)
	}
	if qReply.Result == 0 {
		t.Error("query(unknown) Result = 0, want non-zero (unreachable)")
	}
}

func TestDispatch_RejectsOnceShutdown(t *testing.T) {
	srv := newTestServer(t, &fakeVariant{})
	srv.rt.Shutdown()

	payload, _ := proto.MarshalPayload(proto.QueryRequest{Hash: "h1"})
	rep := srv.dispatch(&proto.Message{Op: proto.OpQuery, Payload: payload})
	if rep.Result == 0 {
		t.Error("dispatch() after Shutdown Result = 0, want failure")
	}
}

func TestDispatch_UnsupportedOpFails(t *testing.T) {
	srv := newTestServer(t, &fakeVariant{})
	rep := srv.dispatch(&proto.Message{Op: proto.Op("bogus")})
	if rep.Result == 0 {
		t.Error("dispatch(bogus) Result = 0, want failure")
	}
}
