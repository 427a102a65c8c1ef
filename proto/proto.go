// Package proto implements the length-prefixed request/reply framing used
// on both of the fabric's UNIX-domain control sockets: IRMd's well-known
// socket and each IPCP's per-pid socket.
//
// Every message is a 4-byte big-endian length prefix followed by that
// many bytes of JSON, encoded with goccy/go-json rather than the
// original's protobuf-style encoding — wire-compatible framing, a
// lighter-weight codec.
package proto

import (
	"encoding/binary"
	"io"

	gojson "github.com/goccy/go-json"

	ferrors "irmd-go/errors"
)

// MaxMessageSize bounds a single message to guard against a malformed
// length prefix causing an unbounded allocation.
const MaxMessageSize = 1 << 20

// Op identifies the operation a Message carries.
type Op string

// IRMd control-socket operations, per the IRMd operations table.
const (
	OpCreateIPCP         Op = "create_ipcp"
	OpIPCPCreateReply    Op = "ipcp_create_r"
	OpDestroyIPCP        Op = "destroy_ipcp"
	OpBootstrapIPCP      Op = "bootstrap_ipcp"
	OpEnrollIPCP         Op = "enroll_ipcp"
	OpBindProgram        Op = "bind_program"
	OpBindProcess        Op = "bind_process"
	OpUnbindProgram      Op = "unbind_program"
	OpUnbindProcess      Op = "unbind_process"
	OpListIPCPs          Op = "list_ipcps"
	OpReg                Op = "reg"
	OpUnreg              Op = "unreg"
	OpProcAnnounce       Op = "proc_announce"
	OpFlowAccept         Op = "flow_accept"
	OpFlowAlloc          Op = "flow_alloc"
	OpFlowDealloc        Op = "flow_dealloc"
	OpIPCPFlowReqArr     Op = "ipcp_flow_req_arr"
	OpIPCPFlowAllocReply Op = "ipcp_flow_alloc_reply"
)

// Per-IPCP control-socket operations.
const (
	OpBootstrap     Op = "bootstrap"
	OpEnroll        Op = "enroll"
	OpRegister      Op = "register"
	OpUnregister    Op = "unregister"
	OpFlowAllocIPCP Op = "flow_alloc"
	OpFlowAllocResp Op = "flow_alloc_resp"
	OpFlowDeallocIPCP Op = "flow_dealloc"
	OpQuery         Op = "query"
)

// Message is the envelope carried on both control sockets: an operation
// code, an optional server-side wait bound, and a JSON payload specific
// to the operation.
type Message struct {
	Op      Op              `json:"op"`
	TimeoSec  int64         `json:"timeo_sec,omitempty"`
	TimeoNsec int64         `json:"timeo_nsec,omitempty"`
	Payload gojson.RawMessage `json:"payload,omitempty"`
}

// Reply is the one-shot response to a Message.
type Reply struct {
	Result  int             `json:"result"`
	Payload gojson.RawMessage `json:"payload,omitempty"`
}

// Marshal encodes v as a Message payload.
func MarshalPayload(v any) (gojson.RawMessage, error) {
	b, err := gojson.Marshal(v)
	if err != nil {
		return nil, ferrors.Wrap(err, ferrors.EINVAL, "proto.MarshalPayload")
	}
	return b, nil
}

// UnmarshalPayload decodes a Message or Reply payload into v.
func UnmarshalPayload(payload gojson.RawMessage, v any) error {
	if len(payload) == 0 {
		return nil
	}
	if err := gojson.Unmarshal(payload, v); err != nil {
		return ferrors.Wrap(err, ferrors.EINVAL, "proto.UnmarshalPayload")
	}
	return nil
}

// WriteMessage writes a length-prefixed Message to w.
func WriteMessage(w io.Writer, m *Message) error {
	return writeFrame(w, m)
}

// ReadMessage reads a length-prefixed Message from r.
func ReadMessage(r io.Reader) (*Message, error) {
	var m Message
	if err := readFrame(r, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// WriteReply writes a length-prefixed Reply to w.
func WriteReply(w io.Writer, rep *Reply) error {
	return writeFrame(w, rep)
}

// ReadReply reads a length-prefixed Reply from r.
func ReadReply(r io.Reader) (*Reply, error) {
	var rep Reply
	if err := readFrame(r, &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

func writeFrame(w io.Writer, v any) error {
	body, err := gojson.Marshal(v)
	if err != nil {
		return ferrors.Wrap(err, ferrors.EINVAL, "proto.writeFrame")
	}
	if len(body) > MaxMessageSize {
		return ferrors.New(ferrors.EINVAL, "proto.writeFrame", "message exceeds max size")
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))

	if _, err := w.Write(lenBuf[:]); err != nil {
		return ferrors.Wrap(err, ferrors.EPIPE, "proto.writeFrame")
	}
	if _, err := w.Write(body); err != nil {
		return ferrors.Wrap(err, ferrors.EPIPE, "proto.writeFrame")
	}
	return nil
}

func readFrame(r io.Reader, v any) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return ferrors.Wrap(err, ferrors.EPIPE, "proto.readFrame")
	}

	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxMessageSize {
		return ferrors.New(ferrors.EINVAL, "proto.readFrame", "frame exceeds max size")
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return ferrors.Wrap(err, ferrors.EPIPE, "proto.readFrame")
	}

	if err := gojson.Unmarshal(body, v); err != nil {
		return ferrors.Wrap(err, ferrors.EINVAL, "proto.readFrame")
	}
	return nil
}
