package ipcp

import ferrors "irmd-go/errors"

// Variant implements the per-IPCP-type capability set from spec.md §4.2.
// Per the DESIGN NOTES ("model IPCP type as a tagged variant ... dispatch
// via a trait/interface whose methods are the operations in §4.2"), each
// concrete type (local, shim-udp, shim-eth-llc, normal) embeds
// Unsupported and overrides only the operations it actually implements —
// unsupported operations stay the embedded default rather than scattered
// nil checks at each call site.
type Variant interface {
	Bootstrap(config map[string]any) error
	Enroll(dstLayer string) error
	Register(hashes []string) error
	Unregister(hashes []string) error
	FlowAlloc(portID, nPid int, dstHash string, qos int) error
	FlowAllocResp(portID, nPid, response int) error
	FlowDealloc(portID int) error
	Query(hash string) (bool, error)
}

// Unsupported implements Variant with every operation returning EIPCP.
// Embedding it and overriding only the supported subset is this port's
// equivalent of the source's "None" entries in a function-pointer struct.
type Unsupported struct{}

func (Unsupported) Bootstrap(map[string]any) error        { return errUnsupported("bootstrap") }
func (Unsupported) Enroll(string) error                    { return errUnsupported("enroll") }
func (Unsupported) Register([]string) error                { return errUnsupported("register") }
func (Unsupported) Unregister([]string) error               { return errUnsupported("unregister") }
func (Unsupported) FlowAlloc(int, int, string, int) error   { return errUnsupported("flow_alloc") }
func (Unsupported) FlowAllocResp(int, int, int) error       { return errUnsupported("flow_alloc_resp") }
func (Unsupported) FlowDealloc(int) error                   { return errUnsupported("flow_dealloc") }
func (Unsupported) Query(string) (bool, error)              { return false, errUnsupported("query") }

func errUnsupported(op string) error {
	return ferrors.New(ferrors.EIPCP, op, "unsupported by this ipcp type")
}
