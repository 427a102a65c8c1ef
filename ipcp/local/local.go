// Package local implements the mandatory loopback shim from spec.md §2
// ("only loopback is mandatory") and §4.2 ("Local (loopback) IPCP"): a
// single data-plane fiber that copies buffer indices — never bytes —
// between the two rings of each paired port-id.
package local

import (
	"context"
	"sync"

	ferrors "irmd-go/errors"
	"irmd-go/ipcp"
	"irmd-go/ring"
)

// RingCapacity is the fixed size of every port id's SPSC ring.
const RingCapacity = 64

// ReplyFunc reports ipcp_flow_alloc_reply back to IRMd once a request-side
// port id's peer has been found, completing the reply side of §4.3's flow
// allocation state machine.
type ReplyFunc func(portID, response int) error

// Local is the fd-based loopback shim (spec.md Open Question 1: the
// newer fd-based API, not the older port-id snapshot). Data plane is a
// single goroutine that waits on a flow-set for readable ports and
// copies the ready port's ring head into its paired port's ring tail.
type Local struct {
	ipcp.Unsupported

	rt      *ipcp.Runtime
	arrival ipcp.ArrivalFunc
	reply   ReplyFunc

	mu    sync.Mutex
	pairs map[int]int // port id -> paired port id

	flowSet *ring.FlowSet
}

// New constructs a Local shim bound to rt. arrival drives the arrival
// side of an outgoing flow_alloc (ipcp_flow_req_arr, since the serving
// endpoint for a loopback flow is always reachable through this same
// IPCP); reply reports the resulting pairing back to IRMd
// (ipcp_flow_alloc_reply). Matches ipcp.New's newVariant signature.
func New(arrival ipcp.ArrivalFunc, reply ReplyFunc) func(*ipcp.Runtime) ipcp.Variant {
	return func(rt *ipcp.Runtime) ipcp.Variant {
		return &Local{
			rt:      rt,
			arrival: arrival,
			reply:   reply,
			pairs:   make(map[int]int),
			flowSet: ring.NewFlowSet(256),
		}
	}
}

// Bootstrap is a no-op: the loopback shim needs no transport resources.
func (l *Local) Bootstrap(map[string]any) error { return nil }

// Register is a no-op beyond ipcp.Runtime's own hash bookkeeping: the
// loopback shim has no remote directory to publish to.
func (l *Local) Register([]string) error { return nil }

// Unregister is a no-op for the same reason.
func (l *Local) Unregister([]string) error { return nil }

// FlowAlloc drives the arrival side directly: since both endpoints of a
// loopback flow live behind this same IPCP, it calls back into IRMd's
// ipcp_flow_req_arr itself rather than waiting on a remote peer, then
// pairs the two port ids and reports the result to IRMd.
func (l *Local) FlowAlloc(portID, nPid int, dstHash string, qos int) error {
	if l.arrival == nil {
		return ferrors.New(ferrors.EIPCP, "flow_alloc", "no arrival callback configured")
	}

	arrivalPortID, _, err := l.arrival(dstHash, qos)
	if err != nil {
		if l.reply != nil {
			_ = l.reply(portID, 1)
		}
		return err
	}

	l.Pair(portID, arrivalPortID)

	if l.reply != nil {
		return l.reply(portID, 0)
	}
	return nil
}

// FlowAllocResp tears down the half-built pairing on a non-zero response;
// on success the pairing made in FlowAlloc already stands.
func (l *Local) FlowAllocResp(portID, nPid, response int) error {
	if response != 0 {
		l.unpair(portID)
	}
	return nil
}

// FlowDealloc unpairs portID, marks both rings down so any blocked reader
// observes EPIPE instead of hanging, and removes it from the flow-set.
func (l *Local) FlowDealloc(portID int) error {
	l.unpair(portID)
	return nil
}

func (l *Local) unpair(portID int) {
	l.mu.Lock()
	peer, ok := l.pairs[portID]
	delete(l.pairs, portID)
	if ok {
		delete(l.pairs, peer)
	}
	l.mu.Unlock()

	l.flowSet.Remove(portID)
	if ok {
		l.flowSet.Remove(peer)
		if rg := l.rt.Ring(peer, RingCapacity); rg != nil {
			rg.SetACL(ring.ACLFlowDown)
		}
	}
	if rg := l.rt.Ring(portID, RingCapacity); rg != nil {
		rg.SetACL(ring.ACLFlowDown)
	}
}

// Pair wires portID and peerPortID together so the data-plane fiber
// copies ring entries between them, establishing the "(fd -> paired fd)
// table" spec.md's local-IPCP paragraph describes.
func (l *Local) Pair(portID, peerPortID int) {
	l.mu.Lock()
	l.pairs[portID] = peerPortID
	l.pairs[peerPortID] = portID
	l.mu.Unlock()

	l.flowSet.Add(portID)
	l.flowSet.Add(peerPortID)
}

// Write enqueues e onto portID's own ring, the entry point an
// application-facing client uses to hand a buffer index to the shim for
// delivery to its peer.
func (l *Local) Write(portID int, e ring.Entry) error {
	return l.rt.Ring(portID, RingCapacity).WriteB(e)
}

// Read blocks until portID's own ring has a ready entry, the entry point
// an application-facing client uses to receive data its peer wrote.
func (l *Local) Read(portID int) (ring.Entry, error) {
	return l.rt.Ring(portID, RingCapacity).ReadB()
}

// Run is the data-plane fiber: wait on the flow-set for a ready port,
// then copy one entry from its ring into its peer's ring. Ready ports are
// re-added to the set so multiple queued entries keep draining.
func (l *Local) Run(ctx context.Context) error {
	for {
		portID, err := l.flowSet.Wait(ctx)
		if err != nil {
			return nil
		}

		l.mu.Lock()
		peer, ok := l.pairs[portID]
		l.mu.Unlock()
		if !ok {
			continue
		}

		entry, ok := l.rt.Ring(portID, RingCapacity).ReadNB()
		if !ok {
			continue
		}

		if err := l.rt.Ring(peer, RingCapacity).WriteNB(entry); err != nil {
			l.rt.Pool().Release(entry.Index)
			continue
		}

		if l.rt.Ring(portID, RingCapacity).Len() > 0 {
			l.flowSet.Notify(portID)
		}
	}
}
