package ring

import (
	"context"
	"sync"

	ferrors "irmd-go/errors"
)

// FlowSet is a pollable collection of flow ids a data-plane reader thread
// can wait on, matching "flow set — a pollable set of rings that a
// thread can wait on" from the glossary. Readiness is communicated over a
// channel rather than the source's condvar-backed shm_flow_set, the
// idiomatic Go equivalent for "wait for any of N things".
type FlowSet struct {
	mu      sync.Mutex
	members map[int]struct{}
	ready   chan int
}

// NewFlowSet creates an empty FlowSet with room to buffer up to
// readyBuffer pending notifications; Notify drops a notification while
// the buffer is full.
func NewFlowSet(readyBuffer int) *FlowSet {
	return &FlowSet{
		members: make(map[int]struct{}),
		ready:   make(chan int, readyBuffer),
	}
}

// Add registers flowID as a member of the set.
func (fs *FlowSet) Add(flowID int) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.members[flowID] = struct{}{}
}

// Remove drops flowID from the set.
func (fs *FlowSet) Remove(flowID int) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.members, flowID)
}

// Has reports whether flowID is a current member.
func (fs *FlowSet) Has(flowID int) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	_, ok := fs.members[flowID]
	return ok
}

// Notify marks flowID ready, waking one Wait caller. Notifying a flow
// that isn't a member of the set is a no-op, matching shm_flow_set_notify
// being safe to call on an fd that has since left the set.
func (fs *FlowSet) Notify(flowID int) {
	fs.mu.Lock()
	_, ok := fs.members[flowID]
	fs.mu.Unlock()
	if !ok {
		return
	}

	select {
	case fs.ready <- flowID:
	default:
		// Ready queue saturated; the reader will eventually re-scan.
	}
}

// Wait blocks until a member flow is ready or ctx is done, returning the
// ready flow id. It mirrors the data-plane reader's "wait on a pollable
// flow-set for readable events" loop.
func (fs *FlowSet) Wait(ctx context.Context) (int, error) {
	select {
	case flowID := <-fs.ready:
		return flowID, nil
	case <-ctx.Done():
		return 0, ferrors.New(ferrors.ETIMEDOUT, "ring.FlowSet.Wait", "context done")
	}
}
