// Package wheel implements the bounded-delay hashed timing wheel used by a
// normal IPCP's FRCT layer to schedule retransmissions and delayed acks.
//
// It reproduces the two-array design of Ouroboros's timerwheel.c: a
// large-slot-count retransmission queue and a much smaller delayed-ack
// queue, sharing one mutex and one "previous slot" cursor so a single
// Advance call drains both in the same pass.
package wheel

import (
	"container/list"
	"sync"
	"time"

	ferrors "irmd-go/errors"
)

const (
	// rxmSlotBits is RXMQ_S: log2 of the retransmission queue's slot count.
	rxmSlotBits = 14
	// RXMSlots is RXMQ_SLOTS, the retransmission queue's slot count.
	RXMSlots = 1 << rxmSlotBits
	// ackSlotBits is log2 of the delayed-ack queue's slot count.
	ackSlotBits = 10
	// AckSlots is ACKQ_SLOTS, the delayed-ack queue's slot count.
	AckSlots = 1 << ackSlotBits
	// resolution is RXMQ_R: the bit-shift that converts a nanosecond
	// timestamp into a retransmission-queue slot index. 20 bits gives
	// roughly millisecond resolution, matching the source's microsecond
	// buckets scaled for Go's nanosecond clock.
	resolution = 20
)

// FD identifies a flow's file-descriptor-like handle within the IPCP's
// flow table, matching the source's plain `int fd` index into `ai.flows`.
type FD int

// Transport is the retransmission/ack side effect surface a normal IPCP's
// FRCT layer implements. The wheel calls back into it while holding no
// lock of its own across the call other than the wheel's internal mutex
// (never held across other packages' locks, matching the leaf-lock rule).
type Transport interface {
	// FlowID returns the generation id currently bound to fd, and whether
	// fd is still live. A mismatch against the id recorded at schedule
	// time means the fd was reused by a newer flow and the timer entry
	// is stale.
	FlowID(fd FD) (flowID int, live bool)
	// SndLWE returns the send-side left window edge for fd, used to
	// detect that a retransmission candidate has already been acked.
	SndLWE(fd FD) (seqno uint32, ok bool)
	// RTO returns the current retransmission timeout and rtt-probe state
	// for fd.
	RTO(fd FD) (rto time.Duration, rMax time.Duration)
	// ClearProbeIfMatches clears the in-flight RTT probe on fd if seqno
	// is the probe's expected sequence number.
	ClearProbeIfMatches(fd FD, seqno uint32)
	// Retransmit re-sends payload on fd, stamped with the receive-side
	// left window edge as its ack number. Returning an error marks the
	// flow down.
	Retransmit(fd FD, payload []byte, ackno uint32) error
	// SetFlowDown marks fd's rings as unusable, mirroring
	// shm_rbuff_set_acl(ACL_FLOWDOWN) on both directions.
	SetFlowDown(fd FD)
	// SendAck emits a bare ack for fd.
	SendAck(fd FD) error
}

type rxmEntry struct {
	fd      FD
	flowID  int
	seqno   uint32
	payload []byte
	t0      time.Time
	mul     uint64
}

type ackEntry struct {
	fd     FD
	flowID int
}

// Wheel is a hashed timing wheel with two independently sized slot arrays
// sharing one mutex and one cursor, as in the source.
type Wheel struct {
	mu        sync.Mutex
	rxmSlots  [RXMSlots]*list.List
	ackSlots  [AckSlots]*list.List
	ackMap    map[ackKey]struct{}
	prv       uint64
	transport Transport
}

type ackKey struct {
	slot uint64
	fd   FD
}

// New creates a Wheel bound to transport, with its cursor initialized to
// the slot immediately before now — matching timerwheel_init's "mark the
// previous timeslot as the last one processed".
func New(transport Transport, now time.Time) *Wheel {
	w := &Wheel{
		transport: transport,
		ackMap:    make(map[ackKey]struct{}),
	}
	for i := range w.rxmSlots {
		w.rxmSlots[i] = list.New()
	}
	for i := range w.ackSlots {
		w.ackSlots[i] = list.New()
	}
	w.prv = (slotFor(now, rxmSlotBits) - 1) & (RXMSlots - 1)
	return w
}

func slotFor(t time.Time, bits int) uint64 {
	ns := uint64(t.UnixNano())
	mask := uint64(1<<bits) - 1
	return (ns >> resolution) & mask
}

// ScheduleRXM schedules payload for retransmission on fd unless acked
// within rto, mirroring timerwheel_rxm. flowID must be the generation id
// bound to fd at send time.
func (w *Wheel) ScheduleRXM(fd FD, flowID int, seqno uint32, payload []byte, now time.Time, rto time.Duration) {
	entry := &rxmEntry{
		fd:      fd,
		flowID:  flowID,
		seqno:   seqno,
		payload: payload,
		t0:      now,
		mul:     0,
	}

	slot := (slotFor(now.Add(rto), rxmSlotBits) + 1) & (RXMSlots - 1)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.rxmSlots[slot].PushBack(entry)
}

// ScheduleAck schedules a delayed ack for fd, deduping against any ack
// already pending for fd in the target slot — mirroring timerwheel_ack's
// presence bitmap.
func (w *Wheel) ScheduleAck(fd FD, flowID int, now time.Time, delay time.Duration) {
	slot := (slotFor(now.Add(delay), ackSlotBits) + 1) & (AckSlots - 1)
	key := ackKey{slot: slot, fd: fd}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, pending := w.ackMap[key]; pending {
		return
	}
	w.ackMap[key] = struct{}{}
	w.ackSlots[slot].PushBack(&ackEntry{fd: fd, flowID: flowID})
}

// Advance drains every slot between the wheel's cursor and the slot
// corresponding to now, retransmitting or acking as needed, and moves the
// cursor forward. The wheel's owner calls it periodically (e.g. every
// resolution-sized tick).
func (w *Wheel) Advance(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	slot := slotFor(now, rxmSlotBits)
	i := w.prv
	end := slot
	if end < i {
		end += RXMSlots
	}
	for s := i + 1; s <= end; s++ {
		w.drainRXMSlot(s&(RXMSlots-1), now)
	}

	ackSlot := slotFor(now, ackSlotBits)
	aStart := w.prv & (AckSlots - 1)
	aEnd := ackSlot
	if aEnd < aStart {
		aEnd += AckSlots
	}
	for s := aStart + 1; s <= aEnd; s++ {
		w.drainAckSlot(s & (AckSlots - 1))
	}

	w.prv = slot & (RXMSlots - 1)
}

func (w *Wheel) drainRXMSlot(slot uint64, now time.Time) {
	l := w.rxmSlots[slot]
	var next *list.Element
	for e := l.Front(); e != nil; e = next {
		next = e.Next()
		l.Remove(e)

		r := e.Value.(*rxmEntry)

		flowID, live := w.transport.FlowID(r.fd)
		if !live || flowID != r.flowID {
			continue
		}

		sndLWE, ok := w.transport.SndLWE(r.fd)
		if ok && int32(r.seqno-sndLWE) < 0 {
			// Already acked.
			continue
		}

		rto, rMax := w.transport.RTO(r.fd)
		if now.Sub(r.t0) > rMax {
			w.transport.SetFlowDown(r.fd)
			continue
		}

		w.transport.ClearProbeIfMatches(r.fd, r.seqno)

		ackno, _ := w.transport.SndLWE(r.fd)
		if err := w.transport.Retransmit(r.fd, r.payload, ackno); err != nil {
			w.transport.SetFlowDown(r.fd)
			continue
		}

		r.mul++
		backoff := time.Duration(r.mul) * rto
		if backoff < rto {
			backoff = rto
		}
		rslot := (slotFor(now.Add(backoff), rxmSlotBits) + 1) & (RXMSlots - 1)
		if rslot == slot {
			rslot = (slot + 1) & (RXMSlots - 1)
		}
		w.rxmSlots[rslot].PushBack(r)
	}
}

func (w *Wheel) drainAckSlot(slot uint64) {
	l := w.ackSlots[slot]
	var next *list.Element
	for e := l.Front(); e != nil; e = next {
		next = e.Next()
		l.Remove(e)

		a := e.Value.(*ackEntry)
		delete(w.ackMap, ackKey{slot: slot, fd: a.fd})

		flowID, live := w.transport.FlowID(a.fd)
		if live && flowID == a.flowID {
			_ = w.transport.SendAck(a.fd)
		}
	}
}

// Close drains every slot, releasing any retained payloads, matching
// timerwheel_fini's teardown pass.
func (w *Wheel) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i := range w.rxmSlots {
		w.rxmSlots[i].Init()
	}
	for i := range w.ackSlots {
		w.ackSlots[i].Init()
	}
	w.ackMap = make(map[ackKey]struct{})
}

// ErrNoTransport is returned by helpers that require a bound Transport
// when none was provided.
var ErrNoTransport = ferrors.New(ferrors.EINVAL, "wheel", "wheel created without a transport")
