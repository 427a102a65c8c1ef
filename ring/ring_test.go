package ring

import (
	"testing"

	ferrors "irmd-go/errors"
)

func TestRing_FIFOOrder(t *testing.T) {
	r := NewRing(4)

	for i := 0; i < 3; i++ {
		if err := r.WriteNB(Entry{Index: Index(i), PortID: 7}); err != nil {
			t.Fatalf("WriteNB() error = %v", err)
		}
	}

	for i := 0; i < 3; i++ {
		e, ok := r.ReadNB()
		if !ok {
			t.Fatalf("ReadNB() returned no entry at i=%d", i)
		}
		if e.Index != Index(i) {
			t.Errorf("entry %d out of order: got index %d", i, e.Index)
		}
	}
}

func TestRing_WriteNBFullReturnsError(t *testing.T) {
	r := NewRing(2)
	if err := r.WriteNB(Entry{Index: 1}); err != nil {
		t.Fatal(err)
	}
	if err := r.WriteNB(Entry{Index: 2}); err != nil {
		t.Fatal(err)
	}

	err := r.WriteNB(Entry{Index: 3})
	if !ferrors.IsKind(err, ferrors.ENOMEM) {
		t.Errorf("expected ENOMEM on full ring, got %v", err)
	}
}

func TestRing_ReadNBEmptyReturnsFalse(t *testing.T) {
	r := NewRing(2)
	if _, ok := r.ReadNB(); ok {
		t.Error("expected ReadNB on empty ring to return false")
	}
}

func TestRing_SetACLFlowDownUnblocksReader(t *testing.T) {
	r := NewRing(2)
	done := make(chan error, 1)

	go func() {
		_, err := r.ReadB()
		done <- err
	}()

	r.SetACL(ACLFlowDown)

	err := <-done
	if !ferrors.IsKind(err, ferrors.EPIPE) {
		t.Errorf("expected EPIPE after flow-down, got %v", err)
	}
}

func TestRing_WriteNBRejectsWhenDown(t *testing.T) {
	r := NewRing(2)
	r.SetACL(ACLFlowDown)

	err := r.WriteNB(Entry{Index: 1})
	if !ferrors.IsKind(err, ferrors.EPIPE) {
		t.Errorf("expected EPIPE writing to a down ring, got %v", err)
	}
}

func TestRing_Drain(t *testing.T) {
	r := NewRing(4)
	r.WriteNB(Entry{Index: 1})
	r.WriteNB(Entry{Index: 2})

	drained := r.Drain()
	if len(drained) != 2 {
		t.Fatalf("expected 2 drained entries, got %d", len(drained))
	}
	if r.Len() != 0 {
		t.Errorf("expected ring empty after drain, got len %d", r.Len())
	}
}
