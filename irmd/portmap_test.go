package irmd

import (
	"sync"
	"testing"

	ferrors "irmd-go/errors"
)

func TestPortMap_AllocIsMonotonicWhenFree(t *testing.T) {
	pm := newPortMap(8)

	id1, err := pm.Alloc()
	if err != nil {
		t.Fatalf("Alloc() error = %v", err)
	}
	id2, err := pm.Alloc()
	if err != nil {
		t.Fatalf("Alloc() error = %v", err)
	}
	if id2 <= id1 {
		t.Errorf("expected increasing port ids, got %d then %d", id1, id2)
	}
}

func TestPortMap_FreeAllowsReuse(t *testing.T) {
	pm := newPortMap(1)

	id, err := pm.Alloc()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := pm.Alloc(); !ferrors.Is(err, ferrors.ErrPortExhausted) {
		t.Fatalf("expected exhaustion, got %v", err)
	}

	pm.Free(id)

	if _, err := pm.Alloc(); err != nil {
		t.Errorf("expected Alloc to succeed after Free, got %v", err)
	}
}

func TestPortMap_ConcurrentAllocUnique(t *testing.T) {
	pm := newPortMap(256)

	var wg sync.WaitGroup
	results := make(chan int, 256)

	for i := 0; i < 256; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := pm.Alloc()
			if err != nil {
				t.Error(err)
				return
			}
			results <- id
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int]bool)
	for id := range results {
		if seen[id] {
			t.Fatalf("port id %d allocated twice", id)
		}
		seen[id] = true
	}
	if len(seen) != 256 {
		t.Errorf("expected 256 unique ids, got %d", len(seen))
	}
}

func TestPortMap_ExhaustionReturnsErrPortExhausted(t *testing.T) {
	pm := newPortMap(2)
	if _, err := pm.Alloc(); err != nil {
		t.Fatal(err)
	}
	if _, err := pm.Alloc(); err != nil {
		t.Fatal(err)
	}
	if _, err := pm.Alloc(); !ferrors.Is(err, ferrors.ErrPortExhausted) {
		t.Errorf("expected ErrPortExhausted, got %v", err)
	}
}
