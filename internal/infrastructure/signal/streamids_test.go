package signal

import (
	"errors"
	"testing"

	"pixelfleet/internal/core/domain"
)

func TestStreamIDPool_AllocateUnique(t *testing.T) {
	p := NewStreamIDPool(8)

	seen := make(map[int]bool)
	for i := 0; i < 8; i++ {
		id, err := p.Allocate()
		if err != nil {
			t.Fatalf("allocate %d failed: %v", i, err)
		}
		if seen[id] {
			t.Fatalf("id %d handed out twice", id)
		}
		seen[id] = true
	}
	if p.Available() != 0 {
		t.Errorf("expected 0 available, got %d", p.Available())
	}
}

func TestStreamIDPool_Exhaustion(t *testing.T) {
	p := NewStreamIDPool(2)
	p.Allocate()
	p.Allocate()

	_, err := p.Allocate()
	if !errors.Is(err, domain.ErrNoAvailableStreamIDs) {
		t.Errorf("expected ErrNoAvailableStreamIDs, got %v", err)
	}
}

func TestStreamIDPool_ReleaseMakesIDReusable(t *testing.T) {
	p := NewStreamIDPool(2)
	a, _ := p.Allocate()
	p.Allocate()

	p.Release(a)
	if p.Available() != 1 {
		t.Fatalf("expected 1 available after release, got %d", p.Available())
	}
	id, err := p.Allocate()
	if err != nil {
		t.Fatalf("allocate after release failed: %v", err)
	}
	if id != a {
		t.Errorf("expected released id %d to come back, got %d", a, id)
	}
}

func TestStreamIDPool_ReleaseUnallocatedIsNoop(t *testing.T) {
	p := NewStreamIDPool(4)
	p.Release(2)
	p.Release(-1)
	p.Release(99)

	if p.Available() != 4 {
		t.Errorf("release of unallocated ids changed availability: %d", p.Available())
	}
}

func TestStreamIDPool_DoubleReleaseIsNoop(t *testing.T) {
	p := NewStreamIDPool(4)
	id, _ := p.Allocate()

	p.Release(id)
	p.Release(id)
	if p.Available() != 4 {
		t.Errorf("double release inflated availability: %d", p.Available())
	}
}

func TestStreamIDPool_CursorRotates(t *testing.T) {
	// A just-released id should not be the immediate next allocation
	// while other ids are free.
	p := NewStreamIDPool(4)
	first, _ := p.Allocate()
	p.Release(first)

	next, _ := p.Allocate()
	if next == first {
		t.Errorf("cursor did not rotate: got %d again", next)
	}
}

func TestStreamIDPool_AllocateReleaseChurn(t *testing.T) {
	p := NewStreamIDPool(64)
	for i := 0; i < 1000; i++ {
		id, err := p.Allocate()
		if err != nil {
			t.Fatalf("churn allocate %d failed: %v", i, err)
		}
		p.Release(id)
	}
	if p.Available() != 64 {
		t.Errorf("pool leaked ids: %d available of 64", p.Available())
	}
}
