package matchmaker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"pixelfleet/internal/core/domain"
	"pixelfleet/internal/infrastructure/monitoring"
)

func newTestAllocator(claimWindow, staleness time.Duration) *Allocator {
	metrics := monitoring.NewFleetCollector(prometheus.NewRegistry())
	return NewAllocator(claimWindow, staleness, metrics, nil, zap.NewNop().Sugar())
}

func TestAllocator_RegisterAndPlace(t *testing.T) {
	a := newTestAllocator(10*time.Second, 30*time.Second)
	a.Register("unit-1", "10.0.0.5", 8888, true, false)

	placement, err := a.GetAvailableUnit()
	if err != nil {
		t.Fatalf("expected placement, got error: %v", err)
	}
	if placement.Address != "10.0.0.5" || placement.Port != 8888 {
		t.Errorf("unexpected placement: %+v", placement)
	}
}

func TestAllocator_NoUnits(t *testing.T) {
	a := newTestAllocator(10*time.Second, 30*time.Second)

	_, err := a.GetAvailableUnit()
	if !errors.Is(err, domain.ErrNoAvailableUnits) {
		t.Errorf("expected ErrNoAvailableUnits, got %v", err)
	}
}

func TestAllocator_NotReadyIsNotPlaced(t *testing.T) {
	a := newTestAllocator(10*time.Second, 30*time.Second)
	a.Register("unit-1", "10.0.0.5", 8888, false, false)

	if _, err := a.GetAvailableUnit(); !errors.Is(err, domain.ErrNoAvailableUnits) {
		t.Errorf("expected ErrNoAvailableUnits for not-ready unit, got %v", err)
	}

	a.SetReady("unit-1", true)
	if _, err := a.GetAvailableUnit(); err != nil {
		t.Errorf("expected placement after SetReady, got %v", err)
	}
}

func TestAllocator_OccupiedIsNotPlaced(t *testing.T) {
	a := newTestAllocator(0, 30*time.Second)
	a.Register("unit-1", "10.0.0.5", 8888, true, false)

	a.AdjustClients("unit-1", 1)
	if _, err := a.GetAvailableUnit(); !errors.Is(err, domain.ErrNoAvailableUnits) {
		t.Errorf("expected ErrNoAvailableUnits for occupied unit, got %v", err)
	}

	a.AdjustClients("unit-1", -1)
	if _, err := a.GetAvailableUnit(); err != nil {
		t.Errorf("expected placement after client left, got %v", err)
	}
}

func TestAllocator_ClientCountFloorsAtZero(t *testing.T) {
	a := newTestAllocator(0, 30*time.Second)
	a.Register("unit-1", "10.0.0.5", 8888, true, false)

	a.AdjustClients("unit-1", -1)
	a.AdjustClients("unit-1", -1)

	units := a.Units()
	if len(units) != 1 || units[0].NumConnectedClients != 0 {
		t.Errorf("expected client count 0, got %+v", units)
	}
}

func TestAllocator_ClaimWindowBlocksSecondPlacement(t *testing.T) {
	a := newTestAllocator(10*time.Second, 30*time.Second)
	base := time.Now()
	a.now = func() time.Time { return base }

	a.Register("unit-1", "10.0.0.5", 8888, true, false)

	if _, err := a.GetAvailableUnit(); err != nil {
		t.Fatalf("first placement failed: %v", err)
	}
	if _, err := a.GetAvailableUnit(); !errors.Is(err, domain.ErrNoAvailableUnits) {
		t.Errorf("claim window did not block second placement: %v", err)
	}

	// The window expires without any occupancy report.
	a.now = func() time.Time { return base.Add(11 * time.Second) }
	if _, err := a.GetAvailableUnit(); err != nil {
		t.Errorf("expected placement after claim window expired, got %v", err)
	}
}

func TestAllocator_ClaimSurvivesReconnect(t *testing.T) {
	a := newTestAllocator(10*time.Second, 30*time.Second)
	base := time.Now()
	a.now = func() time.Time { return base }

	a.Register("unit-1", "10.0.0.5", 8888, true, false)
	if _, err := a.GetAvailableUnit(); err != nil {
		t.Fatalf("first placement failed: %v", err)
	}

	// A control channel blip re-registers under the same id; the claim
	// stamp must survive so the unit stays held inside its window.
	a.Register("unit-1", "10.0.0.5", 8888, true, false)
	if _, err := a.GetAvailableUnit(); !errors.Is(err, domain.ErrNoAvailableUnits) {
		t.Errorf("claim window lost on same-id reconnect: %v", err)
	}

	// Same for a reconnect that replaces the record via (address, port).
	a.Register("unit-2", "10.0.0.5", 8888, true, false)
	if _, err := a.GetAvailableUnit(); !errors.Is(err, domain.ErrNoAvailableUnits) {
		t.Errorf("claim window lost on replacing reconnect: %v", err)
	}

	a.now = func() time.Time { return base.Add(11 * time.Second) }
	if _, err := a.GetAvailableUnit(); err != nil {
		t.Errorf("expected placement after claim window expired, got %v", err)
	}
}

func TestAllocator_ConcurrentPlacementClaimsOnce(t *testing.T) {
	a := newTestAllocator(10*time.Second, 30*time.Second)
	a.Register("unit-1", "10.0.0.5", 8888, true, false)

	var wg sync.WaitGroup
	var mu sync.Mutex
	placed := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := a.GetAvailableUnit(); err == nil {
				mu.Lock()
				placed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if placed != 1 {
		t.Errorf("expected exactly one successful placement, got %d", placed)
	}
}

func TestAllocator_ReconnectReplacesRecord(t *testing.T) {
	a := newTestAllocator(0, 30*time.Second)
	a.Register("unit-1", "10.0.0.5", 8888, true, false)

	replaced := a.Register("unit-2", "10.0.0.5", 8888, false, true)
	if replaced != "unit-1" {
		t.Errorf("expected unit-1 replaced, got %q", replaced)
	}

	units := a.Units()
	if len(units) != 1 {
		t.Fatalf("expected one unit record, got %d", len(units))
	}
	u := units[0]
	if u.ID != "unit-2" || u.Ready || u.NumConnectedClients != 1 {
		t.Errorf("replaced record not rebuilt from connect: %+v", u)
	}
}

func TestAllocator_ReconnectDoesNotReplaceDifferentEndpoint(t *testing.T) {
	a := newTestAllocator(0, 30*time.Second)
	a.Register("unit-1", "10.0.0.5", 8888, true, false)

	replaced := a.Register("unit-2", "10.0.0.6", 8888, true, false)
	if replaced != "" {
		t.Errorf("expected no replacement, got %q", replaced)
	}
	if len(a.Units()) != 2 {
		t.Errorf("expected two unit records, got %d", len(a.Units()))
	}
}

func TestAllocator_Drop(t *testing.T) {
	a := newTestAllocator(0, 30*time.Second)
	a.Register("unit-1", "10.0.0.5", 8888, true, false)

	if !a.Drop("unit-1") {
		t.Error("drop of known unit reported false")
	}
	if a.Drop("unit-1") {
		t.Error("second drop reported true")
	}
	if a.Known("unit-1") {
		t.Error("dropped unit still known")
	}
}

func TestAllocator_SweepStale(t *testing.T) {
	a := newTestAllocator(0, 30*time.Second)
	base := time.Now()
	a.now = func() time.Time { return base }

	a.Register("unit-1", "10.0.0.5", 8888, true, false)
	a.Register("unit-2", "10.0.0.6", 8888, true, false)

	// unit-2 keeps heartbeating, unit-1 goes silent.
	a.now = func() time.Time { return base.Add(25 * time.Second) }
	a.Ping("unit-2")

	a.now = func() time.Time { return base.Add(40 * time.Second) }
	evicted := a.SweepStale()

	if len(evicted) != 1 || evicted[0] != "unit-1" {
		t.Errorf("expected unit-1 evicted, got %v", evicted)
	}
	if !a.Known("unit-2") {
		t.Error("live unit was evicted")
	}
	if a.Known("unit-1") {
		t.Error("stale unit survived the sweep")
	}
}

func TestAllocator_SweepNothingStale(t *testing.T) {
	a := newTestAllocator(0, 30*time.Second)
	a.Register("unit-1", "10.0.0.5", 8888, true, false)

	if evicted := a.SweepStale(); evicted != nil {
		t.Errorf("expected no evictions, got %v", evicted)
	}
}

// Full unit lifecycle as seen through the control protocol: connect,
// streamer ready, placement, viewer joins, viewer leaves.
func TestAllocator_UnitLifecycle(t *testing.T) {
	a := newTestAllocator(10*time.Second, 30*time.Second)
	base := time.Now()
	a.now = func() time.Time { return base }

	a.Register("unit-1", "10.0.0.5", 8888, false, false)

	// Not placeable before the streamer arrives.
	if _, err := a.GetAvailableUnit(); !errors.Is(err, domain.ErrNoAvailableUnits) {
		t.Fatalf("placed before streamer ready: %v", err)
	}

	a.SetReady("unit-1", true)
	if _, err := a.GetAvailableUnit(); err != nil {
		t.Fatalf("placement failed: %v", err)
	}

	// The placed viewer connects; the unit reports occupancy.
	a.AdjustClients("unit-1", 1)
	a.now = func() time.Time { return base.Add(time.Minute) }
	if _, err := a.GetAvailableUnit(); !errors.Is(err, domain.ErrNoAvailableUnits) {
		t.Fatal("occupied unit was placed again")
	}

	// Viewer leaves; the unit is placeable once more.
	a.AdjustClients("unit-1", -1)
	if _, err := a.GetAvailableUnit(); err != nil {
		t.Fatalf("placement after viewer left failed: %v", err)
	}
}
