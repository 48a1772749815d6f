package matchmaker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"pixelfleet/internal/core/domain"
	"pixelfleet/internal/core/ports"
	"pixelfleet/internal/infrastructure/monitoring"
)

// Allocator is the matchmaker's unit table. It is the only resource
// touched by every control connection and every placement request, so
// all read-modify-write sequences happen under one mutex; in
// particular the claim-and-stamp step of placement is a single atomic
// check-and-set.
type Allocator struct {
	mu    sync.Mutex
	units map[domain.UnitID]*domain.CapacityUnit

	claimWindow      time.Duration
	stalenessTimeout time.Duration

	metrics   *monitoring.FleetCollector
	publisher ports.FleetEventPublisher
	log       *zap.SugaredLogger

	now func() time.Time
}

func NewAllocator(claimWindow, stalenessTimeout time.Duration, metrics *monitoring.FleetCollector, publisher ports.FleetEventPublisher, log *zap.SugaredLogger) *Allocator {
	return &Allocator{
		units:            make(map[domain.UnitID]*domain.CapacityUnit),
		claimWindow:      claimWindow,
		stalenessTimeout: stalenessTimeout,
		metrics:          metrics,
		publisher:        publisher,
		log:              log,
		now:              time.Now,
	}
}

// Register handles a connect message. A unit reconnecting from the
// same (address, port) pair replaces its prior record; the returned
// replaced id lets the caller close the stale control connection.
// The client count is recomputed from the playerConnected boolean,
// not carried over from the prior record; the claim stamp IS carried
// over, so a unit whose control channel blips right after being
// claimed stays held for the rest of its claim window.
func (a *Allocator) Register(id domain.UnitID, address string, port int, ready, playerConnected bool) (replaced domain.UnitID) {
	clients := 0
	if playerConnected {
		clients = 1
	}

	a.mu.Lock()
	var lastClaimed time.Time
	if prev, ok := a.units[id]; ok {
		lastClaimed = prev.LastClaimedAt
	}
	for oldID, u := range a.units {
		if u.Address == address && u.Port == port && oldID != id {
			delete(a.units, oldID)
			replaced = oldID
			lastClaimed = u.LastClaimedAt
			break
		}
	}
	unit := &domain.CapacityUnit{
		ID:                  id,
		Address:             address,
		Port:                port,
		NumConnectedClients: clients,
		Ready:               ready,
		LastPingReceived:    a.now(),
		LastClaimedAt:       lastClaimed,
	}
	a.units[id] = unit
	count := len(a.units)
	snapshot := *unit
	a.mu.Unlock()

	a.metrics.SetUnits(count)
	if a.publisher != nil {
		a.publisher.UnitOnline(context.Background(), snapshot)
	}
	if replaced != "" {
		a.log.Infow("unit reconnected, replacing record",
			"unit_id", id, "replaced", replaced, "address", address, "port", port)
	} else {
		a.log.Infow("unit registered",
			"unit_id", id, "address", address, "port", port, "ready", ready)
	}
	return replaced
}

// SetReady flips the unit's readiness as its streamer comes and goes.
func (a *Allocator) SetReady(id domain.UnitID, ready bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if u, ok := a.units[id]; ok {
		u.Ready = ready
	}
}

// AdjustClients applies a client count delta, floored at zero.
func (a *Allocator) AdjustClients(id domain.UnitID, delta int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if u, ok := a.units[id]; ok {
		u.NumConnectedClients += delta
		if u.NumConnectedClients < 0 {
			u.NumConnectedClients = 0
		}
	}
}

// Ping refreshes the unit's liveness timestamp.
func (a *Allocator) Ping(id domain.UnitID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if u, ok := a.units[id]; ok {
		u.LastPingReceived = a.now()
	}
}

// Known reports whether a record exists for the connection.
func (a *Allocator) Known(id domain.UnitID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.units[id]
	return ok
}

// Drop removes the unit record when its control connection goes away.
func (a *Allocator) Drop(id domain.UnitID) bool {
	a.mu.Lock()
	u, ok := a.units[id]
	if ok {
		delete(a.units, id)
	}
	count := len(a.units)
	a.mu.Unlock()

	if !ok {
		return false
	}
	a.metrics.SetUnits(count)
	if a.publisher != nil {
		a.publisher.UnitOffline(context.Background(), *u)
	}
	a.log.Infow("unit dropped", "unit_id", id, "address", u.Address, "port", u.Port)
	return true
}

// GetAvailableUnit picks an idle, ready unit outside its claim window,
// stamps the claim, and returns its placement. The check and the stamp
// are one critical section so concurrent placement requests can never
// both claim the same unit within the window.
func (a *Allocator) GetAvailableUnit() (domain.Placement, error) {
	now := a.now()

	a.mu.Lock()
	for _, u := range a.units {
		if !u.Available() {
			continue
		}
		if !u.LastClaimedAt.IsZero() && now.Sub(u.LastClaimedAt) < a.claimWindow {
			continue
		}
		u.LastClaimedAt = now
		snapshot := *u
		a.mu.Unlock()

		a.metrics.RecordPlacement()
		if a.publisher != nil {
			a.publisher.UnitClaimed(context.Background(), snapshot)
		}
		a.log.Infow("unit claimed", "unit_id", snapshot.ID,
			"address", snapshot.Address, "port", snapshot.Port)
		return domain.Placement{Address: snapshot.Address, Port: snapshot.Port}, nil
	}
	a.mu.Unlock()

	a.metrics.RecordPlacementMiss()
	return domain.Placement{}, domain.ErrNoAvailableUnits
}

// Units returns a copy of all unit records.
func (a *Allocator) Units() []domain.CapacityUnit {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.CapacityUnit, 0, len(a.units))
	for _, u := range a.units {
		out = append(out, *u)
	}
	return out
}

// SweepStale evicts units whose last ping is older than the staleness
// timeout, returning their ids so the caller can force-close the dead
// control connections. This keeps a silently-dead unit from being
// advertised forever.
func (a *Allocator) SweepStale() []domain.UnitID {
	now := a.now()

	a.mu.Lock()
	var evicted []domain.UnitID
	var evictedUnits []domain.CapacityUnit
	for id, u := range a.units {
		if now.Sub(u.LastPingReceived) > a.stalenessTimeout {
			delete(a.units, id)
			evicted = append(evicted, id)
			evictedUnits = append(evictedUnits, *u)
		}
	}
	count := len(a.units)
	a.mu.Unlock()

	if len(evicted) == 0 {
		return nil
	}
	a.metrics.SetUnits(count)
	for _, u := range evictedUnits {
		a.metrics.RecordEviction()
		if a.publisher != nil {
			a.publisher.UnitOffline(context.Background(), u)
		}
		a.log.Warnw("evicting stale unit", "unit_id", u.ID,
			"address", u.Address, "port", u.Port, "last_ping", u.LastPingReceived)
	}
	return evicted
}
