package ports

import (
	"context"

	"pixelfleet/internal/core/domain"
)

// PlacementService answers viewer placement queries. The HTTP layer is
// a thin consumer of this interface.
type PlacementService interface {
	// GetAvailableUnit claims an idle, ready unit and returns where the
	// viewer should connect. Fails with domain.ErrNoAvailableUnits when
	// nothing can be claimed; callers degrade to a retry-later answer.
	GetAvailableUnit() (domain.Placement, error)

	// Units returns a snapshot of all live unit records for inspection.
	Units() []domain.CapacityUnit
}

// RelayInspector exposes read-only views of one relay's registries.
type RelayInspector interface {
	StreamerSummaries() []domain.StreamerSummary
	PlayerSummaries() []domain.PlayerSummary
}

// FleetEventPublisher mirrors fleet lifecycle events to an external
// bus for operational visibility. Events are advisory; the unit table
// itself is never persisted.
type FleetEventPublisher interface {
	UnitOnline(ctx context.Context, unit domain.CapacityUnit)
	UnitOffline(ctx context.Context, unit domain.CapacityUnit)
	UnitClaimed(ctx context.Context, unit domain.CapacityUnit)
	Close() error
}
