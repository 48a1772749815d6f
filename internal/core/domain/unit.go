package domain

import "time"

type UnitID string

// CapacityUnit is the matchmaker's record of one signalling server
// instance. There is at most one live record per (Address, Port) pair;
// a reconnect from the same pair replaces the previous record.
type CapacityUnit struct {
	ID                  UnitID
	Address             string
	Port                int
	NumConnectedClients int
	Ready               bool
	LastPingReceived    time.Time
	LastClaimedAt       time.Time // zero until first placement
}

// Placement is the answer to a viewer placement request: where to open
// the signalling connection.
type Placement struct {
	Address string
	Port    int
}

// Available reports whether the unit can take a new viewer, ignoring
// any claim-protection window (that check belongs to the allocator,
// which knows the window length).
func (u *CapacityUnit) Available() bool {
	return u.Ready && u.NumConnectedClients == 0
}
