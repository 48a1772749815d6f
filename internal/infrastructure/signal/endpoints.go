package signal

import (
	"pixelfleet/internal/core/domain"
	"pixelfleet/internal/protocol"
)

// StreamerEndpoint is one registered streamer identity: a real
// streamer connection, or the streamer-shaped half of an SFU bridge.
// Entries enter the streamer registry when the remote identifies
// itself, so a registered endpoint is always accepting subscriptions.
type StreamerEndpoint interface {
	ID() domain.StreamerID
	RemoteAddr() string

	// Deliver writes a player-originated or relay-originated message to
	// the streamer side. The playerId field is already attached.
	Deliver(msg protocol.Message) error
}

// PlayerEndpoint is one registered player identity: a viewer
// connection, or the player-shaped half of an SFU bridge.
type PlayerEndpoint interface {
	ID() domain.PlayerID
	Role() domain.PlayerRole
	SendOffer() bool
	SubscribedTo() domain.StreamerID

	// Deliver writes a streamer-originated or relay-originated message
	// toward the viewer. The playerId routing field is already stripped.
	Deliver(msg protocol.Message) error

	// ClearSubscription drops the subscription without notifying the
	// streamer. Used when the streamer itself is going away.
	ClearSubscription()

	// Kick force-closes the player socket with the given close code and
	// reason.
	Kick(code int, reason string)
}
