package domain

type StreamerID string
type PlayerID string

type PlayerRole string

const (
	RoleRegular PlayerRole = "regular"
	RoleSFU     PlayerRole = "sfu"
)

// StreamerSummary is a read-only view of one streamer connection,
// served by the status endpoint.
type StreamerSummary struct {
	ID         StreamerID      `json:"id"`
	Streaming  bool            `json:"streaming"`
	RemoteAddr string          `json:"remote_addr"`
	Players    []PlayerSummary `json:"players"`
}

// PlayerSummary is a read-only view of one player connection.
type PlayerSummary struct {
	ID           PlayerID   `json:"id"`
	SubscribedTo StreamerID `json:"subscribed_to,omitempty"`
	SendOffer    bool       `json:"send_offer"`
	Role         PlayerRole `json:"role"`
}
