package utils

import (
	"fmt"

	"github.com/google/uuid"
)

// GeneratePlayerID generates a relay-unique player id. The uuid space
// makes collisions across reconnects a non-issue without any counter
// state to protect.
func GeneratePlayerID() string {
	return fmt.Sprintf("player-%s", uuid.NewString()[:8])
}

// GenerateUnitID generates an id for one capacity unit control
// connection. The id identifies the connection handle, not the
// (address, port) pair, which may be re-registered on reconnect.
func GenerateUnitID() string {
	return fmt.Sprintf("unit-%s", uuid.NewString()[:8])
}
