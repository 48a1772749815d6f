package protocol

// Matchmaker control message types, sent by a capacity unit over its
// persistent TCP connection. The channel is push-only; the matchmaker
// never replies, it only closes the connection on protocol errors.
const (
	TypeConnect              = "connect"
	TypeControlPing          = "ping"
	TypeStreamerConnected    = "streamerConnected"
	TypeStreamerDisconnected = "streamerDisconnected"
	TypeClientConnected      = "clientConnected"
	TypeClientDisconnected   = "clientDisconnected"
)

// Control message field names.
const (
	FieldAddress         = "address"
	FieldPort            = "port"
	FieldReady           = "ready"
	FieldPlayerConnected = "playerConnected"
)

// Control builds the schema registry for the matchmaker control
// protocol.
func Control() *Registry {
	r := NewRegistry()
	r.Register(TypeConnect, Schema{
		Required: []string{FieldAddress, FieldPort, FieldReady, FieldPlayerConnected},
	})
	r.Register(TypeControlPing, Schema{})
	r.Register(TypeStreamerConnected, Schema{})
	r.Register(TypeStreamerDisconnected, Schema{})
	r.Register(TypeClientConnected, Schema{})
	r.Register(TypeClientDisconnected, Schema{})
	return r
}
