package signal

import (
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"pixelfleet/internal/core/domain"
	"pixelfleet/internal/protocol"
)

// StreamerConnection is the session object for one streamer socket.
// It stays pending until the streamer answers identify with
// endpointId; from then on it is registered and accepting
// subscriptions.
type StreamerConnection struct {
	relay *Relay
	sock  *wsConn
	log   *zap.SugaredLogger

	mu        sync.Mutex
	id        domain.StreamerID
	streaming bool
}

func newStreamerConnection(relay *Relay, sock *wsConn, log *zap.SugaredLogger) *StreamerConnection {
	return &StreamerConnection{relay: relay, sock: sock, log: log}
}

func (s *StreamerConnection) ID() domain.StreamerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *StreamerConnection) Streaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

func (s *StreamerConnection) RemoteAddr() string {
	return s.sock.RemoteAddr()
}

// Deliver writes a player-originated message to the streamer socket.
func (s *StreamerConnection) Deliver(msg protocol.Message) error {
	return s.sock.Send(msg)
}

func (s *StreamerConnection) handleMessage(msg protocol.Message) {
	switch msg.Type() {
	case protocol.TypeEndpointID:
		s.handleEndpointID(msg)

	case protocol.TypePing:
		t, _ := msg["time"]
		s.sock.Send(protocol.New(protocol.TypePong, protocol.FieldTime, t))

	case protocol.TypeDisconnectPlayer:
		s.handleDisconnectPlayer(msg)

	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeICECandidate, protocol.TypeLayerPreference:
		s.forwardToPlayer(msg)

	case protocol.TypePeerDataChannelsReady:
		s.handlePeerDataChannelsReady(msg)

	default:
		s.log.Warnw("unexpected message on streamer socket",
			"type", msg.Type(), "streamer_id", s.ID())
	}
}

func (s *StreamerConnection) handleEndpointID(msg protocol.Message) {
	id, _ := msg.String(protocol.FieldID)
	if id == "" {
		s.log.Warnw("streamer sent empty endpointId", "remote_addr", s.RemoteAddr())
		return
	}
	newID := domain.StreamerID(id)

	s.mu.Lock()
	oldID := s.id
	wasStreaming := s.streaming
	if wasStreaming && oldID == newID {
		// Re-announcing the current id changes nothing.
		s.mu.Unlock()
		return
	}
	s.id = newID
	s.streaming = false
	s.mu.Unlock()

	// An id change abandons the old registration first; leaving it
	// behind would advertise a streamer no socket serves.
	if wasStreaming {
		s.relay.dropStreamer(oldID)
	}

	if err := s.relay.registerStreamer(s); err != nil {
		s.log.Errorw("streamer id already in use, disconnecting",
			"streamer_id", id, "error", err)
		s.sock.CloseWithReason(websocket.ClosePolicyViolation, "streamer id already in use")
		return
	}

	s.mu.Lock()
	s.streaming = true
	s.mu.Unlock()
	s.relay.removePending(s)

	if wasStreaming {
		s.log.Infow("streamer re-identified", "streamer_id", id, "previous_id", oldID)
	} else {
		s.log.Infow("streamer identified", "streamer_id", id)
	}
}

func (s *StreamerConnection) handleDisconnectPlayer(msg protocol.Message) {
	playerID, _ := msg.String(protocol.FieldPlayerID)
	reason, _ := msg.String(protocol.FieldReason)

	p, ok := s.relay.players.Get(playerID)
	if !ok {
		// The player may have already left; nothing to do.
		return
	}
	s.log.Infow("streamer requested player disconnect",
		"streamer_id", s.ID(), "player_id", playerID, "reason", reason)
	p.Kick(websocket.CloseInternalServerErr, reason)
}

// forwardToPlayer routes a playerId-addressed negotiation message to
// that player, stripping the routing field. A missing player is logged
// and dropped, never fatal.
func (s *StreamerConnection) forwardToPlayer(msg protocol.Message) {
	playerID, ok := msg.String(protocol.FieldPlayerID)
	if !ok {
		s.log.Warnw("streamer message without playerId, dropping",
			"type", msg.Type(), "streamer_id", s.ID())
		return
	}

	p, found := s.relay.players.Get(playerID)
	if !found {
		s.log.Warnw("player not found, dropping message",
			"type", msg.Type(), "player_id", playerID, "streamer_id", s.ID())
		return
	}
	if err := p.Deliver(msg.Without(protocol.FieldPlayerID)); err != nil {
		s.log.Warnw("failed to deliver to player",
			"type", msg.Type(), "player_id", playerID, "error", err)
		return
	}
	s.relay.metrics.RecordForwarded(msg.Type())
}

func (s *StreamerConnection) handlePeerDataChannelsReady(msg protocol.Message) {
	playerID, _ := msg.String(protocol.FieldPlayerID)
	sfu := s.relay.SFU()
	if sfu == nil {
		s.log.Warnw("peerDataChannelsReady without an sfu bridge, dropping",
			"streamer_id", s.ID(), "player_id", playerID)
		return
	}
	sfu.HandlePeerDataChannelsReady(domain.PlayerID(playerID))
}

// teardown removes the streamer from the registry (clearing every
// affected player's subscription) or from the pending set.
func (s *StreamerConnection) teardown() {
	s.mu.Lock()
	id := s.id
	streaming := s.streaming
	s.streaming = false
	s.mu.Unlock()

	if streaming {
		s.relay.dropStreamer(id)
	} else {
		s.relay.removePending(s)
	}
	s.log.Infow("streamer disconnected", "streamer_id", id)
}
