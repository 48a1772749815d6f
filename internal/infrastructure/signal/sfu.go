package signal

import (
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"pixelfleet/internal/core/domain"
	"pixelfleet/internal/protocol"
)

// SFUConnection is the dual-role bridge session: one socket carrying a
// streamer-shaped identity (every player sees it as the streamer) and
// a player-shaped identity (the true streamer sees it as a player).
// The two identities are independent records sharing the transport.
// It also owns the SCTP stream-id pool used to give each bridged
// player pair unique data-channel sub-streams.
type SFUConnection struct {
	relay *Relay
	sock  *wsConn
	log   *zap.SugaredLogger

	playerIdentity *PlayerConnection

	mu         sync.Mutex
	streamerID domain.StreamerID
	registered bool
	pairs      map[domain.PlayerID]streamPair

	pool *StreamIDPool
}

// streamPair holds the send/receive stream ids assigned to one bridged
// player, from the SFU's perspective.
type streamPair struct {
	send int
	recv int
}

func newSFUConnection(relay *Relay, sock *wsConn, log *zap.SugaredLogger) *SFUConnection {
	sfu := &SFUConnection{
		relay: relay,
		sock:  sock,
		log:   log,
		pairs: make(map[domain.PlayerID]streamPair),
		pool:  NewStreamIDPool(relay.opts.MaxStreamIDs),
	}
	id := domain.PlayerID(string(domain.RoleSFU))
	sfu.playerIdentity = newPlayerConnection(relay, sock, id, domain.RoleSFU, true, log)
	return sfu
}

// PlayerID is the id of the bridge's player-shaped identity.
func (f *SFUConnection) PlayerID() domain.PlayerID {
	return f.playerIdentity.ID()
}

// Pool exposes the stream-id pool for inspection.
func (f *SFUConnection) Pool() *StreamIDPool {
	return f.pool
}

func (f *SFUConnection) handleMessage(msg protocol.Message) {
	switch msg.Type() {
	case protocol.TypeEndpointID:
		f.handleEndpointID(msg)

	case protocol.TypePing:
		f.sock.Send(protocol.New(protocol.TypePong, protocol.FieldTime, msg["time"]))

	case protocol.TypeSubscribe:
		streamerID, _ := msg.String(protocol.FieldStreamerID)
		f.playerIdentity.Subscribe(domain.StreamerID(streamerID))

	case protocol.TypeUnsubscribe:
		f.playerIdentity.Unsubscribe()

	case protocol.TypeListStreamers:
		f.sock.Send(protocol.New(protocol.TypeStreamerList,
			protocol.FieldIDs, f.relay.streamers.IDs()))

	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeICECandidate, protocol.TypeLayerPreference:
		// With a playerId the bridge is acting as a streamer, routing
		// downstream; without one it speaks upstream as a player.
		if _, addressed := msg.String(protocol.FieldPlayerID); addressed {
			f.forwardToPlayer(msg)
		} else {
			f.playerIdentity.SendFrom(msg)
		}

	case protocol.TypeDataChannelRequest:
		if playerID, addressed := msg.String(protocol.FieldPlayerID); addressed {
			f.HandleDataChannelRequest(domain.PlayerID(playerID))
		} else {
			f.playerIdentity.SendFrom(msg)
		}

	case protocol.TypeDisconnectPlayer:
		f.handleDisconnectPlayer(msg)

	default:
		f.log.Warnw("unexpected message on sfu socket", "type", msg.Type())
	}
}

func (f *SFUConnection) handleEndpointID(msg protocol.Message) {
	id, _ := msg.String(protocol.FieldID)
	if id == "" {
		f.log.Warnw("sfu sent empty endpointId")
		return
	}

	newID := domain.StreamerID(id)

	f.mu.Lock()
	oldID := f.streamerID
	wasRegistered := f.registered
	if wasRegistered && oldID == newID {
		// Re-announcing the current id changes nothing.
		f.mu.Unlock()
		return
	}
	f.streamerID = newID
	f.registered = false
	f.mu.Unlock()

	// An id change abandons the old registration first so no stale
	// streamer entry outlives it.
	if wasRegistered {
		f.relay.dropStreamer(oldID)
	}

	if err := f.relay.registerStreamer(&sfuStreamerIdentity{sfu: f}); err != nil {
		f.log.Errorw("sfu streamer id already in use, disconnecting",
			"streamer_id", id, "error", err)
		f.sock.CloseWithReason(websocket.ClosePolicyViolation, "streamer id already in use")
		return
	}

	f.mu.Lock()
	f.registered = true
	f.mu.Unlock()
	f.log.Infow("sfu identified as streamer", "streamer_id", id)
}

func (f *SFUConnection) handleDisconnectPlayer(msg protocol.Message) {
	playerID, _ := msg.String(protocol.FieldPlayerID)
	reason, _ := msg.String(protocol.FieldReason)
	if p, ok := f.relay.players.Get(playerID); ok {
		p.Kick(websocket.CloseInternalServerErr, reason)
	}
}

func (f *SFUConnection) forwardToPlayer(msg protocol.Message) {
	playerID, _ := msg.String(protocol.FieldPlayerID)
	p, ok := f.relay.players.Get(playerID)
	if !ok {
		f.log.Warnw("player not found, dropping sfu message",
			"type", msg.Type(), "player_id", playerID)
		return
	}
	if err := p.Deliver(msg.Without(protocol.FieldPlayerID)); err != nil {
		f.log.Warnw("failed to deliver sfu message to player",
			"type", msg.Type(), "player_id", playerID, "error", err)
		return
	}
	f.relay.metrics.RecordForwarded(msg.Type())
}

// HandleDataChannelRequest assigns the player a stream-id pair and
// tells the SFU which sub-streams to open for it.
func (f *SFUConnection) HandleDataChannelRequest(playerID domain.PlayerID) {
	pair, err := f.ensurePair(playerID)
	if err != nil {
		f.log.Errorw("stream id pool exhausted", "player_id", playerID, "error", err)
		return
	}
	f.sock.Send(protocol.New(protocol.TypeStreamerDataChannels,
		protocol.FieldPlayerID, string(playerID),
		protocol.FieldSendStreamID, pair.send,
		protocol.FieldRecvStreamID, pair.recv,
	))
}

// HandlePeerDataChannelsReady tells the bridged player its stream-id
// pair, mirrored to the player's perspective, once the true streamer
// reports its data channels open.
func (f *SFUConnection) HandlePeerDataChannelsReady(playerID domain.PlayerID) {
	pair, err := f.ensurePair(playerID)
	if err != nil {
		f.log.Errorw("stream id pool exhausted", "player_id", playerID, "error", err)
		return
	}
	p, ok := f.relay.players.Get(string(playerID))
	if !ok {
		f.log.Warnw("peerDataChannelsReady for unknown player", "player_id", playerID)
		return
	}
	p.Deliver(protocol.New(protocol.TypePeerDataChannels,
		protocol.FieldPlayerID, string(playerID),
		protocol.FieldSendStreamID, pair.recv,
		protocol.FieldRecvStreamID, pair.send,
	))
}

func (f *SFUConnection) ensurePair(playerID domain.PlayerID) (streamPair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if pair, ok := f.pairs[playerID]; ok {
		return pair, nil
	}
	send, err := f.pool.Allocate()
	if err != nil {
		return streamPair{}, err
	}
	recv, err := f.pool.Allocate()
	if err != nil {
		f.pool.Release(send)
		return streamPair{}, err
	}
	pair := streamPair{send: send, recv: recv}
	f.pairs[playerID] = pair
	return pair, nil
}

// ReleasePlayer returns the player's stream-id pair to the pool.
// Leaking here would exhaust the bridge over time, so the relay calls
// this on every player removal.
func (f *SFUConnection) ReleasePlayer(playerID domain.PlayerID) {
	f.mu.Lock()
	pair, ok := f.pairs[playerID]
	if ok {
		delete(f.pairs, playerID)
	}
	f.mu.Unlock()

	if ok {
		f.pool.Release(pair.send)
		f.pool.Release(pair.recv)
		f.log.Debugw("released stream ids", "player_id", playerID,
			"send_stream_id", pair.send, "recv_stream_id", pair.recv)
	}
}

func (f *SFUConnection) teardown() {
	f.mu.Lock()
	registered := f.registered
	streamerID := f.streamerID
	f.registered = false
	f.mu.Unlock()

	if registered {
		f.relay.dropStreamer(streamerID)
	}
	f.playerIdentity.teardown()

	f.relay.mu.Lock()
	if f.relay.sfu == f {
		f.relay.sfu = nil
	}
	f.relay.mu.Unlock()
	f.log.Infow("sfu disconnected", "streamer_id", streamerID)
}

// sfuStreamerIdentity is the streamer-shaped record of the bridge held
// in the streamer registry. Delivery intercepts dataChannelRequest so
// the bridge can assign stream ids before the SFU sees the request.
type sfuStreamerIdentity struct {
	sfu *SFUConnection
}

func (s *sfuStreamerIdentity) ID() domain.StreamerID {
	s.sfu.mu.Lock()
	defer s.sfu.mu.Unlock()
	return s.sfu.streamerID
}

func (s *sfuStreamerIdentity) RemoteAddr() string {
	return s.sfu.sock.RemoteAddr()
}

func (s *sfuStreamerIdentity) Deliver(msg protocol.Message) error {
	if msg.Type() == protocol.TypeDataChannelRequest {
		if playerID, ok := msg.String(protocol.FieldPlayerID); ok {
			s.sfu.HandleDataChannelRequest(domain.PlayerID(playerID))
			return nil
		}
	}
	return s.sfu.sock.Send(msg)
}
