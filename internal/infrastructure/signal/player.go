package signal

import (
	"sync"

	"go.uber.org/zap"

	"pixelfleet/internal/core/domain"
	"pixelfleet/internal/protocol"
)

// PlayerConnection is the session object for one viewer socket. It is
// also reused as the player-shaped identity of an SFU bridge, where it
// shares the bridge's socket.
type PlayerConnection struct {
	relay *Relay
	sock  *wsConn
	log   *zap.SugaredLogger

	id        domain.PlayerID
	role      domain.PlayerRole
	sendOffer bool

	mu           sync.Mutex
	subscribedTo domain.StreamerID
}

func newPlayerConnection(relay *Relay, sock *wsConn, id domain.PlayerID, role domain.PlayerRole, sendOffer bool, log *zap.SugaredLogger) *PlayerConnection {
	return &PlayerConnection{
		relay:     relay,
		sock:      sock,
		id:        id,
		role:      role,
		sendOffer: sendOffer,
		log:       log,
	}
}

func (p *PlayerConnection) ID() domain.PlayerID     { return p.id }
func (p *PlayerConnection) Role() domain.PlayerRole { return p.role }
func (p *PlayerConnection) SendOffer() bool         { return p.sendOffer }

func (p *PlayerConnection) SubscribedTo() domain.StreamerID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.subscribedTo
}

// Deliver writes a streamer-originated message to the player socket.
func (p *PlayerConnection) Deliver(msg protocol.Message) error {
	return p.sock.Send(msg)
}

// ClearSubscription drops the subscription without notifying the
// streamer. The player must re-subscribe.
func (p *PlayerConnection) ClearSubscription() {
	p.mu.Lock()
	p.subscribedTo = ""
	p.mu.Unlock()
}

// Kick force-closes the player socket.
func (p *PlayerConnection) Kick(code int, reason string) {
	p.sock.CloseWithReason(code, reason)
}

func (p *PlayerConnection) handleMessage(msg protocol.Message) {
	switch msg.Type() {
	case protocol.TypeSubscribe:
		streamerID, _ := msg.String(protocol.FieldStreamerID)
		p.Subscribe(domain.StreamerID(streamerID))

	case protocol.TypeUnsubscribe:
		p.Unsubscribe()

	case protocol.TypeListStreamers:
		p.sock.Send(protocol.New(protocol.TypeStreamerList,
			protocol.FieldIDs, p.relay.streamers.IDs()))

	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeICECandidate,
		protocol.TypeDataChannelRequest, protocol.TypeLayerPreference:
		p.SendFrom(msg)

	default:
		p.log.Warnw("unexpected message on player socket",
			"type", msg.Type(), "player_id", p.id)
	}
}

// Subscribe records a subscription to the named streamer and tells the
// streamer a player arrived. Subscribing to an unknown streamer is
// logged and ignored, never fatal.
func (p *PlayerConnection) Subscribe(streamerID domain.StreamerID) {
	s, ok := p.relay.streamers.Get(string(streamerID))
	if !ok {
		p.log.Errorw("subscribe to unknown streamer",
			"player_id", p.id, "streamer_id", streamerID)
		p.relay.metrics.RecordSubscribeFailure()
		return
	}

	p.mu.Lock()
	p.subscribedTo = streamerID
	p.mu.Unlock()

	notice := protocol.New(protocol.TypePlayerConnected,
		protocol.FieldPlayerID, string(p.id),
		protocol.FieldDataChannel, true,
		protocol.FieldSFU, p.role == domain.RoleSFU,
		protocol.FieldSendOffer, p.sendOffer,
	)
	if err := s.Deliver(notice); err != nil {
		p.log.Warnw("failed to notify streamer of subscription",
			"player_id", p.id, "streamer_id", streamerID, "error", err)
	}
	p.log.Infow("player subscribed", "player_id", p.id, "streamer_id", streamerID)
}

// Unsubscribe notifies the subscribed streamer, if any, and always
// clears the subscription field.
func (p *PlayerConnection) Unsubscribe() {
	p.mu.Lock()
	streamerID := p.subscribedTo
	p.subscribedTo = ""
	p.mu.Unlock()

	if streamerID == "" {
		return
	}
	if s, ok := p.relay.streamers.Get(string(streamerID)); ok {
		s.Deliver(protocol.New(protocol.TypePlayerDisconnected,
			protocol.FieldPlayerID, string(p.id)))
	}
	p.log.Infow("player unsubscribed", "player_id", p.id, "streamer_id", streamerID)
}

// SendFrom forwards a player-originated message to the subscribed
// streamer, attaching the playerId routing field. Sending while
// unsubscribed is a client protocol-ordering bug: it is reported, and
// only when the fallback flag is set and exactly one streamer exists
// is the message forwarded anyway.
func (p *PlayerConnection) SendFrom(msg protocol.Message) {
	if _, has := msg.String(protocol.FieldPlayerID); !has {
		msg = msg.With(protocol.FieldPlayerID, string(p.id))
	}

	streamerID := p.SubscribedTo()
	var target StreamerEndpoint
	if streamerID != "" {
		if s, ok := p.relay.streamers.Get(string(streamerID)); ok {
			target = s
		}
	}

	if target == nil {
		p.log.Errorw("player sent message without a live subscription",
			"player_id", p.id, "type", msg.Type(), "subscribed_to", streamerID)
		if !p.relay.opts.AllowStreamerFallback {
			return
		}
		s, ok := p.relay.fallbackStreamer()
		if !ok {
			return
		}
		// Falling back masks an ordering bug in the client, so shout.
		p.log.Warnw("falling back to the only registered streamer",
			"player_id", p.id, "streamer_id", s.ID(), "type", msg.Type())
		target = s
	}

	if err := target.Deliver(msg); err != nil {
		p.log.Warnw("failed to deliver to streamer",
			"player_id", p.id, "streamer_id", target.ID(), "error", err)
		return
	}
	p.relay.metrics.RecordForwarded(msg.Type())
}

// teardown unsubscribes (notifying the streamer) and removes the
// player from the registry.
func (p *PlayerConnection) teardown() {
	p.Unsubscribe()
	p.relay.players.Remove(string(p.id))
	p.log.Infow("player disconnected", "player_id", p.id)
}
