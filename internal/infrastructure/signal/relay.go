package signal

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	webrtc "github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"pixelfleet/internal/core/domain"
	"pixelfleet/internal/infrastructure/monitoring"
	"pixelfleet/internal/protocol"
	"pixelfleet/pkg/utils"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// PeerConnectionOptions is handed to every connecting peer in the
// config message. Only the signalling surface of WebRTC is modeled
// here; the options pass through to the remote WebRTC stack untouched.
type PeerConnectionOptions struct {
	ICEServers []webrtc.ICEServer `json:"iceServers"`
}

// Options configures one signalling relay instance.
type Options struct {
	ProtocolVersion       string
	PeerConnectionOptions PeerConnectionOptions
	PingInterval          time.Duration
	WriteTimeout          time.Duration
	MaxStreamIDs          int
	AllowStreamerFallback bool
}

// Relay owns the streamer and player registries of one capacity unit
// and routes session-negotiation messages between the parties.
type Relay struct {
	opts   Options
	schema *protocol.Registry

	streamers *Registry[StreamerEndpoint]
	players   *Registry[PlayerEndpoint]

	mu      sync.Mutex
	pending map[*StreamerConnection]struct{}
	sfu     *SFUConnection

	metrics *monitoring.RelayCollector
	log     *zap.SugaredLogger
}

func NewRelay(opts Options, metrics *monitoring.RelayCollector, log *zap.SugaredLogger) *Relay {
	r := &Relay{
		opts:      opts,
		schema:    protocol.Signalling(),
		streamers: NewRegistry[StreamerEndpoint](),
		players:   NewRegistry[PlayerEndpoint](),
		pending:   make(map[*StreamerConnection]struct{}),
		metrics:   metrics,
		log:       log,
	}

	r.streamers.Subscribe(func(Event, string, StreamerEndpoint) {
		r.metrics.SetStreamers(r.streamers.Len())
	})
	r.players.Subscribe(func(ev Event, id string, _ PlayerEndpoint) {
		r.metrics.SetPlayers(r.players.Len())
		if ev == EventRemoved {
			if sfu := r.SFU(); sfu != nil {
				sfu.ReleasePlayer(domain.PlayerID(id))
			}
		}
	})
	return r
}

// Streamers exposes the streamer registry for occupancy listeners.
func (r *Relay) Streamers() *Registry[StreamerEndpoint] { return r.streamers }

// Players exposes the player registry for occupancy listeners.
func (r *Relay) Players() *Registry[PlayerEndpoint] { return r.players }

// SFU returns the active SFU bridge, if any.
func (r *Relay) SFU() *SFUConnection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sfu
}

// HandleStreamer accepts the streamer WebSocket endpoint. The streamer
// is held pending until it identifies itself with endpointId.
func (r *Relay) HandleStreamer(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.Errorw("streamer websocket upgrade failed", "error", err)
		return
	}
	sock := newWSConn(conn, r.opts.WriteTimeout)
	s := newStreamerConnection(r, sock, r.log)

	r.mu.Lock()
	r.pending[s] = struct{}{}
	r.mu.Unlock()

	r.log.Infow("streamer connected", "remote_addr", sock.RemoteAddr())
	r.sendConfig(sock)
	sock.Send(protocol.New(protocol.TypeIdentify))

	r.serve(sock, s)
}

// HandlePlayer accepts the player WebSocket endpoint. A relay-unique
// player id is assigned on accept; the sendOffer query parameter
// (default true) declares whether the streamer should originate the
// SDP offer for this player.
func (r *Relay) HandlePlayer(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.Errorw("player websocket upgrade failed", "error", err)
		return
	}
	sock := newWSConn(conn, r.opts.WriteTimeout)

	sendOffer := true
	if v := req.URL.Query().Get("sendOffer"); v == "false" {
		sendOffer = false
	}

	id := domain.PlayerID(utils.GeneratePlayerID())
	p := newPlayerConnection(r, sock, id, domain.RoleRegular, sendOffer, r.log)
	if err := r.players.Add(string(id), p); err != nil {
		r.log.Errorw("failed to register player", "player_id", id, "error", err)
		sock.Close()
		return
	}

	r.log.Infow("player connected", "player_id", id, "remote_addr", sock.RemoteAddr(), "send_offer", sendOffer)
	r.sendConfig(sock)

	r.serve(sock, p)
}

// HandleSFU accepts the SFU bridge endpoint. At most one bridge is
// active per relay; a second connection is refused.
func (r *Relay) HandleSFU(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.Errorw("sfu websocket upgrade failed", "error", err)
		return
	}
	sock := newWSConn(conn, r.opts.WriteTimeout)

	r.mu.Lock()
	if r.sfu != nil {
		r.mu.Unlock()
		r.log.Warnw("refusing second sfu connection", "remote_addr", sock.RemoteAddr())
		sock.CloseWithReason(websocket.ClosePolicyViolation, "sfu already connected")
		return
	}
	sfu := newSFUConnection(r, sock, r.log)
	r.sfu = sfu
	r.mu.Unlock()

	if err := r.players.Add(string(sfu.PlayerID()), sfu.playerIdentity); err != nil {
		r.log.Errorw("failed to register sfu player identity", "error", err)
		r.mu.Lock()
		r.sfu = nil
		r.mu.Unlock()
		sock.Close()
		return
	}

	r.log.Infow("sfu connected", "player_id", sfu.PlayerID(), "remote_addr", sock.RemoteAddr())
	r.sendConfig(sock)
	sock.Send(protocol.New(protocol.TypeIdentify))

	r.serve(sock, sfu)
}

func (r *Relay) sendConfig(sock *wsConn) {
	msg := protocol.New(protocol.TypeConfig,
		"protocolVersion", r.opts.ProtocolVersion,
		"peerConnectionOptions", r.opts.PeerConnectionOptions,
	)
	if err := sock.Send(msg); err != nil {
		r.log.Warnw("failed to send config", "remote_addr", sock.RemoteAddr(), "error", err)
	}
}

// session is the role-specific part of one accepted socket.
type session interface {
	handleMessage(msg protocol.Message)
	teardown()
}

// serve runs the read loop of one socket: a reader goroutine validates
// inbound frames against the signalling schema, the select loop
// dispatches them in receipt order and keeps the ws-level ping alive.
// Invalid messages are logged and dropped, never fatal to the socket.
func (r *Relay) serve(sock *wsConn, s session) {
	msgChan := make(chan protocol.Message, 16)
	errChan := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			_, raw, err := sock.conn.ReadMessage()
			if err != nil {
				errChan <- err
				return
			}
			msg, err := r.schema.Validate(raw)
			if err != nil {
				r.log.Warnw("dropping invalid signalling message",
					"remote_addr", sock.RemoteAddr(), "error", err)
				r.metrics.RecordProtocolError()
				continue
			}
			// The loop below stops receiving once it returns; without
			// the done case a full buffer would strand this goroutine.
			select {
			case msgChan <- msg:
			case <-done:
				return
			}
		}
	}()

	pingTicker := time.NewTicker(r.opts.PingInterval)
	defer pingTicker.Stop()
	defer s.teardown()
	defer sock.Close()

	for {
		select {
		case msg := <-msgChan:
			s.handleMessage(msg)

		case <-pingTicker.C:
			if err := sock.Ping(); err != nil {
				r.log.Infow("ping failed, dropping connection",
					"remote_addr", sock.RemoteAddr(), "error", err)
				return
			}

		case err := <-errChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				r.log.Infow("socket read error", "remote_addr", sock.RemoteAddr(), "error", err)
			}
			return
		}
	}
}

// registerStreamer enters an identified streamer endpoint into the
// registry. Ids must be unique while streaming.
func (r *Relay) registerStreamer(ep StreamerEndpoint) error {
	return r.streamers.Add(string(ep.ID()), ep)
}

// dropStreamer removes a streamer endpoint and clears the subscription
// of every affected player so no dangling subscription survives.
func (r *Relay) dropStreamer(id domain.StreamerID) {
	if _, ok := r.streamers.Remove(string(id)); !ok {
		return
	}
	for _, p := range r.players.List() {
		if p.SubscribedTo() == id {
			p.ClearSubscription()
			r.log.Infow("cleared subscription, streamer went away",
				"player_id", p.ID(), "streamer_id", id)
		}
	}
}

func (r *Relay) removePending(s *StreamerConnection) {
	r.mu.Lock()
	delete(r.pending, s)
	r.mu.Unlock()
}

// fallbackStreamer returns the single registered streamer if exactly
// one exists. Used only behind the AllowStreamerFallback flag.
func (r *Relay) fallbackStreamer() (StreamerEndpoint, bool) {
	list := r.streamers.List()
	if len(list) == 1 {
		return list[0], true
	}
	return nil, false
}

// StreamerSummaries reports every streamer connection, identified or
// still pending, with the players subscribed to it.
func (r *Relay) StreamerSummaries() []domain.StreamerSummary {
	players := r.players.List()
	out := make([]domain.StreamerSummary, 0, r.streamers.Len())

	for _, s := range r.streamers.List() {
		summary := domain.StreamerSummary{
			ID:         s.ID(),
			Streaming:  true,
			RemoteAddr: s.RemoteAddr(),
			Players:    []domain.PlayerSummary{},
		}
		for _, p := range players {
			if p.SubscribedTo() == s.ID() {
				summary.Players = append(summary.Players, playerSummary(p))
			}
		}
		out = append(out, summary)
	}

	r.mu.Lock()
	for s := range r.pending {
		out = append(out, domain.StreamerSummary{
			Streaming:  false,
			RemoteAddr: s.RemoteAddr(),
			Players:    []domain.PlayerSummary{},
		})
	}
	r.mu.Unlock()
	return out
}

// PlayerSummaries reports every player connection and its subscription.
func (r *Relay) PlayerSummaries() []domain.PlayerSummary {
	players := r.players.List()
	out := make([]domain.PlayerSummary, 0, len(players))
	for _, p := range players {
		out = append(out, playerSummary(p))
	}
	return out
}

func playerSummary(p PlayerEndpoint) domain.PlayerSummary {
	return domain.PlayerSummary{
		ID:           p.ID(),
		SubscribedTo: p.SubscribedTo(),
		SendOffer:    p.SendOffer(),
		Role:         p.Role(),
	}
}
