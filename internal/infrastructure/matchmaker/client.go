package matchmaker

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"pixelfleet/internal/infrastructure/signal"
	"pixelfleet/internal/protocol"
	"pixelfleet/pkg/retry"
)

// State is the matchmaker client's connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return "disconnected"
}

// ClientConfig configures the unit-side control connection.
type ClientConfig struct {
	Address           string // matchmaker control address to dial
	PublicAddress     string // address advertised for viewer placement
	PublicPort        int
	PingInterval      time.Duration
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
}

// Client is the capacity unit's persistent control connection to the
// matchmaker. It announces the unit, mirrors registry events into
// occupancy reports, heartbeats, and reconnects forever on close — a
// briefly unreachable matchmaker must not kill a healthy unit.
type Client struct {
	cfg   ClientConfig
	relay *signal.Relay
	log   *zap.SugaredLogger

	dial func(ctx context.Context, address string) (net.Conn, error)

	mu    sync.Mutex
	conn  net.Conn
	state State
}

func NewClient(cfg ClientConfig, relay *signal.Relay, log *zap.SugaredLogger) *Client {
	c := &Client{
		cfg:   cfg,
		relay: relay,
		log:   log,
		dial: func(ctx context.Context, address string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", address)
		},
	}

	// Occupancy events are mirrored only while connected; the connect
	// message on each (re)connect carries the current state, so events
	// dropped while disconnected are not lost information.
	relay.Streamers().Subscribe(func(ev signal.Event, _ string, _ signal.StreamerEndpoint) {
		if ev == signal.EventAdded {
			c.send(protocol.New(protocol.TypeStreamerConnected))
		} else {
			c.send(protocol.New(protocol.TypeStreamerDisconnected))
		}
	})
	relay.Players().Subscribe(func(ev signal.Event, _ string, _ signal.PlayerEndpoint) {
		if ev == signal.EventAdded {
			c.send(protocol.New(protocol.TypeClientConnected))
		} else {
			c.send(protocol.New(protocol.TypeClientDisconnected))
		}
	})
	return c
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Run drives the connect/report/reconnect loop until the context is
// cancelled. Reconnection is unconditional and unbounded, with a
// capped backoff to avoid hot-looping.
func (c *Client) Run(ctx context.Context) {
	backoff := retry.Unbounded(c.cfg.ReconnectDelay, c.cfg.MaxReconnectDelay)

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		c.setState(StateConnecting)

		conn, err := c.dial(ctx, c.cfg.Address)
		if err != nil {
			c.setState(StateDisconnected)
			c.log.Warnw("matchmaker dial failed", "address", c.cfg.Address,
				"attempt", attempt+1, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(retry.Backoff(backoff, attempt)):
			}
			attempt++
			continue
		}
		attempt = 0

		c.attach(conn)
		c.log.Infow("connected to matchmaker", "address", c.cfg.Address)
		c.sendConnect()
		c.session(ctx, conn)
		c.detach()

		if ctx.Err() != nil {
			return
		}
		c.log.Infow("matchmaker connection closed, scheduling reconnect",
			"delay", c.cfg.ReconnectDelay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(retry.Backoff(backoff, 0)):
		}
	}
}

// session heartbeats until the connection dies or the context ends.
func (c *Client) session(ctx context.Context, conn net.Conn) {
	readErr := make(chan error, 1)
	go func() {
		// The matchmaker never sends data; a read completes only when
		// the connection closes.
		buf := make([]byte, 64)
		for {
			if _, err := conn.Read(buf); err != nil {
				readErr <- err
				return
			}
		}
	}()

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close()
			return
		case <-ticker.C:
			if err := c.send(protocol.New(protocol.TypeControlPing)); err != nil {
				c.log.Warnw("heartbeat failed", "error", err)
				conn.Close()
				return
			}
		case err := <-readErr:
			c.log.Infow("matchmaker connection lost", "error", err)
			return
		}
	}
}

// sendConnect announces the unit with its current occupancy.
func (c *Client) sendConnect() {
	c.send(protocol.New(protocol.TypeConnect,
		protocol.FieldAddress, c.cfg.PublicAddress,
		protocol.FieldPort, c.cfg.PublicPort,
		protocol.FieldReady, c.relay.Streamers().Len() > 0,
		protocol.FieldPlayerConnected, c.relay.Players().Len() > 0,
	))
}

func (c *Client) attach(conn net.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	c.mu.Unlock()
}

func (c *Client) detach() {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = StateDisconnected
	c.mu.Unlock()
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// send writes one message as a bare JSON object. Messages while
// disconnected are dropped; the next connect resynchronizes state.
func (c *Client) send(msg protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = c.conn.Write(raw)
	return err
}
