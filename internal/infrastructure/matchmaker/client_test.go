package matchmaker

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"pixelfleet/internal/core/domain"
	"pixelfleet/internal/infrastructure/monitoring"
	"pixelfleet/internal/infrastructure/signal"
	"pixelfleet/internal/protocol"
)

type fakeStreamer struct{ id domain.StreamerID }

func (f *fakeStreamer) ID() domain.StreamerID              { return f.id }
func (f *fakeStreamer) RemoteAddr() string                 { return "test" }
func (f *fakeStreamer) Deliver(msg protocol.Message) error { return nil }

type fakePlayer struct{ id domain.PlayerID }

func (f *fakePlayer) ID() domain.PlayerID                { return f.id }
func (f *fakePlayer) Role() domain.PlayerRole            { return domain.RoleRegular }
func (f *fakePlayer) SendOffer() bool                    { return true }
func (f *fakePlayer) SubscribedTo() domain.StreamerID    { return "" }
func (f *fakePlayer) Deliver(msg protocol.Message) error { return nil }
func (f *fakePlayer) ClearSubscription()                 {}
func (f *fakePlayer) Kick(code int, reason string)       {}

func newTestRelay() *signal.Relay {
	metrics := monitoring.NewRelayCollector(prometheus.NewRegistry())
	return signal.NewRelay(signal.Options{
		ProtocolVersion: "1.0.0",
		PingInterval:    time.Minute,
		WriteTimeout:    time.Second,
		MaxStreamIDs:    16,
	}, metrics, zap.NewNop().Sugar())
}

// fakeMatchmaker accepts control connections and decodes their message
// stream onto a channel.
type fakeMatchmaker struct {
	ln    net.Listener
	conns chan net.Conn
	msgs  chan protocol.Message
}

func newFakeMatchmaker(t *testing.T) *fakeMatchmaker {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	fm := &fakeMatchmaker{
		ln:    ln,
		conns: make(chan net.Conn, 4),
		msgs:  make(chan protocol.Message, 16),
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			fm.conns <- conn
			go func() {
				dec := json.NewDecoder(conn)
				for {
					var msg protocol.Message
					if err := dec.Decode(&msg); err != nil {
						return
					}
					fm.msgs <- msg
				}
			}()
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return fm
}

func (fm *fakeMatchmaker) nextMessage(t *testing.T) protocol.Message {
	t.Helper()
	select {
	case msg := <-fm.msgs:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for control message")
		return nil
	}
}

func (fm *fakeMatchmaker) nextConn(t *testing.T) net.Conn {
	t.Helper()
	select {
	case conn := <-fm.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for control connection")
		return nil
	}
}

func testClientConfig(addr string) ClientConfig {
	return ClientConfig{
		Address:           addr,
		PublicAddress:     "10.0.0.5",
		PublicPort:        8888,
		PingInterval:      time.Hour,
		ReconnectDelay:    10 * time.Millisecond,
		MaxReconnectDelay: 50 * time.Millisecond,
	}
}

func TestClient_SendsConnectOnConnect(t *testing.T) {
	fm := newFakeMatchmaker(t)
	relay := newTestRelay()
	client := NewClient(testClientConfig(fm.ln.Addr().String()), relay, zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	msg := fm.nextMessage(t)
	if msg.Type() != protocol.TypeConnect {
		t.Fatalf("expected connect, got %q", msg.Type())
	}
	addr, _ := msg.String(protocol.FieldAddress)
	port, _ := msg.Int(protocol.FieldPort)
	if addr != "10.0.0.5" || port != 8888 {
		t.Errorf("connect advertises wrong endpoint: %s:%d", addr, port)
	}
	if msg.Bool(protocol.FieldReady, true) {
		t.Error("connect claims ready with no streamer")
	}
	if msg.Bool(protocol.FieldPlayerConnected, true) {
		t.Error("connect claims players with none connected")
	}

	eventually(t, func() bool { return client.State() == StateConnected }, "client never reached connected state")
}

func TestClient_MirrorsRegistryEvents(t *testing.T) {
	fm := newFakeMatchmaker(t)
	relay := newTestRelay()
	client := NewClient(testClientConfig(fm.ln.Addr().String()), relay, zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	if msg := fm.nextMessage(t); msg.Type() != protocol.TypeConnect {
		t.Fatalf("expected connect first, got %q", msg.Type())
	}
	eventually(t, func() bool { return client.State() == StateConnected }, "client never connected")

	relay.Streamers().Add("stream-a", &fakeStreamer{id: "stream-a"})
	if msg := fm.nextMessage(t); msg.Type() != protocol.TypeStreamerConnected {
		t.Errorf("expected streamerConnected, got %q", msg.Type())
	}

	relay.Players().Add("player-1", &fakePlayer{id: "player-1"})
	if msg := fm.nextMessage(t); msg.Type() != protocol.TypeClientConnected {
		t.Errorf("expected clientConnected, got %q", msg.Type())
	}

	relay.Players().Remove("player-1")
	if msg := fm.nextMessage(t); msg.Type() != protocol.TypeClientDisconnected {
		t.Errorf("expected clientDisconnected, got %q", msg.Type())
	}

	relay.Streamers().Remove("stream-a")
	if msg := fm.nextMessage(t); msg.Type() != protocol.TypeStreamerDisconnected {
		t.Errorf("expected streamerDisconnected, got %q", msg.Type())
	}
}

func TestClient_ReconnectsAndResyncsState(t *testing.T) {
	fm := newFakeMatchmaker(t)
	relay := newTestRelay()
	client := NewClient(testClientConfig(fm.ln.Addr().String()), relay, zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	first := fm.nextConn(t)
	if msg := fm.nextMessage(t); msg.Type() != protocol.TypeConnect {
		t.Fatalf("expected connect, got %q", msg.Type())
	}

	// State changes while the matchmaker is away are carried by the
	// connect message on reconnect.
	relay.Streamers().Add("stream-a", &fakeStreamer{id: "stream-a"})
	fm.nextMessage(t) // streamerConnected on the old connection

	first.Close()

	fm.nextConn(t)
	msg := fm.nextMessage(t)
	if msg.Type() != protocol.TypeConnect {
		t.Fatalf("expected connect after reconnect, got %q", msg.Type())
	}
	if !msg.Bool(protocol.FieldReady, false) {
		t.Error("reconnect connect message lost streamer readiness")
	}
}

func TestClient_EventsWhileDisconnectedAreDropped(t *testing.T) {
	relay := newTestRelay()
	client := NewClient(testClientConfig("127.0.0.1:1"), relay, zap.NewNop().Sugar())

	// No connection; mirroring must be a silent no-op.
	relay.Streamers().Add("stream-a", &fakeStreamer{id: "stream-a"})
	relay.Streamers().Remove("stream-a")

	if client.State() != StateDisconnected {
		t.Errorf("expected disconnected state, got %v", client.State())
	}
}

func TestState_String(t *testing.T) {
	cases := map[State]string{
		StateDisconnected: "disconnected",
		StateConnecting:   "connecting",
		StateConnected:    "connected",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
