package matchmaker

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"pixelfleet/internal/core/domain"
	"pixelfleet/internal/infrastructure/monitoring"
	"pixelfleet/internal/protocol"
	"pixelfleet/pkg/utils"
)

// Server accepts persistent control connections from capacity units.
// Messages are back-to-back JSON objects; anything the Control schema
// rejects is fatal for that connection only — the matchmaker cannot
// trust further state from a client that already sent garbage.
type Server struct {
	allocator *Allocator
	schema    *protocol.Registry

	mu    sync.Mutex
	conns map[domain.UnitID]net.Conn

	sweepInterval time.Duration

	metrics *monitoring.FleetCollector
	log     *zap.SugaredLogger
}

func NewServer(allocator *Allocator, sweepInterval time.Duration, metrics *monitoring.FleetCollector, log *zap.SugaredLogger) *Server {
	return &Server{
		allocator:     allocator,
		schema:        protocol.Control(),
		conns:         make(map[domain.UnitID]net.Conn),
		sweepInterval: sweepInterval,
		metrics:       metrics,
		log:           log,
	}
}

// Serve runs the accept loop and the liveness sweep until the context
// is cancelled or the listener fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go s.sweepLoop(ctx)
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go s.handleConn(conn)
	}
}

func (s *Server) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range s.allocator.SweepStale() {
				s.closeConn(id)
			}
		}
	}
}

func (s *Server) handleConn(conn net.Conn) {
	id := domain.UnitID(utils.GenerateUnitID())
	remote := conn.RemoteAddr().String()
	s.log.Infow("control connection accepted", "unit_id", id, "remote_addr", remote)

	s.mu.Lock()
	s.conns[id] = conn
	s.mu.Unlock()

	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, id)
		s.mu.Unlock()
		// Closing without a graceful shutdown message destroys the record.
		s.allocator.Drop(id)
	}()

	dec := json.NewDecoder(conn)
	for {
		var msg protocol.Message
		if err := dec.Decode(&msg); err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.log.Infow("control connection closed", "unit_id", id, "error", err)
			}
			return
		}
		if err := s.schema.ValidateMessage(msg); err != nil {
			s.log.Warnw("invalid control message, dropping connection",
				"unit_id", id, "remote_addr", remote, "error", err)
			return
		}
		if !s.dispatch(id, remote, msg) {
			return
		}
	}
}

// dispatch applies one validated control message. It returns false
// when the connection must be dropped.
func (s *Server) dispatch(id domain.UnitID, remote string, msg protocol.Message) bool {
	s.metrics.RecordControlMessage(msg.Type())

	if msg.Type() != protocol.TypeConnect && !s.allocator.Known(id) {
		s.log.Warnw("control message before connect, dropping connection",
			"unit_id", id, "remote_addr", remote, "type", msg.Type())
		return false
	}

	switch msg.Type() {
	case protocol.TypeConnect:
		address, okAddr := msg.String(protocol.FieldAddress)
		port, okPort := msg.Int(protocol.FieldPort)
		if !okAddr || !okPort {
			s.log.Warnw("malformed connect message, dropping connection",
				"unit_id", id, "remote_addr", remote)
			return false
		}
		ready := msg.Bool(protocol.FieldReady, false)
		playerConnected := msg.Bool(protocol.FieldPlayerConnected, false)
		if replaced := s.allocator.Register(id, address, port, ready, playerConnected); replaced != "" {
			s.closeConn(replaced)
		}

	case protocol.TypeControlPing:
		s.allocator.Ping(id)

	case protocol.TypeStreamerConnected:
		s.allocator.SetReady(id, true)

	case protocol.TypeStreamerDisconnected:
		s.allocator.SetReady(id, false)

	case protocol.TypeClientConnected:
		s.allocator.AdjustClients(id, 1)

	case protocol.TypeClientDisconnected:
		s.allocator.AdjustClients(id, -1)
	}
	return true
}

func (s *Server) closeConn(id domain.UnitID) {
	s.mu.Lock()
	conn, ok := s.conns[id]
	s.mu.Unlock()
	if ok {
		conn.Close()
	}
}
