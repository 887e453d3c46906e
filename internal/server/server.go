// Package server implements the accept side of the protocol: a listening
// endpoint, a registry of gate-accepted connections, and the dispatch/fan-out
// surface applications drive via Update/MessageClient/MessageAllClients.
//
// Grounded on the teacher's internal/rtmp/server/server.go listener + accept-loop +
// connection-map shape, generalized from RTMP's handshake/control-burst
// flow to the spec's challenge/config handshake, and restructured so the
// on_client_connect gate runs before a single handshake byte crosses the
// wire (internal/conn's granular NewServerConn/ServerHandshake/
// ExchangeConfig/MarkReady steps make that possible without the teacher's
// single monolithic conn.Accept call).
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/alxayo/netcore/internal/bufpool"
	"github.com/alxayo/netcore/internal/conn"
	"github.com/alxayo/netcore/internal/executor"
	"github.com/alxayo/netcore/internal/logger"
	"github.com/alxayo/netcore/internal/message"
	"github.com/alxayo/netcore/internal/queue"
	"github.com/alxayo/netcore/internal/wire"
)

// Config holds the knobs a Server needs before Start.
type Config struct {
	// ListenAddr is passed to net.Listen("tcp", ...); "" defaults to ":0"
	// (an OS-assigned port, convenient for tests).
	ListenAddr string
	// LocalConfig is the wire.Config this endpoint advertises during every
	// handshake; the zero value defaults to wire.DefaultConfig().
	LocalConfig wire.Config
	// ExecutorQueueDepth bounds the shared executor's job channel; <= 0
	// defaults to 256.
	ExecutorQueueDepth int
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":0"
	}
	if c.LocalConfig == (wire.Config{}) {
		c.LocalConfig = wire.DefaultConfig()
	}
	if c.ExecutorQueueDepth <= 0 {
		c.ExecutorQueueDepth = 256
	}
}

// Server owns the listening endpoint, the shared executor every accepted
// Connection's writes run on, the ordered registry of gate-accepted
// connections (registered before their handshake starts), and the inbound
// queue the application drains via Update.
type Server struct {
	cfg      Config
	handlers Handlers
	log      *slog.Logger

	exec    *executor.Executor
	inbound *queue.Queue[message.OwnedMessage]
	reg     *Registry

	mu       sync.Mutex
	listener net.Listener
	acceptWg sync.WaitGroup
	stopping atomic.Bool
}

// New builds an unstarted Server. Handlers.OnClientConnect defaults to a
// reject-all gate if left nil, matching the spec's stated default.
func New(cfg Config, h Handlers) *Server {
	cfg.applyDefaults()
	if h.OnClientConnect == nil {
		h.OnClientConnect = rejectAll
	}
	return &Server{
		cfg:      cfg,
		handlers: h,
		log:      logger.Logger().With("component", "server"),
		exec:     executor.New(cfg.ExecutorQueueDepth),
		inbound:  queue.New[message.OwnedMessage](),
		reg:      newRegistry(),
	}
}

// Start binds the listener and launches the accept loop. It is an error to
// call Start twice.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.listener != nil {
		s.mu.Unlock()
		return errors.New("server: already started")
	}
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("server: listen %s: %w", s.cfg.ListenAddr, err)
	}
	s.listener = ln
	s.mu.Unlock()

	s.log.Info("listening", "addr", ln.Addr().String())
	s.acceptWg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Registry exposes the connection registry, primarily for tests that want
// to assert on P4 (id assignment) without a full accept round trip.
func (s *Server) Registry() *Registry { return s.reg }

func (s *Server) acceptLoop() {
	defer s.acceptWg.Done()
	for {
		netConn, err := s.listener.Accept()
		if err != nil {
			if s.stopping.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("accept error", "error", err)
			return
		}
		go s.handleAccepted(netConn)
	}
}

// handleAccepted drives one accepted socket through the gate, handshake,
// and config exchange, registering it in the registry only once the gate
// approves (per spec, an id is assigned only to gate-accepted
// connections).
func (s *Server) handleAccepted(netConn net.Conn) {
	c := conn.NewServerConn(netConn, 0, s.exec, s.inbound, s.cfg.LocalConfig)

	if !s.handlers.OnClientConnect(c) {
		s.log.Info("connection rejected by on_client_connect", "remote", netConn.RemoteAddr().String())
		c.FailClose()
		return
	}

	id := s.reg.allocateID()
	c.AssignID(id)
	s.reg.Add(c)

	if err := c.ServerHandshake(); err != nil {
		s.log.Warn("handshake failed", "conn_id", id, "error", err)
		s.rejectRegistered(c)
		return
	}
	if s.handlers.OnClientValidated != nil {
		s.handlers.OnClientValidated(c)
	}

	if err := c.ExchangeConfig(); err != nil {
		s.log.Warn("config exchange failed", "conn_id", id, "error", err)
		s.rejectRegistered(c)
		return
	}
	if s.handlers.OnClientConfigValidated != nil {
		s.handlers.OnClientConfigValidated(c)
	}

	c.MarkReady()
	c.StartReadLoop()
	s.log.Info("connection accepted", "conn_id", id, "remote", netConn.RemoteAddr().String())
	if s.handlers.OnClientReady != nil {
		s.handlers.OnClientReady(c)
	}
}

// rejectRegistered removes a registered-but-not-yet-Ready connection (failed
// handshake or config exchange) and notifies OnClientDisconnect exactly
// once, matching seed scenario 5.
func (s *Server) rejectRegistered(c *conn.Connection) {
	c.FailClose()
	if _, ok := s.reg.Remove(c.ID()); ok && s.handlers.OnClientDisconnect != nil {
		s.handlers.OnClientDisconnect(c)
	}
}

// removeAndNotify removes a Ready connection that has since disconnected
// and fires OnClientDisconnect. It is the lazy-removal path the spec
// describes ("the server removes its entry on the next traversal"),
// invoked from Update and MessageAllClients.
func (s *Server) removeAndNotify(c *conn.Connection) {
	if _, ok := s.reg.Remove(c.ID()); ok && s.handlers.OnClientDisconnect != nil {
		s.handlers.OnClientDisconnect(c)
	}
}

// Update drains up to max inbound messages, invoking OnMessage for each. If
// wait is true and the queue runs dry before max is reached, Update blocks
// for the next message; it never blocks once max has been drained. Every
// call also sweeps the registry for connections that disconnected since the
// last traversal.
func (s *Server) Update(max int, wait bool) {
	drained := 0
	for drained < max {
		owned, ok := s.inbound.PopFront()
		if !ok {
			if !wait {
				break
			}
			owned, ok = s.inbound.Wait(context.Background())
			if !ok {
				break
			}
		}
		drained++
		body := owned.Msg.Body
		if s.handlers.OnMessage != nil {
			remote, _ := owned.Remote.(*conn.Connection)
			s.handlers.OnMessage(remote, &owned.Msg)
		}
		bufpool.Put(body)
	}
	s.sweep()
}

// sweep removes every registered connection that is no longer connected.
func (s *Server) sweep() {
	for _, c := range s.reg.Snapshot() {
		if !c.IsConnected() {
			s.removeAndNotify(c)
		}
	}
}

// MessageClient sends msg to the connection registered under id. If the
// connection has disconnected since it was last observed, it is removed
// from the registry and OnClientDisconnect fires.
func (s *Server) MessageClient(id uint32, msg *message.Message) error {
	c, ok := s.reg.Get(id)
	if !ok {
		return fmt.Errorf("server: no connection with id %d", id)
	}
	if !c.IsConnected() {
		s.removeAndNotify(c)
		return fmt.Errorf("server: connection %d is no longer connected", id)
	}
	return c.Send(msg)
}

// MessageAllClients sends msg to every registered connection except the one
// whose id equals except (pass 0 to exclude nobody, since 0 is never a
// valid assigned id). It snapshots the registry once, sends outside any
// lock, and removes every connection found disconnected in a single pass
// at the end, per spec.
func (s *Server) MessageAllClients(msg *message.Message, except uint32) {
	snap := s.reg.Snapshot()
	var dead []*conn.Connection
	for _, c := range snap {
		if c.ID() == except {
			continue
		}
		if !c.IsConnected() {
			dead = append(dead, c)
			continue
		}
		if err := c.Send(msg); err != nil && !c.IsConnected() {
			dead = append(dead, c)
		}
	}
	for _, c := range dead {
		s.removeAndNotify(c)
	}
}

// Stop halts the accept loop, closes the listener and every registered
// connection, and joins the executor's worker goroutine. After Stop
// returns, no further callback fires (P6).
func (s *Server) Stop() error {
	s.mu.Lock()
	ln := s.listener
	if ln == nil {
		s.mu.Unlock()
		return nil
	}
	s.stopping.Store(true)
	s.listener = nil
	s.mu.Unlock()

	_ = ln.Close()
	s.acceptWg.Wait()

	for _, c := range s.reg.Snapshot() {
		c.Disconnect()
		s.reg.Remove(c.ID())
	}

	s.exec.Stop()
	s.log.Info("server stopped")
	return nil
}
