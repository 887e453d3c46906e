// Package conn implements the per-peer connection state machine: handshake,
// config exchange, and the framed read/write loops built on top of
// internal/wire, internal/message, internal/bufpool and internal/executor.
//
// Every connection owns exactly one dedicated goroutine that blocks on
// net.Conn reads (Go's net.Conn has no async read primitive to post onto a
// shared executor without one thread parked per socket); framed writes are
// instead posted through the connection's Executor, so Send is safe to call
// from any goroutine and two connections sharing one Executor never
// interleave their writes. Disconnect is not posted: it closes the socket
// directly on the calling goroutine.
package conn

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	rerrors "github.com/alxayo/netcore/internal/errors"
	"github.com/alxayo/netcore/internal/executor"
	"github.com/alxayo/netcore/internal/logger"
	"github.com/alxayo/netcore/internal/message"
	"github.com/alxayo/netcore/internal/queue"
	"github.com/alxayo/netcore/internal/wire"
)

// Role distinguishes which side of the handshake a Connection played.
type Role uint8

const (
	RoleServer Role = iota
	RoleClient
)

func (r Role) String() string {
	if r == RoleClient {
		return "client"
	}
	return "server"
}

// State is the connection lifecycle state machine.
type State int32

const (
	StateNew State = iota
	StateHsWriting
	StateHsReading
	StateHsValidated
	StateCfgExchanging
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateHsWriting:
		return "hs_writing"
	case StateHsReading:
		return "hs_reading"
	case StateHsValidated:
		return "hs_validated"
	case StateCfgExchanging:
		return "cfg_exchanging"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Connection is one peer-to-peer socket, handshaken and config-negotiated
// per the wire protocol, exposing an ordered send/receive surface above a
// raw net.Conn. The zero value is not usable; build one with Accept or
// Connect.
type Connection struct {
	id      uint32
	role    Role
	traceID uuid.UUID
	netConn net.Conn

	exec    *executor.Executor
	inbound *queue.Queue[message.OwnedMessage]

	localCfg  wire.Config
	remoteCfg wire.Config

	state State32

	log *slog.Logger

	doneCh    chan struct{}
	closeOnce sync.Once
	onClose   func(*Connection)
}

// State32 is an atomic-backed State, used so State()/setState() are safe to
// call from the read goroutine, the executor goroutine, and any application
// goroutine calling IsConnected/IsReady concurrently.
type State32 struct{ v atomic.Int32 }

func (s *State32) load() State    { return State(s.v.Load()) }
func (s *State32) store(ns State) { s.v.Store(int32(ns)) }

// State returns the connection's current lifecycle state.
func (c *Connection) State() State { return c.state.load() }

func (c *Connection) setState(s State) { c.state.store(s) }

// ID returns the server-assigned connection id, or 0 for a client-role
// Connection (the client side of the protocol has no id of its own).
func (c *Connection) ID() uint32 { return c.id }

// AssignID is used by internal/server to stamp the registry-assigned id
// onto a Connection built via NewServerConn once its on_client_connect
// gate has accepted it (the spec assigns an id only to gate-accepted
// connections, not to every raw TCP accept). It also refreshes the
// connection's logger so subsequent log lines carry the real id. Callers
// must not call this concurrently with anything else touching c; it is
// meant to run once, synchronously, in the accept goroutine.
func (c *Connection) AssignID(id uint32) {
	c.id = id
	if c.netConn != nil {
		c.log = logger.WithConn(logger.Logger(), c.id, c.traceID.String(), c.netConn.RemoteAddr().String())
	}
}

// TraceID is a process-local correlation id for log lines, distinct from
// the wire-visible server-assigned ID.
func (c *Connection) TraceID() uuid.UUID { return c.traceID }

// Role reports which side of the handshake this Connection played.
func (c *Connection) Role() Role { return c.role }

// RemoteAddr returns the peer's network address, or "" before a socket exists.
func (c *Connection) RemoteAddr() string {
	if c.netConn == nil {
		return ""
	}
	return c.netConn.RemoteAddr().String()
}

// LocalConfig returns the Config this side advertised during handshake.
func (c *Connection) LocalConfig() wire.Config { return c.localCfg }

// RemoteConfig returns the Config the peer advertised during handshake.
func (c *Connection) RemoteConfig() wire.Config { return c.remoteCfg }

// IsConnected reports whether the underlying socket is open (handshake may
// still be in progress). It is false before the socket exists and after
// Disconnect.
func (c *Connection) IsConnected() bool {
	return c.netConn != nil && c.State() != StateClosed
}

// IsReady reports whether the connection has completed handshake and config
// exchange and can accept Send calls.
func (c *Connection) IsReady() bool { return c.State() == StateReady }

// Done returns a channel closed once Disconnect completes.
func (c *Connection) Done() <-chan struct{} { return c.doneCh }

// OnClose registers a callback invoked exactly once when the connection
// closes, from whichever goroutine calls Disconnect. Must be set before the
// connection can close (i.e. immediately after Accept/Connect returns);
// setting it later races with a concurrent close.
func (c *Connection) OnClose(fn func(*Connection)) { c.onClose = fn }

// Inbound returns the queue the read loop pushes decoded messages onto.
// Callers on the client side use this directly; the server package drains
// its own shared queue instead since one queue fans in from every
// connection it owns.
func (c *Connection) Inbound() *queue.Queue[message.OwnedMessage] { return c.inbound }

// NewServerConn wraps an already-accepted net.Conn in a Connection sitting
// in state New, performing no I/O. The server package uses this (rather
// than Accept) so it can run its on_client_connect gate before the
// handshake's first byte crosses the wire; id is stamped into every log
// line from the start. The server package passes 0 here and sets the
// registry-assigned id with AssignID only once the gate accepts, so a
// rejected connection logs conn_id 0 and is told apart by its trace_id.
func NewServerConn(netConn net.Conn, id uint32, exec *executor.Executor, inbound *queue.Queue[message.OwnedMessage], localCfg wire.Config) *Connection {
	c := &Connection{
		id:       id,
		role:     RoleServer,
		traceID:  uuid.New(),
		netConn:  netConn,
		exec:     exec,
		inbound:  inbound,
		localCfg: localCfg,
		doneCh:   make(chan struct{}),
	}
	c.log = logger.WithConn(logger.Logger(), c.id, c.traceID.String(), netConn.RemoteAddr().String())
	return c
}

// ServerHandshake runs the server side of the 8-byte challenge exchange.
func (c *Connection) ServerHandshake() error { return serverHandshake(c) }

// ClientHandshake runs the client side of the 8-byte challenge exchange.
func (c *Connection) ClientHandshake() error { return clientHandshake(c) }

// ExchangeConfig runs the post-handshake Config exchange, identical on
// both roles.
func (c *Connection) ExchangeConfig() error { return exchangeConfig(c) }

// MarkReady transitions the connection to Ready. Callers must only do this
// once ServerHandshake/ClientHandshake and ExchangeConfig have both
// succeeded.
func (c *Connection) MarkReady() {
	c.setState(StateReady)
	c.log.Info("connection ready", "role", c.role.String(), "remote_version", c.remoteCfg.Version.String())
}

// StartReadLoop launches the connection's dedicated read goroutine. Call
// once, after MarkReady.
func (c *Connection) StartReadLoop() { go c.readLoop() }

// FailClose closes the socket after a failed handshake or config exchange,
// before the read loop (and therefore the normal Disconnect path) exists.
func (c *Connection) FailClose() { c.failClose() }

// Accept is the ungated convenience path: handshake, config exchange, then
// start the read loop, with no opportunity for a caller to reject the
// connection before the handshake begins. Tests and simple embedders that
// don't need the server package's on_client_connect gate can use this
// directly; internal/server uses the granular steps above instead.
func Accept(netConn net.Conn, id uint32, exec *executor.Executor, inbound *queue.Queue[message.OwnedMessage], localCfg wire.Config) (*Connection, error) {
	c := NewServerConn(netConn, id, exec, inbound, localCfg)
	if err := c.ServerHandshake(); err != nil {
		c.FailClose()
		return nil, err
	}
	if err := c.ExchangeConfig(); err != nil {
		c.FailClose()
		return nil, err
	}
	c.MarkReady()
	c.StartReadLoop()
	return c, nil
}

// NewClientConn wraps an already-dialed net.Conn in a client-role
// Connection sitting in state New, performing no I/O.
func NewClientConn(netConn net.Conn, exec *executor.Executor, inbound *queue.Queue[message.OwnedMessage], localCfg wire.Config) *Connection {
	c := &Connection{
		role:     RoleClient,
		traceID:  uuid.New(),
		netConn:  netConn,
		exec:     exec,
		inbound:  inbound,
		localCfg: localCfg,
		doneCh:   make(chan struct{}),
	}
	c.log = logger.WithConn(logger.Logger(), c.id, c.traceID.String(), netConn.RemoteAddr().String())
	return c
}

// Connect resolves host:port synchronously, dials, then completes the
// client side of the protocol: handshake, config exchange, then starts the
// read loop.
func Connect(ctx context.Context, network, address string, exec *executor.Executor, inbound *queue.Queue[message.OwnedMessage], localCfg wire.Config) (*Connection, error) {
	var d net.Dialer
	netConn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, rerrors.NewConnectError("dial "+address, err)
	}

	c := NewClientConn(netConn, exec, inbound, localCfg)
	if err := c.ClientHandshake(); err != nil {
		c.FailClose()
		return nil, err
	}
	if err := c.ExchangeConfig(); err != nil {
		c.FailClose()
		return nil, err
	}
	c.MarkReady()
	c.StartReadLoop()
	return c, nil
}

// failClose closes the socket after a failed handshake/config exchange,
// before the read loop (and therefore the normal traffic path) exists. It
// shares closeOnce with Disconnect so the two paths stay mutually
// idempotent: a connection that fails handshake/config can still be sitting
// in a server's registry snapshot when Stop concurrently calls Disconnect on
// it, and closing doneCh twice would otherwise panic.
func (c *Connection) failClose() {
	c.Disconnect()
}

// Send marshals msg and schedules it for transmission on the connection's
// Executor. Size and readiness are validated synchronously so callers learn
// about a NotReadyError or FrameError immediately; the write itself, like
// every framed write in this package, always happens on the Executor
// goroutine and is reported only through Disconnect + logging on failure.
func (c *Connection) Send(msg *message.Message) error {
	if !c.IsReady() {
		return rerrors.NewNotReadyError("send")
	}
	size := uint64(msg.Len())
	if size > c.remoteCfg.MaxMessageSize {
		return rerrors.NewFrameError("send", fmt.Errorf("body of %d bytes exceeds peer's max message size %d", size, c.remoteCfg.MaxMessageSize))
	}

	header := msg.Header
	header.Size = uint32(size)
	body := append([]byte(nil), msg.Body...)
	c.exec.Post(func() { c.writeFrame(header, body) })
	return nil
}

func (c *Connection) writeFrame(header wire.MessageHeader, body []byte) {
	if !c.IsConnected() {
		return
	}
	hb := header.Marshal()
	if _, err := c.netConn.Write(hb[:]); err != nil {
		c.log.Warn("write header failed", "error", err)
		c.Disconnect()
		return
	}
	if len(body) > 0 {
		if _, err := c.netConn.Write(body); err != nil {
			c.log.Warn("write body failed", "error", err)
			c.Disconnect()
			return
		}
	}
	logger.WithMessage(c.log, header.ID, header.Size).Debug("message sent")
}

// Disconnect closes the underlying socket and unblocks the read loop. It is
// safe to call from any goroutine, any number of times.
func (c *Connection) Disconnect() {
	c.closeOnce.Do(func() {
		c.setState(StateClosed)
		if c.netConn != nil {
			_ = c.netConn.Close()
		}
		close(c.doneCh)
		if c.onClose != nil {
			c.onClose(c)
		}
		if c.log != nil {
			c.log.Info("connection closed")
		}
	})
}
