// Package client implements the initiator side of the protocol: a single
// outbound Connection, its own executor, and its own inbound queue.
//
// Grounded on the teacher's internal/rtmp/client/client.go dial-then-handshake shape,
// stripped of its RTMP AMF0 connect/createStream command flow and replaced
// with the spec's generic framed-message exchange: a Client here is nothing
// more than one Connection plus the queue/executor pair it owns.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/alxayo/netcore/internal/conn"
	rerrors "github.com/alxayo/netcore/internal/errors"
	"github.com/alxayo/netcore/internal/executor"
	"github.com/alxayo/netcore/internal/logger"
	"github.com/alxayo/netcore/internal/message"
	"github.com/alxayo/netcore/internal/queue"
	"github.com/alxayo/netcore/internal/wire"
)

// Config holds the knobs a Client needs before Connect.
type Config struct {
	// LocalConfig is the wire.Config this endpoint advertises during
	// handshake; the zero value defaults to wire.DefaultConfig().
	LocalConfig wire.Config
	// ExecutorQueueDepth bounds the executor's job channel; <= 0 defaults
	// to 64 (a client drives far fewer concurrent writes than a server).
	ExecutorQueueDepth int
}

func (c *Config) applyDefaults() {
	if c.LocalConfig == (wire.Config{}) {
		c.LocalConfig = wire.DefaultConfig()
	}
	if c.ExecutorQueueDepth <= 0 {
		c.ExecutorQueueDepth = 64
	}
}

// Client owns a single outbound Connection, the executor its writes and
// close run on, and the inbound queue its read loop feeds.
type Client struct {
	cfg     Config
	log     *slog.Logger
	exec    *executor.Executor
	inbound *queue.Queue[message.OwnedMessage]
	conn    *conn.Connection
}

// New builds an unconnected Client.
func New(cfg Config) *Client {
	cfg.applyDefaults()
	return &Client{
		cfg:     cfg,
		log:     logger.Logger().With("component", "client"),
		exec:    executor.New(cfg.ExecutorQueueDepth),
		inbound: queue.New[message.OwnedMessage](),
	}
}

// Connect resolves host:port, dials, runs the challenge handshake and config
// exchange, and starts the read loop. Per the spec's corrected contract, it
// returns true only when the connection reaches Ready; any failure returns
// (false, err) and leaves the Client usable for a later Connect attempt.
func (c *Client) Connect(ctx context.Context, host string, port int) (bool, error) {
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	cn, err := conn.Connect(ctx, "tcp", addr, c.exec, c.inbound, c.cfg.LocalConfig)
	if err != nil {
		c.log.Warn("connect failed", "addr", addr, "error", err)
		return false, err
	}
	c.conn = cn
	c.log.Info("connected", "addr", addr, "trace_id", cn.TraceID())
	return true, nil
}

// Disconnect closes the underlying connection. Safe to call multiple times
// and safe to call before Connect.
func (c *Client) Disconnect() {
	if c.conn != nil {
		c.conn.Disconnect()
	}
}

// IsConnected reports whether the underlying connection is live.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Send proxies to the underlying Connection. Returns a not-ready error if
// called before Connect succeeds.
func (c *Client) Send(msg *message.Message) error {
	if c.conn == nil {
		return rerrors.NewNotReadyError("client send: not connected")
	}
	return c.conn.Send(msg)
}

// Incoming exposes the queue the read loop feeds; the application polls it
// directly rather than through a Server-style Update callback.
func (c *Client) Incoming() *queue.Queue[message.OwnedMessage] {
	return c.inbound
}

// Stop joins the executor's worker goroutine. Call once the Client is no
// longer needed, after Disconnect.
func (c *Client) Stop() {
	c.exec.Stop()
}
