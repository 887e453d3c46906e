package conn

import (
	"io"

	"github.com/alxayo/netcore/internal/bufpool"
	"github.com/alxayo/netcore/internal/logger"
	"github.com/alxayo/netcore/internal/message"
	"github.com/alxayo/netcore/internal/wire"
)

// readLoop is the one goroutine per Connection that blocks on the socket.
// It reads a header, validates it against the locally advertised
// MaxMessageSize, reads the body into a pool-backed buffer, and hands the
// resulting OwnedMessage to the shared inbound queue. Remote is populated
// only for a server-role Connection, per spec: a client has exactly one
// connection and no registry to look itself up in, so Remote is nil there.
// Ownership of the body buffer passes to whoever pops it off the queue.
// server.Server.Update returns it to bufpool once the registered OnMessage
// handler (which may itself re-slice Body via message.Pop) has run; a
// client-side consumer draining Incoming() directly has no such dispatch
// point and keeps its own copy for as long as it needs it.
func (c *Connection) readLoop() {
	defer c.Disconnect()

	var headerBuf [wire.HeaderSize]byte
	for {
		if _, err := io.ReadFull(c.netConn, headerBuf[:]); err != nil {
			c.logReadExit("read header", err)
			return
		}
		hdr, err := wire.UnmarshalHeader(headerBuf[:])
		if err != nil {
			c.log.Error("malformed header", "error", err)
			return
		}
		if uint64(hdr.Size) > c.localCfg.MaxMessageSize {
			c.log.Warn("frame exceeds local max message size", "msg_size", hdr.Size, "max", c.localCfg.MaxMessageSize)
			return
		}

		var body []byte
		if hdr.Size > 0 {
			body = bufpool.Get(int(hdr.Size))
			if _, err := io.ReadFull(c.netConn, body); err != nil {
				c.logReadExit("read body", err)
				return
			}
		}

		logger.WithMessage(c.log, hdr.ID, hdr.Size).Debug("message received")
		var remote message.Remote
		if c.role == RoleServer {
			remote = c
		}
		c.inbound.PushBack(message.OwnedMessage{
			Remote: remote,
			Msg:    message.Message{Header: hdr, Body: body},
		})
	}
}

// logReadExit logs at debug level for ordinary connection teardown (EOF,
// use of a closed connection) and at error level for anything else.
func (c *Connection) logReadExit(op string, err error) {
	if err == io.EOF {
		c.log.Debug(op+": peer closed", "error", err)
		return
	}
	if !c.IsConnected() {
		c.log.Debug(op+": local close", "error", err)
		return
	}
	c.log.Error(op+": read failed", "error", err)
}
