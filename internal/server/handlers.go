package server

import (
	"github.com/alxayo/netcore/internal/conn"
	"github.com/alxayo/netcore/internal/message"
)

// Handlers is the function-valued callback bundle an application configures
// on a Server, replacing the virtual-method/inheritance style the original
// core used (see spec's design note on "Virtual callbacks on Server"). The
// zero value is usable: every field is optional except OnClientConnect,
// which New defaults to a reject-all gate if left nil.
type Handlers struct {
	// OnClientConnect gates a freshly accepted, not-yet-handshaken
	// Connection. Returning false closes the socket immediately; the
	// connection never receives an id or a registry entry.
	OnClientConnect func(c *conn.Connection) bool

	// OnClientValidated fires after the challenge handshake succeeds, before
	// config exchange begins.
	OnClientValidated func(c *conn.Connection)

	// OnClientConfigValidated fires after a successful config exchange,
	// before the connection is marked Ready.
	OnClientConfigValidated func(c *conn.Connection)

	// OnClientReady fires once the connection is Ready and its read loop is
	// running.
	OnClientReady func(c *conn.Connection)

	// OnClientDisconnect fires once a connection has left the registry,
	// whether it failed handshake/config or dropped after reaching Ready.
	OnClientDisconnect func(c *conn.Connection)

	// OnMessage fires once per inbound message drained by Update.
	OnMessage func(c *conn.Connection, msg *message.Message)
}

func rejectAll(*conn.Connection) bool { return false }
