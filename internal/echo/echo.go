// Package echo defines the demo application protocol used by
// cmd/netcore-echo-server and cmd/netcore-echo-client: a tiny MessageId
// enumeration that exercises the seed scenarios from the specification
// (ping round-trip and exclusive broadcast) over the generic netcore core.
package echo

// MessageId values for the demo protocol. netcore's core is polymorphic
// over the id type; these are just uint32 constants an application chose.
const (
	// ServerPing carries a uint64 nanosecond timestamp; the server bounces
	// it back unchanged.
	ServerPing uint32 = iota + 1
	// MessageAll has an empty body; the sender is asking the server to
	// relay ServerMessage to every other connected client.
	MessageAll
	// ServerMessage carries the originating client's conn id as a uint32.
	ServerMessage
)
