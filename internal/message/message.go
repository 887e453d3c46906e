// Package message implements the in-memory framed message record and its
// typed push/pop stack discipline. The body is deliberately treated as a
// stack: pushes append to the tail, pops remove from the tail, and callers
// must pop in the reverse order they pushed. This mirrors the C++ original
// this core was distilled from and must be preserved for wire compatibility
// with any other implementation of the same protocol.
package message

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/alxayo/netcore/internal/wire"
)

// Message is the in-memory record of a single framed wire message: a header
// carrying the application id and body length, plus the body bytes
// themselves. Header.Size must equal len(Body) whenever a Message is handed
// to the I/O layer (see conn.Connection.Send / the read loop).
type Message struct {
	Header wire.MessageHeader
	Body   []byte
}

// New creates an empty message with the given application-defined id.
func New(id uint32) *Message {
	return &Message{Header: wire.MessageHeader{ID: id}}
}

// Len returns the current body length, kept in sync with Header.Size.
func (m *Message) Len() int { return len(m.Body) }

// Remote is the non-owning handle carried by OwnedMessage back to the
// connection a message arrived on, so application code can reply during
// dispatch. It is satisfied by *conn.Connection; defined here (rather than
// imported) to avoid a message<->conn import cycle, per spec §9's guidance
// to replace back-pointers with a stable, weakly-held handle.
type Remote interface {
	ID() uint32
	IsConnected() bool
	Send(msg *Message) error
}

// OwnedMessage pairs an inbound Message with the Remote it arrived from. On
// the server Remote is always populated; on the client it is nil. Callers
// must call Remote.IsConnected() before using it to reply, since the
// originating connection may have been removed from the server registry by
// the time the message is dispatched.
type OwnedMessage struct {
	Remote Remote
	Msg    Message
}

// Push appends the raw fixed-size encoding of v to the body tail and updates
// Header.Size accordingly. D must be a flat (fixed-size, no pointers/slices)
// value type — anything encoding/binary.Write accepts.
func Push[D any](m *Message, v D) error {
	size := binary.Size(v)
	if size < 0 {
		return fmt.Errorf("message: push: type %T is not a fixed-size value", v)
	}
	var buf bytes.Buffer
	buf.Grow(size)
	if err := binary.Write(&buf, binary.NativeEndian, v); err != nil {
		return fmt.Errorf("message: push: %w", err)
	}
	m.Body = append(m.Body, buf.Bytes()...)
	m.Header.Size = uint32(len(m.Body))
	return nil
}

// Pop removes the last sizeof(D) bytes from the body tail into out. It is a
// programming error to call Pop when the body is shorter than sizeof(D);
// callers must pop in the exact reverse order of their pushes.
func Pop[D any](m *Message, out *D) error {
	size := binary.Size(*out)
	if size < 0 {
		return fmt.Errorf("message: pop: type %T is not a fixed-size value", *out)
	}
	if len(m.Body) < size {
		return fmt.Errorf("message: pop: body has %d bytes, need %d", len(m.Body), size)
	}
	split := len(m.Body) - size
	tail := m.Body[split:]
	if err := binary.Read(bytes.NewReader(tail), binary.NativeEndian, out); err != nil {
		return fmt.Errorf("message: pop: %w", err)
	}
	m.Body = m.Body[:split]
	m.Header.Size = uint32(len(m.Body))
	return nil
}

// PushContainerFlat pushes count*sizeof(T) raw bytes for a slice of flat
// elements (one contiguous block, forward order) followed by the element
// count as a uint64. Because the block is written in one shot rather than
// element-by-element pushes, PopContainerFlat recovers it without reversing
// element order.
func PushContainerFlat[T any](m *Message, items []T) error {
	elemSize := 0
	if len(items) > 0 {
		elemSize = binary.Size(items[0])
	} else {
		var zero T
		elemSize = binary.Size(zero)
	}
	if elemSize < 0 {
		var zero T
		return fmt.Errorf("message: push container: type %T is not a fixed-size value", zero)
	}
	var buf bytes.Buffer
	buf.Grow(elemSize * len(items))
	if err := binary.Write(&buf, binary.NativeEndian, items); err != nil {
		return fmt.Errorf("message: push container: %w", err)
	}
	m.Body = append(m.Body, buf.Bytes()...)
	m.Header.Size = uint32(len(m.Body))
	return Push(m, uint64(len(items)))
}

// PopContainerFlat reverses PushContainerFlat: pops the count, then pops the
// count*sizeof(T) byte block and reinterprets it as a []T in forward order.
func PopContainerFlat[T any](m *Message) ([]T, error) {
	var count uint64
	if err := Pop(m, &count); err != nil {
		return nil, err
	}
	items := make([]T, count)
	if count == 0 {
		return items, nil
	}
	elemSize := binary.Size(items[0])
	if elemSize < 0 {
		return nil, fmt.Errorf("message: pop container: type %T is not a fixed-size value", items[0])
	}
	total := elemSize * int(count)
	if len(m.Body) < total {
		return nil, fmt.Errorf("message: pop container: body has %d bytes, need %d", len(m.Body), total)
	}
	split := len(m.Body) - total
	block := m.Body[split:]
	if err := binary.Read(bytes.NewReader(block), binary.NativeEndian, items); err != nil {
		return nil, fmt.Errorf("message: pop container: %w", err)
	}
	m.Body = m.Body[:split]
	m.Header.Size = uint32(len(m.Body))
	return items, nil
}

// PushContainer pushes each element via pushElem (forward order) followed by
// the element count. Use this for non-flat T, where pushElem itself performs
// one or more nested Push calls.
func PushContainer[T any](m *Message, items []T, pushElem func(*Message, T) error) error {
	for _, it := range items {
		if err := pushElem(m, it); err != nil {
			return err
		}
	}
	return Push(m, uint64(len(items)))
}

// PopContainer reverses PushContainer: pops the count, then pops elements in
// reverse iteration order via popElem so the pop sequence exactly cancels
// the push sequence (the LIFO contract documented on the package).
func PopContainer[T any](m *Message, popElem func(*Message) (T, error)) ([]T, error) {
	var count uint64
	if err := Pop(m, &count); err != nil {
		return nil, err
	}
	items := make([]T, count)
	for i := int(count) - 1; i >= 0; i-- {
		v, err := popElem(m)
		if err != nil {
			return nil, err
		}
		items[i] = v
	}
	return items, nil
}

// PushString pushes a string as a flat byte container (bytes, then length).
func PushString(m *Message, s string) error {
	return PushContainerFlat(m, []byte(s))
}

// PopString reverses PushString.
func PopString(m *Message) (string, error) {
	b, err := PopContainerFlat[byte](m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
