package server

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alxayo/netcore/internal/conn"
	rerrors "github.com/alxayo/netcore/internal/errors"
	"github.com/alxayo/netcore/internal/executor"
	"github.com/alxayo/netcore/internal/message"
	"github.com/alxayo/netcore/internal/queue"
	"github.com/alxayo/netcore/internal/wire"
)

func acceptAll(*conn.Connection) bool { return true }

func startTestServer(t *testing.T, h Handlers) *Server {
	t.Helper()
	s := New(Config{ListenAddr: "127.0.0.1:0"}, h)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { s.Stop() })
	return s
}

func dialTestClient(t *testing.T, addr string, cfg wire.Config) *conn.Connection {
	t.Helper()
	exec := executor.New(16)
	inbound := queue.New[message.OwnedMessage]()
	c, err := conn.Connect(context.Background(), "tcp", addr, exec, inbound, cfg)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { c.Disconnect(); exec.Stop() })
	return c
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition not met within %s", timeout)
	}
}

// TestAcceptAssignsMonotonicIDsFromReady exercises P4: every Connection
// that reaches Ready gets a unique id >= 10000, increasing per acceptance.
func TestAcceptAssignsMonotonicIDsFromReady(t *testing.T) {
	var mu sync.Mutex
	var ids []uint32
	h := Handlers{
		OnClientConnect: acceptAll,
		OnClientReady: func(c *conn.Connection) {
			mu.Lock()
			ids = append(ids, c.ID())
			mu.Unlock()
		},
	}
	s := startTestServer(t, h)
	addr := s.Addr().String()

	for i := 0; i < 3; i++ {
		dialTestClient(t, addr, wire.DefaultConfig())
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(ids) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	seen := map[uint32]bool{}
	for i, id := range ids {
		if id < firstConnectionID {
			t.Fatalf("id %d below the spec's floor of %d", id, firstConnectionID)
		}
		if seen[id] {
			t.Fatalf("duplicate id %d", id)
		}
		seen[id] = true
		if i > 0 && ids[i] <= ids[i-1] {
			t.Fatalf("expected strictly increasing ids, got %v", ids)
		}
	}
}

// TestOnClientConnectDefaultsToReject exercises the spec's stated default:
// an unconfigured Handlers rejects every connection before handshake.
func TestOnClientConnectDefaultsToReject(t *testing.T) {
	s := startTestServer(t, Handlers{})
	exec := executor.New(4)
	inbound := queue.New[message.OwnedMessage]()
	t.Cleanup(func() { exec.Stop() })

	_, err := conn.Connect(context.Background(), "tcp", s.Addr().String(), exec, inbound, wire.DefaultConfig())
	if err == nil {
		t.Fatalf("expected the default reject-all gate to fail the client handshake")
	}
	if s.Registry().Len() != 0 {
		t.Fatalf("expected a rejected connection to never reach the registry")
	}
}

// TestHandshakeRejectionFiresDisconnectOnce is seed scenario 5: a peer that
// fails the challenge is disconnected before Ready and OnClientDisconnect
// fires exactly once.
func TestHandshakeRejectionFiresDisconnectOnce(t *testing.T) {
	var disconnects int32
	var readyFired int32
	h := Handlers{
		OnClientConnect:    acceptAll,
		OnClientDisconnect: func(*conn.Connection) { atomic.AddInt32(&disconnects, 1) },
		OnClientReady:      func(*conn.Connection) { atomic.AddInt32(&readyFired, 1) },
	}
	s := startTestServer(t, h)

	raw, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer raw.Close()

	var challenge [8]byte
	if _, err := io.ReadFull(raw, challenge[:]); err != nil {
		t.Fatalf("read challenge: %v", err)
	}
	var wrong [8]byte
	binary.BigEndian.PutUint64(wrong[:], ^binary.BigEndian.Uint64(challenge[:]))
	if _, err := raw.Write(wrong[:]); err != nil {
		t.Fatalf("write wrong response: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return atomic.LoadInt32(&disconnects) == 1 })
	time.Sleep(20 * time.Millisecond)
	if atomic.LoadInt32(&disconnects) != 1 {
		t.Fatalf("expected exactly one disconnect callback, got %d", disconnects)
	}
	if atomic.LoadInt32(&readyFired) != 0 {
		t.Fatalf("on_client_ready must not fire for a rejected handshake")
	}
}

// TestMixedVersionRejectsBeforeReady is seed scenario 6: server announces
// 1.0, client announces 2.0; both sides close during config exchange and
// on_client_ready never fires.
func TestMixedVersionRejectsBeforeReady(t *testing.T) {
	var readyFired int32
	var disconnects int32
	h := Handlers{
		OnClientConnect:    acceptAll,
		OnClientReady:      func(*conn.Connection) { atomic.AddInt32(&readyFired, 1) },
		OnClientDisconnect: func(*conn.Connection) { atomic.AddInt32(&disconnects, 1) },
	}
	s := startTestServer(t, h)

	mismatched := wire.DefaultConfig()
	mismatched.Version = wire.Version{Major: mismatched.Version.Major + 1, Minor: 0}

	exec := executor.New(4)
	inbound := queue.New[message.OwnedMessage]()
	t.Cleanup(func() { exec.Stop() })
	_, err := conn.Connect(context.Background(), "tcp", s.Addr().String(), exec, inbound, mismatched)
	if err == nil || !rerrors.IsProtocolError(err) {
		t.Fatalf("expected a protocol (config) error from the client side, got %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return atomic.LoadInt32(&disconnects) == 1 })
	if atomic.LoadInt32(&readyFired) != 0 {
		t.Fatalf("on_client_ready must not fire on a version mismatch")
	}
}

// TestMessageAllClientsExcludesOneRecipient is seed scenario 2 (broadcast):
// three clients connect; MessageAllClients(msg, except) reaches everyone
// but the excluded connection.
func TestMessageAllClientsExcludesOneRecipient(t *testing.T) {
	ready := make(chan struct{}, 3)
	h := Handlers{
		OnClientConnect: acceptAll,
		OnClientReady: func(c *conn.Connection) {
			ready <- struct{}{}
		},
	}
	s := startTestServer(t, h)
	addr := s.Addr().String()

	clients := make([]*conn.Connection, 3)
	for i := range clients {
		clients[i] = dialTestClient(t, addr, wire.DefaultConfig())
	}
	for i := 0; i < 3; i++ {
		<-ready
	}

	// Clients dial one after another and each Connect returns only after the
	// server registered that connection, so registry order is dial order.
	exceptID := s.Registry().Snapshot()[0].ID()

	msg := message.New(42)
	s.MessageAllClients(msg, exceptID)

	for i, c := range clients {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		owned, got := clientInbox(c).Wait(ctx)
		cancel()
		if i == 0 {
			if got {
				t.Fatalf("excluded client unexpectedly received a broadcast: %+v", owned)
			}
			continue
		}
		if !got {
			t.Fatalf("client %d expected a broadcast message", i)
		}
		if owned.Msg.Header.ID != 42 {
			t.Fatalf("client %d: expected msg id 42, got %d", i, owned.Msg.Header.ID)
		}
	}
}

// clientInbox is a tiny test seam: dialTestClient's inbound queue is not
// reachable from *conn.Connection, so each test that needs to read it keeps
// its own reference instead. Kept here only to document the limitation for
// the broadcast test above, which reconstructs the queue reference itself.
func clientInbox(c *conn.Connection) *queue.Queue[message.OwnedMessage] {
	return c.Inbound()
}

func TestUpdateDispatchesAndSweepsDisconnected(t *testing.T) {
	var mu sync.Mutex
	var gotIDs []uint32
	h := Handlers{
		OnClientConnect: acceptAll,
		OnMessage: func(c *conn.Connection, m *message.Message) {
			mu.Lock()
			gotIDs = append(gotIDs, m.Header.ID)
			mu.Unlock()
		},
	}
	s := startTestServer(t, h)
	client := dialTestClient(t, s.Addr().String(), wire.DefaultConfig())

	waitFor(t, 2*time.Second, func() bool { return s.Registry().Len() == 1 })

	for i := 0; i < 3; i++ {
		m := message.New(uint32(100 + i))
		if err := client.Send(m); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	waitFor(t, 2*time.Second, func() bool {
		s.Update(3, false)
		mu.Lock()
		defer mu.Unlock()
		return len(gotIDs) == 3
	})

	client.Disconnect()
	waitFor(t, 2*time.Second, func() bool {
		s.Update(0, false)
		return s.Registry().Len() == 0
	})
}

// TestStopJoinsExecutorAndSuppressesFurtherCallbacks is P6.
func TestStopJoinsExecutorAndSuppressesFurtherCallbacks(t *testing.T) {
	var disconnects int32
	h := Handlers{
		OnClientConnect:    acceptAll,
		OnClientDisconnect: func(*conn.Connection) { atomic.AddInt32(&disconnects, 1) },
	}
	s := New(Config{ListenAddr: "127.0.0.1:0"}, h)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	client := dialTestClient(t, s.Addr().String(), wire.DefaultConfig())
	waitFor(t, 2*time.Second, func() bool { return s.Registry().Len() == 1 })

	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	before := atomic.LoadInt32(&disconnects)
	time.Sleep(20 * time.Millisecond)
	if atomic.LoadInt32(&disconnects) != before {
		t.Fatalf("no callback should fire after Stop returns")
	}
	if client.IsConnected() {
		t.Fatalf("expected Stop to close all registered connections")
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second stop should be a no-op, got %v", err)
	}
}
