package engine

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/nimblewire/duplexd/internal/proto"
)

// recordingCallback collects connects/messages for assertions and can
// reply by pushing a ServerRequest onto the engine's requests-in
// channel, exactly as spec §4.4 describes.
type recordingCallback struct {
	mu        sync.Mutex
	connected []string
	messages  []string
	reply     chan<- proto.ServerRequest
	replyWith func(clientID, message string) (string, bool)
}

func (c *recordingCallback) OnClientConnected(clientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = append(c.connected, clientID)
}

func (c *recordingCallback) OnMessageReceived(clientID, message string) {
	c.mu.Lock()
	c.messages = append(c.messages, message)
	c.mu.Unlock()

	if c.replyWith == nil {
		return
	}
	if reply, ok := c.replyWith(clientID, message); ok {
		c.reply <- proto.ServerRequest{ClientID: clientID, Kind: proto.RequestSendMessage, Text: reply}
	}
}

func (c *recordingCallback) seenMessage(want string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.messages {
		if m == want {
			return true
		}
	}
	return false
}

func newTestEngine(t *testing.T, cb *recordingCallback) *Engine {
	t.Helper()
	cfg := Config{
		Address:              "127.0.0.1:0",
		Name:                 "test",
		Callback:             cb,
		AcceptPollInterval:   10 * time.Millisecond,
		IdleInterval:         5 * time.Millisecond,
		ShutdownDrainTimeout: 2 * time.Second,
	}
	cfg.Worker.ReadPollInterval = 10 * time.Millisecond
	cfg.Worker.IdleInterval = 5 * time.Millisecond

	e := New(cfg, zerolog.Nop())
	cb.reply = e.Requests()
	require.NoError(t, e.Start())
	return e
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestEngineHTTPOnlyExchange(t *testing.T) {
	cb := &recordingCallback{}
	e := newTestEngine(t, cb)

	conn, err := net.Dial("tcp", e.Addr())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))
	require.NoError(t, err)

	resp := make([]byte, 64)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	n, err := conn.Read(resp)
	require.NoError(t, err)
	require.Equal(t, "HTTP/1.1 200 OK", string(resp[:n]))

	clientID := conn.LocalAddr().String()
	waitFor(t, func() bool {
		cb.mu.Lock()
		defer cb.mu.Unlock()
		for _, c := range cb.connected {
			if c == clientID {
				return true
			}
		}
		return false
	})
	require.Empty(t, cb.messages)
}

func TestEngineEchoOverWebSocket(t *testing.T) {
	cb := &recordingCallback{
		replyWith: func(clientID, message string) (string, bool) {
			return "Echo: " + message, true
		},
	}
	e := newTestEngine(t, cb)

	conn, err := net.Dial("tcp", e.Addr())
	require.NoError(t, err)
	defer conn.Close()

	handshake := "GET / HTTP/1.1\r\n" +
		"Host: x\r\n" +
		"Connection: Upgrade\r\n" +
		"Upgrade: websocket\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n\r\n"
	_, err = conn.Write([]byte(handshake))
	require.NoError(t, err)

	resp := make([]byte, 256)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	n, err := conn.Read(resp)
	require.NoError(t, err)
	require.Contains(t, string(resp[:n]), "101 Switching Protocols")

	frame := []byte{0x81, 0x02, 0x01, 0x02, 0x03, 0x04, 0x68 ^ 0x01, 0x69 ^ 0x02} // "hi"
	_, err = conn.Write(frame)
	require.NoError(t, err)

	waitFor(t, func() bool { return cb.seenMessage("hi") })

	conn.SetReadDeadline(time.Now().Add(time.Second))
	n, err = conn.Read(resp)
	require.NoError(t, err)
	require.Equal(t, "Echo: hi", string(resp[2:n]))
}

func TestEngineGracefulStop(t *testing.T) {
	cb := &recordingCallback{}
	e := newTestEngine(t, cb)

	conn, err := net.Dial("tcp", e.Addr())
	require.NoError(t, err)
	defer conn.Close()

	clientID := conn.LocalAddr().String()
	waitFor(t, func() bool {
		cb.mu.Lock()
		defer cb.mu.Unlock()
		for _, c := range cb.connected {
			if c == clientID {
				return true
			}
		}
		return false
	})

	e.Stop()

	select {
	case ev := <-e.Events():
		require.Equal(t, proto.SupervisorServerStopped, ev.Kind)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for ServerStopped")
	}

	buf := make([]byte, 1)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, err = conn.Read(buf)
	require.Error(t, err)
}

func TestEngineShutdownSentinelEmitsSupervisorShutdown(t *testing.T) {
	cb := &recordingCallback{}
	e := newTestEngine(t, cb)

	conn, err := net.Dial("tcp", e.Addr())
	require.NoError(t, err)
	defer conn.Close()

	handshake := "GET / HTTP/1.1\r\n" +
		"Host: x\r\n" +
		"Connection: Upgrade\r\n" +
		"Upgrade: websocket\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n\r\n"
	_, err = conn.Write([]byte(handshake))
	require.NoError(t, err)
	resp := make([]byte, 256)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, err = conn.Read(resp)
	require.NoError(t, err)

	msg := "ShutdownServer"
	mask := []byte{0x11, 0x22, 0x33, 0x44}
	payload := make([]byte, len(msg))
	for i := range payload {
		payload[i] = msg[i] ^ mask[i%4]
	}
	frame := append([]byte{0x81, byte(len(msg))}, mask...)
	frame = append(frame, payload...)
	_, err = conn.Write(frame)
	require.NoError(t, err)

	select {
	case ev := <-e.Events():
		require.Equal(t, proto.SupervisorShutdown, ev.Kind)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for Shutdown event")
	}
}
