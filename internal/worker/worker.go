// Package worker implements the per-connection state machine (spec
// §4.3): a worker owns one accepted socket from accept to disconnect,
// switching between the HTTP and WebSocket handlers and reporting
// named events upstream to the engine that spawned it.
package worker

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/nimblewire/duplexd/internal/httpreq"
	"github.com/nimblewire/duplexd/internal/proto"
	"github.com/nimblewire/duplexd/internal/wsframe"
)

// Config tunes the worker's polling loop. Zero values are replaced
// with defaults by New.
type Config struct {
	// ReadPollInterval bounds how long a single read waits before
	// this worker treats the socket as having nothing to offer this
	// iteration — this implementation's stand-in for the original's
	// non-blocking-socket WouldBlock result.
	ReadPollInterval time.Duration
	// IdleInterval is the sleep between loop iterations (spec §4.3,
	// §9 open question 5).
	IdleInterval time.Duration
}

const (
	defaultReadPollInterval = 50 * time.Millisecond
	defaultIdleInterval     = 100 * time.Millisecond
	readBufferSize          = 4096
)

func (c Config) withDefaults() Config {
	if c.ReadPollInterval <= 0 {
		c.ReadPollInterval = defaultReadPollInterval
	}
	if c.IdleInterval <= 0 {
		c.IdleInterval = defaultIdleInterval
	}
	return c
}

// state is the worker's position in the Handshaking/WebSocketOpen/Closing
// machine (spec §4.3).
type state int

const (
	stateHandshaking state = iota
	stateWebSocketOpen
	stateClosing
)

// Worker owns one accepted socket. The socket never escapes the
// goroutine that runs Worker.Run.
type Worker struct {
	conn     net.Conn
	clientID string
	mode     proto.HandlerMode
	state    state

	upstream   chan<- proto.Event
	downstream <-chan proto.ServerRequest

	cfg Config
	log zerolog.Logger

	leftover []byte // bytes buffered from a prior read, not yet a full frame/request
}

// New takes ownership of conn. clientID is the peer address string,
// computed once by the caller so routing stays consistent for the
// life of the connection (spec §9 open question 4).
func New(conn net.Conn, clientID string, upstream chan<- proto.Event, downstream <-chan proto.ServerRequest, cfg Config, log zerolog.Logger) *Worker {
	return &Worker{
		conn:       conn,
		clientID:   clientID,
		mode:       proto.ModeHTTP,
		state:      stateHandshaking,
		upstream:   upstream,
		downstream: downstream,
		cfg:        cfg.withDefaults(),
		log:        log.With().Str("client_id", clientID).Logger(),
	}
}

// Run executes the worker's loop until the connection closes, a fatal
// read error occurs, or a Stop request arrives. It blocks the calling
// goroutine; callers run it with `go`.
func (w *Worker) Run() {
	defer w.conn.Close()

	w.emit(proto.EventConnected, "")

	buf := make([]byte, readBufferSize)
	for w.state != stateClosing {
		n, readErr := w.read(buf)
		if n > 0 {
			w.leftover = append(w.leftover, buf[:n]...)
			w.drain()
		}
		if readErr != nil && !errors.Is(readErr, errWouldBlock) {
			if errors.Is(readErr, errConnClosed) {
				w.log.Debug().Msg("peer closed connection")
			} else {
				w.log.Warn().Err(readErr).Msg("read error")
				w.emit(proto.EventClientCommunicationError, "")
			}
			w.state = stateClosing
			break
		}

		if w.state != stateClosing && !w.pollDownstream() {
			break
		}

		time.Sleep(w.cfg.IdleInterval)
	}

	w.emit(proto.EventDisconnected, "")
}

var (
	errWouldBlock = errors.New("worker: read would block")
	errConnClosed = errors.New("worker: connection closed by peer")
)

// read performs one bounded read, translating a deadline timeout into
// errWouldBlock the way the original non-blocking socket would.
func (w *Worker) read(buf []byte) (int, error) {
	_ = w.conn.SetReadDeadline(time.Now().Add(w.cfg.ReadPollInterval))
	n, err := w.conn.Read(buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return n, errWouldBlock
		}
		if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
			return n, errConnClosed
		}
		return n, err
	}
	return n, nil
}

// drain feeds as many complete requests/frames as w.leftover holds
// into the currently-installed handler, applying each resulting
// action in turn.
func (w *Worker) drain() {
	for w.state != stateClosing {
		var (
			action   proto.HandlerAction
			consumed int
			ok       bool
		)
		switch w.mode {
		case proto.ModeHTTP:
			action, consumed, ok = w.dispatchHTTP(w.leftover)
		case proto.ModeWebSocket:
			action, consumed, ok = w.dispatchWebSocket(w.leftover)
		}
		if !ok {
			return
		}
		w.leftover = w.leftover[consumed:]
		w.apply(action)
	}
}

// dispatchHTTP treats the whole buffered chunk as a single request
// head, matching the original system's assumption that a request
// arrives in one read. ok is false only when the buffer is empty.
func (w *Worker) dispatchHTTP(buf []byte) (proto.HandlerAction, int, bool) {
	if len(buf) == 0 {
		return proto.HandlerAction{}, 0, false
	}
	req, err := httpreq.Parse(string(buf))
	if err != nil || !req.IsUpgradeRequest() {
		return proto.HandlerAction{Kind: proto.ActionNone}, len(buf), true
	}
	return proto.HandlerAction{Kind: proto.ActionUpgrade, Key: req.SecWebSocketKey}, len(buf), true
}

// dispatchWebSocket decodes one masked frame from buf. ok is false
// when the buffer doesn't yet hold a complete frame.
func (w *Worker) dispatchWebSocket(buf []byte) (proto.HandlerAction, int, bool) {
	text, consumed, err := wsframe.Decode(buf)
	if err != nil {
		if errors.Is(err, wsframe.ErrShortFrame) {
			return proto.HandlerAction{}, 0, false
		}
		// ErrUnsupportedFrame: an extended-length frame this codec
		// cannot safely skip over without knowing its true length.
		// Close the connection (Client Disconnect) rather than guess.
		w.log.Warn().Err(err).Msg("unsupported websocket frame")
		return proto.HandlerAction{Kind: proto.ActionClose}, len(buf), true
	}
	if text == "ShutdownServer" {
		return proto.HandlerAction{Kind: proto.ActionShutdown}, consumed, true
	}
	return proto.HandlerAction{Kind: proto.ActionMessage, Text: text}, consumed, true
}

// apply translates a HandlerAction into worker-visible effects (spec
// §4.3 "Handler action handling").
func (w *Worker) apply(action proto.HandlerAction) {
	switch action.Kind {
	case proto.ActionNone:
		if w.mode == proto.ModeHTTP {
			w.writePlain200()
		}
	case proto.ActionClose:
		w.emit(proto.EventClientDisconnect, "")
		w.state = stateClosing
	case proto.ActionUpgrade:
		if _, err := w.conn.Write(wsframe.HandshakeResponse(action.Key)); err != nil {
			w.log.Warn().Err(err).Msg("failed writing handshake response")
			w.state = stateClosing
			return
		}
		w.mode = proto.ModeWebSocket
		w.state = stateWebSocketOpen
		w.emit(proto.EventUpgradeToWebSocket, "")
	case proto.ActionMessage:
		w.emit(proto.EventApplicationMessage, action.Text)
	case proto.ActionShutdown:
		w.emit(proto.EventShutdownServer, "")
	}
}

// writePlain200 writes the literal, non-conformant 200 OK response
// this system has always sent for any non-upgrade request (spec §6,
// §9 open question 1: preserved verbatim for behavioral parity).
func (w *Worker) writePlain200() {
	if _, err := w.conn.Write([]byte("HTTP/1.1 200 OK")); err != nil {
		w.log.Warn().Err(err).Msg("failed writing 200 OK")
		w.state = stateClosing
	}
}

// pollDownstream non-blockingly drains any ServerRequests the engine
// has queued for this worker. A Stop request sets state to Closing,
// which the caller's loop condition picks up on its next check; a
// closed downstream channel (the engine has gone away) returns false
// so the caller breaks out immediately instead of looping once more.
func (w *Worker) pollDownstream() bool {
	for {
		select {
		case req, ok := <-w.downstream:
			if !ok {
				return false
			}
			switch req.Kind {
			case proto.RequestSendMessage:
				if w.mode == proto.ModeWebSocket {
					if _, err := w.conn.Write(wsframe.Encode(req.Text)); err != nil {
						w.log.Warn().Err(err).Msg("failed writing outbound frame")
						w.state = stateClosing
						return false
					}
				}
			case proto.RequestStop:
				w.state = stateClosing
				return true
			}
		default:
			return true
		}
	}
}

// emit sends an event upstream. A failed send means the engine is
// gone, which is fatal to this worker (spec §4.3 "Failure semantics").
func (w *Worker) emit(kind proto.EventKind, text string) {
	defer func() {
		// A send on a closed upstream channel panics; treat it the
		// same as the engine being gone.
		if r := recover(); r != nil {
			w.log.Debug().Msg("upstream channel gone, worker exiting")
			w.state = stateClosing
		}
	}()
	w.upstream <- proto.Event{ClientID: w.clientID, Kind: kind, Text: text}
}
