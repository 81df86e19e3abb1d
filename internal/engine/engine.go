// Package engine implements the server engine (spec §4.4): it binds a
// listening socket, accepts connections, spawns a worker per
// connection, routes application-level events between workers and the
// installed ApplicationCallback, and drives graceful shutdown.
package engine

import (
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nimblewire/duplexd/internal/proto"
	"github.com/nimblewire/duplexd/internal/worker"
)

// ApplicationCallback is the two-operation contract user code plugs
// into an engine (spec §4.4). Both methods are invoked from the
// engine's own goroutine and must not block indefinitely.
type ApplicationCallback interface {
	OnClientConnected(clientID string)
	OnMessageReceived(clientID, message string)
}

// Config configures one engine instance.
type Config struct {
	Address  string
	Name     string
	Callback ApplicationCallback

	Worker worker.Config

	// AcceptPollInterval bounds how long Accept waits before the
	// engine treats "no new connection" as this iteration's outcome.
	AcceptPollInterval time.Duration
	// IdleInterval is the sleep between main-loop iterations.
	IdleInterval time.Duration
	// ShutdownDrainTimeout bounds how long the engine waits for every
	// worker to confirm Disconnected during shutdown (spec §5).
	ShutdownDrainTimeout time.Duration

	// DownstreamBuffer sizes each worker's downstream request channel.
	DownstreamBuffer int
}

const (
	defaultAcceptPollInterval   = 50 * time.Millisecond
	defaultIdleInterval         = 100 * time.Millisecond
	defaultShutdownDrainTimeout = 10 * time.Second
	defaultDownstreamBuffer     = 8
)

func (c Config) withDefaults() Config {
	if c.AcceptPollInterval <= 0 {
		c.AcceptPollInterval = defaultAcceptPollInterval
	}
	if c.IdleInterval <= 0 {
		c.IdleInterval = defaultIdleInterval
	}
	if c.ShutdownDrainTimeout <= 0 {
		c.ShutdownDrainTimeout = defaultShutdownDrainTimeout
	}
	if c.DownstreamBuffer <= 0 {
		c.DownstreamBuffer = defaultDownstreamBuffer
	}
	return c
}

// tracker is the engine's bookkeeping record for one worker (spec
// §3 ClientTracker). Touched only from the engine's own goroutine.
type tracker struct {
	address    string
	mode       proto.HandlerMode
	connected  bool
	disconnect bool // true once Disconnected has been observed
	upstream   <-chan proto.Event
	downstream chan<- proto.ServerRequest
	traceID    string
}

// Engine is the accept-and-route actor described in spec §4.4. An
// Engine is single-threaded: all of its state is owned by the
// goroutine running run.
type Engine struct {
	cfg      Config
	listener *net.TCPListener
	log      zerolog.Logger

	trackers map[string]*tracker

	requestsIn chan proto.ServerRequest
	eventsOut  chan proto.SupervisorEvent
}

// New constructs an engine. Call Start to bind its listener and begin
// serving.
func New(cfg Config, log zerolog.Logger) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:        cfg,
		log:        log.With().Str("engine", cfg.Name).Logger(),
		trackers:   make(map[string]*tracker),
		requestsIn: make(chan proto.ServerRequest, 64),
		eventsOut:  make(chan proto.SupervisorEvent, 4),
	}
}

// SetCallback installs the ApplicationCallback. Exists because a
// callback typically needs Requests() to construct itself (it
// captures the channel to send its own replies on, spec §4.4), which
// is only available once the engine itself exists — so construction
// is two steps: New, then SetCallback, then Start.
func (e *Engine) SetCallback(cb ApplicationCallback) {
	e.cfg.Callback = cb
}

// Requests returns the send side of this engine's "requests in"
// channel (spec §4.4). A caller-supplied ApplicationCallback captures
// this at construction time to route its own replies by client_id; a
// supervisor sends the global Stop request on the same channel.
func (e *Engine) Requests() chan<- proto.ServerRequest {
	return e.requestsIn
}

// Events returns the engine's supervisor-facing event stream:
// Shutdown (a client asked to shut the engine down) and ServerStopped
// (the engine has finished its drain and is done).
func (e *Engine) Events() <-chan proto.SupervisorEvent {
	return e.eventsOut
}

// Stop requests an orderly, engine-wide shutdown. Equivalent to
// sending the global Stop ServerRequest on Requests().
func (e *Engine) Stop() {
	e.requestsIn <- proto.ServerRequest{Kind: proto.RequestStop}
}

// Addr returns the listener's bound address. Valid only after Start
// has returned successfully.
func (e *Engine) Addr() string {
	return e.listener.Addr().String()
}

// Start binds the listening socket and launches the engine's main
// loop in its own goroutine. A bind failure is a ConfigurationError
// and is returned synchronously.
func (e *Engine) Start() error {
	l, err := net.Listen("tcp", e.cfg.Address)
	if err != nil {
		return fmt.Errorf("%w: binding %s: %v", proto.ErrConfiguration, e.cfg.Address, err)
	}
	tcpListener, ok := l.(*net.TCPListener)
	if !ok {
		l.Close()
		return fmt.Errorf("%w: listener for %s is not TCP", proto.ErrConfiguration, e.cfg.Address)
	}
	e.listener = tcpListener
	e.log.Info().Str("address", l.Addr().String()).Msg("engine listening")

	go e.run()
	return nil
}

// run is the engine's main loop (spec §4.4). It exits only once a
// global Stop request has been processed and handled by drainShutdown.
func (e *Engine) run() {
	for {
		e.acceptOne()
		e.pollTrackers()
		if e.pollRequests() {
			break
		}
		time.Sleep(e.cfg.IdleInterval)
	}

	e.drainShutdown()
	e.eventsOut <- proto.SupervisorEvent{Engine: e.cfg.Name, Kind: proto.SupervisorServerStopped}
}

// acceptOne non-blockingly accepts at most one new connection per
// iteration, spawning a worker and a tracker for it.
func (e *Engine) acceptOne() {
	_ = e.listener.SetDeadline(time.Now().Add(e.cfg.AcceptPollInterval))
	conn, err := e.listener.Accept()
	if err != nil {
		return // timeout (no pending connection) or listener closing
	}

	clientID := conn.RemoteAddr().String()
	upstream := make(chan proto.Event, 16)
	downstream := make(chan proto.ServerRequest, e.cfg.DownstreamBuffer)

	traceID := uuid.NewString()
	e.trackers[clientID] = &tracker{
		address:    clientID,
		mode:       proto.ModeHTTP,
		upstream:   upstream,
		downstream: downstream,
		traceID:    traceID,
	}

	w := worker.New(conn, clientID, upstream, downstream, e.cfg.Worker,
		e.log.With().Str("trace_id", traceID).Logger())
	go w.Run()
}

// pollTrackers gives every tracker one non-blocking chance to have
// reported an event since the last iteration.
func (e *Engine) pollTrackers() {
	for clientID, t := range e.trackers {
		select {
		case ev := <-t.upstream:
			e.handleEvent(clientID, t, ev)
		default:
		}
	}
}

func (e *Engine) handleEvent(clientID string, t *tracker, ev proto.Event) {
	switch ev.Kind {
	case proto.EventConnected:
		t.connected = true
		e.cfg.Callback.OnClientConnected(clientID)
	case proto.EventUpgradeToWebSocket:
		t.mode = proto.ModeWebSocket
	case proto.EventShutdownServer:
		e.eventsOut <- proto.SupervisorEvent{Engine: e.cfg.Name, Kind: proto.SupervisorShutdown}
	case proto.EventClientDisconnect:
		t.connected = false
	case proto.EventClientCommunicationError:
		e.log.Warn().Str("client_id", clientID).Msg("client communication error")
	case proto.EventDisconnected:
		t.connected = false
		t.disconnect = true
	case proto.EventApplicationMessage:
		e.cfg.Callback.OnMessageReceived(clientID, ev.Text)
	}
}

// pollRequests gives the requests-in channel one non-blocking chance
// to have a request queued. Returns true when the engine should stop.
func (e *Engine) pollRequests() bool {
	select {
	case req := <-e.requestsIn:
		if req.IsGlobalStop() {
			return true
		}
		e.routeToTracker(req)
	default:
	}
	return false
}

func (e *Engine) routeToTracker(req proto.ServerRequest) {
	t, ok := e.trackers[req.ClientID]
	if !ok || !t.connected {
		e.log.Debug().Str("client_id", req.ClientID).Msg("request for unknown or disconnected client dropped")
		return
	}
	select {
	case t.downstream <- req:
	default:
		e.log.Warn().Str("client_id", req.ClientID).Msg("downstream channel full, dropping request")
	}
}

// drainShutdown implements the shutdown protocol of spec §4.4/§5: send
// Stop to every tracked worker, then wait (bounded by
// ShutdownDrainTimeout) for each to report Disconnected.
func (e *Engine) drainShutdown() {
	for clientID, t := range e.trackers {
		select {
		case t.downstream <- proto.ServerRequest{ClientID: clientID, Kind: proto.RequestStop}:
		default:
		}
	}

	deadline := time.Now().Add(e.cfg.ShutdownDrainTimeout)
	for time.Now().Before(deadline) {
		pending := 0
		for clientID, t := range e.trackers {
			if t.disconnect {
				continue
			}
			select {
			case ev := <-t.upstream:
				e.handleEvent(clientID, t, ev)
			default:
			}
			if !t.disconnect {
				pending++
			}
		}
		if pending == 0 {
			e.log.Info().Msg("shutdown drain complete")
			return
		}
		time.Sleep(e.cfg.IdleInterval)
	}
	e.log.Warn().Msg("shutdown drain timed out waiting for workers")
}
