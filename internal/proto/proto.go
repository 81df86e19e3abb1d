// Package proto holds the message types shared between a connection
// worker and the server engine that owns it: the HandlerAction verdict
// a request handler hands back to its worker, the upstream event
// vocabulary a worker reports to the engine, and the downstream
// requests the engine sends back down to a specific worker.
//
// Neither side ever touches the other's internal state directly —
// everything here travels over a channel, by value.
package proto

import "fmt"

// HandlerKind tags the variant of a HandlerAction.
type HandlerKind int

const (
	// ActionNone means the handler has nothing for the worker to do.
	ActionNone HandlerKind = iota
	// ActionClose asks the worker to close the connection.
	ActionClose
	// ActionUpgrade asks the worker to switch to the WebSocket handler.
	// Key carries the client's Sec-WebSocket-Key verbatim.
	ActionUpgrade
	// ActionMessage carries an application payload up to the engine.
	ActionMessage
	// ActionShutdown asks the worker to request a server-wide shutdown.
	ActionShutdown
)

// HandlerAction is the tagged variant a request handler returns to its
// worker after consuming some input. Only one of Key/Text is populated,
// depending on Kind.
type HandlerAction struct {
	Kind HandlerKind
	Key  string // Sec-WebSocket-Key, for ActionUpgrade
	Text string // application payload, for ActionMessage
}

func (a HandlerAction) String() string {
	switch a.Kind {
	case ActionNone:
		return "None"
	case ActionClose:
		return "CloseConnection"
	case ActionUpgrade:
		return fmt.Sprintf("UpgradeToWebSocket(%s)", a.Key)
	case ActionMessage:
		return fmt.Sprintf("HandleMessage(%s)", a.Text)
	case ActionShutdown:
		return "RequestServerShutdown"
	default:
		return "Unknown"
	}
}

// EventKind tags the variant of an Event a worker reports upstream.
type EventKind int

const (
	EventConnected EventKind = iota
	EventClientDisconnect
	EventClientCommunicationError
	EventUpgradeToWebSocket
	EventShutdownServer
	EventApplicationMessage
	EventDisconnected
)

// String renders the exact textual vocabulary named in the
// specification, preserved for behavioral parity.
func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "Connected"
	case EventClientDisconnect:
		return "Client Disconnect"
	case EventClientCommunicationError:
		return "Client Communication Error"
	case EventUpgradeToWebSocket:
		return "Upgrade to WebSocket"
	case EventShutdownServer:
		return "ShutdownServer"
	case EventApplicationMessage:
		return "ApplicationMessage"
	case EventDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// Event is a message a worker sends upstream to the engine on its
// dedicated, single-producer/single-consumer channel.
type Event struct {
	ClientID string
	Kind     EventKind
	Text     string // populated only for EventApplicationMessage
}

// RequestKind tags the variant of a ServerRequest.
type RequestKind int

const (
	RequestSendMessage RequestKind = iota
	RequestStop
)

// ServerRequest is a message the engine sends down to a specific
// worker, identified by ClientID.
type ServerRequest struct {
	ClientID string
	Kind     RequestKind
	Text     string // populated only for RequestSendMessage
}

// HandlerMode is the worker's currently-installed request handler.
// It only ever transitions Http -> WebSocket, never back.
type HandlerMode int

const (
	ModeHTTP HandlerMode = iota
	ModeWebSocket
)

func (m HandlerMode) String() string {
	if m == ModeWebSocket {
		return "WebSocket"
	}
	return "Http"
}

// SupervisorEventKind tags an event the engine reports to its
// supervisor (§6: "Supervisor-side events").
type SupervisorEventKind int

const (
	SupervisorShutdown SupervisorEventKind = iota
	SupervisorServerStopped
)

func (k SupervisorEventKind) String() string {
	if k == SupervisorShutdown {
		return "Shutdown"
	}
	return "ServerStopped"
}

// SupervisorEvent is a message an engine sends to the supervisor that
// started it.
type SupervisorEvent struct {
	Engine string // engine name, for diagnostics
	Kind   SupervisorEventKind
}

// IsGlobalStop reports whether req is the engine-wide stop signal
// rather than a per-client routed request. The engine's "requests in"
// channel (spec §4.4) carries both: a callback replying to one client
// sends a ServerRequest with that client's ClientID, while a global
// Stop carries no ClientID at all.
func (r ServerRequest) IsGlobalStop() bool {
	return r.ClientID == "" && r.Kind == RequestStop
}
