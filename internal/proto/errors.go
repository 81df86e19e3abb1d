package proto

import "errors"

// Error kinds named in the error-handling design (spec §7).
var (
	// ErrConfiguration marks a bad CLI argument or listener bind
	// failure. Reported to the caller; the process exits non-zero.
	ErrConfiguration = errors.New("configuration error")

	// ErrClientCommunication marks a recoverable per-connection I/O
	// fault. The owning worker closes its socket and exits; nothing
	// else is affected.
	ErrClientCommunication = errors.New("client communication error")

	// ErrProtocol marks malformed input that cannot yield a usable
	// request or frame.
	ErrProtocol = errors.New("protocol error")

	// ErrChannelDisconnected marks the counterpart side of a channel
	// pair being gone. Fatal to whichever side detects it.
	ErrChannelDisconnected = errors.New("channel disconnected")
)
