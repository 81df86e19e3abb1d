// Package callback provides the two ApplicationCallback
// implementations that distinguish the public relay from the admin
// relay — the only thing that differs between the two engine
// instances this system runs (spec §1, §3).
package callback

import (
	"github.com/rs/zerolog"

	"github.com/nimblewire/duplexd/internal/proto"
)

// Echo is the sample public-relay callback named in spec §1: it
// echoes every application message back to the client that sent it,
// prefixed with "Echo: ".
type Echo struct {
	reply chan<- proto.ServerRequest
	log   zerolog.Logger
}

// NewEcho captures reply — the engine's "requests in" channel — at
// construction time, per spec §4.4 ("callbacks ... may reply by
// sending Requests through the channel they captured at
// construction").
func NewEcho(reply chan<- proto.ServerRequest, log zerolog.Logger) *Echo {
	return &Echo{reply: reply, log: log.With().Str("callback", "echo").Logger()}
}

func (e *Echo) OnClientConnected(clientID string) {
	e.log.Info().Str("client_id", clientID).Msg("client connected")
}

func (e *Echo) OnMessageReceived(clientID, message string) {
	e.log.Info().Str("client_id", clientID).Str("message", message).Msg("message received")
	e.reply <- proto.ServerRequest{
		ClientID: clientID,
		Kind:     proto.RequestSendMessage,
		Text:     "Echo: " + message,
	}
}
