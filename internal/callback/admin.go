package callback

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/nimblewire/duplexd/internal/proto"
)

// Admin is the admin-relay callback: unlike Echo, it interprets
// incoming text as a one-word command rather than echoing it back.
// The literal ShutdownServer sentinel never reaches this callback —
// the worker intercepts it and the engine surfaces it as a distinct
// Shutdown event (spec §4.3/§4.4) — so Admin only ever sees the
// system's other administrative commands.
type Admin struct {
	reply chan<- proto.ServerRequest
	log   zerolog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewAdmin captures reply the same way Echo does (spec §4.4).
func NewAdmin(reply chan<- proto.ServerRequest, log zerolog.Logger) *Admin {
	return &Admin{
		reply:    reply,
		log:      log.With().Str("callback", "admin").Logger(),
		limiters: make(map[string]*rate.Limiter),
	}
}

func (a *Admin) OnClientConnected(clientID string) {
	a.log.Info().Str("client_id", clientID).Msg("admin client connected")
}

func (a *Admin) OnMessageReceived(clientID, message string) {
	if !a.allow(clientID) {
		a.log.Warn().Str("client_id", clientID).Msg("admin command rate-limited")
		return
	}

	a.log.Info().Str("client_id", clientID).Str("command", message).Msg("admin command received")

	var ack string
	switch message {
	case "ping":
		ack = "pong"
	case "status":
		ack = "ok"
	default:
		ack = fmt.Sprintf("unknown command: %s", message)
	}

	a.reply <- proto.ServerRequest{ClientID: clientID, Kind: proto.RequestSendMessage, Text: ack}
}

// allow rate-limits how often one admin connection's commands are
// answered, guarding against a flapping client hammering the socket.
func (a *Admin) allow(clientID string) bool {
	a.mu.Lock()
	lim, ok := a.limiters[clientID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(200*time.Millisecond), 1)
		a.limiters[clientID] = lim
	}
	a.mu.Unlock()
	return lim.Allow()
}
