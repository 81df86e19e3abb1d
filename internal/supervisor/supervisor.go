// Package supervisor is the process-level collaborator spec.md §1
// calls external to the engine itself: it owns the public and admin
// engines, wires their supervisor-facing channels together, and
// implements the shutdown fan-out policy driven by the Shutdown /
// ServerStopped events of spec §6.
package supervisor

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/nimblewire/duplexd/internal/proto"
)

// EngineHandle is the minimal surface Supervisor needs from an engine,
// kept narrow so tests can fake it without standing up real sockets.
type EngineHandle interface {
	Events() <-chan proto.SupervisorEvent
	Stop()
}

// Supervisor watches one or more engines and, when any of them
// reports Shutdown, requests Stop on all of them and waits for each to
// report ServerStopped before returning.
type Supervisor struct {
	engines map[string]EngineHandle
	log     zerolog.Logger
}

// New builds a Supervisor over the given name -> engine set.
func New(engines map[string]EngineHandle, log zerolog.Logger) *Supervisor {
	return &Supervisor{engines: engines, log: log}
}

// Run blocks until every engine has reported ServerStopped, which
// happens either because one of them received a Shutdown-triggering
// message (spec §6: the ShutdownServer sentinel) or because the
// external channel is closed (or receives a value) first.
// Run returns the name of whichever engine first triggered shutdown,
// or "" if shutdown was externally requested.
func (s *Supervisor) Run(external <-chan struct{}) string {
	merged := make(chan proto.SupervisorEvent, len(s.engines)*4)
	for _, eng := range s.engines {
		go forward(eng.Events(), merged)
	}

	triggeredBy := ""
	stopped := make(map[string]bool, len(s.engines))

	stopAll := func() {
		for _, eng := range s.engines {
			eng.Stop()
		}
	}

	for len(stopped) < len(s.engines) {
		select {
		case ev := <-merged:
			switch ev.Kind {
			case proto.SupervisorShutdown:
				if triggeredBy == "" {
					triggeredBy = ev.Engine
					s.log.Info().Str("engine", ev.Engine).Msg("shutdown requested")
					stopAll()
				}
			case proto.SupervisorServerStopped:
				stopped[ev.Engine] = true
				s.log.Info().Str("engine", ev.Engine).Msg("engine stopped")
			}
		case <-external:
			if triggeredBy == "" {
				stopAll()
			}
			external = nil // only honour the external signal once
		}
	}

	return triggeredBy
}

func forward(in <-chan proto.SupervisorEvent, out chan<- proto.SupervisorEvent) {
	for ev := range in {
		out <- ev
	}
}

// ShutdownDrainGrace is a grace period, longer than the engine's
// default 10s shutdown drain. Nothing references it: Run waits for
// every ServerStopped without a deadline of its own.
const ShutdownDrainGrace = 15 * time.Second
