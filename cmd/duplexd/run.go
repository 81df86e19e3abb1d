package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/nimblewire/duplexd/internal/callback"
	"github.com/nimblewire/duplexd/internal/engine"
	"github.com/nimblewire/duplexd/internal/supervisor"
)

// serveConfig is the plain configuration struct run turns into one
// engine.Config per engine (spec §6's "no config library" decision,
// see DESIGN.md).
type serveConfig struct {
	ip        string
	port      int
	adminPort *int
}

// engineSpec names one running engine for the startup banner.
type engineSpec struct {
	name    string
	address string
}

func newLogger() zerolog.Logger {
	writer := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	return zerolog.New(writer).With().Timestamp().Logger()
}

// run wires up one or two engines per cfg and blocks until the
// supervisor reports every engine has stopped, returning an error
// (non-zero exit) only on bind failure.
func run(cfg serveConfig) error {
	log := newLogger()

	public := engine.New(engine.Config{
		Address: fmt.Sprintf("%s:%d", cfg.ip, cfg.port),
		Name:    "public",
	}, log)
	public.SetCallback(callback.NewEcho(public.Requests(), log))

	engines := map[string]supervisor.EngineHandle{"public": public}
	specs := []engineSpec{}

	if err := public.Start(); err != nil {
		return err
	}
	specs = append(specs, engineSpec{name: "public", address: public.Addr()})

	if cfg.adminPort != nil {
		admin := engine.New(engine.Config{
			Address: fmt.Sprintf("%s:%d", cfg.ip, *cfg.adminPort),
			Name:    "admin",
		}, log)
		admin.SetCallback(callback.NewAdmin(admin.Requests(), log))

		if err := admin.Start(); err != nil {
			return err
		}
		engines["admin"] = admin
		specs = append(specs, engineSpec{name: "admin", address: admin.Addr()})
	}

	fmt.Println(banner(specs))

	sup := supervisor.New(engines, log)

	external := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		close(external)
	}()

	triggeredBy := sup.Run(external)
	if triggeredBy != "" {
		log.Info().Str("engine", triggeredBy).Msg("shutdown triggered")
	}
	return nil
}
