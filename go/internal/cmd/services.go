package main

import (
	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/turingchat/go/internal/api"
	"github.com/mcdev12/turingchat/go/internal/archive"
	"github.com/mcdev12/turingchat/go/internal/config"
	"github.com/mcdev12/turingchat/go/internal/events"
	"github.com/mcdev12/turingchat/go/internal/fairness"
	"github.com/mcdev12/turingchat/go/internal/gateway"
	"github.com/mcdev12/turingchat/go/internal/matchmaking"
	"github.com/mcdev12/turingchat/go/internal/metrics"
	"github.com/mcdev12/turingchat/go/internal/responder"
	"github.com/mcdev12/turingchat/go/internal/session"
	"github.com/mcdev12/turingchat/go/internal/timers"
)

type Services struct {
	Clock    clockwork.Clock
	Sessions *session.Manager
	Pool     *matchmaking.Pool
	Gateway  *gateway.Gateway
	API      *api.Handler
	Health   *api.HealthChecker
}

func setupServices(cfg *config.Config, infra *Infrastructure) *Services {
	// Wire up dependency injection chain
	// clock → timers/commitments → sessions → pool → transports
	clock := clockwork.NewRealClock()
	collector := metrics.NewPrometheusCollector(infra.Registry)

	registry := session.NewRegistry()
	manager := session.NewManager(
		cfg.Session(),
		clock,
		timers.NewAuthority(clock),
		fairness.NewCommitter(clock),
		responder.NewCanned(cfg.ReplyDelay()),
		registry,
		session.WithMetrics(collector),
		session.WithObservers(
			events.NewEmitter(infra.Publisher),
			archive.NewArchiver(infra.Store),
		),
	)

	pool := matchmaking.NewPool(cfg.Pool(), clock, manager, matchmaking.WithMetrics(collector))
	gw := gateway.New(gateway.DefaultConnectionConfig(), pool, registry, gateway.WithMetrics(collector))

	health := &api.HealthChecker{
		Env:      cfg.Env,
		Version:  cfg.Version,
		Pool:     pool,
		Sessions: registry.Count,
	}
	if infra.NATS != nil {
		health.NATS = infra.NATS
	}
	if infra.Postgres != nil {
		health.Database = infra.Postgres
	}

	return &Services{
		Clock:    clock,
		Sessions: manager,
		Pool:     pool,
		Gateway:  gw,
		API:      api.NewHandler(pool, infra.Store, clock, cfg.Pool().Window),
		Health:   health,
	}
}
