package main

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/turingchat/go/internal/archive"
	"github.com/mcdev12/turingchat/go/internal/config"
	"github.com/mcdev12/turingchat/go/internal/events"
)

// Infrastructure holds the external connections. Each one is optional.
type Infrastructure struct {
	Registry  *prometheus.Registry
	Publisher events.Publisher
	NATS      *events.JetStreamPublisher
	Store     archive.Store
	Postgres  *archive.PostgresStore
}

func setupInfrastructure(ctx context.Context, cfg *config.Config) (*Infrastructure, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	infra := &Infrastructure{
		Registry:  reg,
		Publisher: events.LogPublisher{},
		Store:     archive.NewMemoryStore(),
	}

	if cfg.NATSURL != "" {
		jsCfg := events.DefaultJetStreamConfig()
		jsCfg.URL = cfg.NATSURL

		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		pub, err := events.NewJetStreamPublisher(connectCtx, jsCfg)
		if err != nil {
			return nil, err
		}
		infra.Publisher, infra.NATS = pub, pub
		log.Info().Str("nats_url", cfg.NATSURL).Msg("publishing match events to JetStream")
	}

	if cfg.Database.Enabled() {
		openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		store, err := archive.OpenPostgres(openCtx, cfg.Database.DSN())
		if err != nil {
			infra.Close()
			return nil, err
		}
		infra.Store, infra.Postgres = store, store
	}

	return infra, nil
}

func (i *Infrastructure) Close() error {
	var errs []error
	if i.Publisher != nil {
		errs = append(errs, i.Publisher.Close())
	}
	if i.Postgres != nil {
		errs = append(errs, i.Postgres.Close())
	}
	return errors.Join(errs...)
}
