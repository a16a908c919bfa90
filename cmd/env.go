package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/provenance-cli/internal/config"
	"github.com/sells-group/provenance-cli/internal/events"
	"github.com/sells-group/provenance-cli/internal/ledger"
	"github.com/sells-group/provenance-cli/internal/pipeline"
	"github.com/sells-group/provenance-cli/internal/scorer"
	"github.com/sells-group/provenance-cli/internal/store"
	"github.com/sells-group/provenance-cli/internal/verification"
)

// assessEnv holds the opened ledger and the assessor built on it.
type assessEnv struct {
	Ledger   *ledger.Conn
	Assessor *pipeline.Assessor
}

// Close releases the ledger connection.
func (e *assessEnv) Close() {
	if e.Ledger != nil {
		e.Ledger.Close()
	}
}

// initAssessor opens the configured ledger source and builds the scoring
// pipeline. Callers should defer env.Close().
func initAssessor(ctx context.Context, c *config.Config) (*assessEnv, error) {
	sc, err := scorer.New(c.Scoring)
	if err != nil {
		return nil, err
	}
	conn, err := ledger.Open(ctx, c.Ledger)
	if err != nil {
		return nil, err
	}

	zap.L().Debug("assessor ready",
		zap.String("ledger_driver", c.Ledger.Driver),
		zap.String("config_hash", scorer.ConfigHash(c.Scoring)),
	)
	return &assessEnv{
		Ledger:   conn,
		Assessor: pipeline.New(conn.Source, conn.Reputation, sc),
	}, nil
}

// requestEnv holds the request store, the event publisher and the
// orchestrator wired to both.
type requestEnv struct {
	Store        store.RequestStore
	Publisher    events.Publisher
	Orchestrator *verification.Orchestrator
}

// Close flushes the publisher and closes the store.
func (e *requestEnv) Close() {
	if e.Publisher != nil {
		if err := e.Publisher.Close(); err != nil {
			zap.L().Warn("close publisher", zap.Error(err))
		}
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initOrchestrator opens and migrates the request store and connects the
// publisher. Callers should defer env.Close().
func initOrchestrator(ctx context.Context, c *config.Config) (*requestEnv, error) {
	st, err := store.Open(ctx, c)
	if err != nil {
		return nil, err
	}
	pub, err := initPublisher(c.Events)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return &requestEnv{
		Store:        st,
		Publisher:    pub,
		Orchestrator: verification.New(st, c.Verification, verification.WithPublisher(pub)),
	}, nil
}

// initPublisher returns a NATS publisher, or a no-op one when no URL is set.
func initPublisher(c config.EventsConfig) (events.Publisher, error) {
	if c.NATSURL == "" {
		return &events.NoopPublisher{}, nil
	}
	pub, err := events.NewNATSPublisher(c.NATSURL, c.SubjectPrefix)
	if err != nil {
		return nil, eris.Wrap(err, "init publisher")
	}
	zap.L().Info("publishing request events", zap.String("nats_url", c.NATSURL))
	return pub, nil
}
