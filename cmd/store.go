package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/affinity-cli/internal/config"
	"github.com/sells-group/affinity-cli/internal/resilience"
	"github.com/sells-group/affinity-cli/internal/store"
	"github.com/sells-group/affinity-cli/pkg/affinity"
)

func initStore(ctx context.Context, c config.StoreConfig) (store.Store, error) {
	switch c.Driver {
	case "sqlite":
		path := c.Path
		if path == "" {
			path = "affinity.db"
		}
		return store.NewSQLite(path)
	case "postgres":
		return store.NewPostgres(ctx, c.DatabaseURL, &store.PoolConfig{
			MaxConns: c.MaxConns,
			MinConns: c.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Driver)
	}
}

// openStore opens and migrates the configured store.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

// initClient builds the prediction client. Offline mode uses the
// deterministic stub and never touches the network.
func initClient(c config.PredictorConfig) affinity.Client {
	if c.Offline {
		var opts []affinity.StubOption
		if c.StubLatencyMillis > 0 {
			opts = append(opts, affinity.WithLatency(time.Duration(c.StubLatencyMillis)*time.Millisecond))
		}
		return affinity.NewStubClient(opts...)
	}

	httpTimeout := time.Duration(c.HTTPTimeoutSecs) * time.Second
	if httpTimeout <= 0 {
		httpTimeout = 90 * time.Second
	}
	return affinity.NewClient(c.URL, c.APIKey,
		affinity.WithHTTPClient(&http.Client{Timeout: httpTimeout}),
		affinity.WithRateLimit(c.RateLimit, c.Burst),
		affinity.WithBreaker(resilience.BreakerConfig{
			Threshold: c.BreakerThreshold,
			Cooldown:  time.Duration(c.BreakerCooldownSecs) * time.Second,
		}),
		affinity.WithRetry(resilience.Backoff{Attempts: c.MaxAttempts}),
	)
}
