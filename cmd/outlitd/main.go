// outlitd is the self-hosted ingest daemon. It fronts the analytics client
// with an HTTP API so non-Go services can capture events, manage consent, and
// forward billing webhooks through one process.
package main

import (
	"context"

	"github.com/bwmarrin/snowflake"
	outlit "github.com/outlithq/outlit-go"
	"github.com/outlithq/outlit-go/internal/clock"
	"github.com/outlithq/outlit-go/internal/config"
	"github.com/outlithq/outlit-go/internal/consent"
	"github.com/outlithq/outlit-go/internal/lifecycle"
	"github.com/outlithq/outlit-go/internal/server"
	"github.com/outlithq/outlit-go/internal/store/gormstore"
	"github.com/outlithq/outlit-go/internal/store/redisstore"
	"github.com/outlithq/outlit-go/pkg/log"
	"github.com/outlithq/outlit-go/pkg/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		config.Module,
		log.Module,
		telemetry.Module,
		clock.Module,
		fx.Provide(RegisterSnowflake),
		gormstore.Module,
		fx.Provide(config.NewIngestConfigHolder),
		fx.Provide(newRedisClient),
		fx.Provide(newLocker),
		fx.Provide(newStores),
		fx.Provide(newClient),
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func newRedisClient(cfg config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

func newLocker(client *redis.Client) *redisstore.Locker {
	return redisstore.NewLocker(client)
}

// newStores picks the customer and consent backend. Redis serves multi-replica
// deployments; a single instance keeps its tables in the relational database.
func newStores(cfg config.Config, db *gormstore.Store, rdb *redis.Client) (lifecycle.Store, consent.Store) {
	if rdb != nil {
		s := redisstore.New(rdb)
		return s.Customers(), s.Consent()
	}
	return db.Customers(), db.Consent()
}

type clientParams struct {
	fx.In

	Cfg           config.Config
	Logger        *zap.Logger
	Clock         clock.Clock
	Ingest        *config.IngestConfigHolder
	ConsentStore  consent.Store
	CustomerStore lifecycle.Store
}

func newClient(lc fx.Lifecycle, p clientParams) (*outlit.Client, error) {
	client, err := outlit.New(outlit.Options{
		APIKey:              p.Cfg.APIKey,
		Endpoint:            p.Cfg.Endpoint,
		FlushInterval:       p.Cfg.FlushInterval,
		MaxBatchSize:        p.Cfg.MaxBatchSize,
		Timeout:             p.Cfg.Timeout,
		MaxRetries:          p.Cfg.MaxRetries,
		QueueCapacity:       p.Cfg.QueueCapacity,
		BootstrapEvents:     p.Ingest.Get().BootstrapEvents,
		StripeWebhookSecret: p.Cfg.StripeWebhookSecret,
		Logger:              p.Logger,
		Registerer:          prometheus.DefaultRegisterer,
		Clock:               p.Clock,
		ConsentStore:        p.ConsentStore,
		CustomerStore:       p.CustomerStore,
	})
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			// Deliver whatever is still queued before the process exits.
			return client.Shutdown(ctx)
		},
	})
	return client, nil
}
