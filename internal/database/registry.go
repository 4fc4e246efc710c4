package database

import (
	"github.com/redbco/redb-desk/internal/database/kafka"
	"github.com/redbco/redb-desk/internal/database/mongodb"
	"github.com/redbco/redb-desk/internal/database/postgres"
	"github.com/redbco/redb-desk/internal/database/redis"
	"github.com/redbco/redb-desk/pkg/adapter"
	"github.com/redbco/redb-desk/pkg/config"
)

// NewDefaultRegistry registers one adapter per backend kind, tuned by cfg.
func NewDefaultRegistry(cfg *config.Config) *adapter.Registry {
	if cfg == nil {
		cfg = config.Default()
	}
	return adapter.NewRegistry(
		mongodb.NewAdapter(),
		postgres.NewAdapter(),
		redis.NewAdapter(redis.WithScanLimits(cfg.KeyValue.MaxScanKeys, cfg.KeyValue.ScanCount)),
		kafka.NewAdapter(
			kafka.WithConsumeTimeout(cfg.LogBroker.ConsumeTimeout),
			kafka.WithMaxMessages(cfg.LogBroker.MaxMessages),
		),
	)
}
