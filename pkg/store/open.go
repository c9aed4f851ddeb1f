package store

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/shubham-shewale/market-alerts/pkg/config"
)

func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// OpenAlertStore returns the alert store selected by sweeper.store. Both
// backends publish their changes through publisher.
func OpenAlertStore(cfg *config.Config, rdb *redis.Client, publisher Publisher) (AlertStore, error) {
	switch cfg.Sweeper.Store {
	case config.StoreRedis:
		return NewRedisAlertStore(rdb, publisher), nil
	case config.StorePostgres:
		db, err := OpenPostgres(cfg.Postgres, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
		if err != nil {
			return nil, err
		}
		return NewPostgresAlertStore(db, publisher), nil
	}
	return nil, fmt.Errorf("unknown alert store %q", cfg.Sweeper.Store)
}
