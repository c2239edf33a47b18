// Package cache holds the redis backed coordination primitives shared by every API and worker instance.
package cache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/fieldops/core"
)

const keyPrefix = "fieldops:"

// Open connects to redis. It returns nil, nil when no address is configured.
func Open(ctx context.Context, conf core.RedisConfig) (*redis.Client, error) {
	if conf.Address == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     conf.Address,
		Password: conf.Password,
		DB:       conf.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "pinging redis")
	}
	return rdb, nil
}
