package redis

import (
	"context"
	"time"

	"github.com/railzwaylabs/deskbill/internal/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("redis",
	fx.Provide(NewClient),
)

// NewClient connects to Redis when it is enabled. A disabled Redis yields a nil
// client and consumers fall back to their Redis-free behaviour.
func NewClient(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*redis.Client, error) {
	log = log.Named("redis")
	if !cfg.Redis.Enabled {
		log.Info("redis disabled")
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	log.Info("redis connected", zap.String("addr", cfg.Redis.Addr))
	return client, nil
}
