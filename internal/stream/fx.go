package stream

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/billableusage/internal/config"
	obsmetrics "github.com/smallbiznis/billableusage/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("stream",
	fx.Provide(
		NewRedisClient,
		NewBus,
		func(b Bus) Publisher { return b },
		func(b Bus) Subscriber { return b },
	),
	fx.Invoke(registerLifecycle),
)

func NewRedisClient(lc fx.Lifecycle, cfg config.Config) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     strings.TrimSpace(cfg.RedisAddr),
		Password: strings.TrimSpace(cfg.RedisPassword),
		DB:       cfg.RedisDB,
	})
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client
}

type Params struct {
	fx.In

	Config  config.Config
	Client  *redis.Client
	GenID   *snowflake.Node
	Log     *zap.Logger
	Metrics *obsmetrics.Metrics `optional:"true"`
}

func NewBus(p Params) Bus {
	if p.Config.Stream.Driver == "memory" {
		return NewMemoryBus(p.Log)
	}
	return NewRedisBus(p.Client, RedisConfig{
		Group:       p.Config.Stream.Group,
		Consumer:    p.Config.Stream.Consumer,
		Compression: p.Config.Stream.Compression,
		MaxLen:      p.Config.Stream.MaxLen,
		BatchSize:   p.Config.Stream.BatchSize,
		Block:       p.Config.Stream.Block,
		ClaimIdle:   p.Config.Stream.ClaimIdle,
	}, p.GenID, p.Log, p.Metrics)
}

func registerLifecycle(lc fx.Lifecycle, bus Bus) {
	lc.Append(fx.Hook{
		OnStart: bus.Start,
		OnStop:  bus.Stop,
	})
}
