// Package signaling selects and builds the configured rendezvous backend.
package signaling

import (
	"context"
	"fmt"

	"aircast/internal/core/ports"
	"aircast/internal/signaling/memory"
	"aircast/internal/signaling/redis"
	"aircast/internal/signaling/relay"
	"aircast/pkg/config"

	"go.uber.org/zap"
)

// NewChannel builds the signaling channel named by cfg.Signaling.Backend.
// The returned closer releases backend resources; for the memory backend it
// is a no-op.
func NewChannel(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (ports.SignalingChannel, func() error, error) {
	switch cfg.Signaling.Backend {
	case "memory":
		return memory.New(logger), func() error { return nil }, nil

	case "redis":
		ch, err := redis.New(ctx, redis.Options{
			Address:  cfg.Signaling.Redis.Address,
			Password: cfg.Signaling.Redis.Password,
			DB:       cfg.Signaling.Redis.DB,
			PoolSize: cfg.Signaling.Redis.PoolSize,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return ch, ch.Close, nil

	case "relay":
		ch, err := relay.Dial(ctx, cfg.Signaling.Relay.URL, logger)
		if err != nil {
			return nil, nil, err
		}
		return ch, ch.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown signaling backend %q", cfg.Signaling.Backend)
	}
}
