package host

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"willsave/internal/logger"
)

// Probe detects one platform's capabilities and initializes its runtime.
type Probe struct {
	Name string
	Open func(ctx context.Context) (Runtime, error)
}

// Select returns the runtime of the first probe that succeeds. It fails with
// ErrUnsupportedPlatform when none do.
func Select(ctx context.Context, log *zap.Logger, probes ...Probe) (Runtime, error) {
	log = logger.OrNop(log)

	var errs []error
	for _, p := range probes {
		rt, err := p.Open(ctx)
		if err != nil {
			log.Info("platform probe did not match", zap.String("probe", p.Name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", p.Name, err))
			continue
		}
		log.Info("platform selected", zap.String("probe", p.Name), zap.String("platform", string(rt.Name())))
		return rt, nil
	}

	if len(errs) == 0 {
		return nil, ErrUnsupportedPlatform
	}
	return nil, fmt.Errorf("%w: %w", ErrUnsupportedPlatform, errors.Join(errs...))
}

// RedisProbe matches when a Redis address is configured and answers PING.
func RedisProbe(cfg RedisConfig, opts Options, log *zap.Logger) Probe {
	return Probe{
		Name: "redis",
		Open: func(ctx context.Context) (Runtime, error) {
			if cfg.Addr == "" {
				return nil, errors.New("redis address not configured")
			}
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			client := NewRedisClient(cfg)
			rt, err := NewRedisRuntime(pingCtx, client, cfg.KeyPrefix, opts, log)
			if err != nil {
				client.Close()
				return nil, err
			}
			return rt, nil
		},
	}
}

// LocalProbe matches when a profile path is configured and can be opened.
func LocalProbe(path string, opts Options, log *zap.Logger) Probe {
	return Probe{
		Name: "local",
		Open: func(ctx context.Context) (Runtime, error) {
			if path == "" {
				return nil, errors.New("profile path not configured")
			}
			return NewLocalRuntime(path, opts, log)
		},
	}
}
