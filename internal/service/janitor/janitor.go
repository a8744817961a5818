package janitor

import (
	"context"
	"time"

	"github.com/nkiryanov/gophauth/internal/logger"
)

const (
	defaultInterval = 10 * time.Minute
	defaultGrace    = time.Hour
)

type tokenPurger interface {
	// Delete refresh tokens expired before the moment
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type Config struct {
	// How often expired tokens are purged
	Interval time.Duration

	// Tokens are kept this long after expiration
	Grace time.Duration
}

// Periodically deletes expired refresh tokens
type Janitor struct {
	interval time.Duration
	grace    time.Duration
	logger   logger.Logger
	tokens   tokenPurger
	now      func() time.Time
}

func New(cfg Config, tokens tokenPurger, logger logger.Logger) *Janitor {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Grace < 0 {
		cfg.Grace = 0
	} else if cfg.Grace == 0 {
		cfg.Grace = defaultGrace
	}

	return &Janitor{
		interval: cfg.Interval,
		grace:    cfg.Grace,
		logger:   logger,
		tokens:   tokens,
		now:      time.Now,
	}
}

// Delete tokens expired more than grace period ago
func (j *Janitor) Purge(ctx context.Context) (int64, error) {
	return j.tokens.DeleteExpired(ctx, j.now().Add(-j.grace))
}

// Run purging every interval until ctx is done
// Returned channel is closed when janitor stopped
func (j *Janitor) Run(ctx context.Context) <-chan struct{} {
	stopped := make(chan struct{})
	j.logger.Debug("Starting janitor", "interval", j.interval, "grace", j.grace)

	go func() {
		defer close(stopped)

		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				j.logger.Debug("Janitor stopped by context")
				return

			case <-ticker.C:
				deleted, err := j.Purge(ctx)
				if err != nil {
					j.logger.Error("Failed to purge expired refresh tokens", "error", err)
					continue
				}
				if deleted > 0 {
					j.logger.Info("Expired refresh tokens purged", "count", deleted)
				}
			}
		}
	}()

	return stopped
}
