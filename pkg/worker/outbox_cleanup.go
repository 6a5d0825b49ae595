package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/storely/messaging-api/internal/repository"
	"github.com/storely/messaging-api/pkg/logger"
)

// OutboxCleaner prunes processed outbox rows past the retention window so
// the table the processor polls stays small. Dead-lettered rows are kept.
type OutboxCleaner struct {
	repo      repository.OutboxRepository
	retention time.Duration
	interval  time.Duration
	logger    *logger.Logger
	clock     clockwork.Clock
}

func NewOutboxCleaner(
	repo repository.OutboxRepository,
	retention time.Duration,
	interval time.Duration,
	logger *logger.Logger,
	clock clockwork.Clock,
) *OutboxCleaner {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	if interval <= 0 {
		interval = time.Hour
	}

	return &OutboxCleaner{
		repo:      repo,
		retention: retention,
		interval:  interval,
		logger:    logger,
		clock:     clock,
	}
}

func (c *OutboxCleaner) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.logger.Info("starting outbox cleaner",
		"retention", c.retention.String(),
		"interval", c.interval.String(),
	)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("outbox cleaner stopped")
			return
		case <-ticker.C:
			if err := c.cleanup(ctx); err != nil {
				c.logger.Error(err, "outbox cleanup failed")
			}
		}
	}
}

func (c *OutboxCleaner) cleanup(ctx context.Context) error {
	cutoff := c.clock.Now().Add(-c.retention)

	pruned, err := c.repo.DeleteProcessedBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to prune processed outbox events: %w", err)
	}

	if pruned > 0 {
		c.logger.Info("pruned processed outbox events",
			"count", pruned,
			"cutoff", cutoff.Format(time.RFC3339),
		)
	}
	return nil
}
