package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/storely/messaging-api/internal/model"
	"github.com/storely/messaging-api/internal/repository"
	"github.com/storely/messaging-api/pkg/logger"
	"github.com/storely/messaging-api/pkg/messaging"
	"github.com/storely/messaging-api/pkg/metrics"
)

type OutboxProcessorConfig struct {
	BatchSize     int
	PollInterval  time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
}

// OutboxProcessor drains the outbox table to the broker. Batches are
// claimed with row locks inside one transaction, so any number of
// processors can run against the same table.
type OutboxProcessor struct {
	repo    repository.OutboxRepository
	broker  messaging.Broker
	config  OutboxProcessorConfig
	logger  *logger.Logger
	metrics *metrics.Metrics
	clock   clockwork.Clock
}

func NewOutboxProcessor(
	repo repository.OutboxRepository,
	broker messaging.Broker,
	config OutboxProcessorConfig,
	logger *logger.Logger,
	metrics *metrics.Metrics,
	clock clockwork.Clock,
) *OutboxProcessor {
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.RetryAttempts <= 0 {
		config.RetryAttempts = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 30 * time.Second
	}

	return &OutboxProcessor{
		repo:    repo,
		broker:  broker,
		config:  config,
		logger:  logger,
		metrics: metrics,
		clock:   clock,
	}
}

func (p *OutboxProcessor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.logger.Info("starting outbox processor",
		"batch_size", p.config.BatchSize,
		"poll_interval", p.config.PollInterval.String(),
	)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("shutting down outbox processor")
			return
		case <-ticker.C:
			if err := p.ProcessBatch(ctx); err != nil {
				p.logger.Error(err, "failed to process outbox batch")
			}
		}
	}
}

// ProcessBatch claims and publishes one batch. Exported so a worker can
// drain on demand instead of waiting for the ticker.
func (p *OutboxProcessor) ProcessBatch(ctx context.Context) error {
	timer := prometheus.NewTimer(p.metrics.OutboxProcessingLatency)
	defer timer.ObserveDuration()

	if pending, err := p.repo.CountPending(ctx); err == nil {
		p.metrics.OutboxQueueSize.Set(float64(pending))
	}

	tx, err := p.repo.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin outbox transaction: %w", err)
	}
	defer tx.Rollback()

	events, err := p.repo.GetPendingEventsTx(ctx, tx, p.config.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to get pending events: %w", err)
	}
	if len(events) == 0 {
		return tx.Commit()
	}

	for _, event := range events {
		p.processEvent(ctx, tx, event)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit outbox transaction: %w", err)
	}
	return nil
}

func (p *OutboxProcessor) processEvent(ctx context.Context, tx *sqlx.Tx, event *model.OutboxEvent) {
	msg := &messaging.Message{
		ID:        event.ID.String(),
		Type:      event.EventType,
		Payload:   json.RawMessage(event.Payload),
		Timestamp: p.clock.Now().Unix(),
	}

	if err := p.broker.Publish(ctx, event.EventType, msg); err != nil {
		p.handlePublishFailure(ctx, tx, event, err)
		return
	}

	p.metrics.OutboxEventsProcessed.Inc()
	if err := p.repo.UpdateStatusTx(ctx, tx, event.ID, model.OutboxStatusProcessed, nil, nil); err != nil {
		p.logger.Error(err, "failed to mark event processed", "event_id", event.ID.String())
	}
}

// handlePublishFailure schedules a retry, or dead-letters the event once
// its attempts are spent.
func (p *OutboxProcessor) handlePublishFailure(ctx context.Context, tx *sqlx.Tx, event *model.OutboxEvent, pubErr error) {
	p.metrics.OutboxEventsFailed.Inc()
	p.logger.Error(pubErr, "failed to publish outbox event",
		"event_id", event.ID.String(),
		"event_type", event.EventType,
		"retry_count", event.RetryCount,
	)

	errStr := pubErr.Error()
	if event.RetryCount+1 >= p.config.RetryAttempts {
		event.Status = model.OutboxStatusFailed
		event.ErrorMessage = &errStr
		if err := p.repo.MoveToDeadLetterTx(ctx, tx, event); err != nil {
			p.logger.Error(err, "failed to dead-letter event", "event_id", event.ID.String())
		}
		return
	}

	p.metrics.OutboxRetries.WithLabelValues(event.EventType).Inc()
	retryAt := p.clock.Now().Add(p.config.RetryDelay)
	if err := p.repo.UpdateStatusTx(ctx, tx, event.ID, model.OutboxStatusRetry, &errStr, &retryAt); err != nil {
		p.logger.Error(err, "failed to schedule event retry", "event_id", event.ID.String())
	}
}
