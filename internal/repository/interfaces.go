package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/storely/messaging-api/internal/model"
)

// All repository interfaces in one file
type (
	// DeliveryStore is the narrow store surface the reconciliation core
	// depends on: candidate lookup by natural key and a single conditional
	// status write. Kept minimal so the reconciler can run against an
	// in-memory fake in tests.
	DeliveryStore interface {
		// FindByProviderKey returns every record matching the (channel,
		// recipient, provider message id) natural key, most recently
		// created first. An empty result is not an error.
		FindByProviderKey(ctx context.Context, channel model.Channel, recipient, providerMessageID string) ([]*model.DispatchRecord, error)
		// ApplyStatusUpdate performs the conditional write described by
		// update and reports whether a row was affected.
		ApplyStatusUpdate(ctx context.Context, id uuid.UUID, update *model.StatusUpdate) (bool, error)
	}

	// MessageRepository handles dispatch record operations
	MessageRepository interface {
		DeliveryStore
		Create(ctx context.Context, rec *model.DispatchRecord) error
		Get(ctx context.Context, id uuid.UUID) (*model.DispatchRecord, error)
		List(ctx context.Context, filter *model.MessageFilter, page *model.Pagination) ([]*model.DispatchRecord, int, error)
		MarkSent(ctx context.Context, id uuid.UUID, providerMessageID string) error
		MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error
	}

	// OutboxRepository handles the transactional outbox
	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		BeginTx(ctx context.Context) (*sqlx.Tx, error)
		GetPendingEventsTx(ctx context.Context, tx *sqlx.Tx, limit int) ([]*model.OutboxEvent, error)
		UpdateStatusTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, status model.OutboxStatus, errorMessage *string, retryAt *time.Time) error
		MoveToDeadLetterTx(ctx context.Context, tx *sqlx.Tx, evt *model.OutboxEvent) error
		CountPending(ctx context.Context) (int, error)
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}
)
