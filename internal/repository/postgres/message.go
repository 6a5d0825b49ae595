package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/storely/messaging-api/internal/model"
	"github.com/storely/messaging-api/internal/repository"
)

type messageRepository struct {
	db *sqlx.DB
}

func NewMessageRepository(db *sqlx.DB) repository.MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) Create(ctx context.Context, rec *model.DispatchRecord) error {
	query := `
		INSERT INTO dispatch_records (
			id, channel, recipient_address, provider_message_id, subject, body,
			status, metadata, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	rec.CreatedAt = time.Now()
	rec.UpdatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query,
		rec.ID,
		rec.Channel,
		rec.RecipientAddress,
		rec.ProviderMessageID,
		rec.Subject,
		rec.Body,
		rec.Status,
		rec.Metadata,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create dispatch record: %w", err)
	}
	return nil
}

func (r *messageRepository) Get(ctx context.Context, id uuid.UUID) (*model.DispatchRecord, error) {
	query := `SELECT * FROM dispatch_records WHERE id = $1`
	var rec model.DispatchRecord
	err := r.db.GetContext(ctx, &rec, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get dispatch record: %w", err)
	}
	return &rec, nil
}

// FindByProviderKey matches on the three-part natural key exactly. Ordering is
// newest first so the ambiguity tie-break is candidates[0]; id breaks equal
// creation timestamps deterministically.
func (r *messageRepository) FindByProviderKey(ctx context.Context, channel model.Channel, recipient, providerMessageID string) ([]*model.DispatchRecord, error) {
	query := `
		SELECT * FROM dispatch_records
		WHERE channel = $1 AND recipient_address = $2 AND provider_message_id = $3
		ORDER BY created_at DESC, id DESC
	`
	var recs []*model.DispatchRecord
	err := r.db.SelectContext(ctx, &recs, query, channel, recipient, providerMessageID)
	if err != nil {
		return nil, fmt.Errorf("failed to find dispatch records: %w", err)
	}
	return recs, nil
}

// ApplyStatusUpdate writes the new status only while the row's current status
// is still in AllowedFrom, so the ordering policy is enforced against the
// stored state at write time. Nil timestamp/message fields leave the stored
// values untouched.
func (r *messageRepository) ApplyStatusUpdate(ctx context.Context, id uuid.UUID, update *model.StatusUpdate) (bool, error) {
	if len(update.AllowedFrom) == 0 {
		return false, nil
	}

	allowed := make([]string, len(update.AllowedFrom))
	for i, s := range update.AllowedFrom {
		allowed[i] = string(s)
	}

	query := `
		UPDATE dispatch_records
		SET status = $2,
			delivered_at = COALESCE($3, delivered_at),
			failed_at = COALESCE($4, failed_at),
			error_message = COALESCE($5, error_message),
			last_event_payload = $6,
			updated_at = NOW()
		WHERE id = $1 AND status = ANY($7)
	`
	result, err := r.db.ExecContext(ctx, query,
		id,
		update.Status,
		update.DeliveredAt,
		update.FailedAt,
		update.ErrorMessage,
		update.LastEventPayload,
		pq.Array(allowed),
	)
	if err != nil {
		return false, fmt.Errorf("failed to apply status update: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected > 0, nil
}

func (r *messageRepository) List(ctx context.Context, filter *model.MessageFilter, page *model.Pagination) ([]*model.DispatchRecord, int, error) {
	where := " WHERE 1=1"
	args := []interface{}{}
	argCount := 1

	if filter != nil && filter.Channel != "" {
		where += fmt.Sprintf(" AND channel = $%d", argCount)
		args = append(args, filter.Channel)
		argCount++
	}
	if filter != nil && filter.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, filter.Status)
		argCount++
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM dispatch_records"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count dispatch records: %w", err)
	}

	query := "SELECT * FROM dispatch_records" + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argCount, argCount+1)
	args = append(args, page.PageSize, page.Offset())

	var recs []*model.DispatchRecord
	if err := r.db.SelectContext(ctx, &recs, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list dispatch records: %w", err)
	}
	return recs, total, nil
}

// MarkSent records the provider-assigned message id after a successful hand
// off. Guarded on pending so a webhook that already advanced the record wins.
func (r *messageRepository) MarkSent(ctx context.Context, id uuid.UUID, providerMessageID string) error {
	query := `
		UPDATE dispatch_records
		SET status = $2, provider_message_id = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4
	`
	_, err := r.db.ExecContext(ctx, query, id, model.DeliveryStatusSent, providerMessageID, model.DeliveryStatusPending)
	if err != nil {
		return fmt.Errorf("failed to mark dispatch record sent: %w", err)
	}
	return nil
}

func (r *messageRepository) MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error {
	query := `
		UPDATE dispatch_records
		SET status = $2, failed_at = NOW(), error_message = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4
	`
	_, err := r.db.ExecContext(ctx, query, id, model.DeliveryStatusFailed, errorMessage, model.DeliveryStatusPending)
	if err != nil {
		return fmt.Errorf("failed to mark dispatch record failed: %w", err)
	}
	return nil
}
