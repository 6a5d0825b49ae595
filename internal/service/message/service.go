package message

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/storely/messaging-api/internal/model"
	"github.com/storely/messaging-api/internal/repository"
	"github.com/storely/messaging-api/internal/sender"
	apperrors "github.com/storely/messaging-api/pkg/errors"
	"github.com/storely/messaging-api/pkg/logger"
)

type MessageService interface {
	Send(ctx context.Context, req *model.SendMessageRequest) (*model.DispatchRecord, error)
	Get(ctx context.Context, id uuid.UUID) (*model.DispatchRecord, error)
	List(ctx context.Context, filter *model.MessageFilter, page *model.Pagination) ([]*model.DispatchRecord, int, error)
}

// Service runs the send path: persist a pending dispatch record, hand the
// message to the channel sender, then record the provider message id the
// reconciler will match webhooks against.
type Service struct {
	repo     repository.MessageRepository
	senders  map[model.Channel]sender.Sender
	validate *validator.Validate
	logger   *logger.Logger
}

func NewService(repo repository.MessageRepository, senders map[model.Channel]sender.Sender, log *logger.Logger) *Service {
	return &Service{
		repo:     repo,
		senders:  senders,
		validate: validator.New(),
		logger:   log,
	}
}

func (s *Service) Send(ctx context.Context, req *model.SendMessageRequest) (*model.DispatchRecord, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	snd, ok := s.senders[req.Channel]
	if !ok {
		return nil, apperrors.NewBadRequest(fmt.Sprintf("unsupported channel %q", req.Channel), nil)
	}

	rec := &model.DispatchRecord{
		ID:               uuid.New(),
		Channel:          req.Channel,
		RecipientAddress: req.To,
		Subject:          req.Subject,
		Body:             req.Body,
		Status:           model.DeliveryStatusPending,
		Metadata:         req.Metadata,
	}

	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to create dispatch record: %w", err)
	}

	providerMessageID, err := snd.Send(ctx, &sender.Message{
		To:      req.To,
		Subject: req.Subject,
		Body:    req.Body,
	})
	if err != nil {
		// The record stays behind in failed state; the caller reads the
		// outcome off the returned record rather than an error.
		s.logger.WithContext(ctx).Error(err, "provider send failed",
			"record_id", rec.ID.String(),
			"channel", string(req.Channel),
		)
		errMsg := err.Error()
		if markErr := s.repo.MarkFailed(ctx, rec.ID, errMsg); markErr != nil {
			return nil, fmt.Errorf("failed to record send failure: %w", markErr)
		}
		rec.Status = model.DeliveryStatusFailed
		rec.ErrorMessage = &errMsg
		return rec, nil
	}

	if err := s.repo.MarkSent(ctx, rec.ID, providerMessageID); err != nil {
		return nil, fmt.Errorf("failed to record send: %w", err)
	}
	rec.Status = model.DeliveryStatusSent
	rec.ProviderMessageID = &providerMessageID

	s.logger.WithContext(ctx).Info("message dispatched",
		"record_id", rec.ID.String(),
		"channel", string(req.Channel),
		"provider_message_id", providerMessageID,
	)
	return rec, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.DispatchRecord, error) {
	rec, err := s.repo.Get(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFound("message", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load dispatch record: %w", err)
	}
	return rec, nil
}

func (s *Service) List(ctx context.Context, filter *model.MessageFilter, page *model.Pagination) ([]*model.DispatchRecord, int, error) {
	if filter != nil {
		if filter.Channel != "" && !filter.Channel.Valid() {
			return nil, 0, apperrors.NewBadRequest(fmt.Sprintf("invalid channel %q", filter.Channel), nil)
		}
		if filter.Status != "" && !filter.Status.Valid() {
			return nil, 0, apperrors.NewBadRequest(fmt.Sprintf("invalid status %q", filter.Status), nil)
		}
	}

	page.Normalize()
	recs, total, err := s.repo.List(ctx, filter, page)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list dispatch records: %w", err)
	}
	return recs, total, nil
}

// validateRequest checks the channel-dependent recipient format on top of
// the binding-level rules.
func (s *Service) validateRequest(req *model.SendMessageRequest) error {
	switch req.Channel {
	case model.ChannelEmail:
		if err := s.validate.Var(req.To, "required,email"); err != nil {
			return apperrors.NewBadRequest("recipient must be a valid email address", err)
		}
		if req.Subject == "" {
			return apperrors.NewBadRequest("subject is required for email messages", nil)
		}
	case model.ChannelSMS:
		if err := s.validate.Var(req.To, "required,e164"); err != nil {
			return apperrors.NewBadRequest("recipient must be an E.164 phone number", err)
		}
	default:
		return apperrors.NewBadRequest(fmt.Sprintf("invalid channel %q", req.Channel), nil)
	}
	return nil
}
