// Package notifications stores per-user notifications. Inserts are pushed to
// connected clients by the realtime callbacks.
package notifications

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/campusdesk/portal/internal/apperr"
	"github.com/campusdesk/portal/internal/models"
	"github.com/campusdesk/portal/internal/policy"
	"github.com/campusdesk/portal/internal/realtime"
)

// DefaultLimit caps List when no limit is given
const DefaultLimit = 50

type Service struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// Params is the content of a notification
type Params struct {
	Title   string
	Message string
	Link    string
}

func NewService(db *gorm.DB, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		logger: logger.With().Str("component", "notifications_service").Logger(),
	}
}

// Notify stores one notification for userID
func (s *Service) Notify(ctx context.Context, userID string, params Params) (*models.Notification, error) {
	if err := validate(params); err != nil {
		return nil, err
	}
	n := &models.Notification{UserID: userID, Title: params.Title, Message: params.Message, Link: params.Link}
	if err := s.db.WithContext(ctx).Create(n).Error; err != nil {
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}
	return n, nil
}

// NotifyMany stores the same notification for every user in userIDs
func (s *Service) NotifyMany(ctx context.Context, userIDs []string, params Params) (int, error) {
	if err := validate(params); err != nil {
		return 0, err
	}
	if len(userIDs) == 0 {
		return 0, nil
	}

	rows := make([]models.Notification, 0, len(userIDs))
	for _, id := range userIDs {
		rows = append(rows, models.Notification{UserID: id, Title: params.Title, Message: params.Message, Link: params.Link})
	}
	// Batches commit together, so pushes wait for the commit
	ctx, release := realtime.Hold(ctx)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(&rows, 100).Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create notifications: %w", err)
	}
	release(ctx)

	s.logger.Info().Int("count", len(rows)).Str("title", params.Title).Msg("Fanned out notifications")
	return len(rows), nil
}

// Sent reports whether userID already holds a notification linking to link
func (s *Service) Sent(ctx context.Context, userID, link string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND link = ?", userID, link).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check notification: %w", err)
	}
	return count > 0, nil
}

// List returns the viewer's notifications, newest first
func (s *Service) List(ctx context.Context, viewer policy.Viewer, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > DefaultLimit {
		limit = DefaultLimit
	}
	var out []models.Notification
	err := s.db.WithContext(ctx).
		Scopes(policy.Notifications(viewer)).
		Order("created_at DESC").Order("id DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return out, nil
}

// Unread counts the viewer's unread notifications
func (s *Service) Unread(ctx context.Context, viewer policy.Viewer) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Notification{}).
		Scopes(policy.Notifications(viewer)).
		Where("read = ?", false).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count notifications: %w", err)
	}
	return count, nil
}

// MarkRead marks one of the viewer's notifications read
func (s *Service) MarkRead(ctx context.Context, viewer policy.Viewer, id string) error {
	result := s.db.WithContext(ctx).Model(&models.Notification{}).
		Scopes(policy.Notifications(viewer)).
		Where("id = ?", id).
		Update("read", true)
	if result.Error != nil {
		return fmt.Errorf("failed to mark notification read: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("notification %w", apperr.ErrNotFound)
	}
	return nil
}

// MarkAllRead marks every notification of the viewer read
func (s *Service) MarkAllRead(ctx context.Context, viewer policy.Viewer) (int64, error) {
	result := s.db.WithContext(ctx).Model(&models.Notification{}).
		Scopes(policy.Notifications(viewer)).
		Where("read = ?", false).
		Update("read", true)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func validate(params Params) error {
	if strings.TrimSpace(params.Title) == "" {
		return apperr.Invalid("notification title is required")
	}
	return nil
}
