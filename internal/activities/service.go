// Package activities tracks extra-curricular activity points. Students log
// activities; faculty and admins review them; approved points count.
package activities

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/campusdesk/portal/internal/apperr"
	"github.com/campusdesk/portal/internal/models"
	"github.com/campusdesk/portal/internal/policy"
	"github.com/campusdesk/portal/internal/storage"
	"github.com/campusdesk/portal/internal/tasks"
)

// Point bounds for a single activity
const (
	MinPoints = 1
	MaxPoints = 100
)

// Categories lists the accepted activity categories
var Categories = []string{"technical", "cultural", "sports", "social", "other"}

// Uploader stores certificate files
type Uploader interface {
	Upload(ctx context.Context, bucket, name string, r io.Reader) (string, error)
	PublicURL(bucket, name string) string
	Remove(objectPath string) error
}

type Service struct {
	db       *gorm.DB
	files    Uploader
	dispatch *tasks.Dispatcher
	logger   zerolog.Logger
	now      func() time.Time
}

type LogParams struct {
	Title    string
	Category string
	Points   int
	// Certificate is optional
	CertificateName string
	Certificate     io.Reader
}

func NewService(db *gorm.DB, files Uploader, dispatch *tasks.Dispatcher, logger zerolog.Logger) *Service {
	return &Service{
		db:       db,
		files:    files,
		dispatch: dispatch,
		logger:   logger.With().Str("component", "activities_service").Logger(),
		now:      time.Now,
	}
}

// Log records a pending activity for the viewer
func (s *Service) Log(ctx context.Context, viewer policy.Viewer, params LogParams) (*models.Activity, error) {
	if !viewer.Is(models.RoleStudent) {
		return nil, apperr.Forbidden("only students can log activities")
	}
	title := strings.TrimSpace(params.Title)
	if title == "" {
		return nil, apperr.Invalid("title is required")
	}
	category := strings.ToLower(strings.TrimSpace(params.Category))
	if !validCategory(category) {
		return nil, apperr.Invalid("category must be one of %s", strings.Join(Categories, ", "))
	}
	if params.Points < MinPoints || params.Points > MaxPoints {
		return nil, apperr.Invalid("points must be between %d and %d", MinPoints, MaxPoints)
	}

	activity := &models.Activity{
		StudentID: viewer.UserID,
		Title:     title,
		Category:  category,
		Points:    params.Points,
		Status:    models.ActivityPending,
	}

	var objectPath string
	if params.Certificate != nil && params.CertificateName != "" {
		name := storage.ObjectName(viewer.UserID, params.CertificateName)
		var err error
		objectPath, err = s.files.Upload(ctx, storage.BucketCertificates, name, params.Certificate)
		if err != nil {
			return nil, fmt.Errorf("failed to upload certificate: %w", err)
		}
		activity.CertificateURL = s.files.PublicURL(storage.BucketCertificates, name)
	}

	if err := s.db.WithContext(ctx).Create(activity).Error; err != nil {
		if objectPath != "" {
			_ = s.files.Remove(objectPath)
		}
		return nil, fmt.Errorf("failed to log activity: %w", err)
	}

	s.logger.Info().Str("activity_id", activity.ID).Str("student_id", viewer.UserID).Msg("Activity logged")
	return activity, nil
}

// List returns visible activities, newest first, optionally by status
func (s *Service) List(ctx context.Context, viewer policy.Viewer, status string) ([]models.Activity, error) {
	query := s.db.WithContext(ctx).
		Scopes(policy.Activities(viewer)).
		Preload("Student").
		Order("created_at DESC")
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var out []models.Activity
	if err := query.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	return out, nil
}

// TotalPoints sums the approved points of studentID visible to the viewer
func (s *Service) TotalPoints(ctx context.Context, viewer policy.Viewer, studentID string) (int, error) {
	var total int
	err := s.db.WithContext(ctx).Model(&models.Activity{}).
		Scopes(policy.Activities(viewer)).
		Where("student_id = ? AND status = ?", studentID, models.ActivityApproved).
		Select("COALESCE(SUM(points), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("failed to sum activity points: %w", err)
	}
	return total, nil
}

// Review approves or rejects a pending activity
func (s *Service) Review(ctx context.Context, viewer policy.Viewer, id string, approve bool) (*models.Activity, error) {
	if !viewer.Is(models.RoleFaculty, models.RoleAdmin) {
		return nil, apperr.Forbidden("only faculty and admins can review activities")
	}

	var activity models.Activity
	if err := s.db.WithContext(ctx).Scopes(policy.Activities(viewer)).Where("id = ?", id).First(&activity).Error; err != nil {
		return nil, apperr.FromDB(err, "activity")
	}
	if activity.Status != models.ActivityPending {
		return nil, apperr.Conflict("activity has already been %s", activity.Status)
	}

	status := models.ActivityRejected
	if approve {
		status = models.ActivityApproved
	}
	now := s.now().UTC()
	reviewer := viewer.UserID

	// Conditional update so concurrent reviews cannot both win
	result := s.db.WithContext(ctx).Model(&models.Activity{}).
		Where("id = ? AND status = ?", id, models.ActivityPending).
		Updates(map[string]any{"status": status, "reviewed_by_id": &reviewer, "reviewed_at": &now})
	if result.Error != nil {
		return nil, fmt.Errorf("failed to review activity: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, apperr.Conflict("activity has already been reviewed")
	}

	activity.Status = status
	activity.ReviewedByID = &reviewer
	activity.ReviewedAt = &now

	s.logger.Info().Str("activity_id", id).Str("status", status).Msg("Activity reviewed")
	s.dispatch.ActivityReviewed(ctx, id)
	return &activity, nil
}

// PendingCount counts visible activities awaiting review
func (s *Service) PendingCount(ctx context.Context, viewer policy.Viewer) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Activity{}).
		Scopes(policy.Activities(viewer)).
		Where("status = ?", models.ActivityPending).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count activities: %w", err)
	}
	return count, nil
}

func validCategory(category string) bool {
	for _, c := range Categories {
		if c == category {
			return true
		}
	}
	return false
}
