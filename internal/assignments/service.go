// Package assignments implements the assignment workflow: faculty create,
// students submit, faculty evaluate.
package assignments

import (
	"context"
	"errors"
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

// MaxMarksLimit bounds an assignment's max_marks
const MaxMarksLimit = 1000

// Uploader stores submission files
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

type CreateParams struct {
	Title       string
	Description string
	Subject     string
	DueAt       time.Time
	MaxMarks    int
}

type ListFilter struct {
	CreatedByID string
	// UpcomingOnly keeps assignments not yet due
	UpcomingOnly bool
}

type SubmitParams struct {
	AssignmentID string
	Filename     string
	File         io.Reader
	Comment      string
}

type EvaluateParams struct {
	Marks    int
	Feedback string
}

// Detail is an assignment as seen by one viewer
type Detail struct {
	Assignment  *models.Assignment `json:"assignment"`
	Submission  *models.Submission `json:"submission,omitempty"`
	Submissions int64              `json:"submissions"`
	Overdue     bool               `json:"overdue"`
}

func NewService(db *gorm.DB, files Uploader, dispatch *tasks.Dispatcher, logger zerolog.Logger) *Service {
	return &Service{
		db:       db,
		files:    files,
		dispatch: dispatch,
		logger:   logger.With().Str("component", "assignments_service").Logger(),
		now:      time.Now,
	}
}

// Create adds an assignment authored by the viewer
func (s *Service) Create(ctx context.Context, viewer policy.Viewer, params CreateParams) (*models.Assignment, error) {
	if !viewer.Is(models.RoleFaculty) {
		return nil, apperr.Forbidden("only faculty can create assignments")
	}
	title := strings.TrimSpace(params.Title)
	if title == "" {
		return nil, apperr.Invalid("title is required")
	}
	if params.DueAt.IsZero() {
		return nil, apperr.Invalid("due date is required")
	}
	if params.MaxMarks < 1 || params.MaxMarks > MaxMarksLimit {
		return nil, apperr.Invalid("max marks must be between 1 and %d", MaxMarksLimit)
	}

	assignment := &models.Assignment{
		Title:       title,
		Description: strings.TrimSpace(params.Description),
		Subject:     strings.TrimSpace(params.Subject),
		DueAt:       params.DueAt.UTC(),
		MaxMarks:    params.MaxMarks,
		CreatedByID: viewer.UserID,
	}
	if err := s.db.WithContext(ctx).Create(assignment).Error; err != nil {
		return nil, fmt.Errorf("failed to create assignment: %w", err)
	}

	s.logger.Info().Str("assignment_id", assignment.ID).Str("created_by", viewer.UserID).Msg("Assignment created")
	s.dispatch.AssignmentCreated(ctx, assignment.ID)
	return assignment, nil
}

// List returns assignments ordered by due date
func (s *Service) List(ctx context.Context, viewer policy.Viewer, filter ListFilter) ([]models.Assignment, error) {
	query := s.db.WithContext(ctx).
		Scopes(policy.Assignments(viewer)).
		Preload("CreatedBy").
		Order("due_at ASC")
	if filter.CreatedByID != "" {
		query = query.Where("created_by_id = ?", filter.CreatedByID)
	}
	if filter.UpcomingOnly {
		query = query.Where("due_at > ?", s.now().UTC())
	}

	var out []models.Assignment
	if err := query.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	return out, nil
}

// Get returns one assignment with the viewer's submission (students) or the
// submission count (its author and admins)
func (s *Service) Get(ctx context.Context, viewer policy.Viewer, id string) (*Detail, error) {
	var assignment models.Assignment
	err := s.db.WithContext(ctx).Scopes(policy.Assignments(viewer)).Preload("CreatedBy").Where("id = ?", id).First(&assignment).Error
	if err != nil {
		return nil, apperr.FromDB(err, "assignment")
	}

	detail := &Detail{Assignment: &assignment, Overdue: s.now().After(assignment.DueAt)}
	switch {
	case viewer.Is(models.RoleStudent):
		var sub models.Submission
		err := s.db.WithContext(ctx).Scopes(policy.Submissions(viewer)).
			Where("assignment_id = ?", id).First(&sub).Error
		if err == nil {
			detail.Submission = &sub
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("failed to load submission: %w", err)
		}
	case viewer.Is(models.RoleAdmin) || assignment.CreatedByID == viewer.UserID:
		err := s.db.WithContext(ctx).Model(&models.Submission{}).Scopes(policy.Submissions(viewer)).
			Where("assignment_id = ?", id).Count(&detail.Submissions).Error
		if err != nil {
			return nil, fmt.Errorf("failed to count submissions: %w", err)
		}
	}
	return detail, nil
}

// Submit uploads the viewer's work for an assignment. Late submissions are
// accepted and flagged. A submission can be replaced until it is evaluated.
func (s *Service) Submit(ctx context.Context, viewer policy.Viewer, params SubmitParams) (*models.Submission, error) {
	if !viewer.Is(models.RoleStudent) {
		return nil, apperr.Forbidden("only students can submit assignments")
	}
	if params.File == nil || params.Filename == "" {
		return nil, apperr.Invalid("a file is required")
	}

	var assignment models.Assignment
	if err := s.db.WithContext(ctx).Scopes(policy.Assignments(viewer)).Where("id = ?", params.AssignmentID).First(&assignment).Error; err != nil {
		return nil, apperr.FromDB(err, "assignment")
	}

	var existing models.Submission
	err := s.db.WithContext(ctx).Scopes(policy.Submissions(viewer)).
		Where("assignment_id = ?", assignment.ID).First(&existing).Error
	switch {
	case err == nil:
		if existing.Status == models.SubmissionEvaluated {
			return nil, apperr.Conflict("submission has already been evaluated")
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return nil, fmt.Errorf("failed to load submission: %w", err)
	}

	name := storage.ObjectName(assignment.ID+"/"+viewer.UserID, params.Filename)
	objectPath, err := s.files.Upload(ctx, storage.BucketSubmissions, name, params.File)
	if err != nil {
		return nil, fmt.Errorf("failed to upload submission: %w", err)
	}

	now := s.now().UTC()
	sub := existing
	previousPath := existing.FilePath
	sub.AssignmentID = assignment.ID
	sub.StudentID = viewer.UserID
	sub.FilePath = objectPath
	sub.FileURL = s.files.PublicURL(storage.BucketSubmissions, name)
	sub.Comment = strings.TrimSpace(params.Comment)
	sub.Late = now.After(assignment.DueAt)
	sub.Status = models.SubmissionSubmitted

	if err := s.save(ctx, &sub); err != nil {
		if rmErr := s.files.Remove(objectPath); rmErr != nil {
			s.logger.Warn().Err(rmErr).Str("object", objectPath).Msg("Failed to remove orphaned upload")
		}
		return nil, err
	}

	if previousPath != "" && previousPath != objectPath {
		if err := s.files.Remove(previousPath); err != nil {
			s.logger.Warn().Err(err).Str("object", previousPath).Msg("Failed to remove replaced upload")
		}
	}

	s.logger.Info().
		Str("assignment_id", assignment.ID).
		Str("student_id", viewer.UserID).
		Bool("late", sub.Late).
		Msg("Assignment submitted")
	return &sub, nil
}

// save inserts a first submission or replaces one that is still awaiting
// evaluation. The replace is conditional on status so a grade recorded while
// the file was uploading is never overwritten.
func (s *Service) save(ctx context.Context, sub *models.Submission) error {
	db := s.db.WithContext(ctx)
	if sub.ID == "" {
		err := db.Create(sub).Error
		if apperr.IsDuplicate(err) {
			return apperr.Conflict("assignment was submitted by another request")
		}
		if err != nil {
			return fmt.Errorf("failed to save submission: %w", err)
		}
		return nil
	}

	res := db.Model(&models.Submission{}).
		Where("id = ? AND status = ?", sub.ID, models.SubmissionSubmitted).
		Updates(map[string]any{
			"file_path": sub.FilePath,
			"file_url":  sub.FileURL,
			"comment":   sub.Comment,
			"late":      sub.Late,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to save submission: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.Conflict("submission has already been evaluated")
	}
	sub.UpdatedAt = s.now().UTC()
	return nil
}

// Submissions lists submissions for an assignment the viewer authored
func (s *Service) Submissions(ctx context.Context, viewer policy.Viewer, assignmentID string) ([]models.Submission, error) {
	if !viewer.Is(models.RoleFaculty, models.RoleAdmin) {
		return nil, apperr.Forbidden("only faculty can list submissions")
	}
	var assignment models.Assignment
	if err := s.db.WithContext(ctx).Scopes(policy.Assignments(viewer)).Where("id = ?", assignmentID).First(&assignment).Error; err != nil {
		return nil, apperr.FromDB(err, "assignment")
	}
	if !viewer.Is(models.RoleAdmin) && assignment.CreatedByID != viewer.UserID {
		return nil, apperr.Forbidden("assignment belongs to another faculty member")
	}

	var out []models.Submission
	err := s.db.WithContext(ctx).
		Scopes(policy.Submissions(viewer)).
		Preload("Student").
		Where("assignment_id = ?", assignmentID).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	return out, nil
}

// Evaluate grades a submission to one of the viewer's assignments
func (s *Service) Evaluate(ctx context.Context, viewer policy.Viewer, submissionID string, params EvaluateParams) (*models.Submission, error) {
	if !viewer.Is(models.RoleFaculty) {
		return nil, apperr.Forbidden("only faculty can evaluate submissions")
	}

	var sub models.Submission
	err := s.db.WithContext(ctx).
		Scopes(policy.Submissions(viewer)).
		Preload("Assignment").
		Where("id = ?", submissionID).
		First(&sub).Error
	if err != nil {
		return nil, apperr.FromDB(err, "submission")
	}
	if params.Marks < 0 || params.Marks > sub.Assignment.MaxMarks {
		return nil, apperr.Invalid("marks must be between 0 and %d", sub.Assignment.MaxMarks)
	}

	now := s.now().UTC()
	marks := params.Marks
	evaluator := viewer.UserID
	updates := map[string]any{
		"status":          models.SubmissionEvaluated,
		"marks":           &marks,
		"feedback":        strings.TrimSpace(params.Feedback),
		"evaluated_by_id": &evaluator,
		"evaluated_at":    &now,
	}
	if err := s.db.WithContext(ctx).Model(&sub).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to evaluate submission: %w", err)
	}

	sub.Status = models.SubmissionEvaluated
	sub.Marks = &marks
	sub.Feedback = strings.TrimSpace(params.Feedback)
	sub.EvaluatedByID = &evaluator
	sub.EvaluatedAt = &now

	s.logger.Info().Str("submission_id", sub.ID).Int("marks", marks).Msg("Submission evaluated")
	s.dispatch.SubmissionEvaluated(ctx, sub.ID)
	return &sub, nil
}

// PendingCount counts assignments not yet due that the student has not
// submitted
func (s *Service) PendingCount(ctx context.Context, viewer policy.Viewer) (int64, error) {
	if !viewer.Is(models.RoleStudent) {
		return 0, nil
	}
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Assignment{}).
		Scopes(policy.Assignments(viewer)).
		Where("due_at > ?", s.now().UTC()).
		Where("id NOT IN (SELECT assignment_id FROM submissions WHERE student_id = ?)", viewer.UserID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count pending assignments: %w", err)
	}
	return count, nil
}

// AwaitingEvaluation counts visible submissions not yet graded
func (s *Service) AwaitingEvaluation(ctx context.Context, viewer policy.Viewer) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Submission{}).
		Scopes(policy.Submissions(viewer)).
		Where("status = ?", models.SubmissionSubmitted).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count submissions: %w", err)
	}
	return count, nil
}
