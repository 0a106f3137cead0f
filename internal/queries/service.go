// Package queries implements the student-to-faculty query threads.
package queries

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/campusdesk/portal/internal/apperr"
	"github.com/campusdesk/portal/internal/models"
	"github.com/campusdesk/portal/internal/policy"
	"github.com/campusdesk/portal/internal/tasks"
)

type Service struct {
	db       *gorm.DB
	dispatch *tasks.Dispatcher
	logger   zerolog.Logger
}

type OpenParams struct {
	FacultyID string
	Subject   string
	Body      string
}

// Thread is a query with its responses in order
type Thread struct {
	Query     *models.Query          `json:"query"`
	Responses []models.QueryResponse `json:"responses"`
}

func NewService(db *gorm.DB, dispatch *tasks.Dispatcher, logger zerolog.Logger) *Service {
	return &Service{
		db:       db,
		dispatch: dispatch,
		logger:   logger.With().Str("component", "queries_service").Logger(),
	}
}

// Open starts a query from the viewer to a faculty member
func (s *Service) Open(ctx context.Context, viewer policy.Viewer, params OpenParams) (*models.Query, error) {
	if !viewer.Is(models.RoleStudent) {
		return nil, apperr.Forbidden("only students can open queries")
	}
	subject := strings.TrimSpace(params.Subject)
	if subject == "" {
		return nil, apperr.Invalid("subject is required")
	}

	var faculty models.User
	err := s.db.WithContext(ctx).Select("id", "role").
		Where("id = ? AND role = ?", params.FacultyID, models.RoleFaculty).
		First(&faculty).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Invalid("faculty member not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load faculty: %w", err)
	}

	query := &models.Query{
		StudentID: viewer.UserID,
		FacultyID: faculty.ID,
		Subject:   subject,
		Body:      strings.TrimSpace(params.Body),
		Status:    models.QueryOpen,
	}
	if err := s.db.WithContext(ctx).Create(query).Error; err != nil {
		return nil, fmt.Errorf("failed to open query: %w", err)
	}

	s.logger.Info().Str("query_id", query.ID).Str("faculty_id", faculty.ID).Msg("Query opened")
	return query, nil
}

// List returns visible queries, most recently active first
func (s *Service) List(ctx context.Context, viewer policy.Viewer, status string) ([]models.Query, error) {
	query := s.db.WithContext(ctx).
		Scopes(policy.Queries(viewer)).
		Preload("Student").Preload("Faculty").
		Order("updated_at DESC")
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var out []models.Query
	if err := query.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list queries: %w", err)
	}
	return out, nil
}

// Thread returns a query and its responses
func (s *Service) Thread(ctx context.Context, viewer policy.Viewer, id string) (*Thread, error) {
	q, err := s.load(ctx, viewer, id)
	if err != nil {
		return nil, err
	}

	var responses []models.QueryResponse
	err = s.db.WithContext(ctx).
		Preload("Author").
		Where("query_id = ?", q.ID).
		Order("created_at ASC").Order("id ASC").
		Find(&responses).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load responses: %w", err)
	}
	return &Thread{Query: q, Responses: responses}, nil
}

// Respond appends a message from a participant. A faculty reply marks the
// query answered; a student reply reopens it.
func (s *Service) Respond(ctx context.Context, viewer policy.Viewer, id, body string) (*models.QueryResponse, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, apperr.Invalid("response body is required")
	}

	q, err := s.load(ctx, viewer, id)
	if err != nil {
		return nil, err
	}
	if viewer.UserID != q.StudentID && viewer.UserID != q.FacultyID {
		return nil, apperr.Forbidden("only participants can respond")
	}
	if q.Status == models.QueryClosed {
		return nil, apperr.Conflict("query is closed")
	}

	status := models.QueryOpen
	if viewer.UserID == q.FacultyID {
		status = models.QueryAnswered
	}

	response := &models.QueryResponse{QueryID: q.ID, AuthorID: viewer.UserID, Body: body}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(response).Error; err != nil {
			return fmt.Errorf("failed to save response: %w", err)
		}
		if err := tx.Model(&models.Query{}).Where("id = ?", q.ID).Update("status", status).Error; err != nil {
			return fmt.Errorf("failed to update query: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.dispatch.QueryResponded(ctx, q.ID, response.ID)
	return response, nil
}

// Close closes a query. Either participant can close it; closing twice is
// a no-op.
func (s *Service) Close(ctx context.Context, viewer policy.Viewer, id string) (*models.Query, error) {
	q, err := s.load(ctx, viewer, id)
	if err != nil {
		return nil, err
	}
	if viewer.UserID != q.StudentID && viewer.UserID != q.FacultyID {
		return nil, apperr.Forbidden("only participants can close a query")
	}
	if q.Status == models.QueryClosed {
		return q, nil
	}

	if err := s.db.WithContext(ctx).Model(q).Update("status", models.QueryClosed).Error; err != nil {
		return nil, fmt.Errorf("failed to close query: %w", err)
	}
	q.Status = models.QueryClosed
	return q, nil
}

// OpenCount counts visible queries awaiting a faculty reply
func (s *Service) OpenCount(ctx context.Context, viewer policy.Viewer) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Query{}).
		Scopes(policy.Queries(viewer)).
		Where("status = ?", models.QueryOpen).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count queries: %w", err)
	}
	return count, nil
}

// Faculty lists the faculty members a query can be addressed to
func (s *Service) Faculty(ctx context.Context) ([]models.User, error) {
	var out []models.User
	err := s.db.WithContext(ctx).
		Where("role = ?", models.RoleFaculty).
		Order("full_name ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list faculty: %w", err)
	}
	return out, nil
}

func (s *Service) load(ctx context.Context, viewer policy.Viewer, id string) (*models.Query, error) {
	var q models.Query
	err := s.db.WithContext(ctx).
		Scopes(policy.Queries(viewer)).
		Preload("Student").Preload("Faculty").
		Where("id = ?", id).
		First(&q).Error
	if err != nil {
		return nil, apperr.FromDB(err, "query")
	}
	return &q, nil
}
