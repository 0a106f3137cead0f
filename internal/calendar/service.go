// Package calendar keeps personal notes pinned to days.
package calendar

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/campusdesk/portal/internal/apperr"
	"github.com/campusdesk/portal/internal/models"
	"github.com/campusdesk/portal/internal/policy"
)

// Date layouts
const (
	DayLayout   = "2006-01-02"
	MonthLayout = "2006-01"
)

type Service struct {
	db     *gorm.DB
	logger zerolog.Logger
}

type NoteParams struct {
	Date  string
	Title string
	Body  string
}

// MonthView groups a month's notes by day
type MonthView struct {
	Month string                           `json:"month"`
	Days  map[string][]models.CalendarNote `json:"days"`
}

func NewService(db *gorm.DB, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		logger: logger.With().Str("component", "calendar_service").Logger(),
	}
}

// AddNote pins a note for the viewer
func (s *Service) AddNote(ctx context.Context, viewer policy.Viewer, params NoteParams) (*models.CalendarNote, error) {
	if viewer.UserID == "" {
		return nil, apperr.Forbidden("sign in to add notes")
	}
	day, err := ParseDay(params.Date)
	if err != nil {
		return nil, err
	}
	title := strings.TrimSpace(params.Title)
	if title == "" {
		return nil, apperr.Invalid("title is required")
	}

	note := &models.CalendarNote{
		UserID: viewer.UserID,
		Date:   day.Format(DayLayout),
		Title:  title,
		Body:   strings.TrimSpace(params.Body),
	}
	if err := s.db.WithContext(ctx).Create(note).Error; err != nil {
		return nil, fmt.Errorf("failed to add note: %w", err)
	}
	return note, nil
}

// Month returns the viewer's notes in month (YYYY-MM)
func (s *Service) Month(ctx context.Context, viewer policy.Viewer, month string) (*MonthView, error) {
	start, err := time.Parse(MonthLayout, month)
	if err != nil {
		return nil, apperr.Invalid("month must be YYYY-MM")
	}
	end := start.AddDate(0, 1, 0)

	var notes []models.CalendarNote
	err = s.db.WithContext(ctx).
		Scopes(policy.CalendarNotes(viewer)).
		Where("date >= ? AND date < ?", start.Format(DayLayout), end.Format(DayLayout)).
		Order("date ASC").Order("created_at ASC").
		Find(&notes).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load notes: %w", err)
	}

	view := &MonthView{Month: start.Format(MonthLayout), Days: make(map[string][]models.CalendarNote)}
	for _, n := range notes {
		view.Days[n.Date] = append(view.Days[n.Date], n)
	}
	return view, nil
}

// Upcoming returns the viewer's notes from day from for the given number of
// days
func (s *Service) Upcoming(ctx context.Context, viewer policy.Viewer, from time.Time, days int) ([]models.CalendarNote, error) {
	if days < 1 {
		days = 1
	}
	var notes []models.CalendarNote
	err := s.db.WithContext(ctx).
		Scopes(policy.CalendarNotes(viewer)).
		Where("date >= ? AND date < ?", from.Format(DayLayout), from.AddDate(0, 0, days).Format(DayLayout)).
		Order("date ASC").Order("created_at ASC").
		Find(&notes).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load upcoming notes: %w", err)
	}
	return notes, nil
}

// DeleteNote removes one of the viewer's notes
func (s *Service) DeleteNote(ctx context.Context, viewer policy.Viewer, id string) error {
	result := s.db.WithContext(ctx).
		Scopes(policy.CalendarNotes(viewer)).
		Where("id = ?", id).
		Delete(&models.CalendarNote{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete note: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("note %w", apperr.ErrNotFound)
	}
	return nil
}

// UsersWithNotesOn lists the users having at least one note on day. Used by
// the reminder digest, outside any viewer's policy.
func (s *Service) UsersWithNotesOn(ctx context.Context, day string) ([]string, error) {
	if _, err := ParseDay(day); err != nil {
		return nil, err
	}
	var ids []string
	err := s.db.WithContext(ctx).Model(&models.CalendarNote{}).
		Where("date = ?", day).
		Distinct().
		Order("user_id ASC").
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list note owners: %w", err)
	}
	return ids, nil
}

// NoteTitlesOn returns the titles of userID's notes on day
func (s *Service) NoteTitlesOn(ctx context.Context, userID, day string) ([]string, error) {
	var titles []string
	err := s.db.WithContext(ctx).Model(&models.CalendarNote{}).
		Where("user_id = ? AND date = ?", userID, day).
		Order("created_at ASC").
		Pluck("title", &titles).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load note titles: %w", err)
	}
	return titles, nil
}

// ParseDay validates a YYYY-MM-DD date
func ParseDay(value string) (time.Time, error) {
	day, err := time.Parse(DayLayout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, apperr.Invalid("date must be YYYY-MM-DD")
	}
	return day, nil
}
