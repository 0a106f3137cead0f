// Package users is the admin view of accounts plus self-service profile
// edits.
package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/campusdesk/portal/internal/apperr"
	"github.com/campusdesk/portal/internal/auth"
	"github.com/campusdesk/portal/internal/models"
	"github.com/campusdesk/portal/internal/policy"
)

// SessionRevoker signs a user out everywhere
type SessionRevoker interface {
	RevokeAll(ctx context.Context, userID string) error
}

type Service struct {
	db      *gorm.DB
	revoker SessionRevoker
	logger  zerolog.Logger
}

type CreateParams struct {
	Email      string
	Password   string
	FullName   string
	Role       string
	Department string
}

type ProfileParams struct {
	FullName   string
	Department string
}

func NewService(db *gorm.DB, revoker SessionRevoker, logger zerolog.Logger) *Service {
	return &Service{
		db:      db,
		revoker: revoker,
		logger:  logger.With().Str("component", "users_service").Logger(),
	}
}

// List returns every account, optionally filtered by role
func (s *Service) List(ctx context.Context, viewer policy.Viewer, role string) ([]models.User, error) {
	if !viewer.Is(models.RoleAdmin) {
		return nil, apperr.Forbidden("admin only")
	}
	query := s.db.WithContext(ctx).Order("created_at ASC")
	if role != "" {
		parsed := models.ParseRole(role)
		if parsed == "" {
			return nil, apperr.Invalid("unknown role %q", role)
		}
		query = query.Where("role = ?", parsed)
	}

	var out []models.User
	if err := query.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return out, nil
}

// Get returns one account
func (s *Service) Get(ctx context.Context, viewer policy.Viewer, id string) (*models.User, error) {
	if !viewer.Is(models.RoleAdmin) && viewer.UserID != id {
		return nil, apperr.Forbidden("admin only")
	}
	var user models.User
	if err := models.FindByID(s.db.WithContext(ctx), id, &user); err != nil {
		return nil, apperr.FromDB(err, "user")
	}
	return &user, nil
}

// Create adds an account with the given role without signing it in
func (s *Service) Create(ctx context.Context, viewer policy.Viewer, params CreateParams) (*models.User, error) {
	if !viewer.Is(models.RoleAdmin) {
		return nil, apperr.Forbidden("admin only")
	}
	email := strings.ToLower(strings.TrimSpace(params.Email))
	if email == "" {
		return nil, apperr.Invalid("email is required")
	}
	role := models.ParseRole(params.Role)
	if role == "" {
		return nil, apperr.Invalid("role is required")
	}
	if len(params.Password) < auth.MinPasswordLength {
		return nil, apperr.Invalid("password must be at least %d characters", auth.MinPasswordLength)
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}
	if count > 0 {
		return nil, apperr.Conflict("email already registered")
	}

	hash, err := auth.HashPassword(params.Password)
	if err != nil {
		return nil, err
	}
	user := &models.User{
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		FullName:     strings.TrimSpace(params.FullName),
		Department:   strings.TrimSpace(params.Department),
	}
	// The count above can race another request; the unique index decides
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if apperr.IsDuplicate(err) {
			return nil, apperr.Conflict("email already registered")
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.Info().Str("user_id", user.ID).Str("role", string(role)).Str("by", viewer.UserID).Msg("User created")
	return user, nil
}

// ChangeRole sets a user's role and signs them out so their next session
// resolves the new role
func (s *Service) ChangeRole(ctx context.Context, viewer policy.Viewer, id, role string) (*models.User, error) {
	if !viewer.Is(models.RoleAdmin) {
		return nil, apperr.Forbidden("admin only")
	}
	parsed := models.ParseRole(role)
	if parsed == "" {
		return nil, apperr.Invalid("unknown role %q", role)
	}
	if id == viewer.UserID && parsed != models.RoleAdmin {
		return nil, apperr.Invalid("admins cannot demote themselves")
	}

	var user models.User
	if err := models.FindByID(s.db.WithContext(ctx), id, &user); err != nil {
		return nil, apperr.FromDB(err, "user")
	}
	if user.Role == parsed {
		return &user, nil
	}

	if err := s.db.WithContext(ctx).Model(&user).Update("role", parsed).Error; err != nil {
		return nil, fmt.Errorf("failed to change role: %w", err)
	}
	user.Role = parsed
	s.revoke(ctx, user.ID)

	s.logger.Info().Str("user_id", user.ID).Str("role", string(parsed)).Str("by", viewer.UserID).Msg("User role changed")
	return &user, nil
}

// Delete removes an account. Admins cannot delete themselves.
func (s *Service) Delete(ctx context.Context, viewer policy.Viewer, id string) error {
	if !viewer.Is(models.RoleAdmin) {
		return apperr.Forbidden("admin only")
	}
	if id == viewer.UserID {
		return apperr.Invalid("admins cannot delete themselves")
	}

	var user models.User
	if err := models.FindByID(s.db.WithContext(ctx), id, &user); err != nil {
		return apperr.FromDB(err, "user")
	}
	s.revoke(ctx, user.ID)

	if err := s.db.WithContext(ctx).Delete(&user).Error; err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	s.logger.Info().Str("user_id", user.ID).Str("by", viewer.UserID).Msg("User deleted")
	return nil
}

// UpdateProfile edits the viewer's own display fields
func (s *Service) UpdateProfile(ctx context.Context, viewer policy.Viewer, params ProfileParams) (*models.User, error) {
	if viewer.UserID == "" {
		return nil, apperr.Forbidden("sign in to edit your profile")
	}
	var user models.User
	if err := models.FindByID(s.db.WithContext(ctx), viewer.UserID, &user); err != nil {
		return nil, apperr.FromDB(err, "user")
	}

	updates := map[string]any{
		"full_name":  strings.TrimSpace(params.FullName),
		"department": strings.TrimSpace(params.Department),
	}
	if err := s.db.WithContext(ctx).Model(&user).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	user.FullName = updates["full_name"].(string)
	user.Department = updates["department"].(string)
	return &user, nil
}

// CountByRole returns the number of accounts per role
func (s *Service) CountByRole(ctx context.Context) (map[models.Role]int64, error) {
	var rows []struct {
		Role  models.Role
		Count int64
	}
	err := s.db.WithContext(ctx).Model(&models.User{}).
		Select("role, COUNT(*) AS count").
		Group("role").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}

	out := make(map[models.Role]int64, len(models.Roles))
	for _, role := range models.Roles {
		out[role] = 0
	}
	for _, row := range rows {
		out[row.Role] = row.Count
	}
	return out, nil
}

func (s *Service) revoke(ctx context.Context, userID string) {
	if s.revoker == nil {
		return
	}
	if err := s.revoker.RevokeAll(ctx, userID); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to revoke sessions")
	}
}
