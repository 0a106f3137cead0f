package platform

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/campusdesk/portal/internal/apperr"
	"github.com/campusdesk/portal/internal/models"
)

// Profile is the stored record of a user's role and display name. Role is
// returned as stored; callers normalize it.
type Profile struct {
	ID         string `json:"id"`
	Role       string `json:"role"`
	FullName   string `json:"full_name"`
	Department string `json:"department,omitempty"`
}

// Profiles reads profiles from the users table by primary key
type Profiles struct {
	db *gorm.DB
}

// NewProfiles creates a profile source over db
func NewProfiles(db *gorm.DB) *Profiles {
	return &Profiles{db: db}
}

// Profile fetches the profile for userID
func (p *Profiles) Profile(ctx context.Context, userID string) (*Profile, error) {
	if userID == "" {
		return nil, fmt.Errorf("profile %w", apperr.ErrNotFound)
	}

	var user models.User
	err := p.db.WithContext(ctx).
		Select("id", "role", "full_name", "department").
		Where("id = ?", userID).
		First(&user).Error
	if err != nil {
		return nil, apperr.FromDB(err, "profile")
	}

	return &Profile{
		ID:         user.ID,
		Role:       string(user.Role),
		FullName:   user.FullName,
		Department: user.Department,
	}, nil
}
