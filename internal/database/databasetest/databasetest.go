// Package databasetest opens throwaway in-memory databases for tests.
package databasetest

import (
	"fmt"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/campusdesk/portal/internal/auth"
	"github.com/campusdesk/portal/internal/database"
	"github.com/campusdesk/portal/internal/models"
)

// New returns a migrated in-memory database private to the test
func New(t *testing.T) *gorm.DB {
	t.Helper()

	url := fmt.Sprintf("file:%s?mode=memory&cache=shared", ulid.Make().String())
	db, err := database.OpenWithOptions(url, zerolog.Nop(), database.Options{MaxOpenConns: 1, MaxIdleConns: 1})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		_ = database.Close(db)
	})
	return db
}

// CreateUser inserts a user with the given role and password "password"
func CreateUser(t *testing.T, db *gorm.DB, email string, role models.Role, fullName string) *models.User {
	t.Helper()

	hash, err := auth.HashPassword("password")
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}
	user := &models.User{
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		FullName:     fullName,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed to create user %s: %v", email, err)
	}
	return user
}

// ClaimEmailBeforeNextUser makes the next users insert on db find email
// already taken, as if a concurrent request had inserted it first. The
// claiming row shares the insert's transaction.
func ClaimEmailBeforeNextUser(t *testing.T, db *gorm.DB, email string) {
	t.Helper()

	claimed := false
	err := db.Callback().Create().Before("gorm:create").Register("databasetest:claim_email", func(tx *gorm.DB) {
		if claimed || tx.Statement.Table != models.TableUsers {
			return
		}
		claimed = true
		rival := &models.User{Email: email, PasswordHash: "x", Role: models.RoleStudent}
		if err := tx.Session(&gorm.Session{NewDB: true}).Create(rival).Error; err != nil {
			t.Errorf("failed to claim %s: %v", email, err)
		}
	})
	if err != nil {
		t.Fatalf("failed to register claim callback: %v", err)
	}
}
