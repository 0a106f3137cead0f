package users

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusdesk/portal/internal/apperr"
	"github.com/campusdesk/portal/internal/auth"
	"github.com/campusdesk/portal/internal/database/databasetest"
	"github.com/campusdesk/portal/internal/models"
	"github.com/campusdesk/portal/internal/policy"
)

type recordingRevoker struct {
	revoked []string
}

func (r *recordingRevoker) RevokeAll(_ context.Context, userID string) error {
	r.revoked = append(r.revoked, userID)
	return nil
}

func TestAdminUserManagement(t *testing.T) {
	db := databasetest.New(t)
	revoker := &recordingRevoker{}
	svc := NewService(db, revoker, zerolog.Nop())
	ctx := context.Background()

	dean := databasetest.CreateUser(t, db, "dean@college.edu", models.RoleAdmin, "Dean")
	admin := policy.Viewer{UserID: dean.ID, Role: models.RoleAdmin}

	created, err := svc.Create(ctx, admin, CreateParams{Email: " New@College.edu ", Password: "secret1", FullName: "Nia", Role: "Faculty"})
	require.NoError(t, err)
	assert.Equal(t, "new@college.edu", created.Email)
	assert.Equal(t, models.RoleFaculty, created.Role)
	assert.NoError(t, auth.VerifyPassword("secret1", created.PasswordHash))

	_, err = svc.Create(ctx, admin, CreateParams{Email: "new@college.edu", Password: "secret1", Role: "student"})
	assert.ErrorIs(t, err, apperr.ErrConflict)
	_, err = svc.Create(ctx, admin, CreateParams{Email: "x@college.edu", Password: "secret1", Role: "janitor"})
	assert.ErrorIs(t, err, apperr.ErrInvalid)
	_, err = svc.Create(ctx, policy.Viewer{UserID: created.ID, Role: models.RoleFaculty}, CreateParams{Email: "y@college.edu", Password: "secret1", Role: "student"})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	faculty, err := svc.List(ctx, admin, "faculty")
	require.NoError(t, err)
	require.Len(t, faculty, 1)

	changed, err := svc.ChangeRole(ctx, admin, created.ID, "student")
	require.NoError(t, err)
	assert.Equal(t, models.RoleStudent, changed.Role)
	assert.Equal(t, []string{created.ID}, revoker.revoked)

	_, err = svc.ChangeRole(ctx, admin, dean.ID, "student")
	assert.ErrorIs(t, err, apperr.ErrInvalid)

	counts, err := svc.CountByRole(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[models.Role]int64{models.RoleStudent: 1, models.RoleFaculty: 0, models.RoleAdmin: 1}, counts)

	assert.ErrorIs(t, svc.Delete(ctx, admin, dean.ID), apperr.ErrInvalid)
	require.NoError(t, svc.Delete(ctx, admin, created.ID))
	assert.ErrorIs(t, svc.Delete(ctx, admin, created.ID), apperr.ErrNotFound)
	assert.Equal(t, []string{created.ID, created.ID}, revoker.revoked)
}

func TestCreate_LosingRaceIsConflict(t *testing.T) {
	db := databasetest.New(t)
	svc := NewService(db, &recordingRevoker{}, zerolog.Nop())
	dean := databasetest.CreateUser(t, db, "dean@college.edu", models.RoleAdmin, "Dean")
	databasetest.ClaimEmailBeforeNextUser(t, db, "race@college.edu")

	_, err := svc.Create(context.Background(), policy.Viewer{UserID: dean.ID, Role: models.RoleAdmin},
		CreateParams{Email: "race@college.edu", Password: "secret1", Role: "student"})
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestUpdateProfile(t *testing.T) {
	db := databasetest.New(t)
	svc := NewService(db, nil, zerolog.Nop())
	ctx := context.Background()

	student := databasetest.CreateUser(t, db, "s@college.edu", models.RoleStudent, "Sam")
	view := policy.Viewer{UserID: student.ID, Role: models.RoleStudent}

	updated, err := svc.UpdateProfile(ctx, view, ProfileParams{FullName: " Samuel ", Department: "Physics"})
	require.NoError(t, err)
	assert.Equal(t, "Samuel", updated.FullName)

	self, err := svc.Get(ctx, view, student.ID)
	require.NoError(t, err)
	assert.Equal(t, "Physics", self.Department)

	_, err = svc.Get(ctx, view, "someone-else")
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = svc.List(ctx, view, "")
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}
