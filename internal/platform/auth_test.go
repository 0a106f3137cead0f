package platform

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusdesk/portal/internal/apperr"
	"github.com/campusdesk/portal/internal/auth"
	"github.com/campusdesk/portal/internal/database/databasetest"
	"github.com/campusdesk/portal/internal/models"
)

func newTestService(t *testing.T) *AuthService {
	t.Helper()
	db := databasetest.New(t)
	return NewAuthService(db, auth.NewTokens("test-secret", time.Hour), zerolog.Nop())
}

func TestSignUpAndSignIn(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	session, err := svc.SignUp(ctx, " Ada@College.EDU ", "secret1", ProfileFields{FullName: "Ada", Role: "Student"})
	require.NoError(t, err)
	assert.NotEmpty(t, session.AccessToken)
	assert.Equal(t, "ada@college.edu", session.User.Email)

	var user models.User
	require.NoError(t, svc.db.Where("id = ?", session.User.ID).First(&user).Error)
	assert.Equal(t, models.RoleStudent, user.Role)
	assert.Equal(t, "Ada", user.FullName)

	again, err := svc.SignInWithPassword(ctx, "ada@college.edu", "secret1")
	require.NoError(t, err)
	assert.NotEqual(t, session.ID, again.ID)

	_, err = svc.SignInWithPassword(ctx, "ada@college.edu", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.SignInWithPassword(ctx, "nobody@college.edu", "secret1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestSignUpValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.SignUp(ctx, "a@b.edu", "secret1", ProfileFields{FullName: "No Role"})
	assert.ErrorIs(t, err, ErrMissingRole)

	_, err = svc.SignUp(ctx, "a@b.edu", "secret1", ProfileFields{Role: "janitor"})
	assert.ErrorIs(t, err, ErrMissingRole)

	_, err = svc.SignUp(ctx, "a@b.edu", "123", ProfileFields{Role: "student"})
	assert.ErrorIs(t, err, ErrWeakPassword)

	_, err = svc.SignUp(ctx, "  ", "secret1", ProfileFields{Role: "student"})
	assert.ErrorIs(t, err, ErrMissingEmail)

	_, err = svc.SignUp(ctx, "a@b.edu", "secret1", ProfileFields{Role: "student"})
	require.NoError(t, err)
	_, err = svc.SignUp(ctx, "A@B.edu", "secret1", ProfileFields{Role: "faculty"})
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestSignUp_LosingRaceIsEmailTaken(t *testing.T) {
	db := databasetest.New(t)
	svc := NewAuthService(db, auth.NewTokens("test-secret", time.Hour), zerolog.Nop())
	databasetest.ClaimEmailBeforeNextUser(t, db, "race@college.edu")

	_, err := svc.SignUp(context.Background(), "race@college.edu", "secret1", ProfileFields{Role: "student"})
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestVerifySignOutRefresh(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	session, err := svc.SignUp(ctx, "f@college.edu", "secret1", ProfileFields{Role: "faculty"})
	require.NoError(t, err)

	verified, err := svc.Verify(ctx, session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, session.User, verified.User)

	refreshed, err := svc.Refresh(ctx, session.AccessToken)
	require.NoError(t, err)
	assert.NotEqual(t, session.AccessToken, refreshed.AccessToken)

	_, err = svc.Verify(ctx, session.AccessToken)
	assert.ErrorIs(t, err, ErrNoSession, "refresh revokes the old token")

	require.NoError(t, svc.SignOut(ctx, refreshed.AccessToken))
	_, err = svc.Verify(ctx, refreshed.AccessToken)
	assert.ErrorIs(t, err, ErrNoSession)

	assert.NoError(t, svc.SignOut(ctx, refreshed.AccessToken), "signing out twice is fine")
	assert.NoError(t, svc.SignOut(ctx, "garbage"))

	_, err = svc.Verify(ctx, "")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestVerifyExpired(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	session, err := svc.SignUp(ctx, "s@college.edu", "secret1", ProfileFields{Role: "student"})
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = svc.Verify(ctx, session.AccessToken)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestRevokeAll(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first, err := svc.SignUp(ctx, "s@college.edu", "secret1", ProfileFields{Role: "student"})
	require.NoError(t, err)
	second, err := svc.SignInWithPassword(ctx, "s@college.edu", "secret1")
	require.NoError(t, err)

	var events []AuthChange
	var mu sync.Mutex
	unsubscribe := svc.Subscribe(func(c AuthChange) {
		mu.Lock()
		events = append(events, c)
		mu.Unlock()
	})
	defer unsubscribe()

	require.NoError(t, svc.RevokeAll(ctx, first.User.ID))

	for _, token := range []string{first.AccessToken, second.AccessToken} {
		_, err := svc.Verify(ctx, token)
		assert.ErrorIs(t, err, ErrNoSession)
	}
	mu.Lock()
	assert.Len(t, events, 2)
	mu.Unlock()
}

func TestTokenClient(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.SignUp(ctx, "s@college.edu", "secret1", ProfileFields{Role: "student"})
	require.NoError(t, err)

	client := NewTokenClient(svc, "")
	session, err := client.GetSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, session, "no token means no session")

	var events []Event
	var mu sync.Mutex
	unsubscribe := client.OnAuthStateChange(func(e Event, _ *Session) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})

	_, err = client.SignInWithPassword(ctx, "s@college.edu", "secret1")
	require.NoError(t, err)

	session, err = client.GetSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, session)

	// Another device signs in as the same user
	_, err = svc.SignInWithPassword(ctx, "s@college.edu", "secret1")
	require.NoError(t, err)

	require.NoError(t, client.SignOut(ctx))
	session, err = client.GetSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, session)

	unsubscribe()
	_, err = svc.SignInWithPassword(ctx, "s@college.edu", "secret1")
	require.NoError(t, err)

	mu.Lock()
	assert.Equal(t, []Event{EventSignedIn, EventSignedIn, EventSignedOut}, events)
	mu.Unlock()
}

func TestProfiles(t *testing.T) {
	db := databasetest.New(t)
	user := databasetest.CreateUser(t, db, "p@college.edu", models.RoleFaculty, "Prof")

	profile, err := NewProfiles(db).Profile(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, "faculty", profile.Role)
	assert.Equal(t, "Prof", profile.FullName)

	_, err = NewProfiles(db).Profile(context.Background(), "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestTokenClient_RevocationElsewhereIsForwarded(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	session, err := svc.SignUp(ctx, "s@college.edu", "secret1", ProfileFields{Role: "student"})
	require.NoError(t, err)

	client := NewTokenClient(svc, session.AccessToken)
	current, err := client.GetSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, current)

	var events []Event
	var mu sync.Mutex
	unsubscribe := client.OnAuthStateChange(func(e Event, _ *Session) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})
	defer unsubscribe()

	_, err = client.Refresh(ctx)
	require.NoError(t, err)

	require.NoError(t, svc.RevokeAll(ctx, session.User.ID))
	current, err = client.GetSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, current)

	mu.Lock()
	assert.Equal(t, []Event{EventTokenRefreshed, EventSignedOut}, events)
	mu.Unlock()
}
