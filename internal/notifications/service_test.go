package notifications

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusdesk/portal/internal/apperr"
	"github.com/campusdesk/portal/internal/database/databasetest"
	"github.com/campusdesk/portal/internal/models"
	"github.com/campusdesk/portal/internal/policy"
	"github.com/campusdesk/portal/internal/realtime"
)

func TestNotifyListAndRead(t *testing.T) {
	db := databasetest.New(t)
	svc := NewService(db, zerolog.Nop())
	ctx := context.Background()

	alice := databasetest.CreateUser(t, db, "alice@college.edu", models.RoleStudent, "Alice")
	bob := databasetest.CreateUser(t, db, "bob@college.edu", models.RoleStudent, "Bob")
	aliceView := policy.Viewer{UserID: alice.ID, Role: models.RoleStudent}
	bobView := policy.Viewer{UserID: bob.ID, Role: models.RoleStudent}

	first, err := svc.Notify(ctx, alice.ID, Params{Title: "first"})
	require.NoError(t, err)
	_, err = svc.Notify(ctx, alice.ID, Params{Title: "second", Link: "/assignments"})
	require.NoError(t, err)

	n, err := svc.NotifyMany(ctx, []string{alice.ID, bob.ID}, Params{Title: "broadcast"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	list, err := svc.List(ctx, aliceView, 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	for _, item := range list {
		assert.Equal(t, alice.ID, item.UserID)
	}

	unread, err := svc.Unread(ctx, aliceView)
	require.NoError(t, err)
	assert.EqualValues(t, 3, unread)

	assert.ErrorIs(t, svc.MarkRead(ctx, bobView, first.ID), apperr.ErrNotFound, "cannot touch another user's notification")
	require.NoError(t, svc.MarkRead(ctx, aliceView, first.ID))

	unread, err = svc.Unread(ctx, aliceView)
	require.NoError(t, err)
	assert.EqualValues(t, 2, unread)

	marked, err := svc.MarkAllRead(ctx, aliceView)
	require.NoError(t, err)
	assert.EqualValues(t, 2, marked)

	unread, err = svc.Unread(ctx, bobView)
	require.NoError(t, err)
	assert.EqualValues(t, 1, unread)
}

func TestNotifyValidation(t *testing.T) {
	db := databasetest.New(t)
	svc := NewService(db, zerolog.Nop())

	_, err := svc.Notify(context.Background(), "u1", Params{Title: "  "})
	assert.ErrorIs(t, err, apperr.ErrInvalid)

	n, err := svc.NotifyMany(context.Background(), nil, Params{Title: "x"})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSent(t *testing.T) {
	db := databasetest.New(t)
	svc := NewService(db, zerolog.Nop())
	ctx := context.Background()
	alice := databasetest.CreateUser(t, db, "alice@college.edu", models.RoleStudent, "Alice")

	sent, err := svc.Sent(ctx, alice.ID, "/calendar?day=2026-03-10")
	require.NoError(t, err)
	assert.False(t, sent)

	_, err = svc.Notify(ctx, alice.ID, Params{Title: "1 note today", Link: "/calendar?day=2026-03-10"})
	require.NoError(t, err)
	sent, err = svc.Sent(ctx, alice.ID, "/calendar?day=2026-03-10")
	require.NoError(t, err)
	assert.True(t, sent)
	sent, err = svc.Sent(ctx, alice.ID, "/calendar?day=2026-03-11")
	require.NoError(t, err)
	assert.False(t, sent)
}

func TestNotifyManyPushesEveryRow(t *testing.T) {
	db := databasetest.New(t)
	hub := realtime.NewMemoryHub(zerolog.Nop())
	defer hub.Close()
	require.NoError(t, realtime.RegisterCallbacks(db, hub, zerolog.Nop(), models.TableNotifications))
	svc := NewService(db, zerolog.Nop())

	alice := databasetest.CreateUser(t, db, "alice@college.edu", models.RoleStudent, "Alice")
	bob := databasetest.CreateUser(t, db, "bob@college.edu", models.RoleStudent, "Bob")
	stream, cancel := hub.Subscribe(models.TableNotifications)
	defer cancel()

	n, err := svc.NotifyMany(context.Background(), []string{alice.ID, bob.ID}, Params{Title: "broadcast"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var got []string
	for len(got) < 2 {
		select {
		case change := <-stream:
			got = append(got, change.Str("user_id"))
		case <-time.After(time.Second):
			t.Fatalf("received %d of 2 pushes", len(got))
		}
	}
	assert.ElementsMatch(t, []string{alice.ID, bob.ID}, got)
}
