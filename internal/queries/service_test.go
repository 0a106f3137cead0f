package queries

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusdesk/portal/internal/apperr"
	"github.com/campusdesk/portal/internal/database/databasetest"
	"github.com/campusdesk/portal/internal/models"
	"github.com/campusdesk/portal/internal/policy"
	"github.com/campusdesk/portal/internal/tasks"
	"github.com/campusdesk/portal/internal/tasks/taskstest"
)

func TestQueryThread(t *testing.T) {
	db := databasetest.New(t)
	rec := &taskstest.Recorder{}
	svc := NewService(db, tasks.NewDispatcher(rec, zerolog.Nop()), zerolog.Nop())
	ctx := context.Background()

	student := databasetest.CreateUser(t, db, "s@college.edu", models.RoleStudent, "Sam")
	other := databasetest.CreateUser(t, db, "o@college.edu", models.RoleStudent, "Olive")
	prof := databasetest.CreateUser(t, db, "p@college.edu", models.RoleFaculty, "Prof")
	admin := databasetest.CreateUser(t, db, "a@college.edu", models.RoleAdmin, "Dean")
	sv := policy.Viewer{UserID: student.ID, Role: models.RoleStudent}
	ov := policy.Viewer{UserID: other.ID, Role: models.RoleStudent}
	pv := policy.Viewer{UserID: prof.ID, Role: models.RoleFaculty}
	av := policy.Viewer{UserID: admin.ID, Role: models.RoleAdmin}

	q, err := svc.Open(ctx, sv, OpenParams{FacultyID: prof.ID, Subject: "Deadline", Body: "Can I get an extension?"})
	require.NoError(t, err)
	assert.Equal(t, models.QueryOpen, q.Status)

	_, err = svc.Open(ctx, sv, OpenParams{FacultyID: other.ID, Subject: "x"})
	assert.ErrorIs(t, err, apperr.ErrInvalid, "queries go to faculty only")
	_, err = svc.Open(ctx, pv, OpenParams{FacultyID: prof.ID, Subject: "x"})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = svc.Thread(ctx, ov, q.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	open, err := svc.OpenCount(ctx, pv)
	require.NoError(t, err)
	assert.EqualValues(t, 1, open)

	reply, err := svc.Respond(ctx, pv, q.ID, "Yes, one week.")
	require.NoError(t, err)
	assert.Equal(t, prof.ID, reply.AuthorID)
	assert.Equal(t, []tasks.TaskPayload{{QueryID: q.ID, ResponseID: reply.ID}}, rec.Payloads())

	thread, err := svc.Thread(ctx, sv, q.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueryAnswered, thread.Query.Status)
	require.Len(t, thread.Responses, 1)
	assert.Equal(t, "Prof", thread.Responses[0].Author.FullName)

	_, err = svc.Respond(ctx, sv, q.ID, "Thanks")
	require.NoError(t, err)
	thread, err = svc.Thread(ctx, av, q.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueryOpen, thread.Query.Status)
	assert.Len(t, thread.Responses, 2)

	_, err = svc.Respond(ctx, av, q.ID, "Admin here")
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = svc.Respond(ctx, sv, q.ID, "  ")
	assert.ErrorIs(t, err, apperr.ErrInvalid)

	closed, err := svc.Close(ctx, sv, q.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueryClosed, closed.Status)
	_, err = svc.Close(ctx, pv, q.ID)
	require.NoError(t, err)

	_, err = svc.Respond(ctx, pv, q.ID, "late reply")
	assert.ErrorIs(t, err, apperr.ErrConflict)

	list, err := svc.List(ctx, pv, models.QueryClosed)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	list, err = svc.List(ctx, ov, "")
	require.NoError(t, err)
	assert.Empty(t, list)

	faculty, err := svc.Faculty(ctx)
	require.NoError(t, err)
	require.Len(t, faculty, 1)
	assert.Equal(t, prof.ID, faculty[0].ID)
}
