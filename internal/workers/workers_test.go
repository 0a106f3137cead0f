package workers

import (
	"context"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/campusdesk/portal/internal/calendar"
	"github.com/campusdesk/portal/internal/database/databasetest"
	"github.com/campusdesk/portal/internal/models"
	"github.com/campusdesk/portal/internal/notifications"
	"github.com/campusdesk/portal/internal/policy"
	"github.com/campusdesk/portal/internal/tasks"
	"github.com/campusdesk/portal/internal/tasks/taskstest"
)

func newHandlers(t *testing.T) (*Handlers, *gorm.DB) {
	t.Helper()
	db := databasetest.New(t)
	return NewHandlers(db, notifications.NewService(db, zerolog.Nop()), calendar.NewService(db, zerolog.Nop()), zerolog.Nop()), db
}

func inbox(t *testing.T, db *gorm.DB, userID string) []models.Notification {
	t.Helper()
	var out []models.Notification
	require.NoError(t, db.Where("user_id = ?", userID).Order("created_at ASC").Find(&out).Error)
	return out
}

func TestHandleAssignmentCreated_FansOutToStudents(t *testing.T) {
	h, db := newHandlers(t)
	ctx := context.Background()

	prof := databasetest.CreateUser(t, db, "p@college.edu", models.RoleFaculty, "Prof")
	s1 := databasetest.CreateUser(t, db, "s1@college.edu", models.RoleStudent, "S1")
	s2 := databasetest.CreateUser(t, db, "s2@college.edu", models.RoleStudent, "S2")

	a := &models.Assignment{Title: "Essay", DueAt: time.Now().Add(time.Hour), MaxMarks: 10, CreatedByID: prof.ID}
	require.NoError(t, db.Create(a).Error)

	task, err := tasks.NewAssignmentCreatedTask(a.ID)
	require.NoError(t, err)
	require.NoError(t, h.HandleAssignmentCreated(ctx, task))

	for _, s := range []*models.User{s1, s2} {
		got := inbox(t, db, s.ID)
		require.Len(t, got, 1)
		assert.Equal(t, "New assignment: Essay", got[0].Title)
		assert.Equal(t, "/assignments/"+a.ID, got[0].Link)
	}
	assert.Empty(t, inbox(t, db, prof.ID))

	gone, err := tasks.NewAssignmentCreatedTask("deleted")
	require.NoError(t, err)
	assert.NoError(t, h.HandleAssignmentCreated(ctx, gone), "deleted records are skipped")
}

func TestHandleSubmissionEvaluated(t *testing.T) {
	h, db := newHandlers(t)
	prof := databasetest.CreateUser(t, db, "p@college.edu", models.RoleFaculty, "Prof")
	student := databasetest.CreateUser(t, db, "s@college.edu", models.RoleStudent, "Sam")

	a := &models.Assignment{Title: "Essay", DueAt: time.Now(), MaxMarks: 20, CreatedByID: prof.ID}
	require.NoError(t, db.Create(a).Error)
	marks := 17
	sub := &models.Submission{AssignmentID: a.ID, StudentID: student.ID, Status: models.SubmissionEvaluated, Marks: &marks, Feedback: "Good"}
	require.NoError(t, db.Create(sub).Error)

	task, err := tasks.NewSubmissionEvaluatedTask(sub.ID)
	require.NoError(t, err)
	require.NoError(t, h.HandleSubmissionEvaluated(context.Background(), task))

	got := inbox(t, db, student.ID)
	require.Len(t, got, 1)
	assert.Equal(t, "Evaluated: Essay", got[0].Title)
	assert.Equal(t, "17 / 20: Good", got[0].Message)
}

func TestHandleQueryResponded_NotifiesOtherParticipant(t *testing.T) {
	h, db := newHandlers(t)
	prof := databasetest.CreateUser(t, db, "p@college.edu", models.RoleFaculty, "Prof")
	student := databasetest.CreateUser(t, db, "s@college.edu", models.RoleStudent, "Sam")

	q := &models.Query{StudentID: student.ID, FacultyID: prof.ID, Subject: "Deadline", Status: models.QueryOpen}
	require.NoError(t, db.Create(q).Error)
	reply := &models.QueryResponse{QueryID: q.ID, AuthorID: prof.ID, Body: "ok"}
	require.NoError(t, db.Create(reply).Error)

	task, err := tasks.NewQueryRespondedTask(q.ID, reply.ID)
	require.NoError(t, err)
	require.NoError(t, h.HandleQueryResponded(context.Background(), task))

	got := inbox(t, db, student.ID)
	require.Len(t, got, 1)
	assert.Equal(t, "Prof replied to your query", got[0].Message)
	assert.Empty(t, inbox(t, db, prof.ID))
}

func TestHandleActivityReviewed(t *testing.T) {
	h, db := newHandlers(t)
	student := databasetest.CreateUser(t, db, "s@college.edu", models.RoleStudent, "Sam")
	act := &models.Activity{StudentID: student.ID, Title: "Hackathon", Category: "technical", Points: 40, Status: models.ActivityApproved}
	require.NoError(t, db.Create(act).Error)

	task, err := tasks.NewActivityReviewedTask(act.ID)
	require.NoError(t, err)
	require.NoError(t, h.HandleActivityReviewed(context.Background(), task))

	got := inbox(t, db, student.ID)
	require.Len(t, got, 1)
	assert.Equal(t, "Activity approved: Hackathon", got[0].Title)
	assert.Equal(t, "You earned 40 points", got[0].Message)
}

func TestHandleCalendarDigest(t *testing.T) {
	h, db := newHandlers(t)
	ctx := context.Background()
	student := databasetest.CreateUser(t, db, "s@college.edu", models.RoleStudent, "Sam")
	other := databasetest.CreateUser(t, db, "o@college.edu", models.RoleStudent, "Olive")
	view := policy.Viewer{UserID: student.ID, Role: models.RoleStudent}

	for _, title := range []string{"Exam", "Library"} {
		_, err := h.calendar.AddNote(ctx, view, calendar.NoteParams{Date: "2026-03-10", Title: title})
		require.NoError(t, err)
	}

	task, err := tasks.NewCalendarDigestTask("2026-03-10")
	require.NoError(t, err)
	require.NoError(t, h.HandleCalendarDigest(ctx, task))

	got := inbox(t, db, student.ID)
	require.Len(t, got, 1)
	assert.Equal(t, "2 notes today", got[0].Title)
	assert.Equal(t, "Exam, Library", got[0].Message)
	assert.Equal(t, "/calendar?month=2026-03&day=2026-03-10", got[0].Link)
	assert.Empty(t, inbox(t, db, other.ID))

	// A retry after a partial run only reaches the users still missing it
	_, err = h.calendar.AddNote(ctx, policy.Viewer{UserID: other.ID, Role: models.RoleStudent}, calendar.NoteParams{Date: "2026-03-10", Title: "Lab"})
	require.NoError(t, err)
	require.NoError(t, h.HandleCalendarDigest(ctx, task))
	assert.Len(t, inbox(t, db, student.ID), 1)
	require.Len(t, inbox(t, db, other.ID), 1)
	assert.Equal(t, "1 note today", inbox(t, db, other.ID)[0].Title)

	bad, err := tasks.NewCalendarDigestTask("soon")
	require.NoError(t, err)
	assert.ErrorIs(t, h.HandleCalendarDigest(ctx, bad), asynq.SkipRetry)
}

func TestRegister(t *testing.T) {
	h, _ := newHandlers(t)
	mux := asynq.NewServeMux()
	h.Register(mux)

	for _, taskType := range []string{
		tasks.TypeNotifyAssignmentCreated,
		tasks.TypeNotifySubmissionEvaluated,
		tasks.TypeNotifyQueryResponded,
		tasks.TypeNotifyActivityReviewed,
		tasks.TypeCalendarDigest,
	} {
		_, pattern := mux.Handler(asynq.NewTask(taskType, nil))
		assert.Equal(t, taskType, pattern)
	}
}

func TestReminderScheduler(t *testing.T) {
	rec := &taskstest.Recorder{}
	s, err := NewReminderScheduler("0 7 * * *", rec, zerolog.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	start := time.Date(2026, 3, 10, 6, 30, 0, 0, time.UTC)
	assert.False(t, s.Tick(ctx, start), "first tick only arms the schedule")
	assert.False(t, s.Tick(ctx, start.Add(29*time.Minute)))
	assert.True(t, s.Tick(ctx, start.Add(30*time.Minute)))
	assert.False(t, s.Tick(ctx, start.Add(31*time.Minute)), "one digest per run")

	require.Equal(t, []string{tasks.TypeCalendarDigest}, rec.Types())
	assert.Equal(t, "2026-03-10", rec.Payloads()[0].Date)

	// A late tick still sends the missed run once
	assert.True(t, s.Tick(ctx, time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2026-03-11", rec.Payloads()[1].Date)

	_, err = NewReminderScheduler("every morning", rec, zerolog.Nop())
	assert.Error(t, err)
}
