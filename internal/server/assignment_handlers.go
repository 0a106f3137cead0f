package server

import (
	"fmt"
	"mime/multipart"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/campusdesk/portal/internal/apperr"
	"github.com/campusdesk/portal/internal/assignments"
	"github.com/campusdesk/portal/internal/models"
	"github.com/campusdesk/portal/internal/routes"
)

// CreateAssignmentRequest is the assignment creation form
type CreateAssignmentRequest struct {
	Title       string `form:"title" json:"title" binding:"required" validate:"max=200"`
	Description string `form:"description" json:"description"`
	Subject     string `form:"subject" json:"subject" validate:"max=120"`
	DueAt       string `form:"due_at" json:"due_at" binding:"required"`
	MaxMarks    int    `form:"max_marks" json:"max_marks" binding:"required" validate:"min=1,max=1000"`
}

// SubmitAssignmentRequest carries the optional comment of a submission;
// the file arrives as the multipart field "file"
type SubmitAssignmentRequest struct {
	Comment string `form:"comment" json:"comment" validate:"max=2000"`
}

// EvaluateRequest grades one submission of the assignment in the path
type EvaluateRequest struct {
	SubmissionID string `form:"submission_id" json:"submission_id" binding:"required"`
	Marks        *int   `form:"marks" json:"marks" binding:"required"`
	Feedback     string `form:"feedback" json:"feedback" validate:"max=2000"`
}

// dueLayouts are accepted for due_at, most precise first
var dueLayouts = []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02"}

// parseDue reads a due date. Values without an offset are wall-clock times
// in loc. A bare date means the end of that day.
func parseDue(value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	value = strings.TrimSpace(value)
	for _, layout := range dueLayouts {
		t, err := time.ParseInLocation(layout, value, loc)
		if err != nil {
			continue
		}
		if layout == "2006-01-02" {
			t = t.AddDate(0, 0, 1).Add(-time.Second)
		}
		return t, nil
	}
	return time.Time{}, apperr.Invalid("due_at must be a date, a local date-time or RFC 3339")
}

func (s *Server) listAssignments(c *gin.Context) {
	viewer := viewerFrom(c)
	filter := assignments.ListFilter{UpcomingOnly: c.Query("upcoming") == "1"}
	if c.Query("mine") == "1" {
		filter.CreatedByID = viewer.UserID
	}

	list, err := s.assignments.List(c.Request.Context(), viewer, filter)
	if err != nil {
		s.dataError(c, err)
		return
	}
	s.render(c, gin.H{"assignments": list})
}

func (s *Server) getAssignment(c *gin.Context) {
	detail, err := s.assignments.Get(c.Request.Context(), viewerFrom(c), param(c, "id"))
	if err != nil {
		s.dataError(c, err)
		return
	}
	s.render(c, detail)
}

func (s *Server) assignmentForm(c *gin.Context) {
	s.render(c, gin.H{"max_marks_limit": assignments.MaxMarksLimit})
}

func (s *Server) createAssignment(c *gin.Context) {
	var req CreateAssignmentRequest
	if err := s.bind(c, &req); err != nil {
		s.alert(c, err)
		return
	}
	due, err := parseDue(req.DueAt, s.config.HTTP.TimeZone)
	if err != nil {
		s.alert(c, err)
		return
	}

	assignment, err := s.assignments.Create(c.Request.Context(), viewerFrom(c), assignments.CreateParams{
		Title:       req.Title,
		Description: req.Description,
		Subject:     req.Subject,
		DueAt:       due,
		MaxMarks:    req.MaxMarks,
	})
	if err != nil {
		s.alert(c, err)
		return
	}
	s.redirect(c, routes.Assignment(assignment.ID))
}

func (s *Server) submitAssignment(c *gin.Context) {
	var req SubmitAssignmentRequest
	if err := s.bind(c, &req); err != nil {
		s.alert(c, err)
		return
	}
	header, err := c.FormFile("file")
	if err != nil {
		s.alert(c, apperr.Invalid("a file is required"))
		return
	}
	file, err := header.Open()
	if err != nil {
		s.alert(c, err)
		return
	}
	defer closeQuietly(file)

	id := param(c, "id")
	_, err = s.assignments.Submit(c.Request.Context(), viewerFrom(c), assignments.SubmitParams{
		AssignmentID: id,
		Filename:     header.Filename,
		File:         file,
		Comment:      req.Comment,
	})
	if err != nil {
		s.alert(c, err)
		return
	}
	s.redirect(c, routes.Assignment(id))
}

// listSubmissions is the evaluation page of one assignment
func (s *Server) listSubmissions(c *gin.Context) {
	ctx := c.Request.Context()
	viewer := viewerFrom(c)
	id := param(c, "id")

	detail, err := s.assignments.Get(ctx, viewer, id)
	if err != nil {
		s.dataError(c, err)
		return
	}
	submissions, err := s.assignments.Submissions(ctx, viewer, id)
	if err != nil {
		s.dataError(c, err)
		return
	}
	s.render(c, gin.H{"assignment": detail.Assignment, "submissions": submissions})
}

func (s *Server) evaluateSubmission(c *gin.Context) {
	var req EvaluateRequest
	if err := s.bind(c, &req); err != nil {
		s.alert(c, err)
		return
	}

	ctx := c.Request.Context()
	viewer := viewerFrom(c)
	id := param(c, "id")

	// The submission must belong to the assignment being evaluated
	submissions, err := s.assignments.Submissions(ctx, viewer, id)
	if err != nil {
		s.alert(c, err)
		return
	}
	if !containsSubmission(submissions, req.SubmissionID) {
		s.alert(c, fmt.Errorf("submission %w", apperr.ErrNotFound))
		return
	}

	_, err = s.assignments.Evaluate(ctx, viewer, req.SubmissionID, assignments.EvaluateParams{
		Marks:    *req.Marks,
		Feedback: req.Feedback,
	})
	if err != nil {
		s.alert(c, err)
		return
	}
	s.redirect(c, routes.AssignmentEvaluate(id))
}

func containsSubmission(list []models.Submission, id string) bool {
	for _, sub := range list {
		if sub.ID == id {
			return true
		}
	}
	return false
}

func closeQuietly(f multipart.File) {
	_ = f.Close()
}
