package server

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/campusdesk/portal/internal/activities"
	"github.com/campusdesk/portal/internal/calendar"
	"github.com/campusdesk/portal/internal/models"
	"github.com/campusdesk/portal/internal/queries"
	"github.com/campusdesk/portal/internal/routes"
)

// LogActivityRequest is the activity form; the optional certificate arrives
// as the multipart field "certificate"
type LogActivityRequest struct {
	Title    string `form:"title" json:"title" binding:"required" validate:"max=200"`
	Category string `form:"category" json:"category" binding:"required"`
	Points   int    `form:"points" json:"points" binding:"required" validate:"min=1,max=100"`
}

// ReviewActivityRequest approves or rejects a pending activity
type ReviewActivityRequest struct {
	Decision string `form:"decision" json:"decision" binding:"required" validate:"oneof=approve reject"`
}

// OpenQueryRequest addresses a new query to a faculty member
type OpenQueryRequest struct {
	FacultyID string `form:"faculty_id" json:"faculty_id" binding:"required"`
	Subject   string `form:"subject" json:"subject" binding:"required" validate:"max=200"`
	Body      string `form:"body" json:"body" validate:"max=5000"`
}

// RespondRequest is one reply in a query thread
type RespondRequest struct {
	Body string `form:"body" json:"body" binding:"required" validate:"max=5000"`
}

// NoteRequest pins a note on a day
type NoteRequest struct {
	Date  string `form:"date" json:"date" binding:"required" validate:"yyyymmdd"`
	Title string `form:"title" json:"title" binding:"required" validate:"max=200"`
	Body  string `form:"body" json:"body" validate:"max=5000"`
}

// MonthQuery selects the calendar month
type MonthQuery struct {
	Month string `form:"month" validate:"omitempty,yyyymm"`
}

func (s *Server) studentDashboard(c *gin.Context) {
	data, err := s.dashboard.Student(c.Request.Context(), viewerFrom(c))
	if err != nil {
		s.dataError(c, err)
		return
	}
	s.render(c, data)
}

func (s *Server) facultyDashboard(c *gin.Context) {
	data, err := s.dashboard.Faculty(c.Request.Context(), viewerFrom(c))
	if err != nil {
		s.dataError(c, err)
		return
	}
	s.render(c, data)
}

func (s *Server) adminDashboard(c *gin.Context) {
	data, err := s.dashboard.Admin(c.Request.Context(), viewerFrom(c))
	if err != nil {
		s.dataError(c, err)
		return
	}
	s.render(c, data)
}

func (s *Server) listActivities(c *gin.Context) {
	ctx := c.Request.Context()
	viewer := viewerFrom(c)

	list, err := s.activities.List(ctx, viewer, c.Query("status"))
	if err != nil {
		s.dataError(c, err)
		return
	}
	data := gin.H{"activities": list, "categories": activities.Categories}
	if viewer.Is(models.RoleStudent) {
		total, err := s.activities.TotalPoints(ctx, viewer, viewer.UserID)
		if err != nil {
			s.dataError(c, err)
			return
		}
		data["approved_points"] = total
	}
	s.render(c, data)
}

func (s *Server) logActivity(c *gin.Context) {
	var req LogActivityRequest
	if err := s.bind(c, &req); err != nil {
		s.alert(c, err)
		return
	}

	params := activities.LogParams{Title: req.Title, Category: req.Category, Points: req.Points}
	if header, err := c.FormFile("certificate"); err == nil {
		file, err := header.Open()
		if err != nil {
			s.alert(c, err)
			return
		}
		defer closeQuietly(file)
		params.CertificateName = header.Filename
		params.Certificate = file
	}

	if _, err := s.activities.Log(c.Request.Context(), viewerFrom(c), params); err != nil {
		s.alert(c, err)
		return
	}
	s.redirect(c, routes.Activities)
}

func (s *Server) reviewActivity(c *gin.Context) {
	var req ReviewActivityRequest
	if err := s.bind(c, &req); err != nil {
		s.alert(c, err)
		return
	}
	_, err := s.activities.Review(c.Request.Context(), viewerFrom(c), param(c, "id"), req.Decision == "approve")
	if err != nil {
		s.alert(c, err)
		return
	}
	s.redirect(c, routes.Activities)
}

func (s *Server) listQueries(c *gin.Context) {
	ctx := c.Request.Context()
	viewer := viewerFrom(c)

	list, err := s.queries.List(ctx, viewer, c.Query("status"))
	if err != nil {
		s.dataError(c, err)
		return
	}
	data := gin.H{"queries": list}
	if viewer.Is(models.RoleStudent) {
		faculty, err := s.queries.Faculty(ctx)
		if err != nil {
			s.dataError(c, err)
			return
		}
		data["faculty"] = faculty
	}
	s.render(c, data)
}

func (s *Server) openQuery(c *gin.Context) {
	var req OpenQueryRequest
	if err := s.bind(c, &req); err != nil {
		s.alert(c, err)
		return
	}
	query, err := s.queries.Open(c.Request.Context(), viewerFrom(c), queries.OpenParams{
		FacultyID: req.FacultyID,
		Subject:   req.Subject,
		Body:      req.Body,
	})
	if err != nil {
		s.alert(c, err)
		return
	}
	s.redirect(c, routes.Query(query.ID))
}

func (s *Server) getQuery(c *gin.Context) {
	thread, err := s.queries.Thread(c.Request.Context(), viewerFrom(c), param(c, "id"))
	if err != nil {
		s.dataError(c, err)
		return
	}
	s.render(c, thread)
}

func (s *Server) respondToQuery(c *gin.Context) {
	var req RespondRequest
	if err := s.bind(c, &req); err != nil {
		s.alert(c, err)
		return
	}
	id := param(c, "id")
	if _, err := s.queries.Respond(c.Request.Context(), viewerFrom(c), id, req.Body); err != nil {
		s.alert(c, err)
		return
	}
	s.redirect(c, routes.Query(id))
}

func (s *Server) closeQuery(c *gin.Context) {
	id := param(c, "id")
	if _, err := s.queries.Close(c.Request.Context(), viewerFrom(c), id); err != nil {
		s.alert(c, err)
		return
	}
	s.redirect(c, routes.Query(id))
}

func (s *Server) calendarMonth(c *gin.Context) {
	var q MonthQuery
	if err := s.bind(c, &q); err != nil {
		s.dataError(c, err)
		return
	}
	if q.Month == "" {
		q.Month = time.Now().UTC().Format(calendar.MonthLayout)
	}

	view, err := s.calendar.Month(c.Request.Context(), viewerFrom(c), q.Month)
	if err != nil {
		s.dataError(c, err)
		return
	}
	s.render(c, view)
}

func (s *Server) addCalendarNote(c *gin.Context) {
	var req NoteRequest
	if err := s.bind(c, &req); err != nil {
		s.alert(c, err)
		return
	}
	note, err := s.calendar.AddNote(c.Request.Context(), viewerFrom(c), calendar.NoteParams{
		Date:  req.Date,
		Title: req.Title,
		Body:  req.Body,
	})
	if err != nil {
		s.alert(c, err)
		return
	}
	s.redirect(c, routes.CalendarMonth(note.Date[:len(calendar.MonthLayout)]))
}

func (s *Server) deleteCalendarNote(c *gin.Context) {
	if err := s.calendar.DeleteNote(c.Request.Context(), viewerFrom(c), param(c, "id")); err != nil {
		s.alert(c, err)
		return
	}
	s.redirect(c, routes.Calendar)
}
