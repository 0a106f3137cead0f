package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"runtime"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusdesk/portal/internal/apperr"
	"github.com/campusdesk/portal/internal/config"
	"github.com/campusdesk/portal/internal/database/databasetest"
	"github.com/campusdesk/portal/internal/models"
	"github.com/campusdesk/portal/internal/routes"
	"github.com/campusdesk/portal/internal/session"
	"github.com/campusdesk/portal/internal/storage"
	"github.com/campusdesk/portal/internal/tasks"
	"github.com/campusdesk/portal/internal/tasks/taskstest"
)

func testConfig() *config.Config {
	return &config.Config{
		HTTP: config.HTTPConfig{
			Addr:          ":0",
			PublicBaseURL: "http://portal.test",
			CORSOrigins:   []string{"http://localhost:5173"},
		},
		Auth: config.AuthConfig{JWTSecret: "test-secret", SessionTTL: time.Hour},
	}
}

func newTestServer(t *testing.T) (*Server, *taskstest.Recorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	files, err := storage.NewFileStore(t.TempDir(), "http://portal.test", zerolog.Nop())
	require.NoError(t, err)

	recorder := &taskstest.Recorder{}
	s, err := newServer(Options{
		Config:   testConfig(),
		DB:       databasetest.New(t),
		Logger:   zerolog.Nop(),
		Enqueuer: recorder,
		Files:    files,
		Version:  "test",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.hub.Close() })
	return s, recorder
}

type pageResponse struct {
	Page    string          `json:"page"`
	Session session.State   `json:"session"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Alert   string          `json:"alert"`
}

type request struct {
	method      string
	path        string
	token       string
	body        io.Reader
	contentType string
}

func (s *Server) serve(r request) *httptest.ResponseRecorder {
	req := httptest.NewRequest(r.method, r.path, r.body)
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func get(s *Server, path, token string) *httptest.ResponseRecorder {
	return s.serve(request{method: http.MethodGet, path: path, token: token})
}

func postForm(s *Server, path, token string, values url.Values) *httptest.ResponseRecorder {
	return s.serve(request{
		method:      http.MethodPost,
		path:        path,
		token:       token,
		body:        strings.NewReader(values.Encode()),
		contentType: "application/x-www-form-urlencoded",
	})
}

func decodePage(t *testing.T, w *httptest.ResponseRecorder) pageResponse {
	t.Helper()
	var out pageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func createUser(t *testing.T, s *Server, email string, role models.Role) (*models.User, string) {
	t.Helper()
	user := databasetest.CreateUser(t, s.db, email, role, strings.Split(email, "@")[0])
	sess, err := s.authService.SignInWithPassword(context.Background(), email, "password")
	require.NoError(t, err)
	return user, sess.AccessToken
}

func TestHealthCheck(t *testing.T) {
	s, _ := newTestServer(t)

	w := get(s, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"online"`)
	assert.Contains(t, w.Body.String(), `"version":"test"`)
	if runtime.GOOS == "linux" {
		assert.Contains(t, w.Body.String(), `"disk_total_gb"`)
	}
}

func TestGate_SignedOutViewer(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		path     string
		page     string
		redirect string
	}{
		{path: "/", page: "landing"},
		{path: "/login", page: "login"},
		{path: "/register", page: "register"},
		{path: "/landing", redirect: "/"},
		{path: "/student/dashboard", redirect: "/"},
		{path: "/admin/users/123", redirect: "/"},
		{path: "/no/such/page", redirect: "/"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := get(s, tt.path, "")
			if tt.redirect != "" {
				assert.Equal(t, http.StatusFound, w.Code)
				assert.Equal(t, tt.redirect, w.Header().Get("Location"))
				return
			}
			require.Equal(t, http.StatusOK, w.Code)
			page := decodePage(t, w)
			assert.Equal(t, tt.page, page.Page)
			assert.False(t, page.Session.Authenticated)
			assert.Empty(t, page.Session.Role)
		})
	}
}

func TestGate_UnknownAPIAndFilePathsAre404(t *testing.T) {
	s, _ := newTestServer(t)

	assert.Equal(t, http.StatusNotFound, get(s, "/api/nope", "").Code)
	assert.Equal(t, http.StatusNotFound, get(s, "/files/submissions/missing.pdf", "").Code)
}

func TestGate_RoleGatedPaths(t *testing.T) {
	s, _ := newTestServer(t)
	_, student := createUser(t, s, "s@college.edu", models.RoleStudent)
	_, faculty := createUser(t, s, "f@college.edu", models.RoleFaculty)
	_, admin := createUser(t, s, "a@college.edu", models.RoleAdmin)

	tests := []struct {
		name     string
		token    string
		path     string
		page     string
		redirect string
	}{
		{"student dashboard", student, "/student/dashboard", "student_dashboard", ""},
		{"student blocked from admin", student, "/admin/dashboard", "", "/landing"},
		{"student blocked from create", student, "/faculty/assignments/create", "", "/landing"},
		{"faculty create form", faculty, "/faculty/assignments/create", "assignment_create", ""},
		{"faculty blocked from users", faculty, "/admin/users", "", "/landing"},
		{"admin users", admin, "/admin/users", "admin_users", ""},
		{"admin blocked from student dashboard", admin, "/student/dashboard", "", "/landing"},
		{"signed in root goes to landing", student, "/", "", "/landing"},
		{"signed in login goes to landing", faculty, "/login", "", "/landing"},
		{"unknown path goes to landing", admin, "/nowhere", "", "/landing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(s, tt.path, tt.token)
			if tt.redirect != "" {
				assert.Equal(t, http.StatusFound, w.Code)
				assert.Equal(t, tt.redirect, w.Header().Get("Location"))
				return
			}
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			page := decodePage(t, w)
			assert.Equal(t, tt.page, page.Page)
			assert.True(t, page.Session.Authenticated)
		})
	}
}

func TestLogin_RedirectsByRole(t *testing.T) {
	s, _ := newTestServer(t)
	for _, role := range models.Roles {
		databasetest.CreateUser(t, s.db, string(role)+"@college.edu", role, "User")
	}

	for _, role := range models.Roles {
		t.Run(string(role), func(t *testing.T) {
			w := postForm(s, "/login", "", url.Values{
				"email":    {string(role) + "@college.edu"},
				"password": {"password"},
			})
			require.Equal(t, http.StatusSeeOther, w.Code, w.Body.String())
			assert.Equal(t, routes.LoginRedirect(role), w.Header().Get("Location"))

			cookies := w.Result().Cookies()
			require.NotEmpty(t, cookies)
			assert.Equal(t, SessionCookie, cookies[0].Name)
			assert.True(t, cookies[0].HttpOnly)

			req := httptest.NewRequest(http.MethodGet, routes.LoginRedirect(role), nil)
			req.AddCookie(cookies[0])
			page := httptest.NewRecorder()
			s.router.ServeHTTP(page, req)
			require.Equal(t, http.StatusOK, page.Code)
			got := decodePage(t, page)
			assert.Equal(t, role, got.Session.Role)
			assert.Equal(t, "User", got.Session.CurrentUser.DisplayName)
		})
	}
}

func TestLogin_Errors(t *testing.T) {
	s, _ := newTestServer(t)
	databasetest.CreateUser(t, s.db, "s@college.edu", models.RoleStudent, "S")

	w := postForm(s, "/login", "", url.Values{"email": {"s@college.edu"}, "password": {"wrong"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid email or password", decodePage(t, w).Error)

	w = postForm(s, "/login", "", url.Values{"email": {"s@college.edu"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotEmpty(t, decodePage(t, w).Error)
}

func TestRegister(t *testing.T) {
	s, _ := newTestServer(t)

	w := postForm(s, "/register", "", url.Values{
		"email":     {"new@college.edu"},
		"password":  {"secret1"},
		"full_name": {"New Student"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "role is required", decodePage(t, w).Error)

	w = postForm(s, "/register", "", url.Values{
		"email":     {"new@college.edu"},
		"password":  {"secret1"},
		"full_name": {"New Student"},
		"role":      {"Student"},
	})
	require.Equal(t, http.StatusSeeOther, w.Code, w.Body.String())
	assert.Equal(t, routes.StudentDashboard, w.Header().Get("Location"))

	w = postForm(s, "/register", "", url.Values{
		"email":    {"new@college.edu"},
		"password": {"secret1"},
		"role":     {"faculty"},
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestLogout_RevokesSession(t *testing.T) {
	s, _ := newTestServer(t)
	_, token := createUser(t, s, "s@college.edu", models.RoleStudent)

	w := postForm(s, "/logout", token, url.Values{})
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, routes.Login, w.Header().Get("Location"))

	w = get(s, "/landing", token)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/", w.Header().Get("Location"))
}

func TestProfileFailureKeepsViewerSignedIn(t *testing.T) {
	s, _ := newTestServer(t)
	_, token := createUser(t, s, "s@college.edu", models.RoleStudent)
	require.NoError(t, s.db.Model(&models.User{}).Where("email = ?", "s@college.edu").Update("role", "alumni").Error)

	w := get(s, "/landing", token)
	require.Equal(t, http.StatusOK, w.Code)
	page := decodePage(t, w)
	assert.True(t, page.Session.Authenticated)
	assert.Empty(t, page.Session.Role)
	assert.Contains(t, string(page.Data), routes.Landing)

	w = get(s, "/student/dashboard", token)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/landing", w.Header().Get("Location"))
}

func TestAssignmentWorkflow(t *testing.T) {
	s, recorder := newTestServer(t)
	_, faculty := createUser(t, s, "f@college.edu", models.RoleFaculty)
	student, studentToken := createUser(t, s, "s@college.edu", models.RoleStudent)

	due := time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339)
	w := postForm(s, "/faculty/assignments/create", faculty, url.Values{
		"title":     {"Essay"},
		"subject":   {"English"},
		"due_at":    {due},
		"max_marks": {"20"},
	})
	require.Equal(t, http.StatusSeeOther, w.Code, w.Body.String())
	location := w.Header().Get("Location")
	require.True(t, strings.HasPrefix(location, "/assignments/"))
	assignmentID := strings.TrimPrefix(location, "/assignments/")
	assert.Equal(t, []string{tasks.TypeNotifyAssignmentCreated}, recorder.Types())

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "essay.pdf")
	require.NoError(t, err)
	_, err = fw.Write([]byte("%PDF-1.4"))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("comment", "first draft"))
	require.NoError(t, mw.Close())

	w = s.serve(request{
		method:      http.MethodPost,
		path:        location + "/submit",
		token:       studentToken,
		body:        &body,
		contentType: mw.FormDataContentType(),
	})
	require.Equal(t, http.StatusSeeOther, w.Code, w.Body.String())
	assert.Equal(t, location, w.Header().Get("Location"))

	var sub models.Submission
	require.NoError(t, s.db.Where("assignment_id = ? AND student_id = ?", assignmentID, student.ID).First(&sub).Error)
	assert.Equal(t, "first draft", sub.Comment)
	assert.True(t, strings.HasPrefix(sub.FileURL, "http://portal.test/files/submissions/"))

	evaluate := routes.AssignmentEvaluate(assignmentID)
	w = postForm(s, evaluate, faculty, url.Values{"submission_id": {sub.ID}, "marks": {"25"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodePage(t, w).Alert, "marks must be between 0 and 20")

	w = postForm(s, evaluate, faculty, url.Values{"submission_id": {"other"}, "marks": {"10"}})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = postForm(s, evaluate, faculty, url.Values{"submission_id": {sub.ID}, "marks": {"17"}, "feedback": {"Good"}})
	require.Equal(t, http.StatusSeeOther, w.Code, w.Body.String())
	assert.Equal(t, evaluate, w.Header().Get("Location"))

	w = get(s, location, studentToken)
	require.Equal(t, http.StatusOK, w.Code)
	page := decodePage(t, w)
	assert.Equal(t, "assignment", page.Page)
	assert.Contains(t, string(page.Data), `"status":"evaluated"`)
	assert.Equal(t, []string{tasks.TypeNotifyAssignmentCreated, tasks.TypeNotifySubmissionEvaluated}, recorder.Types())
}

func TestSubmissionErrorsUseAlert(t *testing.T) {
	s, _ := newTestServer(t)
	_, student := createUser(t, s, "s@college.edu", models.RoleStudent)

	w := postForm(s, "/calendar", student, url.Values{"date": {"2026-13-01"}, "title": {"Exam"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotEmpty(t, decodePage(t, w).Alert)

	w = postForm(s, "/calendar", student, url.Values{"date": {"2026-10-20"}, "title": {"Exam"}})
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, routes.CalendarMonth("2026-10"), w.Header().Get("Location"))

	w = get(s, "/calendar?month=2026-10", student)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(decodePage(t, w).Data), `"2026-10-20"`)

	w = get(s, "/calendar?month=october", student)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotEmpty(t, decodePage(t, w).Error)
}

func TestMethodNotAllowedOnPage(t *testing.T) {
	s, _ := newTestServer(t)
	_, student := createUser(t, s, "s@college.edu", models.RoleStudent)

	w := s.serve(request{method: http.MethodDelete, path: "/assignments", token: student})
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestAPI_SessionAndProfiles(t *testing.T) {
	s, _ := newTestServer(t)
	databasetest.CreateUser(t, s.db, "s@college.edu", models.RoleStudent, "Sam")
	other, _ := createUser(t, s, "o@college.edu", models.RoleStudent)

	w := s.serve(request{
		method:      http.MethodPost,
		path:        "/api/auth/login",
		body:        strings.NewReader(`{"email":"s@college.edu","password":"password"}`),
		contentType: "application/json",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var login SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &login))
	require.NotEmpty(t, login.AccessToken)
	assert.Equal(t, routes.StudentDashboard, login.Redirect)

	w = get(s, "/api/auth/session", login.AccessToken)
	require.Equal(t, http.StatusOK, w.Code)
	var current SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &current))
	require.NotNil(t, current.User)
	assert.Equal(t, "s@college.edu", current.User.Email)

	w = get(s, "/api/profiles/"+current.User.ID, login.AccessToken)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"role":"student"`)

	assert.Equal(t, http.StatusForbidden, get(s, "/api/profiles/"+other.ID, login.AccessToken).Code)
	assert.Equal(t, http.StatusUnauthorized, get(s, "/api/notifications", "").Code)

	w = get(s, "/api/auth/session", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user":null}`, w.Body.String())

	w = s.serve(request{method: http.MethodPost, path: "/api/auth/logout", token: login.AccessToken})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusUnauthorized, get(s, "/api/notifications", login.AccessToken).Code)
}

func TestAPI_Refresh(t *testing.T) {
	s, _ := newTestServer(t)
	_, token := createUser(t, s, "s@college.edu", models.RoleStudent)

	w := s.serve(request{method: http.MethodPost, path: "/api/auth/refresh", token: token})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var refreshed SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &refreshed))
	assert.NotEqual(t, token, refreshed.AccessToken)

	assert.Equal(t, http.StatusUnauthorized, get(s, "/api/notifications", token).Code)
	assert.Equal(t, http.StatusOK, get(s, "/api/notifications", refreshed.AccessToken).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	get(s, "/student/dashboard", "")

	w := get(s, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `portal_http_requests_total{method="GET",route="/student/dashboard",status="302"} 1`)
	assert.Contains(t, w.Body.String(), `portal_gate_redirects_total{target="/"} 1`)
}

func TestNewServer_RejectsPageWithoutHandler(t *testing.T) {
	table, err := routes.Parse([]byte(`
public:
  fallback: /
  routes:
    - path: /
      page: mystery
authenticated:
  fallback: /landing
  routes: []
`))
	require.NoError(t, err)

	_, err = newServer(Options{
		Config: testConfig(),
		DB:     databasetest.New(t),
		Logger: zerolog.Nop(),
		Routes: table,
	})
	assert.ErrorContains(t, err, `no handler for page "mystery"`)
}

func TestParseDue(t *testing.T) {
	kolkata, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	due, err := parseDue("2026-03-10T17:30", kolkata)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC), due.UTC())

	due, err = parseDue("2026-03-10", kolkata)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 10, 18, 29, 59, 0, time.UTC), due.UTC(), "end of the local day")

	due, err = parseDue("2026-03-10T17:30:00+02:00", kolkata)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC), due.UTC(), "an explicit offset wins")

	due, err = parseDue(" 2026-03-10T17:30 ", nil)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 10, 17, 30, 0, 0, time.UTC), due)

	_, err = parseDue("next friday", kolkata)
	assert.ErrorIs(t, err, apperr.ErrInvalid)
}
