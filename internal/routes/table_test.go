package routes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusdesk/portal/internal/models"
)

var (
	anonymous = Access{}
	student   = Access{Authenticated: true, Role: models.RoleStudent}
	faculty   = Access{Authenticated: true, Role: models.RoleFaculty}
	admin     = Access{Authenticated: true, Role: models.RoleAdmin}
	roleless  = Access{Authenticated: true}
)

func TestDefaultTableLoads(t *testing.T) {
	table, err := Default()
	require.NoError(t, err)
	assert.NotEmpty(t, table.Public.Routes)
	assert.NotEmpty(t, table.Authenticated.Routes)
	assert.Equal(t, "/", table.Public.Fallback)
	assert.Equal(t, "/landing", table.Authenticated.Fallback)
}

func TestLoginRedirect(t *testing.T) {
	assert.Equal(t, "/admin/dashboard", LoginRedirect(models.RoleAdmin))
	assert.Equal(t, "/faculty/dashboard", LoginRedirect(models.RoleFaculty))
	assert.Equal(t, "/student/dashboard", LoginRedirect(models.RoleStudent))
	assert.Equal(t, "/landing", LoginRedirect(""))
	assert.Equal(t, "/landing", LoginRedirect(models.Role("dean")))
}

func TestDecide_PublicSubtree(t *testing.T) {
	table := MustDefault()

	for path, page := range map[string]string{"/": "landing", "/login": "login", "/register/": "register"} {
		d := table.Decide(path, anonymous)
		assert.True(t, d.Mounted(), path)
		assert.Equal(t, page, d.Page, path)
	}

	for _, path := range []string{"/landing", "/student/dashboard", "/faculty/assignments/create", "/nope", "/assignments/42"} {
		d := table.Decide(path, anonymous)
		assert.Equal(t, "/", d.Redirect, path)
	}
}

func TestDecide_AuthenticatedUnmatchedGoesToLanding(t *testing.T) {
	table := MustDefault()

	for _, access := range []Access{student, faculty, admin, roleless} {
		for _, path := range []string{"/", "/login", "/register", "/does/not/exist"} {
			assert.Equal(t, "/landing", table.Decide(path, access).Redirect, "%s %v", path, access)
		}
	}
}

func TestDecide_FacultyOnlyPaths(t *testing.T) {
	table := MustDefault()

	for _, path := range []string{"/faculty/assignments/create", "/faculty/assignments/evaluate/01HZX"} {
		d := table.Decide(path, faculty)
		assert.True(t, d.Mounted(), path)

		for _, access := range []Access{student, admin, roleless} {
			assert.Equal(t, "/landing", table.Decide(path, access).Redirect, "%s %v", path, access)
		}
	}

	d := table.Decide("/faculty/assignments/evaluate/01HZX", faculty)
	assert.Equal(t, "assignment_evaluate", d.Page)
	assert.Equal(t, map[string]string{"id": "01HZX"}, d.Params)
}

func TestDecide_SharedPaths(t *testing.T) {
	table := MustDefault()

	for _, access := range []Access{student, faculty, admin, roleless} {
		for _, path := range []string{"/landing", "/assignments", "/assignments/7", "/activities", "/queries", "/queries/9", "/calendar", "/profile", "/notifications"} {
			assert.True(t, table.Decide(path, access).Mounted(), "%s %v", path, access)
		}
	}
}

func TestDecide_LiteralBeatsParam(t *testing.T) {
	table := MustDefault()

	d := table.Decide("/notifications/stream", student)
	assert.Equal(t, "notifications_stream", d.Page)
	d = table.Decide("/notifications/abc/read", student)
	assert.Equal(t, "notification_read", d.Page)
	assert.Equal(t, "abc", d.Params["id"])
}

func TestParse_Validation(t *testing.T) {
	_, err := Parse([]byte("public: {routes: []}\nauthenticated: {fallback: /landing}"))
	assert.ErrorContains(t, err, "no fallback")

	_, err = Parse([]byte(`
public: {fallback: /}
authenticated:
  fallback: /landing
  routes:
    - {path: /x, page: x, roles: [dean]}
`))
	assert.ErrorContains(t, err, "unknown role")

	_, err = Parse([]byte(`
public:
  fallback: /
  routes:
    - {path: /a, page: a}
    - {path: /a, page: b}
authenticated: {fallback: /landing}
`))
	assert.ErrorContains(t, err, "listed twice")

	table, err := Parse([]byte(`
public: {fallback: /}
authenticated:
  fallback: /home
  routes:
    - {path: /x, page: x, roles: [Faculty]}
`))
	require.NoError(t, err)
	assert.Equal(t, "/home", table.Authenticated.Denied)
	assert.Equal(t, "/home", table.Decide("/x", student).Redirect)
	assert.Equal(t, "x", table.Decide("/x", faculty).Page)
}
