// Package routes holds the page route table and the role gate evaluated once
// per navigation.
package routes

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/campusdesk/portal/internal/models"
)

//go:embed routes.yaml
var defaultTable []byte

// Route is one page entry
type Route struct {
	Path  string        `yaml:"path"`
	Page  string        `yaml:"page"`
	Roles []models.Role `yaml:"roles"`

	segments []string
}

// Subtree is the set of routes mounted for one audience
type Subtree struct {
	Fallback string  `yaml:"fallback"`
	Denied   string  `yaml:"denied"`
	Routes   []Route `yaml:"routes"`
}

// Table is the full route table
type Table struct {
	Public        Subtree `yaml:"public"`
	Authenticated Subtree `yaml:"authenticated"`
}

// Access is what the gate needs to know about the viewer
type Access struct {
	Authenticated bool
	Role          models.Role
}

// Decision is the outcome of gating a path. Exactly one of Page and
// Redirect is set.
type Decision struct {
	Page     string
	Pattern  string
	Params   map[string]string
	Redirect string
}

// Mounted reports whether the path renders a page
func (d Decision) Mounted() bool {
	return d.Redirect == ""
}

// Default parses the embedded route table
func Default() (*Table, error) {
	return Parse(defaultTable)
}

// MustDefault is Default for package-level initialization
func MustDefault() *Table {
	t, err := Default()
	if err != nil {
		panic(err)
	}
	return t
}

// Parse loads and validates a route table
func Parse(data []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse route table: %w", err)
	}
	if err := t.Public.prepare("public"); err != nil {
		return nil, err
	}
	if err := t.Authenticated.prepare("authenticated"); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Subtree) prepare(name string) error {
	if s.Fallback == "" {
		return fmt.Errorf("route table: %s subtree has no fallback", name)
	}
	if s.Denied == "" {
		s.Denied = s.Fallback
	}

	seen := make(map[string]bool, len(s.Routes))
	for i := range s.Routes {
		r := &s.Routes[i]
		if !strings.HasPrefix(r.Path, "/") {
			return fmt.Errorf("route table: %s path %q must start with /", name, r.Path)
		}
		if r.Page == "" {
			return fmt.Errorf("route table: %s path %q has no page", name, r.Path)
		}
		if seen[r.Path] {
			return fmt.Errorf("route table: %s path %q listed twice", name, r.Path)
		}
		seen[r.Path] = true
		for j, role := range r.Roles {
			parsed := models.ParseRole(string(role))
			if parsed == "" {
				return fmt.Errorf("route table: %s path %q has unknown role %q", name, r.Path, role)
			}
			r.Roles[j] = parsed
		}
		r.segments = split(r.Path)
	}
	return nil
}

// Decide picks the subtree for the viewer, matches path inside it and
// applies the route's role gate.
func (t *Table) Decide(path string, access Access) Decision {
	tree := &t.Public
	if access.Authenticated {
		tree = &t.Authenticated
	}

	route, params := tree.match(path)
	if route == nil {
		return Decision{Redirect: tree.Fallback}
	}
	if !route.Allows(access.Role) {
		return Decision{Redirect: tree.Denied}
	}
	return Decision{Page: route.Page, Pattern: route.Path, Params: params}
}

// Allows reports whether role passes the route's gate
func (r *Route) Allows(role models.Role) bool {
	if len(r.Roles) == 0 {
		return true
	}
	for _, allowed := range r.Roles {
		if allowed == role {
			return true
		}
	}
	return false
}

// Routes lists every route of both subtrees, public first
func (t *Table) Routes() []Route {
	out := make([]Route, 0, len(t.Public.Routes)+len(t.Authenticated.Routes))
	out = append(out, t.Public.Routes...)
	return append(out, t.Authenticated.Routes...)
}

// match returns the most specific route matching path. Literal segments
// outrank parameters.
func (s *Subtree) match(path string) (*Route, map[string]string) {
	segments := split(path)

	var best *Route
	var bestParams map[string]string
	bestScore := -1
	for i := range s.Routes {
		r := &s.Routes[i]
		params, score, ok := matchSegments(r.segments, segments)
		if ok && score > bestScore {
			best, bestParams, bestScore = r, params, score
		}
	}
	return best, bestParams
}

func matchSegments(pattern, segments []string) (map[string]string, int, bool) {
	if len(pattern) != len(segments) {
		return nil, 0, false
	}
	var params map[string]string
	score := 0
	for i, p := range pattern {
		if strings.HasPrefix(p, ":") {
			if segments[i] == "" {
				return nil, 0, false
			}
			if params == nil {
				params = make(map[string]string)
			}
			params[p[1:]] = segments[i]
			continue
		}
		if p != segments[i] {
			return nil, 0, false
		}
		score++
	}
	return params, score, true
}

func split(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
