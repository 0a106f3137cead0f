// Package session owns the resolved authentication state: who is signed in,
// which role their profile carries, and whether resolution has settled.
package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/campusdesk/portal/internal/models"
	"github.com/campusdesk/portal/internal/platform"
)

// AuthClient is the auth collaborator as seen by one session holder
type AuthClient interface {
	GetSession(ctx context.Context) (*platform.Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*platform.Session, error)
	SignUp(ctx context.Context, email, password string, fields platform.ProfileFields) (*platform.Session, error)
	SignOut(ctx context.Context) error
	OnAuthStateChange(fn func(platform.Event, *platform.Session)) (unsubscribe func())
}

// ProfileSource fetches a stored profile by account id
type ProfileSource interface {
	Profile(ctx context.Context, userID string) (*platform.Profile, error)
}

// CurrentUser merges the session identity with the fetched profile
type CurrentUser struct {
	ID          string      `json:"id"`
	Email       string      `json:"email"`
	FullName    string      `json:"full_name,omitempty"`
	DisplayName string      `json:"display_name"`
	Department  string      `json:"department,omitempty"`
	Role        models.Role `json:"role,omitempty"`
}

// State is the published (CurrentUser, Role, Authenticated) tuple.
// Authenticated is true exactly when a session exists; Role is empty when
// not authenticated or when the profile could not be fetched.
type State struct {
	CurrentUser   *CurrentUser `json:"current_user"`
	Role          models.Role  `json:"role"`
	Authenticated bool         `json:"authenticated"`
	Loading       bool         `json:"loading"`
}

// Store is the single owner of session state
type Store struct {
	auth     AuthClient
	profiles ProfileSource
	logger   zerolog.Logger

	mu          sync.RWMutex
	state       State
	listeners   map[int]func(State)
	nextID      int
	unsubscribe func()
}

// NewStore creates a store in the loading state
func NewStore(auth AuthClient, profiles ProfileSource, logger zerolog.Logger) *Store {
	return &Store{
		auth:      auth,
		profiles:  profiles,
		logger:    logger.With().Str("component", "session").Logger(),
		state:     State{Loading: true},
		listeners: make(map[int]func(State)),
	}
}

// Start subscribes to auth state changes and runs the first resolution.
// Every change re-runs Resolve in its own goroutine; runs are never
// cancelled, so the last one to finish wins.
func (s *Store) Start(ctx context.Context) State {
	bg := context.WithoutCancel(ctx)

	s.mu.Lock()
	if s.unsubscribe == nil {
		s.unsubscribe = s.auth.OnAuthStateChange(func(event platform.Event, _ *platform.Session) {
			s.logger.Debug().Str("event", string(event)).Msg("Auth state changed")
			go s.Resolve(bg)
		})
	}
	s.mu.Unlock()

	return s.Resolve(ctx)
}

// Close unsubscribes from the auth change stream
func (s *Store) Close() {
	s.mu.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// Resolve fetches the session and profile, publishes the result and returns it
func (s *Store) Resolve(ctx context.Context) State {
	next := s.compute(ctx)
	s.apply(next)
	return next
}

// State returns the last published state
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Subscribe registers fn for every published state
func (s *Store) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// SignIn authenticates and returns the resolved state. Auth errors are
// returned untouched for inline display.
func (s *Store) SignIn(ctx context.Context, email, password string) (State, error) {
	if _, err := s.auth.SignInWithPassword(ctx, email, password); err != nil {
		return s.State(), err
	}
	return s.Resolve(ctx), nil
}

// SignUp registers and returns the resolved state
func (s *Store) SignUp(ctx context.Context, email, password string, fields platform.ProfileFields) (State, error) {
	if _, err := s.auth.SignUp(ctx, email, password, fields); err != nil {
		return s.State(), err
	}
	return s.Resolve(ctx), nil
}

// SignOut destroys the session and clears state even when the collaborator
// reports an error.
func (s *Store) SignOut(ctx context.Context) error {
	err := s.auth.SignOut(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Sign out failed")
	}
	s.apply(State{})
	return err
}

func (s *Store) compute(ctx context.Context) State {
	sess, err := s.auth.GetSession(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to fetch session")
		return State{}
	}
	if sess == nil {
		return State{}
	}

	user := &CurrentUser{
		ID:          sess.User.ID,
		Email:       sess.User.Email,
		DisplayName: sess.User.Email,
	}

	profile, err := s.profiles.Profile(ctx, sess.User.ID)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", sess.User.ID).Msg("Failed to fetch profile")
		return State{CurrentUser: user, Authenticated: true}
	}

	role := models.ParseRole(profile.Role)
	user.Role = role
	user.FullName = profile.FullName
	user.Department = profile.Department
	if profile.FullName != "" {
		user.DisplayName = profile.FullName
	}

	return State{CurrentUser: user, Role: role, Authenticated: true}
}

func (s *Store) apply(next State) {
	s.mu.Lock()
	s.state = next
	fns := make([]func(State), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(next)
	}
}
