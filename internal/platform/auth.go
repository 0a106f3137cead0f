package platform

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/campusdesk/portal/internal/apperr"
	"github.com/campusdesk/portal/internal/auth"
	"github.com/campusdesk/portal/internal/models"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrMissingRole        = errors.New("role is required")
	ErrWeakPassword       = fmt.Errorf("password must be at least %d characters", auth.MinPasswordLength)
	ErrMissingEmail       = errors.New("email is required")
	// ErrNoSession means the token does not back a live session
	ErrNoSession = errors.New("no active session")
)

// Identity is the account identity carried by a session
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session is an issued access token and the identity it authenticates
type Session struct {
	ID          string    `json:"-"`
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        Identity  `json:"user"`
}

// ProfileFields are stored on the profile at sign-up
type ProfileFields struct {
	FullName   string `json:"full_name"`
	Role       string `json:"role"`
	Department string `json:"department"`
}

// Event names an auth state transition
type Event string

const (
	EventSignedIn       Event = "SIGNED_IN"
	EventSignedOut      Event = "SIGNED_OUT"
	EventTokenRefreshed Event = "TOKEN_REFRESHED"
)

// AuthChange is delivered to service subscribers on every transition
type AuthChange struct {
	Event     Event
	UserID    string
	SessionID string
	Session   *Session // nil on sign-out
}

// AuthService issues, validates and revokes sessions against the users table
type AuthService struct {
	db     *gorm.DB
	tokens *auth.Tokens
	logger zerolog.Logger
	now    func() time.Time

	mu          sync.RWMutex
	subscribers map[int]func(AuthChange)
	nextID      int
}

// NewAuthService creates the auth collaborator
func NewAuthService(db *gorm.DB, tokens *auth.Tokens, logger zerolog.Logger) *AuthService {
	return &AuthService{
		db:          db,
		tokens:      tokens,
		logger:      logger.With().Str("component", "auth_service").Logger(),
		now:         time.Now,
		subscribers: make(map[int]func(AuthChange)),
	}
}

// SignInWithPassword verifies credentials and opens a new session
func (s *AuthService) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	var user models.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	if err := auth.VerifyPassword(password, user.PasswordHash); err != nil {
		return nil, ErrInvalidCredentials
	}

	session, err := s.openSession(ctx, s.db, &user)
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("user_id", user.ID).Msg("User signed in")
	s.publish(AuthChange{Event: EventSignedIn, UserID: user.ID, SessionID: session.ID, Session: session})
	return session, nil
}

// SignUp creates the account and its profile, then opens a session
func (s *AuthService) SignUp(ctx context.Context, email, password string, fields ProfileFields) (*Session, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, ErrMissingEmail
	}
	if len(password) < auth.MinPasswordLength {
		return nil, ErrWeakPassword
	}
	role := models.ParseRole(fields.Role)
	if role == "" {
		return nil, ErrMissingRole
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		FullName:     strings.TrimSpace(fields.FullName),
		Department:   strings.TrimSpace(fields.Department),
	}

	var session *Session
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check email: %w", err)
		}
		if count > 0 {
			return ErrEmailTaken
		}
		if err := tx.Create(user).Error; err != nil {
			if apperr.IsDuplicate(err) {
				return ErrEmailTaken
			}
			return fmt.Errorf("failed to create user: %w", err)
		}
		var err error
		session, err = s.openSession(ctx, tx, user)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("user_id", user.ID).Str("role", string(role)).Msg("User signed up")
	s.publish(AuthChange{Event: EventSignedIn, UserID: user.ID, SessionID: session.ID, Session: session})
	return session, nil
}

// Verify returns the live session behind a token, or ErrNoSession
func (s *AuthService) Verify(ctx context.Context, token string) (*Session, error) {
	row, claims, err := s.lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	if !row.Active(s.now()) {
		return nil, ErrNoSession
	}

	var user models.User
	if err := s.db.WithContext(ctx).Select("id", "email").Where("id = ?", claims.UserID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("failed to load session user: %w", err)
	}

	return &Session{
		ID:          row.ID,
		AccessToken: token,
		ExpiresAt:   row.ExpiresAt,
		User:        Identity{ID: user.ID, Email: user.Email},
	}, nil
}

// Refresh revokes the session behind token and issues a replacement
func (s *AuthService) Refresh(ctx context.Context, token string) (*Session, error) {
	current, err := s.Verify(ctx, token)
	if err != nil {
		return nil, err
	}

	var next *Session
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.revoke(tx, current.ID); err != nil {
			return err
		}
		user := &models.User{BaseModel: models.BaseModel{ID: current.User.ID}, Email: current.User.Email}
		var err error
		next, err = s.openSession(ctx, tx, user)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publish(AuthChange{Event: EventTokenRefreshed, UserID: next.User.ID, SessionID: next.ID, Session: next})
	return next, nil
}

// SignOut revokes the session behind token. Signing out an already dead
// session is not an error.
func (s *AuthService) SignOut(ctx context.Context, token string) error {
	row, claims, err := s.lookup(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNoSession) {
			return nil
		}
		return err
	}
	if row.RevokedAt != nil {
		return nil
	}

	if err := s.revoke(s.db.WithContext(ctx), row.ID); err != nil {
		return err
	}

	s.logger.Info().Str("user_id", claims.UserID).Msg("User signed out")
	s.publish(AuthChange{Event: EventSignedOut, UserID: claims.UserID, SessionID: row.ID})
	return nil
}

// RevokeAll signs the user out everywhere (used when an admin deletes or
// re-roles an account).
func (s *AuthService) RevokeAll(ctx context.Context, userID string) error {
	var rows []models.AuthSession
	if err := s.db.WithContext(ctx).Where("user_id = ? AND revoked_at IS NULL", userID).Find(&rows).Error; err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	for _, row := range rows {
		if err := s.revoke(s.db.WithContext(ctx), row.ID); err != nil {
			return err
		}
		s.publish(AuthChange{Event: EventSignedOut, UserID: userID, SessionID: row.ID})
	}
	return nil
}

// Subscribe registers fn for every auth change. The returned func removes it.
func (s *AuthService) Subscribe(fn func(AuthChange)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subscribers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}

// TTL returns the access token lifetime
func (s *AuthService) TTL() time.Duration {
	return s.tokens.TTL()
}

func (s *AuthService) publish(change AuthChange) {
	s.mu.RLock()
	fns := make([]func(AuthChange), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(change)
	}
}

func (s *AuthService) lookup(ctx context.Context, token string) (*models.AuthSession, *auth.JWTClaims, error) {
	if token == "" {
		return nil, nil, ErrNoSession
	}
	claims, err := s.tokens.ValidateToken(token)
	if err != nil {
		s.logger.Debug().Err(err).Msg("Rejected access token")
		return nil, nil, ErrNoSession
	}

	var row models.AuthSession
	if err := s.db.WithContext(ctx).Where("id = ?", claims.SessionID()).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrNoSession
		}
		return nil, nil, fmt.Errorf("failed to load session: %w", err)
	}
	if row.UserID != claims.UserID {
		return nil, nil, ErrNoSession
	}
	return &row, claims, nil
}

func (s *AuthService) openSession(ctx context.Context, tx *gorm.DB, user *models.User) (*Session, error) {
	row := &models.AuthSession{
		UserID:    user.ID,
		ExpiresAt: s.now().Add(s.tokens.TTL()),
		UserAgent: userAgentFrom(ctx),
	}
	if err := tx.WithContext(ctx).Create(row).Error; err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	token, expiresAt, err := s.tokens.GenerateToken(user.ID, user.Email, row.ID)
	if err != nil {
		return nil, err
	}

	return &Session{
		ID:          row.ID,
		AccessToken: token,
		ExpiresAt:   expiresAt,
		User:        Identity{ID: user.ID, Email: user.Email},
	}, nil
}

func (s *AuthService) revoke(tx *gorm.DB, sessionID string) error {
	now := s.now()
	if err := tx.Model(&models.AuthSession{}).Where("id = ?", sessionID).Update("revoked_at", &now).Error; err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type userAgentKey struct{}

// WithUserAgent records the caller's user agent on sessions opened with ctx
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentKey{}, userAgent)
}

func userAgentFrom(ctx context.Context) string {
	ua, _ := ctx.Value(userAgentKey{}).(string)
	return ua
}
