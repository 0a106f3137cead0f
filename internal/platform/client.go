package platform

import (
	"context"
	"errors"
	"sync"
)

// TokenClient is the auth client for one holder of one token (a request, a
// stream). It is the client-side view of AuthService: GetSession returns nil
// when the token backs no live session, and OnAuthStateChange delivers this
// client's own transitions plus changes made to the same user elsewhere.
type TokenClient struct {
	svc *AuthService

	mu        sync.Mutex
	token     string
	userID    string
	sessionID string
	listeners map[int]func(Event, *Session)
	nextID    int
	detach    func()

	// set while this client's own refresh is in flight
	refreshing bool
}

// NewTokenClient binds a client to token (which may be empty)
func NewTokenClient(svc *AuthService, token string) *TokenClient {
	return &TokenClient{
		svc:       svc,
		token:     token,
		listeners: make(map[int]func(Event, *Session)),
	}
}

// Token returns the current access token
func (c *TokenClient) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// GetSession returns the live session for the held token, or nil
func (c *TokenClient) GetSession(ctx context.Context) (*Session, error) {
	token := c.Token()
	if token == "" {
		return nil, nil
	}

	session, err := c.svc.Verify(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNoSession) {
			return nil, nil
		}
		return nil, err
	}

	c.mu.Lock()
	c.userID = session.User.ID
	c.sessionID = session.ID
	c.mu.Unlock()
	return session, nil
}

// SignInWithPassword signs in and holds the new token
func (c *TokenClient) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	session, err := c.svc.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}
	c.hold(session)
	c.emit(EventSignedIn, session)
	return session, nil
}

// SignUp registers and holds the new token
func (c *TokenClient) SignUp(ctx context.Context, email, password string, fields ProfileFields) (*Session, error) {
	session, err := c.svc.SignUp(ctx, email, password, fields)
	if err != nil {
		return nil, err
	}
	c.hold(session)
	c.emit(EventSignedIn, session)
	return session, nil
}

// Refresh swaps the held token for a fresh one
func (c *TokenClient) Refresh(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	token := c.token
	c.refreshing = true
	c.mu.Unlock()

	session, err := c.svc.Refresh(ctx, token)

	c.mu.Lock()
	c.refreshing = false
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	c.hold(session)
	c.emit(EventTokenRefreshed, session)
	return session, nil
}

// SignOut revokes the held token and forgets it
func (c *TokenClient) SignOut(ctx context.Context) error {
	c.mu.Lock()
	token := c.token
	c.token, c.userID, c.sessionID = "", "", ""
	c.mu.Unlock()

	err := c.svc.SignOut(ctx, token)
	c.emit(EventSignedOut, nil)
	return err
}

// OnAuthStateChange registers fn and returns its unsubscribe func
func (c *TokenClient) OnAuthStateChange(fn func(Event, *Session)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	if c.detach == nil {
		c.detach = c.svc.Subscribe(c.onServiceChange)
	}
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		var detach func()
		if len(c.listeners) == 0 && c.detach != nil {
			detach = c.detach
			c.detach = nil
		}
		c.mu.Unlock()

		if detach != nil {
			detach()
		}
	}
}

// onServiceChange forwards changes made to this client's user by other
// sessions, and the revocation of its own session from elsewhere.
// Transitions the client causes itself are emitted by the method that
// caused them.
func (c *TokenClient) onServiceChange(change AuthChange) {
	c.mu.Lock()
	relevant := c.userID != "" && change.UserID == c.userID
	if change.SessionID == c.sessionID {
		relevant = relevant && change.Event == EventSignedOut
	}
	if c.refreshing && change.Event == EventTokenRefreshed {
		relevant = false
	}
	c.mu.Unlock()

	if relevant {
		c.emit(change.Event, change.Session)
	}
}

func (c *TokenClient) hold(session *Session) {
	c.mu.Lock()
	c.token = session.AccessToken
	c.userID = session.User.ID
	c.sessionID = session.ID
	c.mu.Unlock()
}

func (c *TokenClient) emit(event Event, session *Session) {
	c.mu.Lock()
	fns := make([]func(Event, *Session), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(event, session)
	}
}
