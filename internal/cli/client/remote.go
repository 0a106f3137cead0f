package client

import (
	"context"
	"sync"

	"github.com/campusdesk/portal/internal/platform"
)

// Remote holds one access token against a server and exposes it as the
// session resolver's auth client and profile source, so the CLI resolves
// sessions the same way the server does.
type Remote struct {
	client *Client

	mu        sync.Mutex
	token     string
	listeners map[int]func(platform.Event, *platform.Session)
	nextID    int
}

// NewRemote wraps client with token, which may be empty
func NewRemote(client *Client, token string) *Remote {
	return &Remote{
		client:    client,
		token:     token,
		listeners: make(map[int]func(platform.Event, *platform.Session)),
	}
}

// Token returns the currently held token
func (r *Remote) Token() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.token
}

// GetSession returns nil without error when no live session backs the token
func (r *Remote) GetSession(ctx context.Context) (*platform.Session, error) {
	token := r.Token()
	if token == "" {
		return nil, nil
	}

	resp, err := r.client.Session(ctx, token)
	if err != nil {
		return nil, err
	}
	if resp.User == nil {
		return nil, nil
	}

	sess := &platform.Session{AccessToken: token, User: *resp.User}
	if resp.ExpiresAt != nil {
		sess.ExpiresAt = *resp.ExpiresAt
	}
	return sess, nil
}

func (r *Remote) SignInWithPassword(ctx context.Context, email, password string) (*platform.Session, error) {
	resp, err := r.client.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return r.hold(resp), nil
}

func (r *Remote) SignUp(ctx context.Context, email, password string, fields platform.ProfileFields) (*platform.Session, error) {
	resp, err := r.client.Register(ctx, email, password, fields)
	if err != nil {
		return nil, err
	}
	return r.hold(resp), nil
}

// SignOut revokes the held token. A token the server already rejects
// counts as signed out.
func (r *Remote) SignOut(ctx context.Context) error {
	token := r.Token()
	if token == "" {
		return nil
	}

	err := r.client.Logout(ctx, token)
	if IsUnauthorized(err) {
		err = nil
	}

	r.mu.Lock()
	r.token = ""
	r.mu.Unlock()
	r.emit(platform.EventSignedOut, nil)
	return err
}

func (r *Remote) OnAuthStateChange(fn func(platform.Event, *platform.Session)) func() {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

// Profile fetches a profile with the held token
func (r *Remote) Profile(ctx context.Context, userID string) (*platform.Profile, error) {
	return r.client.Profile(ctx, r.Token(), userID)
}

func (r *Remote) hold(resp *SessionResponse) *platform.Session {
	sess := &platform.Session{AccessToken: resp.AccessToken}
	if resp.User != nil {
		sess.User = *resp.User
	}
	if resp.ExpiresAt != nil {
		sess.ExpiresAt = *resp.ExpiresAt
	}

	r.mu.Lock()
	r.token = resp.AccessToken
	r.mu.Unlock()
	r.emit(platform.EventSignedIn, sess)
	return sess
}

func (r *Remote) emit(event platform.Event, sess *platform.Session) {
	r.mu.Lock()
	fns := make([]func(platform.Event, *platform.Session), 0, len(r.listeners))
	for _, fn := range r.listeners {
		fns = append(fns, fn)
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn(event, sess)
	}
}
