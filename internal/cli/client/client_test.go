package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusdesk/portal/internal/models"
	"github.com/campusdesk/portal/internal/platform"
	"github.com/campusdesk/portal/internal/session"
)

// fakePortal serves the JSON auth API for a single account
type fakePortal struct {
	mu            sync.Mutex
	role          string
	profileStatus int
	revoked       bool
	logouts       int
}

func (f *fakePortal) handler() http.Handler {
	const token = "tok-1"
	writeJSON := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
	authorized := func(r *http.Request) bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return !f.revoked && r.Header.Get("Authorization") == "Bearer "+token
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Password != "secret1" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid email or password"})
			return
		}
		f.mu.Lock()
		f.revoked = false
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": token,
			"expires_at":   "2030-01-01T00:00:00Z",
			"user":         map[string]string{"id": "u1", "email": req.Email},
		})
	})
	mux.HandleFunc("GET /api/auth/session", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			writeJSON(w, http.StatusOK, map[string]any{"user": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"expires_at": "2030-01-01T00:00:00Z",
			"user":       map[string]string{"id": "u1", "email": "f@college.edu"},
		})
	})
	mux.HandleFunc("GET /api/profiles/{id}", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Not signed in"})
			return
		}
		f.mu.Lock()
		status, role := f.profileStatus, f.role
		f.mu.Unlock()
		if status != 0 {
			writeJSON(w, status, map[string]string{"error": "Internal server error"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": r.PathValue("id"), "role": role, "full_name": "Dr. Rao"})
	})
	mux.HandleFunc("POST /api/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Not signed in"})
			return
		}
		f.mu.Lock()
		f.revoked = true
		f.logouts++
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]string{"message": "Signed out", "redirect": "/login"})
	})
	mux.HandleFunc("GET /api/notifications", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Not signed in"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"notifications": []map[string]any{{"id": "n1", "user_id": "u1", "title": "Graded", "read": false}},
			"unread":        1,
		})
	})
	return mux
}

func newFakePortal(t *testing.T, role string) (*fakePortal, *Client) {
	t.Helper()
	fake := &fakePortal{role: role}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)
	return fake, New(srv.URL + "/")
}

func TestRemote_SignInResolvesRole(t *testing.T) {
	_, c := newFakePortal(t, "Faculty")
	remote := NewRemote(c, "")
	store := session.NewStore(remote, remote, zerolog.Nop())

	st, err := store.SignIn(context.Background(), "f@college.edu", "secret1")
	require.NoError(t, err)
	assert.True(t, st.Authenticated)
	assert.Equal(t, models.RoleFaculty, st.Role)
	assert.Equal(t, "Dr. Rao", st.CurrentUser.DisplayName)
	assert.Equal(t, "tok-1", remote.Token())
}

func TestRemote_ResolveWithStoredToken(t *testing.T) {
	_, c := newFakePortal(t, "student")

	st := session.NewStore(NewRemote(c, "tok-1"), NewRemote(c, "tok-1"), zerolog.Nop()).Resolve(context.Background())
	assert.True(t, st.Authenticated)
	assert.Equal(t, models.RoleStudent, st.Role)

	st = session.NewStore(NewRemote(c, "stale"), NewRemote(c, "stale"), zerolog.Nop()).Resolve(context.Background())
	assert.False(t, st.Authenticated)
	assert.Nil(t, st.CurrentUser)

	st = session.NewStore(NewRemote(c, ""), NewRemote(c, ""), zerolog.Nop()).Resolve(context.Background())
	assert.False(t, st.Authenticated)
}

func TestRemote_ProfileFailureKeepsSession(t *testing.T) {
	fake, c := newFakePortal(t, "admin")
	fake.profileStatus = http.StatusInternalServerError

	remote := NewRemote(c, "tok-1")
	st := session.NewStore(remote, remote, zerolog.Nop()).Resolve(context.Background())
	assert.True(t, st.Authenticated)
	assert.Equal(t, models.Role(""), st.Role)
	assert.Equal(t, "f@college.edu", st.CurrentUser.DisplayName)
}

func TestRemote_SignOut(t *testing.T) {
	fake, c := newFakePortal(t, "student")
	remote := NewRemote(c, "tok-1")

	var events []platform.Event
	unsubscribe := remote.OnAuthStateChange(func(event platform.Event, _ *platform.Session) {
		events = append(events, event)
	})
	defer unsubscribe()

	store := session.NewStore(remote, remote, zerolog.Nop())
	require.NoError(t, store.SignOut(context.Background()))
	assert.Empty(t, remote.Token())
	assert.False(t, store.State().Authenticated)
	assert.Equal(t, 1, fake.logouts)
	assert.Equal(t, []platform.Event{platform.EventSignedOut}, events)

	// Signing out a token the server already revoked is not an error
	require.NoError(t, NewRemote(c, "tok-1").SignOut(context.Background()))
	assert.Equal(t, 1, fake.logouts)
}

func TestClient_Errors(t *testing.T) {
	_, c := newFakePortal(t, "student")

	_, err := c.Login(context.Background(), "s@college.edu", "wrong")
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))
	assert.Contains(t, err.Error(), "Invalid email or password")

	_, err = c.Notifications(context.Background(), "stale")
	assert.True(t, IsUnauthorized(err))
}

func TestClient_Notifications(t *testing.T) {
	_, c := newFakePortal(t, "student")

	resp, err := c.Notifications(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), resp.Unread)
	require.Len(t, resp.Notifications, 1)
	assert.Equal(t, "Graded", resp.Notifications[0].Title)
	assert.Equal(t, "n1", resp.Notifications[0].ID)
}
