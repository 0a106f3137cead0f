package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/campusdesk/portal/internal/platform"
	"github.com/campusdesk/portal/internal/policy"
	"github.com/campusdesk/portal/internal/routes"
	"github.com/campusdesk/portal/internal/session"
)

const (
	bearerPrefix = "Bearer "

	// SessionCookie carries the access token for browser clients
	SessionCookie = "portal_session"

	ctxClient   = "auth_client"
	ctxStore    = "session_store"
	ctxState    = "session_state"
	ctxDecision = "gate_decision"
)

// tokenFrom prefers the Authorization header over the session cookie
func tokenFrom(c *gin.Context) (token string, fromCookie bool) {
	if header := c.GetHeader("Authorization"); strings.HasPrefix(header, bearerPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix)), false
	}
	if cookie, err := c.Cookie(SessionCookie); err == nil && cookie != "" {
		return cookie, true
	}
	return "", false
}

// sessionMiddleware resolves the caller's session once per request. The
// request gets its own auth client and session store, and the settled
// state is kept on the context for the gate and the handlers.
func (s *Server) sessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, done := c.Get(ctxState); done {
			c.Next()
			return
		}

		ctx := platform.WithUserAgent(c.Request.Context(), c.Request.UserAgent())
		c.Request = c.Request.WithContext(ctx)

		token, fromCookie := tokenFrom(c)
		client := platform.NewTokenClient(s.authService, token)
		store := session.NewStore(client, s.profiles, s.logger)
		state := store.Resolve(ctx)

		// Drop a cookie whose session is gone so the browser stops sending it
		if fromCookie && !state.Authenticated {
			s.clearSessionCookie(c)
		}

		c.Set(ctxClient, client)
		c.Set(ctxStore, store)
		c.Set(ctxState, state)
		c.Next()
	}
}

// requireSession rejects API calls without a live session
func requireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !stateFrom(c).Authenticated {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Not signed in"})
			return
		}
		c.Next()
	}
}

// gate decides which page, if any, the path renders for the viewer and
// dispatches to that page's handler for the request method
func (s *Server) gate() gin.HandlerFunc {
	return func(c *gin.Context) {
		st := stateFrom(c)
		decision := s.routes.Decide(c.Request.URL.Path, routes.Access{
			Authenticated: st.Authenticated,
			Role:          st.Role,
		})
		if !decision.Mounted() {
			s.metrics.GateRedirect(decision.Redirect)
			s.redirect(c, decision.Redirect)
			c.Abort()
			return
		}

		handler, ok := s.pages[decision.Page].handler(c.Request.Method)
		if !ok {
			c.AbortWithStatusJSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed"})
			return
		}

		c.Set(ctxDecision, decision)
		handler(c)
	}
}

// noRoute keeps unknown API and file paths as 404s and sends every other
// path through the gate, which redirects to the mounted subtree's fallback
func (s *Server) noRoute(c *gin.Context) {
	path := c.Request.URL.Path
	if strings.HasPrefix(path, "/api/") || strings.HasPrefix(path, "/files/") {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		return
	}
	s.gate()(c)
}

// redirect sends the browser to target, switching to GET for form posts
func (s *Server) redirect(c *gin.Context, target string) {
	status := http.StatusFound
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		status = http.StatusSeeOther
	}
	c.Redirect(status, target)
}

// loggingMiddleware logs each request with zerolog and records it in metrics
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start)
		s.metrics.ObserveRequest(c.FullPath(), c.Request.Method, c.Writer.Status(), duration)

		event := s.logger.Info()
		if c.Writer.Status() >= http.StatusInternalServerError {
			event = s.logger.Error()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", duration).
			Str("client_ip", c.ClientIP()).
			Msg("HTTP request")
	}
}

func stateFrom(c *gin.Context) session.State {
	if v, ok := c.Get(ctxState); ok {
		if st, ok := v.(session.State); ok {
			return st
		}
	}
	return session.State{}
}

func storeFrom(c *gin.Context) *session.Store {
	v, _ := c.Get(ctxStore)
	store, _ := v.(*session.Store)
	return store
}

func clientFrom(c *gin.Context) *platform.TokenClient {
	v, _ := c.Get(ctxClient)
	client, _ := v.(*platform.TokenClient)
	return client
}

func decisionFrom(c *gin.Context) routes.Decision {
	v, _ := c.Get(ctxDecision)
	decision, _ := v.(routes.Decision)
	return decision
}

// viewerFrom is the policy viewer for the resolved session
func viewerFrom(c *gin.Context) policy.Viewer {
	st := stateFrom(c)
	if st.CurrentUser == nil {
		return policy.Viewer{}
	}
	return policy.Viewer{UserID: st.CurrentUser.ID, Role: st.Role}
}

func (s *Server) setSessionCookie(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookie, token, int(s.authService.TTL().Seconds()), "/", "", s.secureCookies(), true)
}

func (s *Server) clearSessionCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookie, "", -1, "/", "", s.secureCookies(), true)
}

func (s *Server) secureCookies() bool {
	return strings.HasPrefix(s.config.HTTP.PublicBaseURL, "https://")
}
