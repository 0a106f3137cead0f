package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/campusdesk/portal/internal/models"
	"github.com/campusdesk/portal/internal/platform"
	"github.com/campusdesk/portal/internal/routes"
	"github.com/campusdesk/portal/internal/session"
)

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `form:"email" json:"email" binding:"required"`
	Password string `form:"password" json:"password" binding:"required"`
}

// RegisterRequest represents a sign-up request. Role is checked by the auth
// service so a missing role is reported like any other auth error.
type RegisterRequest struct {
	Email      string `form:"email" json:"email" binding:"required" validate:"email"`
	Password   string `form:"password" json:"password" binding:"required"`
	FullName   string `form:"full_name" json:"full_name" validate:"max=120"`
	Role       string `form:"role" json:"role"`
	Department string `form:"department" json:"department" validate:"max=120"`
}

// SessionResponse is returned by the JSON auth endpoints
type SessionResponse struct {
	AccessToken string             `json:"access_token,omitempty"`
	ExpiresAt   *time.Time         `json:"expires_at,omitempty"`
	User        *platform.Identity `json:"user"`
	Redirect    string             `json:"redirect,omitempty"`
}

func (s *Server) landingPage(c *gin.Context) {
	st := stateFrom(c)
	if !st.Authenticated {
		s.render(c, gin.H{"login": routes.Login, "register": routes.Register})
		return
	}
	s.render(c, gin.H{"dashboard": routes.LoginRedirect(st.Role)})
}

func (s *Server) loginPage(c *gin.Context) {
	s.render(c, gin.H{"action": routes.Login})
}

func (s *Server) registerPage(c *gin.Context) {
	s.render(c, gin.H{"action": routes.Register, "roles": models.Roles})
}

// loginSubmit signs in and lands the user on their role's dashboard
func (s *Server) loginSubmit(c *gin.Context) {
	var req LoginRequest
	if err := s.bind(c, &req); err != nil {
		s.authError(c, err)
		return
	}

	st, err := storeFrom(c).SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		s.metrics.AuthEvent("sign_in_failed")
		s.authError(c, err)
		return
	}

	s.metrics.AuthEvent("sign_in")
	s.setSessionCookie(c, clientFrom(c).Token())
	s.redirect(c, routes.LoginRedirect(st.Role))
}

func (s *Server) registerSubmit(c *gin.Context) {
	var req RegisterRequest
	if err := s.bind(c, &req); err != nil {
		s.authError(c, err)
		return
	}

	st, err := storeFrom(c).SignUp(c.Request.Context(), req.Email, req.Password, platform.ProfileFields{
		FullName:   req.FullName,
		Role:       req.Role,
		Department: req.Department,
	})
	if err != nil {
		s.authError(c, err)
		return
	}

	s.metrics.AuthEvent("sign_up")
	s.setSessionCookie(c, clientFrom(c).Token())
	s.redirect(c, routes.LoginRedirect(st.Role))
}

// logout destroys the session and always lands on the login page
func (s *Server) logout(c *gin.Context) {
	if err := storeFrom(c).SignOut(c.Request.Context()); err != nil {
		s.logger.Warn().Err(err).Msg("Sign out reported an error")
	}
	s.metrics.AuthEvent("sign_out")
	s.clearSessionCookie(c)
	s.redirect(c, routes.Login)
}

// @Router /api/auth/login [post]
// @Param body body LoginRequest true "Credentials"
// @Success 200 {object} SessionResponse
func (s *Server) apiLogin(c *gin.Context) {
	var req LoginRequest
	if err := s.bind(c, &req); err != nil {
		s.authError(c, err)
		return
	}

	sess, err := clientFrom(c).SignInWithPassword(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		s.metrics.AuthEvent("sign_in_failed")
		s.authError(c, err)
		return
	}

	s.metrics.AuthEvent("sign_in")
	c.JSON(http.StatusOK, s.sessionResponse(c, sess))
}

// @Router /api/auth/register [post]
// @Param body body RegisterRequest true "Account and profile fields"
// @Success 201 {object} SessionResponse
func (s *Server) apiRegister(c *gin.Context) {
	var req RegisterRequest
	if err := s.bind(c, &req); err != nil {
		s.authError(c, err)
		return
	}

	sess, err := clientFrom(c).SignUp(c.Request.Context(), req.Email, req.Password, platform.ProfileFields{
		FullName:   req.FullName,
		Role:       req.Role,
		Department: req.Department,
	})
	if err != nil {
		s.authError(c, err)
		return
	}

	s.metrics.AuthEvent("sign_up")
	c.JSON(http.StatusCreated, s.sessionResponse(c, sess))
}

// @Router /api/auth/logout [post]
// @Success 200 {object} map[string]interface{}
func (s *Server) apiLogout(c *gin.Context) {
	if err := clientFrom(c).SignOut(c.Request.Context()); err != nil {
		s.logger.Error().Err(err).Msg("Failed to sign out")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	s.metrics.AuthEvent("sign_out")
	c.JSON(http.StatusOK, gin.H{"message": "Signed out", "redirect": routes.Login})
}

// @Router /api/auth/refresh [post]
// @Success 200 {object} SessionResponse
func (s *Server) apiRefresh(c *gin.Context) {
	sess, err := clientFrom(c).Refresh(c.Request.Context())
	if err != nil {
		s.authError(c, err)
		return
	}
	s.metrics.AuthEvent("refresh")
	if _, fromCookie := tokenFrom(c); fromCookie {
		s.setSessionCookie(c, sess.AccessToken)
	}
	c.JSON(http.StatusOK, SessionResponse{
		AccessToken: sess.AccessToken,
		ExpiresAt:   &sess.ExpiresAt,
		User:        &sess.User,
	})
}

// apiSession returns the caller's raw session. User is null when the token
// backs no live session; remote clients resolve the profile themselves.
//
// @Router /api/auth/session [get]
// @Success 200 {object} SessionResponse
func (s *Server) apiSession(c *gin.Context) {
	sess, err := clientFrom(c).GetSession(c.Request.Context())
	if err != nil {
		s.dataError(c, err)
		return
	}
	if sess == nil {
		c.JSON(http.StatusOK, SessionResponse{})
		return
	}
	c.JSON(http.StatusOK, SessionResponse{ExpiresAt: &sess.ExpiresAt, User: &sess.User})
}

// @Router /api/profiles/{id} [get]
// @Param id path string true "User ID"
// @Success 200 {object} platform.Profile
func (s *Server) apiProfile(c *gin.Context) {
	id := c.Param("id")
	viewer := viewerFrom(c)
	if id != viewer.UserID && !viewer.Is(models.RoleAdmin) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Permission denied"})
		return
	}

	profile, err := s.profiles.Profile(c.Request.Context(), id)
	if err != nil {
		s.dataError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

// @Router /api/notifications [get]
// @Success 200 {object} map[string]interface{}
func (s *Server) apiNotifications(c *gin.Context) {
	viewer := viewerFrom(c)
	list, err := s.notifications.List(c.Request.Context(), viewer, 0)
	if err != nil {
		s.dataError(c, err)
		return
	}
	unread, err := s.notifications.Unread(c.Request.Context(), viewer)
	if err != nil {
		s.dataError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": list, "unread": unread})
}

// sessionResponse resolves the new session's role for the redirect hint
func (s *Server) sessionResponse(c *gin.Context, sess *platform.Session) SessionResponse {
	st := session.NewStore(clientFrom(c), s.profiles, s.logger).Resolve(c.Request.Context())
	return SessionResponse{
		AccessToken: sess.AccessToken,
		ExpiresAt:   &sess.ExpiresAt,
		User:        &sess.User,
		Redirect:    routes.LoginRedirect(st.Role),
	}
}
