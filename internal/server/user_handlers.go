package server

import (
	"github.com/gin-gonic/gin"

	"github.com/campusdesk/portal/internal/models"
	"github.com/campusdesk/portal/internal/routes"
	"github.com/campusdesk/portal/internal/users"
)

// ProfileRequest updates the viewer's own profile
type ProfileRequest struct {
	FullName   string `form:"full_name" json:"full_name" validate:"max=120"`
	Department string `form:"department" json:"department" validate:"max=120"`
}

// CreateUserRequest represents a request to create a new account
type CreateUserRequest struct {
	Email      string `form:"email" json:"email" binding:"required" validate:"email"`
	Password   string `form:"password" json:"password" binding:"required" validate:"min=6"`
	FullName   string `form:"full_name" json:"full_name" validate:"max=120"`
	Role       string `form:"role" json:"role" binding:"required" validate:"role"`
	Department string `form:"department" json:"department" validate:"max=120"`
}

// ChangeRoleRequest re-roles an account
type ChangeRoleRequest struct {
	Role string `form:"role" json:"role" binding:"required" validate:"role"`
}

func (s *Server) profilePage(c *gin.Context) {
	viewer := viewerFrom(c)
	user, err := s.users.Get(c.Request.Context(), viewer, viewer.UserID)
	if err != nil {
		s.dataError(c, err)
		return
	}

	data := gin.H{"user": user}
	if viewer.Is(models.RoleStudent) {
		total, err := s.activities.TotalPoints(c.Request.Context(), viewer, viewer.UserID)
		if err != nil {
			s.dataError(c, err)
			return
		}
		data["approved_points"] = total
	}
	s.render(c, data)
}

func (s *Server) updateProfile(c *gin.Context) {
	var req ProfileRequest
	if err := s.bind(c, &req); err != nil {
		s.alert(c, err)
		return
	}
	_, err := s.users.UpdateProfile(c.Request.Context(), viewerFrom(c), users.ProfileParams{
		FullName:   req.FullName,
		Department: req.Department,
	})
	if err != nil {
		s.alert(c, err)
		return
	}
	s.redirect(c, routes.Profile)
}

func (s *Server) listNotifications(c *gin.Context) {
	ctx := c.Request.Context()
	viewer := viewerFrom(c)

	list, err := s.notifications.List(ctx, viewer, 0)
	if err != nil {
		s.dataError(c, err)
		return
	}
	unread, err := s.notifications.Unread(ctx, viewer)
	if err != nil {
		s.dataError(c, err)
		return
	}
	s.render(c, gin.H{"notifications": list, "unread": unread})
}

func (s *Server) markNotificationRead(c *gin.Context) {
	if err := s.notifications.MarkRead(c.Request.Context(), viewerFrom(c), param(c, "id")); err != nil {
		s.alert(c, err)
		return
	}
	s.redirect(c, routes.Notifications)
}

func (s *Server) markAllNotificationsRead(c *gin.Context) {
	if _, err := s.notifications.MarkAllRead(c.Request.Context(), viewerFrom(c)); err != nil {
		s.alert(c, err)
		return
	}
	s.redirect(c, routes.Notifications)
}

func (s *Server) listUsers(c *gin.Context) {
	list, err := s.users.List(c.Request.Context(), viewerFrom(c), c.Query("role"))
	if err != nil {
		s.dataError(c, err)
		return
	}
	s.render(c, gin.H{"users": list, "roles": models.Roles})
}

func (s *Server) getUser(c *gin.Context) {
	user, err := s.users.Get(c.Request.Context(), viewerFrom(c), param(c, "id"))
	if err != nil {
		s.dataError(c, err)
		return
	}
	s.render(c, gin.H{"user": user})
}

func (s *Server) createUser(c *gin.Context) {
	var req CreateUserRequest
	if err := s.bind(c, &req); err != nil {
		s.alert(c, err)
		return
	}
	user, err := s.users.Create(c.Request.Context(), viewerFrom(c), users.CreateParams{
		Email:      req.Email,
		Password:   req.Password,
		FullName:   req.FullName,
		Role:       req.Role,
		Department: req.Department,
	})
	if err != nil {
		s.alert(c, err)
		return
	}
	s.redirect(c, routes.AdminUser(user.ID))
}

func (s *Server) changeUserRole(c *gin.Context) {
	var req ChangeRoleRequest
	if err := s.bind(c, &req); err != nil {
		s.alert(c, err)
		return
	}
	user, err := s.users.ChangeRole(c.Request.Context(), viewerFrom(c), param(c, "id"), req.Role)
	if err != nil {
		s.alert(c, err)
		return
	}
	s.redirect(c, routes.AdminUser(user.ID))
}

func (s *Server) deleteUser(c *gin.Context) {
	if err := s.users.Delete(c.Request.Context(), viewerFrom(c), param(c, "id")); err != nil {
		s.alert(c, err)
		return
	}
	s.redirect(c, routes.AdminUsers)
}
