package server

import (
	"errors"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/campusdesk/portal/internal/apperr"
	"github.com/campusdesk/portal/internal/calendar"
	"github.com/campusdesk/portal/internal/models"
	"github.com/campusdesk/portal/internal/platform"
	"github.com/campusdesk/portal/internal/storage"
)

// statusFor maps a domain error to its HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrInvalid), errors.Is(err, storage.ErrInvalidPath):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respond writes err under key. Internal errors are logged and masked.
func (s *Server) respond(c *gin.Context, key string, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("Request failed")
		message = "Internal server error"
	}
	c.AbortWithStatusJSON(status, gin.H{key: message})
}

// dataError reports a failed page load
func (s *Server) dataError(c *gin.Context, err error) {
	s.respond(c, "error", err)
}

// alert reports a failed form submission; nothing was persisted and the
// form can be sent again
func (s *Server) alert(c *gin.Context, err error) {
	s.respond(c, "alert", err)
}

// authError reports a sign-in or sign-up failure inline on the form
func (s *Server) authError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, platform.ErrInvalidCredentials):
		status = http.StatusUnauthorized
	case errors.Is(err, platform.ErrEmailTaken):
		status = http.StatusConflict
	case errors.Is(err, platform.ErrMissingRole),
		errors.Is(err, platform.ErrWeakPassword),
		errors.Is(err, platform.ErrMissingEmail),
		errors.Is(err, apperr.ErrInvalid):
		status = http.StatusBadRequest
	}

	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("Authentication failed")
		message = "Internal server error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}

// bind decodes the form or JSON body into req and runs struct validation
func (s *Server) bind(c *gin.Context, req any) error {
	if err := c.ShouldBind(req); err != nil {
		return apperr.Invalid("%s", err.Error())
	}
	if err := s.validator.Struct(req); err != nil {
		return apperr.Invalid("%s", err.Error())
	}
	return nil
}

var monthPattern = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

// registerValidators adds the portal's custom validation tags
func registerValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("role", func(fl validator.FieldLevel) bool {
		return models.ParseRole(fl.Field().String()) != ""
	}); err != nil {
		return err
	}
	if err := v.RegisterValidation("yyyymmdd", func(fl validator.FieldLevel) bool {
		_, err := time.Parse(calendar.DayLayout, fl.Field().String())
		return err == nil
	}); err != nil {
		return err
	}
	return v.RegisterValidation("yyyymm", func(fl validator.FieldLevel) bool {
		return monthPattern.MatchString(fl.Field().String())
	})
}
