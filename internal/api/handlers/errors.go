// Package handlers implements the HTTP endpoints of the licensing API.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/wabdesk/wabdesk/internal/license"
)

// ErrorResponse is the body returned for failed requests.
type ErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// reasonStatus maps a device-facing rejection reason to its HTTP status.
func reasonStatus(r license.Reason) int {
	switch r {
	case license.ReasonNotFound:
		return http.StatusNotFound
	case license.ReasonInvalidKey:
		return http.StatusBadRequest
	case license.ReasonRevoked, license.ReasonExpired, license.ReasonOrgMismatch,
		license.ReasonForbidden, license.ReasonNotActivated:
		return http.StatusForbidden
	case license.ReasonSeatLimit, license.ReasonAlreadyActivated:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// errorStatus maps a service error onto an HTTP status. ok is false for
// errors outside the license taxonomy.
func errorStatus(err error) (status int, ok bool) {
	switch {
	case errors.Is(err, license.ErrNotFound):
		return http.StatusNotFound, true
	case errors.Is(err, license.ErrInvalidInput):
		return http.StatusBadRequest, true
	case errors.Is(err, license.ErrUnauthorized):
		return http.StatusForbidden, true
	case errors.Is(err, license.ErrInvalidState),
		errors.Is(err, license.ErrLimitExceeded),
		errors.Is(err, license.ErrDuplicate):
		return http.StatusConflict, true
	}
	return http.StatusInternalServerError, false
}

// respondError writes err as JSON. Unexpected failures are logged and
// reported as a generic 500 with the given message.
func respondError(c *gin.Context, logger zerolog.Logger, err error, msg string) {
	status, ok := errorStatus(err)
	if !ok {
		logger.Error().Err(err).Str("path", c.FullPath()).Msg(msg)
		c.JSON(status, ErrorResponse{Error: msg})
		return
	}

	resp := ErrorResponse{Error: err.Error()}
	if reason := license.ReasonOf(err); reason != license.ReasonNone {
		resp.Error = reason.Message()
		resp.Reason = string(reason)
	}
	c.JSON(status, resp)
}
