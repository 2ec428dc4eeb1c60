package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bliqhq/bliq/internal/provider"
	"github.com/bliqhq/bliq/internal/registry"
	"github.com/bliqhq/bliq/internal/storage"
	"github.com/bliqhq/bliq/internal/sync"
	"github.com/bliqhq/bliq/internal/types"
	"github.com/bliqhq/bliq/internal/users"
)

// errBadRequest wraps malformed input the services never see.
var errBadRequest = errors.New("bad request")

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, types.ErrInvalidTask),
		errors.Is(err, types.ErrIrreversibleSource),
		errors.Is(err, users.ErrInvalidInput),
		errors.Is(err, provider.ErrUnsupported):
		return http.StatusBadRequest
	case errors.Is(err, users.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, provider.ErrUnauthorized):
		// The user is signed in; the stored or offered token is not.
		return http.StatusUnprocessableEntity
	case errors.Is(err, provider.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, sync.ErrTaskNotFound),
		errors.Is(err, sync.ErrUnknownCollection),
		errors.Is(err, registry.ErrNotConnected),
		errors.Is(err, users.ErrUserNotFound),
		errors.Is(err, provider.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, users.ErrUserExists),
		errors.Is(err, storage.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, provider.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, provider.ErrUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, provider.ErrTimeout):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// fail writes err as JSON. Internal errors are logged and hidden.
func (s *Server) fail(c *gin.Context, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		s.logger.Printf("Error: %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		msg = "internal error"
	}
	c.AbortWithStatusJSON(code, ErrorResponse{Error: msg})
}
