package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Tyrowin/hivechat/internal/auth"
	"github.com/Tyrowin/hivechat/internal/store"
)

// statusError carries an HTTP status chosen by a handler.
type statusError struct {
	status int
	msg    string
}

func (e *statusError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &statusError{status: http.StatusBadRequest, msg: fmt.Sprintf(format, args...)}
}

func forbidden(msg string) error {
	return &statusError{status: http.StatusForbidden, msg: msg}
}

// fail writes err as a JSON error body and aborts the chain.
func (h *Handler) fail(c *gin.Context, err error) {
	status, msg := http.StatusInternalServerError, "internal server error"

	var se *statusError
	switch {
	case errors.As(err, &se):
		status, msg = se.status, se.msg
	case errors.Is(err, store.ErrNotFound):
		status, msg = http.StatusNotFound, "not found"
	case errors.Is(err, store.ErrDuplicate):
		status, msg = http.StatusBadRequest, "user already registered"
	case errors.Is(err, auth.ErrInvalidCredentials):
		status, msg = http.StatusBadRequest, auth.ErrInvalidCredentials.Error()
	case errors.Is(err, auth.ErrInvalidToken):
		status, msg = http.StatusBadRequest, "invalid token"
	}

	if status >= http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
