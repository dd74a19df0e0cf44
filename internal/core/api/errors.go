package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/solatis/policydesk/internal/policydoc"
	"github.com/solatis/policydesk/internal/types"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code        int    `json:"code"`
	Message     string `json:"message"`
	Description string `json:"description,omitempty"`
}

// NewErrorResponse creates an error body; message defaults to the status text.
func NewErrorResponse(code int, message string, description ...string) ErrorResponse {
	if message == "" {
		message = http.StatusText(code)
	}
	resp := ErrorResponse{Code: code, Message: message}
	if len(description) > 0 {
		resp.Description = description[0]
	}
	return resp
}

// statusFor maps domain errors to HTTP statuses.
func statusFor(err error) int {
	var syntaxErr *policydoc.SyntaxError
	switch {
	case errors.Is(err, types.ErrPolicyNotFound),
		errors.Is(err, types.ErrVersionNotFound),
		errors.Is(err, types.ErrTemplateNotFound),
		errors.Is(err, types.ErrAssetNotFound),
		errors.Is(err, types.ErrOverlayNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, types.ErrValidationFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errBadVersion),
		errors.As(err, &syntaxErr),
		errors.Is(err, types.ErrEmptyName),
		errors.Is(err, types.ErrInvalidRule),
		errors.Is(err, types.ErrInvalidPayload),
		errors.Is(err, types.ErrInvalidAction),
		errors.Is(err, types.ErrInvalidOperator),
		errors.Is(err, types.ErrInvalidPriority),
		errors.Is(err, types.ErrInvalidCondition),
		errors.Is(err, types.ErrMixedCondition),
		errors.Is(err, types.ErrInvalidFieldPath),
		errors.Is(err, types.ErrPathTooDeep),
		errors.Is(err, types.ErrTooManyWildcards),
		errors.Is(err, types.ErrTooManyInValues),
		errors.Is(err, policydoc.ErrNotRuleList),
		errors.Is(err, policydoc.ErrRuleNotMapping):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as an ErrorResponse. Server errors are logged and
// their details withheld from the client.
func (s *Service) respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(status, NewErrorResponse(status, "", "internal error"))
		return
	}
	c.JSON(status, NewErrorResponse(status, "", err.Error()))
}

func badRequest(c *gin.Context, description string) {
	c.JSON(http.StatusBadRequest, NewErrorResponse(http.StatusBadRequest, "", description))
}
