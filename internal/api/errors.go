package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/refset/supportqueue/internal/queue"
)

// CodeInvalidRequest is returned for bodies that do not decode.
const CodeInvalidRequest = "invalid_request"

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	// Terminals lists the terminal names for ticket_active_at_terminal.
	Terminals []string `json:"terminals,omitempty"`
}

func statusFor(code string) int {
	switch code {
	case "unknown_terminal", "unknown_ticket", "unknown_team", "unknown_participant":
		return http.StatusNotFound
	case "empty_topic", "empty_name", "invalid_allowance", "invalid_participant":
		return http.StatusUnprocessableEntity
	case "transaction_conflict":
		return http.StatusServiceUnavailable
	case CodeInvalidRequest:
		return http.StatusBadRequest
	case "internal":
		return http.StatusInternalServerError
	}
	return http.StatusConflict
}

func (s *Server) fail(c *gin.Context, err error) {
	code := queue.Code(err)
	resp := ErrorResponse{Error: code, Message: err.Error()}
	var active *queue.ActiveAtTerminalError
	if errors.As(err, &active) {
		resp.Terminals = active.Terminals
	}
	status := statusFor(code)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.FullPath(), "err", err)
		resp.Message = "internal error"
	}
	if status == http.StatusServiceUnavailable {
		c.Header("Retry-After", "1")
	}
	c.AbortWithStatusJSON(status, resp)
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: CodeInvalidRequest, Message: err.Error()})
}
