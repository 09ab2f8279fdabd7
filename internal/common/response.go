package common

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// APIResponse is the standardized JSON response envelope.
type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
}

// APIError contains error details in the response.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Success sends a successful JSON response with data.
func Success(c *gin.Context, statusCode int, data any) {
	c.JSON(statusCode, APIResponse{
		Success: true,
		Data:    data,
	})
}

// Error sends an error JSON response.
func Error(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, APIResponse{
		Success: false,
		Error: &APIError{
			Code:    statusCode,
			Message: message,
		},
	})
}

// HandleError maps a domain error onto an HTTP response.
func HandleError(c *gin.Context, err error) {
	var (
		notFound   *NotFoundError
		validation *ValidationError
		syntax     *TemplateSyntaxError
		config     *ConfigurationError
		provider   *ProviderError
	)

	switch {
	case errors.As(err, &notFound):
		Error(c, http.StatusNotFound, notFound.Error())
	case errors.As(err, &validation):
		Error(c, http.StatusBadRequest, validation.Error())
	case errors.As(err, &syntax):
		Error(c, http.StatusUnprocessableEntity, syntax.Error())
	case errors.Is(err, ErrPoolExhausted):
		Error(c, http.StatusServiceUnavailable, "no delivery connection available, retry later")
	case errors.As(err, &provider):
		Error(c, http.StatusBadGateway, "notification delivery failed")
	case errors.As(err, &config):
		Error(c, http.StatusInternalServerError, "service misconfigured")
	default:
		Error(c, http.StatusInternalServerError, "internal server error")
	}
}
