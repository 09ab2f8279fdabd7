package common_test

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"postroom/internal/common"
)

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"pool exhausted", fmt.Errorf("acquire: %w", common.ErrPoolExhausted), true},
		{"transient provider", common.NewProviderError("smtp", "timeout", true), true},
		{"permanent provider", common.NewProviderError("smtp", "550 no such user", false), false},
		{"validation", common.NewValidationError("bad"), false},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, common.IsRetryable(tt.err))
		})
	}
}

func TestIsTemplateNotFound(t *testing.T) {
	t.Parallel()

	assert.True(t, common.IsTemplateNotFound(fmt.Errorf("wrap: %w", common.NewTemplateNotFoundError("app1", "t1"))))
	assert.False(t, common.IsTemplateNotFound(common.NewNotFoundError("notification", "n1")))
	assert.False(t, common.IsTemplateNotFound(errors.New("other")))
}

func TestHandleError_StatusMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", common.NewNotFoundError("notification", "n1"), http.StatusNotFound},
		{"validation", common.NewValidationError("bad filter"), http.StatusBadRequest},
		{"syntax", common.NewTemplateSyntaxError("Text", "unterminated placeholder", nil), http.StatusUnprocessableEntity},
		{"pool", common.ErrPoolExhausted, http.StatusServiceUnavailable},
		{"provider", common.NewProviderError("graph", "500", true), http.StatusBadGateway},
		{"config", common.NewConfigurationError("application_accounts", errors.New("bad json")), http.StatusInternalServerError},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(rec)
			common.HandleError(c, tt.err)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
