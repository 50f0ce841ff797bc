package httperr

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCode(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindInvalidRequest, http.StatusBadRequest},
		{KindInvalidProvider, http.StatusBadRequest},
		{KindValidationError, http.StatusBadRequest},
		{KindAuthenticationError, http.StatusUnauthorized},
		{KindForbidden, http.StatusForbidden},
		{KindNotFound, http.StatusNotFound},
		{KindConflict, http.StatusConflict},
		{KindRateLimitExceeded, http.StatusTooManyRequests},
		{KindQuotaExceeded, http.StatusTooManyRequests},
		{KindNetworkError, http.StatusBadGateway},
		{KindUpstreamError, http.StatusBadGateway},
		{KindTimeout, http.StatusGatewayTimeout},
		{KindConfigurationError, http.StatusInternalServerError},
		{KindDatabaseError, http.StatusInternalServerError},
		{KindUnknown, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, New(tt.kind, "x").StatusCode())
		})
	}

	t.Run("status override", func(t *testing.T) {
		e := New(KindValidationError, "too big").WithStatus(http.StatusRequestEntityTooLarge)
		assert.Equal(t, http.StatusRequestEntityTooLarge, e.StatusCode())
	})
}

func TestFrom(t *testing.T) {
	he := New(KindTimeout, "slow")
	assert.Same(t, he, From(he))
	assert.Same(t, he, From(errorsWrap(he)), "wrapped errors unwrap to the original")

	plain := From(errors.New("boom"))
	assert.Equal(t, KindUnknown, plain.Kind)
	assert.Equal(t, "boom", plain.Message)
}

func errorsWrap(err error) error {
	return &wrapped{err}
}

type wrapped struct{ inner error }

func (w *wrapped) Error() string { return "wrapped: " + w.inner.Error() }
func (w *wrapped) Unwrap() error { return w.inner }

func TestWriteEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest("POST", "/v1/messages", nil)
	c.Set("request_id", "req-123")

	Write(c, New(KindQuotaExceeded, "daily quota exceeded").
		WithDetails(gin.H{"quotaType": "daily"}).
		WithSuggestions("wait for the daily reset"))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	var envelope struct {
		Error struct {
			Type        string         `json:"type"`
			Message     string         `json:"message"`
			Details     map[string]any `json:"details"`
			StatusCode  int            `json:"statusCode"`
			Timestamp   string         `json:"timestamp"`
			Path        string         `json:"path"`
			Method      string         `json:"method"`
			RequestID   string         `json:"requestId"`
			Suggestions []string       `json:"suggestions"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))

	assert.Equal(t, "QUOTA_EXCEEDED", envelope.Error.Type)
	assert.Equal(t, "daily quota exceeded", envelope.Error.Message)
	assert.Equal(t, "daily", envelope.Error.Details["quotaType"])
	assert.Equal(t, http.StatusTooManyRequests, envelope.Error.StatusCode)
	assert.NotEmpty(t, envelope.Error.Timestamp)
	assert.Equal(t, "/v1/messages", envelope.Error.Path)
	assert.Equal(t, "POST", envelope.Error.Method)
	assert.Equal(t, "req-123", envelope.Error.RequestID)
	assert.Equal(t, []string{"wait for the daily reset"}, envelope.Error.Suggestions)
	assert.True(t, c.IsAborted())
}
