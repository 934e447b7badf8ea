package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/telhawk-systems/ingest-notify/common/logging"
)

func TestRequestID(t *testing.T) {
	tests := []struct {
		name              string
		existingRequestID string
	}{
		{"generates new request ID when not present", ""},
		{"propagates existing request ID", "existing-req-123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var captured string
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				captured = logging.GetInvocationID(r.Context())
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "http://example.com/readyz", nil)
			if tt.existingRequestID != "" {
				req.Header.Set(RequestIDHeader, tt.existingRequestID)
			}
			w := httptest.NewRecorder()

			RequestID(handler).ServeHTTP(w, req)

			responseID := w.Header().Get(RequestIDHeader)
			assert.Equal(t, captured, responseID)
			if tt.existingRequestID != "" {
				assert.Equal(t, tt.existingRequestID, responseID)
				return
			}
			_, err := uuid.Parse(responseID)
			assert.NoError(t, err, "generated request ID should be a UUID")
		})
	}
}

func TestRequestID_Unique(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	seen := make(map[string]bool)

	for i := 0; i < 50; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		id := w.Header().Get(RequestIDHeader)
		assert.False(t, seen[id], "duplicate request ID %s", id)
		seen[id] = true
	}
}
