// Package middleware provides HTTP middleware shared by the notifier's
// operational endpoints.
package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/telhawk-systems/ingest-notify/common/logging"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// RequestID propagates X-Request-ID, generating one when absent. The ID is
// echoed on the response and stored in the request context under the same
// key the pipeline uses for invocation IDs, so Logger.WithContext tags
// handler log records with it.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		w.Header().Set(RequestIDHeader, requestID)

		ctx := logging.WithInvocationID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
