package middleware

import (
	"net/http"
	"regexp"

	"github.com/utafrali/cartengine/pkg/httputil"
	"github.com/utafrali/cartengine/pkg/logger"
)

// SessionIDHeader identifies the shopper session whose cart a request targets.
const SessionIDHeader = "X-Session-ID"

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// RequireSession rejects requests without a well-formed X-Session-ID header
// and stores the session ID in the request context.
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(SessionIDHeader)
		if id == "" {
			httputil.WriteJSON(w, http.StatusUnauthorized, httputil.Response{
				Error: &httputil.ErrorResponse{Code: "UNAUTHORIZED", Message: "missing session id"},
			})
			return
		}
		if !sessionIDPattern.MatchString(id) {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
				Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "malformed session id"},
			})
			return
		}
		next.ServeHTTP(w, r.WithContext(logger.WithSessionID(r.Context(), id)))
	})
}

// SessionIDFromContext returns the session ID set by RequireSession.
func SessionIDFromContext(r *http.Request) string {
	return logger.SessionIDFromContext(r.Context())
}
