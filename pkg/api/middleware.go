package api

import (
	"net/http"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"
)

// requestLogger logs incoming HTTP requests.
func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.log.WithField("method", r.Method).
			WithField("path", r.URL.Path).
			WithField("status", ww.Status()).
			WithField("remote", r.RemoteAddr).
			WithField("duration", time.Since(start)).
			Debug("Request handled")
	})
}

// requireAdminToken checks the Bearer token against the configured bcrypt
// hashes. With no hashes configured every request passes.
func (s *server) requireAdminToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.cfg.AdminTokenHashes) == 0 {
			next.ServeHTTP(w, r)

			return
		}

		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			writeJSON(w, http.StatusUnauthorized,
				errorResponse{"authentication required"})

			return
		}

		token := authHeader[7:]

		for _, hash := range s.cfg.AdminTokenHashes {
			if checkToken(hash, token) {
				next.ServeHTTP(w, r)

				return
			}
		}

		writeJSON(w, http.StatusUnauthorized,
			errorResponse{"invalid token"})
	})
}

// checkToken compares a bcrypt hash with a plaintext token.
func checkToken(hash, token string) bool {
	return bcrypt.CompareHashAndPassword(
		[]byte(hash), []byte(token),
	) == nil
}
