package errors

import (
	"net/http"

	"github.com/copyleftdev/TAIGA/internal/logging"
)

// RecoveryMiddleware recovers from panics in HTTP handlers, logs the panic
// with its stack trace and returns a 500 to the client.
func RecoveryMiddleware(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					err := Errorf("server", "handler", "panic: %v", rec)
					logger.WithFields(map[string]interface{}{
						"panic":  rec,
						"stack":  err.Stack,
						"method": r.Method,
						"path":   r.URL.Path,
					}).Error("Recovered from panic in HTTP handler")

					http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
