package api

import (
	"fmt"
	"net/http"
	"strings"
)

// errorHandler recovers a panicking handler and reports it as an internal
// server error rather than crashing the process.
func (a *App) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				var panicErr error
				switch e := err.(type) {
				case error:
					panicErr = e
				default:
					panicErr = fmt.Errorf("%v", e)
				}
				a.log.Printf("panic: %v", panicErr)
				errResp := NewInternalServerError(panicErr)
				w.Header().Set("Connection", "close")
				a.writeJson(w, errResp.StatusCode, errResp)
				return
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// authMiddleware requires a Bearer session token on every control-plane
// route except /health and /ws (the streaming endpoint authenticates
// itself via its own query-string token instead).
func (a *App) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			errResp := NewUnauthorizedError()
			a.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		identity, err := a.verifier.Verify(token)
		if err != nil {
			errResp := NewUnauthorizedError()
			a.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		ctx := withIdentity(r.Context(), identity)
		next(w, r.WithContext(ctx))
	}
}
