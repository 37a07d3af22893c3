package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/thoscut/pdfocr/internal/config"
	"golang.org/x/crypto/bcrypt"
)

// AuthMiddleware accepts an API key via Bearer token, X-API-Key header or
// api_key query parameter, or HTTP basic auth checked against a bcrypt hash.
func AuthMiddleware(cfg config.AuthConfig) func(http.Handler) http.Handler {
	keySet := make(map[string]bool, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		if k != "" {
			keySet[k] = true
		}
	}
	basic := cfg.BasicAuthUser != "" && cfg.BasicAuthPassHash != ""

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Check Bearer token
			auth := r.Header.Get("Authorization")
			if strings.HasPrefix(auth, "Bearer ") {
				token := strings.TrimPrefix(auth, "Bearer ")
				if keySet[token] {
					next.ServeHTTP(w, r)
					return
				}
			}

			// Check X-API-Key header
			if apiKey := r.Header.Get("X-API-Key"); keySet[apiKey] {
				next.ServeHTTP(w, r)
				return
			}

			// Check query parameter (for WebSocket connections)
			if key := r.URL.Query().Get("api_key"); keySet[key] {
				next.ServeHTTP(w, r)
				return
			}

			if basic {
				if user, pass, ok := r.BasicAuth(); ok && checkBasicAuth(cfg, user, pass) {
					next.ServeHTTP(w, r)
					return
				}
				w.Header().Set("WWW-Authenticate", `Basic realm="pdfocr"`)
			}

			writeError(w, http.StatusUnauthorized, "unauthorized")
		})
	}
}

func checkBasicAuth(cfg config.AuthConfig, user, pass string) bool {
	if subtle.ConstantTimeCompare([]byte(user), []byte(cfg.BasicAuthUser)) != 1 {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(cfg.BasicAuthPassHash), []byte(pass)) == nil
}

// CORSMiddleware adds CORS headers for cross-origin requests.
func CORSMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-API-Key")
			w.Header().Set("Access-Control-Max-Age", "3600")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger logs each request through slog.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).Round(time.Microsecond),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
