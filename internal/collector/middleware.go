package collector

import (
	"io"
	"net/http"
	"strings"
)

// bodyLimit caps request bodies at maxBytes.
func bodyLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if maxBytes > 0 {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requireJSON rejects POSTs without an application/json content type.
func requireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ct := r.Header.Get("Content-Type")
		if r.Method == http.MethodPost && !strings.HasPrefix(strings.ToLower(ct), "application/json") {
			writeError(w, r, http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE", "expected application/json")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// apiKeyAuth checks the key embedded in the request path.
func (s *Server) apiKeyAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("apiKey") != s.Cfg.APIKey {
			writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// drainBody fully reads and closes the request body.
func drainBody(r *http.Request) {
	if r.Body != nil {
		_, _ = io.Copy(io.Discard, r.Body)
		_ = r.Body.Close()
	}
}
