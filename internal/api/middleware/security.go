package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/2025tf20/KTB-LoadTest-team-20/internal/metrics"
)

// maxIDLength bounds room and user ids taken from the path.
const maxIDLength = 64

// SecurityHeaders adds security headers to all responses. API responses are
// JSON only, so nothing is allowed to load from them.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		if r.Header.Get(HeaderSessionID) != "" {
			w.Header().Set("Cache-Control", "no-store")
		}

		next.ServeHTTP(w, r)
	})
}

// MaxBodySize limits request body size. Socket upgrades carry no body and
// their frames are bounded by the socket read limit instead.
func MaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if websocket.IsWebSocketUpgrade(r) {
				next.ServeHTTP(w, r)
				return
			}
			if r.ContentLength > maxBytes {
				reject(w, "body_too_large", `{"error":"request body too large"}`, http.StatusRequestEntityTooLarge)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// ValidateRequest rejects requests with unexpected bodies, malformed room or
// user ids, and markup or traversal sequences in the URL.
func ValidateRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The upgrade request authenticates with query credentials only.
		if websocket.IsWebSocketUpgrade(r) {
			if containsMarkup(query(r)) {
				reject(w, "suspicious_query", `{"error":"invalid request"}`, http.StatusBadRequest)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
			// join and logout are posted without a body
			ct := r.Header.Get("Content-Type")
			if r.ContentLength > 0 && !strings.HasPrefix(ct, "application/json") {
				reject(w, "content_type", `{"error":"content-type must be application/json"}`, http.StatusUnsupportedMediaType)
				return
			}
		}

		if containsTraversal(r.URL.Path) || containsMarkup(r.URL.Path) {
			reject(w, "suspicious_path", `{"error":"invalid request"}`, http.StatusBadRequest)
			return
		}
		if id, ok := pathID(r.URL.Path); ok && !validID(id) {
			reject(w, "invalid_id", `{"error":"invalid id"}`, http.StatusBadRequest)
			return
		}
		if containsMarkup(query(r)) {
			reject(w, "suspicious_query", `{"error":"invalid request"}`, http.StatusBadRequest)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func reject(w http.ResponseWriter, reason, body string, status int) {
	metrics.BlockedRequests.WithLabelValues(reason).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(body))
}

// pathID returns the id segment of /rooms/{id}... and /users/{id}.
func pathID(path string) (string, bool) {
	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(segments) < 2 {
		return "", false
	}
	switch segments[0] {
	case "rooms", "users":
		return segments[1], true
	}
	return "", false
}

// validID accepts the ULID, UUID and slug forms the stores generate.
func validID(id string) bool {
	if id == "" || len(id) > maxIDLength {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

// query returns the decoded query string, or the raw one if it is malformed.
func query(r *http.Request) string {
	q, err := url.QueryUnescape(r.URL.RawQuery)
	if err != nil {
		return r.URL.RawQuery
	}
	return q
}

func containsTraversal(path string) bool {
	return strings.Contains(path, "..") || strings.Contains(path, "//")
}

var markupPatterns = []string{
	"<script",
	"javascript:",
	"vbscript:",
	"onload=",
	"onerror=",
}

func containsMarkup(input string) bool {
	if input == "" {
		return false
	}
	lower := strings.ToLower(input)
	for _, s := range markupPatterns {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
