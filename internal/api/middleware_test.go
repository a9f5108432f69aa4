package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAuthMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name   string
		token  string
		path   string
		header string
		status int
	}{
		{"no token configured", "", "/api/fleet", "", http.StatusOK},
		{"missing header", "secret", "/api/fleet", "", http.StatusUnauthorized},
		{"wrong token", "secret", "/api/fleet", "Bearer nope", http.StatusUnauthorized},
		{"wrong scheme", "secret", "/api/fleet", "Basic secret", http.StatusUnauthorized},
		{"valid token", "secret", "/api/fleet", "Bearer secret", http.StatusOK},
		{"non api path", "secret", "/mcp", "", http.StatusOK},
		{"events query token", "secret", "/api/events?access_token=secret", "", http.StatusOK},
		{"query token elsewhere", "secret", "/api/fleet?access_token=secret", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			AuthMiddleware(tt.token, ok).ServeHTTP(w, req)
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
		})
	}
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	handler := SecurityHeadersMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest("GET", "/api/fleet", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	for _, h := range []string{"Content-Security-Policy", "X-Frame-Options", "X-Content-Type-Options", "Referrer-Policy"} {
		if w.Header().Get(h) == "" {
			t.Errorf("missing header %s", h)
		}
	}
	if w.Header().Get("Strict-Transport-Security") != "" {
		t.Error("HSTS should only be set over TLS")
	}

	req.Header.Set("X-Forwarded-Proto", "https")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Header().Get("Strict-Transport-Security") == "" {
		t.Error("HSTS should be set behind a TLS proxy")
	}
}
