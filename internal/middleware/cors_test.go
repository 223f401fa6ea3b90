package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func serveCORS(origins []string, method, origin string) (*httptest.ResponseRecorder, bool) {
	called := false
	h := CORS(origins)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(method, "/quiz/session", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w, called
}

func TestCORSExplicitOriginAllowsCredentials(t *testing.T) {
	w, called := serveCORS([]string{"https://app.example.com"}, http.MethodGet, "https://app.example.com")
	if !called {
		t.Fatal("expected next handler to run")
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("unexpected allow-origin %q", got)
	}
	if w.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Error("expected credentials for explicit origin")
	}
	if !strings.Contains(w.Header().Get("Access-Control-Allow-Headers"), "X-Fincoach-Session-ID") {
		t.Error("expected identity headers to be allowed")
	}
}

func TestCORSWildcardNeverAllowsCredentials(t *testing.T) {
	w, _ := serveCORS([]string{"*"}, http.MethodGet, "https://evil.example.com")
	if w.Header().Get("Access-Control-Allow-Origin") != "https://evil.example.com" {
		t.Error("expected wildcard to echo origin")
	}
	if w.Header().Get("Access-Control-Allow-Credentials") != "" {
		t.Error("wildcard must not allow credentials")
	}
}

func TestCORSRejectsUnknownOrigin(t *testing.T) {
	w, called := serveCORS([]string{"https://app.example.com"}, http.MethodGet, "https://other.example.com")
	if !called {
		t.Fatal("disallowed origins still reach the handler; the browser enforces CORS")
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("expected no allow-origin header")
	}
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	w, called := serveCORS([]string{"*"}, http.MethodOptions, "https://app.example.com")
	if called {
		t.Error("preflight must not reach the handler")
	}
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}
