package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/obsidianstack/alertd/server/internal/auth"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func do(t *testing.T, h http.Handler, header, value string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/alerts", nil)
	if value != "" {
		req.Header.Set(header, value)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr.Code
}

func TestAPIKey_CorrectKey(t *testing.T) {
	h := auth.APIKey("apikey", "X-API-Key", "secret")(okHandler)
	if code := do(t, h, "X-API-Key", "secret"); code != http.StatusOK {
		t.Errorf("got %d, want 200", code)
	}
}

func TestAPIKey_WrongKey(t *testing.T) {
	h := auth.APIKey("apikey", "X-API-Key", "secret")(okHandler)
	if code := do(t, h, "X-API-Key", "nope"); code != http.StatusUnauthorized {
		t.Errorf("got %d, want 401", code)
	}
}

func TestAPIKey_MissingKey(t *testing.T) {
	h := auth.APIKey("apikey", "X-API-Key", "secret")(okHandler)
	if code := do(t, h, "X-API-Key", ""); code != http.StatusUnauthorized {
		t.Errorf("got %d, want 401", code)
	}
}

func TestAPIKey_HeaderNameCaseInsensitive(t *testing.T) {
	h := auth.APIKey("apikey", "x-api-key", "secret")(okHandler)
	if code := do(t, h, "X-Api-Key", "secret"); code != http.StatusOK {
		t.Errorf("got %d, want 200", code)
	}
}

func TestAPIKey_PassThrough(t *testing.T) {
	cases := []struct {
		name, mode, key string
	}{
		{"mode none", "none", "secret"},
		{"empty key", "apikey", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := auth.APIKey(tc.mode, "X-API-Key", tc.key)(okHandler)
			if code := do(t, h, "X-API-Key", ""); code != http.StatusOK {
				t.Errorf("got %d, want 200", code)
			}
		})
	}
}
