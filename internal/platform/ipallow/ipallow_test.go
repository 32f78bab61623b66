package ipallow

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestNewRejectsInvalidEntry(t *testing.T) {
	if _, err := New([]string{"not-an-ip"}); err == nil {
		t.Fatal("expected error for invalid entry")
	}
}

func TestAllowed(t *testing.T) {
	l, err := New([]string{"10.2.0.4", "192.168.10.0/24"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tests := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1", true}, // loopback always allowed
		{"::1", true},
		{"10.2.0.4", true},
		{"10.2.0.5", false},
		{"192.168.10.77", true},
		{"192.168.11.77", false},
		{"203.0.113.9", false},
		{"garbage", false},
	}
	for _, tc := range tests {
		if got := l.Allowed(tc.addr); got != tc.want {
			t.Errorf("Allowed(%q) = %v, want %v", tc.addr, got, tc.want)
		}
	}
}

func TestMiddleware(t *testing.T) {
	l, err := New([]string{"10.2.0.0/16"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	e := echo.New()
	handler := l.Middleware()(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/internal/inference/callback", nil)
	req.Header.Set(echo.HeaderXRealIP, "10.2.9.9")
	rec := httptest.NewRecorder()
	if err := handler(e.NewContext(req, rec)); err != nil {
		t.Fatalf("allowed request failed: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/internal/inference/callback", nil)
	req.Header.Set(echo.HeaderXRealIP, "203.0.113.9")
	rec = httptest.NewRecorder()
	err = handler(e.NewContext(req, rec))
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 HTTPError, got %v", err)
	}
}
