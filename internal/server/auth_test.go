package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestSignAndVerifyJWT(t *testing.T) {
	t.Parallel()
	secret := []byte("test-secret")
	tok, err := SignJWT("student-42", secret, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var gotSub string
	mw := AuthMiddleware(secret)
	handler := mw(func(c echo.Context) error {
		gotSub, _ = c.Get("participant_id").(string)
		return c.NoContent(http.StatusOK)
	})
	if err := handler(c); err != nil {
		t.Fatalf("middleware rejected a valid token: %v", err)
	}
	if gotSub != "student-42" {
		t.Fatalf("subject = %q, want student-42", gotSub)
	}
}

func TestAuthMiddlewareRejectsMissingAndBogusTokens(t *testing.T) {
	t.Parallel()
	e := echo.New()
	mw := AuthMiddleware([]byte("secret"))
	handler := mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	if err := handler(c); err == nil {
		t.Fatalf("expected rejection without a token")
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer not.a.token")
	c = e.NewContext(req, httptest.NewRecorder())
	if err := handler(c); err == nil {
		t.Fatalf("expected rejection for a bogus token")
	}
}

func TestAuthMiddlewareRejectsWrongSecret(t *testing.T) {
	t.Parallel()
	tok, err := SignJWT("student-42", []byte("secret-a"), time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	c := e.NewContext(req, httptest.NewRecorder())

	mw := AuthMiddleware([]byte("secret-b"))
	handler := mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	if err := handler(c); err == nil {
		t.Fatalf("expected rejection for a token signed with another secret")
	}
}

func TestExtractTokenFromCookie(t *testing.T) {
	t.Parallel()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "auth", Value: "cookie-token"})
	c := e.NewContext(req, httptest.NewRecorder())
	if got := extractToken(c); got != "cookie-token" {
		t.Fatalf("got %q", got)
	}
}
