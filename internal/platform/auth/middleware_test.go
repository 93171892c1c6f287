package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testKey = []byte("test-signing-key")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func validClaims() Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "learner-7",
			Issuer:    "carelearn-test",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		TenantID: "acme",
		Email:    "learner7@acme.example",
		Roles:    []string{RoleLearner},
	}
}

func runJWT(t *testing.T, cfg JWTConfig, req *http.Request) (echo.Context, error, bool) {
	t.Helper()
	e := echo.New()
	c := e.NewContext(req, httptest.NewRecorder())
	called := false
	err := JWTMiddleware(cfg)(func(echo.Context) error {
		called = true
		return nil
	})(c)
	return c, err, called
}

func expectStatus(t *testing.T, err error, code int) {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != code {
		t.Errorf("expected %d, got %v", code, err)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	_, err, called := runJWT(t, JWTConfig{SigningKey: testKey}, httptest.NewRequest(http.MethodGet, "/", nil))
	expectStatus(t, err, http.StatusUnauthorized)
	if called {
		t.Error("handler should not be called")
	}
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	for _, h := range []string{"Basic abc", "Bearer", "token-only"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", h)
		_, err, _ := runJWT(t, JWTConfig{SigningKey: testKey}, req)
		expectStatus(t, err, http.StatusUnauthorized)
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+createTestToken(t, validClaims(), testKey))

	c, err, called := runJWT(t, JWTConfig{SigningKey: testKey, Issuer: "carelearn-test"}, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("expected handler to be called")
	}

	ctx := c.Request().Context()
	if uid := UserIDFromContext(ctx); uid != "learner-7" {
		t.Errorf("expected learner-7, got %s", uid)
	}
	if roles := RolesFromContext(ctx); len(roles) != 1 || roles[0] != RoleLearner {
		t.Errorf("unexpected roles %v", roles)
	}
	if email := EmailFromContext(ctx); email != "learner7@acme.example" {
		t.Errorf("expected email claim, got %q", email)
	}
	if tid := c.Get("jwt_tenant_id"); tid != "acme" {
		t.Errorf("expected jwt_tenant_id acme, got %v", tid)
	}
	if uid := c.Get("user_id"); uid != "learner-7" {
		t.Errorf("expected user_id on echo context, got %v", uid)
	}
}

func TestJWTMiddleware_Rejections(t *testing.T) {
	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	wrongIssuer := validClaims()
	wrongIssuer.Issuer = "someone-else"

	noSubject := validClaims()
	noSubject.Subject = ""

	tests := []struct {
		name  string
		token string
	}{
		{"expired", createTestToken(t, expired, testKey)},
		{"wrong key", createTestToken(t, validClaims(), []byte("other"))},
		{"wrong issuer", createTestToken(t, wrongIssuer, testKey)},
		{"no subject", createTestToken(t, noSubject, testKey)},
		{"garbage", "not.a.jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", "Bearer "+tt.token)
			_, err, called := runJWT(t, JWTConfig{SigningKey: testKey, Issuer: "carelearn-test"}, req)
			expectStatus(t, err, http.StatusUnauthorized)
			if called {
				t.Error("handler should not be called")
			}
		})
	}
}

func TestJWTMiddleware_QueryTokenOnWebsocketUpgrade(t *testing.T) {
	tok := createTestToken(t, validClaims(), testKey)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/live/ws?access_token="+tok, nil)
	req.Header.Set("Upgrade", "websocket")
	if _, err, called := runJWT(t, JWTConfig{SigningKey: testKey}, req); err != nil || !called {
		t.Errorf("expected upgrade with query token to pass, got %v", err)
	}

	plain := httptest.NewRequest(http.MethodGet, "/api/v1/quizzes?access_token="+tok, nil)
	_, err, _ := runJWT(t, JWTConfig{SigningKey: testKey}, plain)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_Skipper(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), httptest.NewRecorder())
	c.SetPath("/health")

	called := false
	err := JWTMiddleware(JWTConfig{SigningKey: testKey, Skipper: AuthSkipper})(func(echo.Context) error {
		called = true
		return nil
	})(c)
	if err != nil || !called {
		t.Errorf("expected public path to skip auth, err=%v", err)
	}
}

func TestDevAuthMiddleware_Defaults(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	err := DevAuthMiddleware()(func(c echo.Context) error {
		ctx := c.Request().Context()
		if uid := UserIDFromContext(ctx); uid != "dev-user" {
			t.Errorf("expected dev-user, got %s", uid)
		}
		if !HasRole(ctx, RoleInstructor) {
			t.Error("expected dev user to act as admin")
		}
		return nil
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDevAuthMiddleware_HeaderOverrides(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Dev-User", "nurse-1")
	req.Header.Set("X-Dev-Roles", "learner, ")
	req.Header.Set("X-Dev-Tenant", "ward_b")
	req.Header.Set("X-Dev-Email", "nurse1@ward.example")
	c := e.NewContext(req, httptest.NewRecorder())

	err := DevAuthMiddleware()(func(c echo.Context) error {
		ctx := c.Request().Context()
		if uid := UserIDFromContext(ctx); uid != "nurse-1" {
			t.Errorf("expected nurse-1, got %s", uid)
		}
		if roles := RolesFromContext(ctx); len(roles) != 1 || roles[0] != RoleLearner {
			t.Errorf("expected [learner], got %v", roles)
		}
		if email := EmailFromContext(ctx); email != "nurse1@ward.example" {
			t.Errorf("expected dev email, got %q", email)
		}
		if c.Get("jwt_tenant_id") != "ward_b" {
			t.Errorf("expected ward_b tenant, got %v", c.Get("jwt_tenant_id"))
		}
		return nil
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestIsPublicPath(t *testing.T) {
	if !IsPublicPath("/health") || !IsPublicPath("/health/db") {
		t.Error("expected health endpoints to be public")
	}
	if IsPublicPath("/api/v1/quizzes") {
		t.Error("expected api path to be protected")
	}
}
