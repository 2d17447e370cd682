package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func newRouter(mw gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/whoami", mw, func(c *gin.Context) {
		subject, _ := Subject(c.Request.Context())
		c.String(http.StatusOK, subject)
	})
	return r
}

func signToken(t *testing.T, claims jwt.RegisteredClaims, secret string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func do(r http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestMiddlewareWithoutSecretIsOpen(t *testing.T) {
	resp := do(newRouter(Middleware("", "")), "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected open route, got %d", resp.Code)
	}
}

func TestJWTMiddlewareAcceptsValidToken(t *testing.T) {
	token := signToken(t, jwt.RegisteredClaims{
		Subject:   "clinician-7",
		Audience:  jwt.ClaimStrings{"scan-api"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}, testSecret)

	resp := do(newRouter(Middleware(testSecret, "scan-api")), token)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if resp.Body.String() != "clinician-7" {
		t.Fatalf("unexpected subject: %q", resp.Body.String())
	}
}

func TestJWTMiddlewareRejects(t *testing.T) {
	expiry := jwt.NewNumericDate(time.Now().Add(time.Hour))
	cases := map[string]string{
		"missing header": "",
		"wrong secret":   signToken(t, jwt.RegisteredClaims{Subject: "u", ExpiresAt: expiry}, "other"),
		"expired":        signToken(t, jwt.RegisteredClaims{Subject: "u", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))}, testSecret),
		"no subject":     signToken(t, jwt.RegisteredClaims{ExpiresAt: expiry}, testSecret),
		"wrong audience": signToken(t, jwt.RegisteredClaims{Subject: "u", Audience: jwt.ClaimStrings{"other"}, ExpiresAt: expiry}, testSecret),
	}
	router := newRouter(Middleware(testSecret, "scan-api"))
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			if resp := do(router, token); resp.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", resp.Code)
			}
		})
	}
}
