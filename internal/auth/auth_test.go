package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"classledger/internal/actor"
)

const (
	testKey    = "test-key"
	testIssuer = "classledger-test"
)

func TestIssueParseRoundTrip(t *testing.T) {
	a := actor.Actor{ID: "f1", Role: actor.RoleFaculty, Department: "CSE"}
	token, exp, err := Issue(a, testIssuer, testKey, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Fatalf("expiry should be in the future")
	}
	claims, err := Parse(token, testKey, testIssuer)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Actor() != a {
		t.Fatalf("expected %+v, got %+v", a, claims.Actor())
	}
	if _, err := Parse(token, "other-key", testIssuer); err == nil {
		t.Fatalf("expected wrong key to fail")
	}
	if _, err := Parse(token, testKey, "someone-else"); err == nil {
		t.Fatalf("expected issuer mismatch to fail")
	}
	if _, _, err := Issue(actor.Actor{ID: "x", Role: "guest"}, testIssuer, testKey, time.Hour); err == nil {
		t.Fatalf("expected unknown role to be rejected")
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/admin", Authenticate(testKey, testIssuer, false), RequireRole(actor.RoleAdmin), func(c *gin.Context) {
		a, _ := ActorFrom(c)
		c.String(http.StatusOK, a.ID)
	})
	r.GET("/stream", Authenticate(testKey, testIssuer, true), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	admin, _, _ := Issue(actor.Actor{ID: "a1", Role: actor.RoleAdmin}, testIssuer, testKey, time.Hour)
	student, _, _ := Issue(actor.Actor{ID: "s1", Role: actor.RoleStudent}, testIssuer, testKey, time.Hour)

	cases := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"no token", "/admin", "", http.StatusUnauthorized},
		{"garbage", "/admin", "Bearer nope", http.StatusUnauthorized},
		{"wrong role", "/admin", "Bearer " + student, http.StatusForbidden},
		{"admin", "/admin", "bearer " + admin, http.StatusOK},
		{"query token refused", "/admin?access_token=" + admin, "", http.StatusUnauthorized},
		{"query token on stream", "/stream?access_token=" + student, "", http.StatusNoContent},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		r.ServeHTTP(w, req)
		if w.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, w.Code)
		}
	}
}
