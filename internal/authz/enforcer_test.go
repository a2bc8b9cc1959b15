package authz

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestEnforcerAdminPaths(t *testing.T) {
	e, err := NewEnforcer()
	if err != nil {
		t.Fatalf("new enforcer: %v", err)
	}

	tests := []struct {
		role, path, action string
		want               bool
	}{
		{"admin", "/api/admin/posts/3/status", "write", true},
		{"admin", "/api/admin/dashboard", "read", true},
		{"user", "/api/admin/dashboard", "read", false},
		{"user", "/api/admin/users/1/tokens", "write", false},
		{"admin", "/api/posts", "read", false},
	}

	for _, tt := range tests {
		got, err := e.Enforce(tt.role, tt.path, tt.action)
		if err != nil {
			t.Fatalf("enforce %v: %v", tt, err)
		}
		if got != tt.want {
			t.Fatalf("Enforce(%s, %s, %s) = %v, want %v", tt.role, tt.path, tt.action, got, tt.want)
		}
	}
}

func TestMiddlewareStatusCodes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	e, err := NewEnforcer()
	if err != nil {
		t.Fatalf("new enforcer: %v", err)
	}

	newRouter := func(role string, ok bool) *gin.Engine {
		r := gin.New()
		r.Use(e.Middleware(func(*gin.Context) (string, bool) { return role, ok }))
		r.GET("/api/admin/dashboard", func(c *gin.Context) { c.Status(http.StatusNoContent) })
		return r
	}

	cases := []struct {
		name string
		role string
		ok   bool
		want int
	}{
		{"anonymous", "", false, http.StatusUnauthorized},
		{"regular user", "user", true, http.StatusForbidden},
		{"admin", "admin", true, http.StatusNoContent},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			newRouter(tc.role, tc.ok).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/admin/dashboard", nil))
			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, w.Code)
			}
		})
	}
}
