package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tokenboard/internal/authz"
	"github.com/tokenboard/internal/db"
	"github.com/tokenboard/internal/handler"
	"github.com/tokenboard/internal/router"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	baseURL   = "http://example.test"
	adminUser = "root"
	adminPass = "e2e-secret-pass"
)

type e2eSuite struct {
	gdb    *gorm.DB
	public *localClient
	admin  *localClient
	author *localClient
	reader *localClient
}

type localClient struct {
	handler http.Handler
	jar     http.CookieJar
}

func newLocalClient(handler http.Handler, withJar bool) *localClient {
	var jar http.CookieJar
	if withJar {
		if j, err := cookiejar.New(nil); err == nil {
			jar = j
		}
	}
	return &localClient{handler: handler, jar: jar}
}

func (c *localClient) Do(req *http.Request) (*http.Response, error) {
	if c.jar != nil {
		for _, cookie := range c.jar.Cookies(req.URL) {
			req.AddCookie(cookie)
		}
	}
	w := httptest.NewRecorder()
	c.handler.ServeHTTP(w, req)
	resp := w.Result()
	if c.jar != nil {
		c.jar.SetCookies(req.URL, resp.Cookies())
	}
	return resp, nil
}

func (c *localClient) call(t *testing.T, method, path string, payload any) (int, map[string]any) {
	t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, baseURL+path, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	out := map[string]any{}
	if len(raw) > 0 && raw[0] == '{' {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("decode %s %s: %v (%s)", method, path, err, raw)
		}
	}
	return resp.StatusCode, out
}

func newE2ESuite(t *testing.T) *e2eSuite {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:e2e-%d?mode=memory&cache=shared", time.Now().UnixNano())
	gdb, err := db.Open(dsn, logger.Default.LogMode(logger.Silent))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})

	api := handler.NewAPI(gdb)
	api.Users().WithBcryptCost(bcrypt.MinCost)
	if _, _, err := api.Users().EnsureAdmin(adminUser, adminPass); err != nil {
		t.Fatalf("failed to seed admin: %v", err)
	}

	enforcer, err := authz.NewEnforcer()
	if err != nil {
		t.Fatalf("failed to build enforcer: %v", err)
	}
	engine := router.SetupRouter(api, enforcer, router.Config{SessionSecret: "test-session-secret"})

	return &e2eSuite{
		gdb:    gdb,
		public: newLocalClient(engine, false),
		admin:  newLocalClient(engine, true),
		author: newLocalClient(engine, true),
		reader: newLocalClient(engine, true),
	}
}

func expectStatus(t *testing.T, what string, got, want int, body map[string]any) {
	t.Helper()
	if got != want {
		t.Fatalf("%s: expected %d, got %d (%v)", what, want, got, body)
	}
}

func expectNumber(t *testing.T, what string, body map[string]any, key string, want float64) {
	t.Helper()
	if body[key] != want {
		t.Fatalf("%s: expected %s=%v, got %v", what, key, want, body[key])
	}
}

func TestE2E_TokenGatedReading(t *testing.T) {
	s := newE2ESuite(t)
	content := strings.TrimSpace("# Deep dive\n\n" + strings.Repeat("ledger entries are append only. ", 10))

	code, body := s.admin.call(t, http.MethodPost, "/api/auth/login", map[string]any{"username": adminUser, "password": adminPass})
	expectStatus(t, "admin login", code, http.StatusOK, body)

	code, body = s.author.call(t, http.MethodPost, "/api/auth/signup", map[string]any{"username": "author", "password": "password123"})
	expectStatus(t, "author signup", code, http.StatusCreated, body)
	expectNumber(t, "author signup", body, "balance", 5)
	inviteCode := body["inviteCode"].(string)
	authorID := uint(body["userId"].(float64))

	code, body = s.reader.call(t, http.MethodPost, "/api/auth/signup", map[string]any{
		"username":   "reader",
		"password":   "password123",
		"inviteCode": inviteCode,
	})
	expectStatus(t, "reader signup", code, http.StatusCreated, body)
	expectNumber(t, "reader signup", body, "balance", 8)
	readerID := uint(body["userId"].(float64))

	_, body = s.author.call(t, http.MethodGet, "/api/me", nil)
	expectNumber(t, "inviter reward", body, "balance", 10)
	expectNumber(t, "inviter reward", body, "successfulInvitesCount", 1)

	code, body = s.author.call(t, http.MethodPost, "/api/posts", map[string]any{
		"title":   "Deep dive",
		"content": content,
		"preview": "How the ledger works",
		"tags":    []string{"go", "ledger"},
	})
	expectStatus(t, "create post", code, http.StatusCreated, body)
	postID := uint(body["postId"].(float64))
	viewPath := fmt.Sprintf("/api/posts/%d/view", postID)

	code, body = s.reader.call(t, http.MethodPost, viewPath, nil)
	expectStatus(t, "pending post view", code, http.StatusNotFound, body)

	code, body = s.reader.call(t, http.MethodGet, "/api/admin/dashboard", nil)
	expectStatus(t, "member on admin route", code, http.StatusForbidden, body)

	code, body = s.admin.call(t, http.MethodPut, fmt.Sprintf("/api/admin/posts/%d/status", postID), map[string]any{"status": db.PostStatusApproved})
	expectStatus(t, "approve", code, http.StatusOK, body)

	_, body = s.author.call(t, http.MethodGet, "/api/me", nil)
	expectNumber(t, "approval reward", body, "balance", 13)

	code, body = s.public.call(t, http.MethodPost, viewPath, nil)
	expectStatus(t, "anonymous view", code, http.StatusUnauthorized, body)

	code, body = s.public.call(t, http.MethodGet, fmt.Sprintf("/api/posts/%d", postID), nil)
	expectStatus(t, "anonymous detail", code, http.StatusOK, body)
	if body["access"] != "preview" || body["content"] != nil {
		t.Fatalf("anonymous detail leaked content: %v", body)
	}

	code, body = s.reader.call(t, http.MethodPost, viewPath, nil)
	expectStatus(t, "first view", code, http.StatusOK, body)
	expectNumber(t, "first view", body, "balance", 7)
	if body["charged"] != true || body["content"] != content {
		t.Fatalf("first view should charge and return content: %v", body)
	}

	code, body = s.reader.call(t, http.MethodPost, viewPath, nil)
	expectStatus(t, "repeat view", code, http.StatusOK, body)
	expectNumber(t, "repeat view", body, "balance", 7)
	if body["charged"] != false {
		t.Fatalf("repeat view must be free: %v", body)
	}

	code, body = s.author.call(t, http.MethodPost, viewPath, nil)
	expectStatus(t, "author view", code, http.StatusOK, body)
	if body["charged"] != false {
		t.Fatalf("author reads own post for free: %v", body)
	}

	code, body = s.admin.call(t, http.MethodPost, fmt.Sprintf("/api/admin/users/%d/tokens", readerID), map[string]any{"amount": -7})
	expectStatus(t, "drain reader", code, http.StatusOK, body)
	expectNumber(t, "drain reader", body, "balance", 0)

	code, body = s.author.call(t, http.MethodPost, "/api/posts", map[string]any{"title": "Sequel", "content": content})
	expectStatus(t, "create sequel", code, http.StatusCreated, body)
	sequelID := uint(body["postId"].(float64))
	code, body = s.admin.call(t, http.MethodPut, fmt.Sprintf("/api/admin/posts/%d/status", sequelID), map[string]any{"status": db.PostStatusApproved})
	expectStatus(t, "approve sequel", code, http.StatusOK, body)

	sequelView := fmt.Sprintf("/api/posts/%d/view", sequelID)
	code, body = s.reader.call(t, http.MethodPost, sequelView, nil)
	expectStatus(t, "broke reader", code, http.StatusForbidden, body)
	if body["canView"] != false || body["message"] != "insufficient tokens" {
		t.Fatalf("unexpected denial: %v", body)
	}
	if body["content"] == content {
		t.Fatal("denied view leaked full content")
	}

	code, body = s.admin.call(t, http.MethodPut, fmt.Sprintf("/api/admin/users/%d", readerID), map[string]any{"tier": db.TierPaid})
	expectStatus(t, "upgrade reader", code, http.StatusOK, body)

	code, body = s.reader.call(t, http.MethodPost, sequelView, nil)
	expectStatus(t, "paid reader", code, http.StatusOK, body)
	if body["charged"] != false || body["access"] != "full" {
		t.Fatalf("paid tier reads for free: %v", body)
	}

	code, body = s.reader.call(t, http.MethodGet, "/api/me/tokens", nil)
	expectStatus(t, "reader history", code, http.StatusOK, body)
	expectNumber(t, "reader history", body, "balance", 0)
	expectNumber(t, "reader history", body, "total", 4)

	for _, id := range []uint{authorID, readerID} {
		code, body = s.admin.call(t, http.MethodGet, fmt.Sprintf("/api/admin/users/%d/ledger/verify", id), nil)
		expectStatus(t, "verify ledger", code, http.StatusOK, body)
		if body["consistent"] != true {
			t.Fatalf("ledger for user %d inconsistent: %v", id, body)
		}
	}

	var views int64
	s.gdb.Model(&db.PostView{}).Where("post_id = ? AND user_id = ?", postID, readerID).Count(&views)
	if views != 1 {
		t.Fatalf("expected exactly one recorded view, got %d", views)
	}
}

func TestE2E_LogoutEndsSession(t *testing.T) {
	s := newE2ESuite(t)

	code, body := s.reader.call(t, http.MethodPost, "/api/auth/signup", map[string]any{"username": "reader", "password": "password123"})
	expectStatus(t, "signup", code, http.StatusCreated, body)

	code, body = s.reader.call(t, http.MethodPost, "/api/auth/logout", nil)
	expectStatus(t, "logout", code, http.StatusNoContent, body)

	code, body = s.reader.call(t, http.MethodGet, "/api/me", nil)
	expectStatus(t, "me after logout", code, http.StatusUnauthorized, body)
}
