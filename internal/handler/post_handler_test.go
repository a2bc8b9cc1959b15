package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/tokenboard/internal/db"
	"github.com/tokenboard/internal/service"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func setupTestAPI(t *testing.T) (*API, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:handler-%d?mode=memory&cache=shared", time.Now().UnixNano())
	gdb, err := db.Open(dsn, logger.Default.LogMode(logger.Silent))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})

	api := NewAPI(gdb)
	api.users.WithBcryptCost(bcrypt.MinCost)
	return api, gdb
}

func newTestRouter(api *API) *gin.Engine {
	r := gin.New()
	r.Use(sessions.Sessions("test_session", cookie.NewStore([]byte("test-secret"))))
	r.POST("/test/session/:id", func(c *gin.Context) {
		id, _ := strconv.ParseUint(c.Param("id"), 10, 32)
		if err := startSession(c, uint(id)); err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusNoContent)
	})

	g := r.Group("/api", api.LoadViewer())
	g.POST("/auth/signup", api.Signup)
	g.POST("/auth/login", api.Login)
	g.GET("/posts", api.ListPosts)
	g.GET("/posts/:id", api.GetPost)
	g.GET("/tags", api.GetTags)
	g.POST("/posts", RequireUser(), api.CreatePost)
	g.POST("/posts/:id/view", RequireUser(), api.ViewPost)
	g.POST("/posts/:id/reports", RequireUser(), api.ReportPost)
	g.GET("/me", RequireUser(), api.Me)
	g.GET("/me/tokens", RequireUser(), api.MyTokens)
	g.PUT("/admin/posts/:id/status", api.AdminUpdatePostStatus)
	g.GET("/admin/users", api.AdminListUsers)
	g.POST("/admin/users/:id/tokens", api.AdminGrantTokens)
	g.PUT("/admin/settings", api.AdminUpdateSettings)
	g.PUT("/admin/tags/:id", api.AdminRenameTag)
	g.DELETE("/admin/tags/:id", api.AdminDeleteTag)
	return r
}

func loginAs(t *testing.T, r *gin.Engine, userID uint) []*http.Cookie {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, fmt.Sprintf("/test/session/%d", userID), nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("failed to start session: %d", w.Code)
	}
	return w.Result().Cookies()
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, payload any, cookies []*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return out
}

func seedUser(t *testing.T, api *API, gdb *gorm.DB, username, tier string, balance int64) db.User {
	t.Helper()
	user := db.User{Username: username, Password: "x", Nickname: username, Role: db.RoleUser, Tier: tier}
	if err := gdb.Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	if balance > 0 {
		if _, err := api.ledger.Grant(context.Background(), service.LedgerEntry{UserID: user.ID, Amount: balance, Reason: db.TokenReasonAdminGrant}); err != nil {
			t.Fatalf("seed balance: %v", err)
		}
	}
	return user
}

func seedPost(t *testing.T, gdb *gorm.DB, ownerID uint, status string) db.Post {
	t.Helper()
	post := db.Post{
		Title:   "A metered story",
		Content: "# Heading\n\n" + strings.Repeat("secret body ", 20),
		Preview: "A teaser",
		Status:  status,
		UserID:  ownerID,
	}
	if err := gdb.Create(&post).Error; err != nil {
		t.Fatalf("create post: %v", err)
	}
	return post
}

func viewPath(id uint) string {
	return fmt.Sprintf("/api/posts/%d/view", id)
}

func TestViewPostRequiresSession(t *testing.T) {
	api, gdb := setupTestAPI(t)
	r := newTestRouter(api)
	author := seedUser(t, api, gdb, "author", db.TierFree, 0)
	post := seedPost(t, gdb, author.ID, db.PostStatusApproved)

	w := doJSON(t, r, http.MethodPost, viewPath(post.ID), nil, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestViewPostChargesOnceThenDenies(t *testing.T) {
	api, gdb := setupTestAPI(t)
	r := newTestRouter(api)
	author := seedUser(t, api, gdb, "author", db.TierFree, 0)
	reader := seedUser(t, api, gdb, "reader", db.TierFree, 1)
	first := seedPost(t, gdb, author.ID, db.PostStatusApproved)
	second := seedPost(t, gdb, author.ID, db.PostStatusApproved)
	cookies := loginAs(t, r, reader.ID)

	w := doJSON(t, r, http.MethodPost, viewPath(first.ID), nil, cookies)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["canView"] != true || body["charged"] != true || body["balance"] != float64(0) {
		t.Fatalf("unexpected body %v", body)
	}
	if !strings.Contains(body["html"].(string), "<h1") {
		t.Fatalf("expected rendered html, got %v", body["html"])
	}

	w = doJSON(t, r, http.MethodPost, viewPath(first.ID), nil, cookies)
	if w.Code != http.StatusOK {
		t.Fatalf("repeat view expected 200, got %d", w.Code)
	}
	if body := decodeBody(t, w); body["charged"] != false {
		t.Fatalf("repeat view must not charge, got %v", body)
	}

	w = doJSON(t, r, http.MethodPost, viewPath(second.ID), nil, cookies)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 on empty balance, got %d", w.Code)
	}
	body = decodeBody(t, w)
	if body["canView"] != false || body["message"] != service.MessageInsufficientTokens || body["content"] != "A teaser" {
		t.Fatalf("unexpected denial body %v", body)
	}
}

func TestViewPostFreeForOwnerAndPaidTier(t *testing.T) {
	api, gdb := setupTestAPI(t)
	r := newTestRouter(api)
	author := seedUser(t, api, gdb, "author", db.TierFree, 0)
	paid := seedUser(t, api, gdb, "patron", db.TierPaid, 0)
	post := seedPost(t, gdb, author.ID, db.PostStatusApproved)

	for _, id := range []uint{author.ID, paid.ID} {
		w := doJSON(t, r, http.MethodPost, viewPath(post.ID), nil, loginAs(t, r, id))
		if w.Code != http.StatusOK {
			t.Fatalf("user %d expected 200, got %d", id, w.Code)
		}
		if body := decodeBody(t, w); body["charged"] != false || body["access"] != "full" {
			t.Fatalf("user %d should read for free, got %v", id, body)
		}
	}

	var count int64
	gdb.Model(&db.TokenLog{}).Where("reason = ?", db.TokenReasonViewPostCost).Count(&count)
	if count != 0 {
		t.Fatalf("free access must not touch the ledger, got %d entries", count)
	}
}

func TestViewPostHiddenWhenNotApproved(t *testing.T) {
	api, gdb := setupTestAPI(t)
	r := newTestRouter(api)
	author := seedUser(t, api, gdb, "author", db.TierFree, 0)
	reader := seedUser(t, api, gdb, "reader", db.TierFree, 5)
	post := seedPost(t, gdb, author.ID, db.PostStatusPending)

	w := doJSON(t, r, http.MethodPost, viewPath(post.ID), nil, loginAs(t, r, reader.ID))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	w = doJSON(t, r, http.MethodPost, viewPath(9999), nil, loginAs(t, r, reader.ID))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing post, got %d", w.Code)
	}
}

func TestViewPostDoesNotMeterPendingPostForAdmin(t *testing.T) {
	api, gdb := setupTestAPI(t)
	r := newTestRouter(api)
	author := seedUser(t, api, gdb, "author", db.TierFree, 0)
	admin := seedUser(t, api, gdb, "moderator", db.TierFree, 3)
	if err := gdb.Model(&db.User{}).Where("id = ?", admin.ID).Update("role", db.RoleAdmin).Error; err != nil {
		t.Fatalf("promote admin: %v", err)
	}
	post := seedPost(t, gdb, author.ID, db.PostStatusPending)

	w := doJSON(t, r, http.MethodPost, viewPath(post.ID), nil, loginAs(t, r, admin.ID))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for pending post, got %d: %s", w.Code, w.Body.String())
	}
	if body := decodeBody(t, w); body["canView"] != false {
		t.Fatalf("unexpected body %v", body)
	}

	var refreshed db.User
	if err := gdb.First(&refreshed, admin.ID).Error; err != nil {
		t.Fatalf("reload admin: %v", err)
	}
	if refreshed.TokenBalance != 3 {
		t.Fatalf("pending post must not be charged, balance %d", refreshed.TokenBalance)
	}
	var views int64
	gdb.Model(&db.PostView{}).Where("post_id = ?", post.ID).Count(&views)
	if views != 0 {
		t.Fatalf("expected no post views, got %d", views)
	}
}

type failingConsumer struct{}

func (failingConsumer) ConsumeForView(context.Context, uint, uint) (service.ConsumeResult, error) {
	return service.ConsumeResult{}, fmt.Errorf("%w: database is locked", service.ErrLedgerUnavailable)
}

func TestViewPostLedgerFailureReturns500(t *testing.T) {
	api, gdb := setupTestAPI(t)
	api.gate = service.NewViewGate(failingConsumer{})
	r := newTestRouter(api)
	author := seedUser(t, api, gdb, "author", db.TierFree, 0)
	reader := seedUser(t, api, gdb, "reader", db.TierFree, 5)
	post := seedPost(t, gdb, author.ID, db.PostStatusApproved)

	w := doJSON(t, r, http.MethodPost, viewPath(post.ID), nil, loginAs(t, r, reader.ID))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["canView"] != false {
		t.Fatalf("unexpected body %v", body)
	}
	if _, leaked := body["content"]; leaked {
		t.Fatal("transient failure must not return content")
	}
}

func TestGetPostRevealsContentOnlyAfterPurchase(t *testing.T) {
	api, gdb := setupTestAPI(t)
	r := newTestRouter(api)
	author := seedUser(t, api, gdb, "author", db.TierFree, 0)
	reader := seedUser(t, api, gdb, "reader", db.TierFree, 2)
	post := seedPost(t, gdb, author.ID, db.PostStatusApproved)
	path := fmt.Sprintf("/api/posts/%d", post.ID)

	w := doJSON(t, r, http.MethodGet, path, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("anonymous detail expected 200, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["access"] != "preview" || body["unlocked"] != false || body["content"] != nil {
		t.Fatalf("anonymous viewer should get preview only, got %v", body)
	}

	cookies := loginAs(t, r, reader.ID)
	body = decodeBody(t, doJSON(t, r, http.MethodGet, path, nil, cookies))
	if body["access"] != "metered" || body["unlocked"] != false {
		t.Fatalf("unpaid reader should see metered hint, got %v", body)
	}

	if w := doJSON(t, r, http.MethodPost, viewPath(post.ID), nil, cookies); w.Code != http.StatusOK {
		t.Fatalf("view expected 200, got %d", w.Code)
	}

	body = decodeBody(t, doJSON(t, r, http.MethodGet, path, nil, cookies))
	if body["unlocked"] != true || body["content"] == nil {
		t.Fatalf("purchased post should be unlocked, got %v", body)
	}
}

func TestCreatePostAndReport(t *testing.T) {
	api, gdb := setupTestAPI(t)
	r := newTestRouter(api)
	author := seedUser(t, api, gdb, "author", db.TierFree, 0)
	cookies := loginAs(t, r, author.ID)

	w := doJSON(t, r, http.MethodPost, "/api/posts", map[string]any{
		"title":   "Fresh post",
		"content": strings.Repeat("words ", 30),
		"tags":    "go,ledger",
	}, cookies)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodPost, "/api/posts", map[string]any{
		"title":   "Too short",
		"content": "tiny",
	}, cookies)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for short content, got %d", w.Code)
	}

	approved := seedPost(t, gdb, author.ID, db.PostStatusApproved)
	w = doJSON(t, r, http.MethodPost, fmt.Sprintf("/api/posts/%d/reports", approved.ID), map[string]any{"reason": "spam"}, cookies)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 for report, got %d", w.Code)
	}
}

func TestTagListAcceptsStringOrArray(t *testing.T) {
	var req postRequest
	if err := json.Unmarshal([]byte(`{"tags":"a,b"}`), &req); err != nil {
		t.Fatalf("unmarshal string: %v", err)
	}
	if len(req.Tags) != 2 {
		t.Fatalf("expected 2 tags, got %v", req.Tags)
	}
	if err := json.Unmarshal([]byte(`{"tags":["x","y","z"]}`), &req); err != nil {
		t.Fatalf("unmarshal array: %v", err)
	}
	if len(req.Tags) != 3 {
		t.Fatalf("expected 3 tags, got %v", req.Tags)
	}
	if err := json.Unmarshal([]byte(`{"tags":5}`), &req); err == nil {
		t.Fatal("expected error for numeric tags")
	}
}

func TestRenderMarkdownSanitizes(t *testing.T) {
	html, err := renderMarkdown("**bold** <script>alert(1)</script>")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(html, "<strong>bold</strong>") {
		t.Fatalf("expected markdown to render, got %q", html)
	}
	if strings.Contains(html, "<script>") {
		t.Fatalf("script tag must be stripped, got %q", html)
	}
}

func TestRateLimiterMiddleware(t *testing.T) {
	limiter := NewRateLimiter(0.001, 2)
	r := gin.New()
	r.GET("/limited", limiter.Middleware(), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/limited", nil))
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusNoContent || codes[1] != http.StatusNoContent || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status sequence %v", codes)
	}

	if NewRateLimiter(0, 5) != nil {
		t.Fatal("non-positive rate should disable the limiter")
	}
	var disabled *RateLimiter
	if !disabled.Allow("anyone") {
		t.Fatal("nil limiter must allow everything")
	}
}

func TestSessionUserID(t *testing.T) {
	cases := []struct {
		in   any
		want uint
		ok   bool
	}{
		{uint(3), 3, true},
		{int(4), 4, true},
		{int64(0), 0, false},
		{"7", 0, false},
		{nil, 0, false},
	}
	for _, tc := range cases {
		got, ok := sessionUserID(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("sessionUserID(%v) = %d,%v want %d,%v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}
