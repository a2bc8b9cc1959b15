package router

import (
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/tokenboard/internal/authz"
	"github.com/tokenboard/internal/handler"
	"github.com/tokenboard/internal/logging"
	"github.com/tokenboard/internal/metrics"
)

const sessionName = "tokenboard_session"

// Config 是构建路由所需的参数。
type Config struct {
	SessionSecret string
	// SecureCookie 为 true 时会话 cookie 只通过 HTTPS 发送。
	SecureCookie  bool
	ViewRateLimit float64
	ViewRateBurst int
}

// SetupRouter 配置 Gin 引擎和路由
func SetupRouter(api *handler.API, enforcer *authz.Enforcer, cfg Config) *gin.Engine {
	r := gin.New()
	r.Use(logging.GinLogger(), metrics.GinMiddleware(), gin.Recovery())

	// 配置会话中间件
	store := cookie.NewStore([]byte(cfg.SessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   7 * 24 * 60 * 60,
		HttpOnly: true,
		Secure:   cfg.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	r.Use(sessions.Sessions(sessionName, store))

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	viewLimiter := handler.NewRateLimiter(cfg.ViewRateLimit, cfg.ViewRateBurst)

	apiGroup := r.Group("/api")
	apiGroup.Use(api.LoadViewer())
	{
		auth := apiGroup.Group("/auth")
		{
			auth.POST("/signup", api.Signup)
			auth.POST("/login", api.Login)
			auth.POST("/logout", api.Logout)
		}

		apiGroup.GET("/posts", api.ListPosts)
		apiGroup.GET("/posts/:id", api.GetPost)
		apiGroup.GET("/tags", api.GetTags)

		member := apiGroup.Group("")
		member.Use(handler.RequireUser())
		{
			member.GET("/me", api.Me)
			member.GET("/me/tokens", api.MyTokens)
			member.GET("/me/posts", api.MyPosts)

			member.POST("/posts", api.CreatePost)
			member.PUT("/posts/:id", api.UpdatePost)
			member.POST("/posts/:id/view", viewLimiter.Middleware(), api.ViewPost)
			member.POST("/posts/:id/reports", api.ReportPost)
		}

		admin := apiGroup.Group("/admin")
		admin.Use(enforcer.Middleware(handler.ViewerRole))
		{
			admin.GET("/dashboard", api.AdminDashboard)

			admin.GET("/posts", api.AdminListPosts)
			admin.GET("/posts/:id", api.AdminGetPost)
			admin.PUT("/posts/:id/status", api.AdminUpdatePostStatus)

			admin.GET("/reports", api.AdminListReports)
			admin.PUT("/reports/:id/status", api.AdminUpdateReportStatus)

			admin.GET("/users", api.AdminListUsers)
			admin.PUT("/users/:id", api.AdminUpdateUser)
			admin.POST("/users/:id/tokens", api.AdminGrantTokens)
			admin.GET("/users/:id/ledger/verify", api.AdminVerifyLedger)

			admin.PUT("/tags/:id", api.AdminRenameTag)
			admin.DELETE("/tags/:id", api.AdminDeleteTag)

			admin.GET("/settings", api.AdminGetSettings)
			admin.PUT("/settings", api.AdminUpdateSettings)
		}
	}

	return r
}
