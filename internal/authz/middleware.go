package authz

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tokenboard/internal/logging"
)

// RoleFunc 从请求上下文中取出当前用户的角色，未登录时 ok 为 false。
type RoleFunc func(c *gin.Context) (role string, ok bool)

// Middleware 按请求路径与方法鉴权，未登录返回 401，无权限返回 403。
func (e *Enforcer) Middleware(roleOf RoleFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, ok := roleOf(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "login required"})
			return
		}

		allowed, err := e.Enforce(role, c.Request.URL.Path, methodToAction(c.Request.Method))
		if err != nil {
			logging.Ctx(c.Request.Context()).Error().Err(err).Msg("authorization error")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "authorization failed"})
			return
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
			return
		}

		c.Next()
	}
}
