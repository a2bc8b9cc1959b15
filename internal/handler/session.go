package handler

import (
	"errors"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/tokenboard/internal/db"
	"github.com/tokenboard/internal/logging"
	"github.com/tokenboard/internal/service"
)

const (
	sessionUserIDKey  = "user_id"
	viewerContextKey  = "__viewer"
	currentUserCtxKey = "__current_user"
)

// LoadViewer 根据会话重建查看者，会话中的用户已不存在时清空会话。
func (a *API) LoadViewer() gin.HandlerFunc {
	return func(c *gin.Context) {
		viewer := service.AnonymousViewer()

		session := sessions.Default(c)
		if userID, ok := sessionUserID(session.Get(sessionUserIDKey)); ok {
			user, err := a.users.Get(userID)
			switch {
			case err == nil:
				viewer = service.ViewerFromUser(*user)
				c.Set(currentUserCtxKey, user)
				c.Set(logging.UserIDContextKey, user.ID)
			case errors.Is(err, service.ErrUserNotFound):
				session.Clear()
				_ = session.Save()
			default:
				respondInternal(c, err, "failed to load session")
				c.Abort()
				return
			}
		}

		c.Set(viewerContextKey, viewer)
		c.Next()
	}
}

// RequireUser 未登录时返回 401。
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !currentViewer(c).Authenticated {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "login required"})
			return
		}
		c.Next()
	}
}

// ViewerRole 供 authz 中间件读取当前角色。
func ViewerRole(c *gin.Context) (string, bool) {
	viewer := currentViewer(c)
	if !viewer.Authenticated {
		return "", false
	}
	return viewer.Role, true
}

func currentViewer(c *gin.Context) service.Viewer {
	if value, ok := c.Get(viewerContextKey); ok {
		if viewer, ok := value.(service.Viewer); ok {
			return viewer
		}
	}
	return service.AnonymousViewer()
}

func currentUser(c *gin.Context) *db.User {
	if value, ok := c.Get(currentUserCtxKey); ok {
		if user, ok := value.(*db.User); ok {
			return user
		}
	}
	return nil
}

func sessionUserID(value interface{}) (uint, bool) {
	switch v := value.(type) {
	case uint:
		return v, v != 0
	case int:
		return uint(v), v > 0
	case int64:
		return uint(v), v > 0
	case uint64:
		return uint(v), v != 0
	case float64:
		return uint(v), v > 0
	default:
		return 0, false
	}
}
