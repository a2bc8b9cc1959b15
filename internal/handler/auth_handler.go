package handler

import (
	"errors"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/tokenboard/internal/logging"
	"github.com/tokenboard/internal/service"
)

type signupRequest struct {
	Username   string `json:"username" binding:"required"`
	Password   string `json:"password" binding:"required"`
	Nickname   string `json:"nickname"`
	InviteCode string `json:"inviteCode"`
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Signup 注册新用户，成功后直接建立会话。
func (a *API) Signup(c *gin.Context) {
	var req signupRequest
	if !bindJSON(c, &req, "username and password are required") {
		return
	}

	user, err := a.users.Register(c.Request.Context(), service.RegisterInput{
		Username:   req.Username,
		Password:   req.Password,
		Nickname:   req.Nickname,
		InviteCode: req.InviteCode,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrDuplicateUsername):
			respondError(c, http.StatusConflict, err.Error())
		case errors.Is(err, service.ErrInvalidInviteCode), errors.Is(err, service.ErrInvalidUserInput):
			respondError(c, http.StatusBadRequest, err.Error())
		default:
			respondInternal(c, err, "failed to create user")
		}
		return
	}

	if err := startSession(c, user.ID); err != nil {
		respondInternal(c, err, "failed to save session")
		return
	}

	logging.Ctx(c.Request.Context()).Info().Uint("user_id", user.ID).Bool("invited", user.InvitedByUserID != nil).Msg("user signed up")
	c.JSON(http.StatusCreated, gin.H{
		"userId":     user.ID,
		"inviteCode": user.InviteCode,
		"balance":    user.TokenBalance,
	})
}

// Login 校验账号密码并写入会话。
func (a *API) Login(c *gin.Context) {
	var req loginRequest
	if !bindJSON(c, &req, "username and password are required") {
		return
	}

	user, err := a.users.Authenticate(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			respondError(c, http.StatusUnauthorized, err.Error())
			return
		}
		respondInternal(c, err, "failed to authenticate")
		return
	}

	if err := startSession(c, user.ID); err != nil {
		respondInternal(c, err, "failed to save session")
		return
	}

	c.JSON(http.StatusOK, newUserResponse(user))
}

// Logout 清空会话。
func (a *API) Logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	session.Options(sessions.Options{Path: "/", MaxAge: -1})
	if err := session.Save(); err != nil {
		respondInternal(c, err, "failed to clear session")
		return
	}
	c.Status(http.StatusNoContent)
}

func startSession(c *gin.Context, userID uint) error {
	session := sessions.Default(c)
	session.Clear()
	session.Set(sessionUserIDKey, userID)
	return session.Save()
}
