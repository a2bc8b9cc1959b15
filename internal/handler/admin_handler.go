package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tokenboard/internal/db"
	"github.com/tokenboard/internal/logging"
	"github.com/tokenboard/internal/service"
)

type postStatusRequest struct {
	Status string `json:"status" binding:"required"`
	Reason string `json:"reason"`
}

type reportStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

type userUpdateRequest struct {
	Role *string `json:"role"`
	Tier *string `json:"tier"`
}

type tokenGrantRequest struct {
	Amount int64 `json:"amount" binding:"required"`
}

// AdminDashboard 返回后台统计。
func (a *API) AdminDashboard(c *gin.Context) {
	stats, err := a.dashboard.Stats()
	if err != nil {
		respondInternal(c, err, "failed to load dashboard")
		return
	}
	c.JSON(http.StatusOK, stats)
}

// AdminListPosts 按状态与关键字筛选文章。
func (a *API) AdminListPosts(c *gin.Context) {
	status := c.Query("status")
	if status != "" && !db.ValidPostStatus(status) {
		respondError(c, http.StatusBadRequest, "invalid status")
		return
	}

	page, limit := pageParams(c, 20)
	result, err := a.posts.ListForAdmin(service.PostFilter{
		Search:  c.Query("search"),
		Status:  status,
		Tag:     c.Query("tag"),
		Page:    page,
		PerPage: limit,
	})
	if err != nil {
		respondInternal(c, err, "failed to load posts")
		return
	}

	setPaginationHeaders(c, result.Total, result.Page, result.PerPage)
	c.JSON(http.StatusOK, gin.H{
		"items":      newPostSummaries(result.Posts),
		"total":      result.Total,
		"totalPages": result.TotalPages,
	})
}

// AdminGetPost 审核时查看全文，不经过账本。
func (a *API) AdminGetPost(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	post, err := a.posts.Get(id)
	if err != nil {
		if errors.Is(err, service.ErrPostNotFound) {
			respondError(c, http.StatusNotFound, err.Error())
			return
		}
		respondInternal(c, err, "failed to load post")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"post":    newPostSummary(post),
		"content": post.Content,
	})
}

// AdminUpdatePostStatus 审核文章：approved 通过账本发放奖励，rejected 必须附原因。
func (a *API) AdminUpdatePostStatus(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	var req postStatusRequest
	if !bindJSON(c, &req, "status is required") {
		return
	}

	admin := currentViewer(c)
	var post *db.Post
	switch req.Status {
	case db.PostStatusApproved:
		post, err = a.ledger.ApproveAndReward(c.Request.Context(), id, admin.UserID)
	case db.PostStatusRejected:
		post, err = a.posts.Reject(id, req.Reason)
	case db.PostStatusNeedsRevision:
		post, err = a.posts.RequestRevision(id, req.Reason)
	default:
		respondError(c, http.StatusBadRequest, "status must be approved, rejected or needs_revision")
		return
	}
	if err != nil {
		switch {
		case errors.Is(err, service.ErrPostNotFound):
			respondError(c, http.StatusNotFound, err.Error())
		case errors.Is(err, service.ErrInvalidStatusTransition):
			respondError(c, http.StatusConflict, err.Error())
		case errors.Is(err, service.ErrRejectionReasonRequired):
			respondError(c, http.StatusBadRequest, err.Error())
		default:
			respondInternal(c, err, "failed to update post status")
		}
		return
	}

	logging.Ctx(c.Request.Context()).Info().
		Uint("post_id", post.ID).
		Uint("admin_id", admin.UserID).
		Str("status", post.Status).
		Msg("post reviewed")
	c.JSON(http.StatusOK, newPostSummary(post))
}

// AdminListReports 举报列表。
func (a *API) AdminListReports(c *gin.Context) {
	page, limit := pageParams(c, 20)
	result, err := a.reports.List(service.ReportFilter{Status: c.Query("status"), Page: page, PerPage: limit})
	if err != nil {
		respondInternal(c, err, "failed to load reports")
		return
	}

	items := make([]reportResponse, 0, len(result.Reports))
	for i := range result.Reports {
		items = append(items, newReportResponse(&result.Reports[i]))
	}

	setPaginationHeaders(c, result.Total, result.Page, result.PerPage)
	c.JSON(http.StatusOK, gin.H{"items": items, "total": result.Total})
}

// AdminUpdateReportStatus 处理举报。
func (a *API) AdminUpdateReportStatus(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	var req reportStatusRequest
	if !bindJSON(c, &req, "status is required") {
		return
	}

	report, err := a.reports.UpdateStatus(id, currentViewer(c).UserID, req.Status)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrReportNotFound):
			respondError(c, http.StatusNotFound, err.Error())
		case errors.Is(err, service.ErrInvalidReportStatus):
			respondError(c, http.StatusBadRequest, err.Error())
		default:
			respondInternal(c, err, "failed to update report")
		}
		return
	}

	c.JSON(http.StatusOK, newReportResponse(report))
}

// AdminListUsers 用户列表，分页信息同时写入响应头。
func (a *API) AdminListUsers(c *gin.Context) {
	page, limit := pageParams(c, 20)
	result, err := a.users.List(service.UserFilter{
		Search:  c.Query("search"),
		Role:    c.Query("role"),
		Tier:    c.Query("tier"),
		Page:    page,
		PerPage: limit,
	})
	if err != nil {
		respondInternal(c, err, "failed to load users")
		return
	}

	items := make([]userResponse, 0, len(result.Users))
	for i := range result.Users {
		items = append(items, newUserResponse(&result.Users[i]))
	}

	setPaginationHeaders(c, result.Total, result.Page, result.PerPage)
	c.JSON(http.StatusOK, items)
}

// AdminUpdateUser 修改角色或订阅等级。
func (a *API) AdminUpdateUser(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	var req userUpdateRequest
	if !bindJSON(c, &req, "invalid payload") {
		return
	}

	user, err := a.users.Update(id, service.UserUpdate{Role: req.Role, Tier: req.Tier})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUserNotFound):
			respondError(c, http.StatusNotFound, err.Error())
		case errors.Is(err, service.ErrInvalidUserInput):
			respondError(c, http.StatusBadRequest, err.Error())
		default:
			respondInternal(c, err, "failed to update user")
		}
		return
	}

	c.JSON(http.StatusOK, newUserResponse(user))
}

// AdminGrantTokens 管理员调整余额，允许负数但不能扣成负余额。
func (a *API) AdminGrantTokens(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	var req tokenGrantRequest
	if !bindJSON(c, &req, "amount must be a non-zero integer") {
		return
	}

	admin := currentViewer(c)
	balance, err := a.ledger.Grant(c.Request.Context(), service.LedgerEntry{
		UserID:        id,
		Amount:        req.Amount,
		Reason:        db.TokenReasonAdminGrant,
		RelatedUserID: &admin.UserID,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUserNotFound):
			respondError(c, http.StatusNotFound, err.Error())
		case errors.Is(err, service.ErrInsufficientTokens):
			respondError(c, http.StatusConflict, err.Error())
		case errors.Is(err, service.ErrInvalidAmount):
			respondError(c, http.StatusBadRequest, err.Error())
		default:
			respondInternal(c, err, "failed to grant tokens")
		}
		return
	}

	logging.Ctx(c.Request.Context()).Info().
		Uint("user_id", id).
		Uint("admin_id", admin.UserID).
		Int64("amount", req.Amount).
		Msg("admin token grant")
	c.JSON(http.StatusOK, gin.H{"userId": id, "balance": balance})
}

// AdminVerifyLedger 重放用户流水并与余额对账。
func (a *API) AdminVerifyLedger(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	err = a.ledger.Verify(c.Request.Context(), id)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"userId": id, "consistent": true})
	case errors.Is(err, service.ErrUserNotFound):
		respondError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrLedgerInconsistent):
		c.JSON(http.StatusOK, gin.H{"userId": id, "consistent": false, "detail": err.Error()})
	default:
		respondInternal(c, err, "failed to verify ledger")
	}
}

// AdminGetSettings 读取代币策略。
func (a *API) AdminGetSettings(c *gin.Context) {
	policy, err := a.system.GetTokenPolicy()
	if err != nil {
		respondInternal(c, err, "failed to load settings")
		return
	}
	c.JSON(http.StatusOK, policy)
}

// AdminUpdateSettings 保存代币策略。
func (a *API) AdminUpdateSettings(c *gin.Context) {
	var req service.TokenPolicy
	if !bindJSON(c, &req, "invalid payload") {
		return
	}

	policy, err := a.system.UpdateTokenPolicy(req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidTokenPolicy) {
			respondError(c, http.StatusBadRequest, err.Error())
			return
		}
		respondInternal(c, err, "failed to save settings")
		return
	}
	c.JSON(http.StatusOK, policy)
}
