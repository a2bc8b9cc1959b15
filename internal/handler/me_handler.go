package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Me 返回当前用户资料与余额。
func (a *API) Me(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		respondError(c, http.StatusUnauthorized, "login required")
		return
	}
	c.JSON(http.StatusOK, newUserResponse(user))
}

// MyTokens 返回当前用户的代币流水，最新的在前。
func (a *API) MyTokens(c *gin.Context) {
	viewer := currentViewer(c)
	page, limit := pageParams(c, 20)

	logs, total, err := a.ledger.History(c.Request.Context(), viewer.UserID, page, limit)
	if err != nil {
		respondInternal(c, err, "failed to load token history")
		return
	}

	balance, err := a.ledger.Balance(c.Request.Context(), viewer.UserID)
	if err != nil {
		respondInternal(c, err, "failed to load balance")
		return
	}

	setPaginationHeaders(c, total, page, limit)
	c.JSON(http.StatusOK, gin.H{
		"balance": balance,
		"items":   newTokenLogResponses(logs),
		"total":   total,
	})
}

// MyPosts 返回当前用户的全部文章（含未审核）。
func (a *API) MyPosts(c *gin.Context) {
	viewer := currentViewer(c)
	page, limit := pageParams(c, 10)
	result, err := a.posts.ListByOwner(viewer.UserID, page, limit)
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
