package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tokenboard/internal/db"
	"github.com/tokenboard/internal/logging"
	"github.com/tokenboard/internal/service"
)

// tagList 同时接受 ["a","b"] 与 "a,b" 两种写法。
type tagList []string

func (t *tagList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*t = list
		return nil
	}
	var joined string
	if err := json.Unmarshal(data, &joined); err != nil {
		return err
	}
	*t = strings.Split(joined, ",")
	return nil
}

type postRequest struct {
	Title     string  `json:"title" binding:"required"`
	Content   string  `json:"content" binding:"required"`
	Preview   string  `json:"preview"`
	Tags      tagList `json:"tags"`
	ViewLimit *int    `json:"viewLimit"`
}

func (r postRequest) input(userID uint) service.PostInput {
	return service.PostInput{
		Title:     r.Title,
		Content:   r.Content,
		Preview:   r.Preview,
		Tags:      r.Tags,
		ViewLimit: r.ViewLimit,
		UserID:    userID,
	}
}

type reportRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// ListPosts 返回已审核文章列表，只包含预览。
func (a *API) ListPosts(c *gin.Context) {
	page, limit := pageParams(c, 10)
	result, err := a.posts.ListApproved(service.PostFilter{
		Search:  c.Query("search"),
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

// GetPost 返回文章详情。只有免费访问或已付费的用户能拿到正文，其余只返回预览和 access 提示。
func (a *API) GetPost(c *gin.Context) {
	post, ok := a.loadVisiblePost(c)
	if !ok {
		return
	}

	viewer := currentViewer(c)
	verdict := service.EvaluateAccess(viewer, post)
	unlocked := verdict == service.VerdictFullAccessFree
	if verdict == service.VerdictFullAccessMetered {
		viewed, err := a.posts.HasViewed(viewer.UserID, post.ID)
		if err != nil {
			respondInternal(c, err, "failed to load post")
			return
		}
		unlocked = viewed
	}

	body := gin.H{
		"post":     newPostSummary(post),
		"access":   verdict.String(),
		"unlocked": unlocked,
	}
	if unlocked {
		rendered, err := renderMarkdown(post.Content)
		if err != nil {
			respondInternal(c, err, "failed to render post")
			return
		}
		body["content"] = post.Content
		body["html"] = rendered
	}

	c.JSON(http.StatusOK, body)
}

// ViewPost 是计量查看入口：200 返回全文，403 返回预览，401 未登录，500 账本暂不可用。
func (a *API) ViewPost(c *gin.Context) {
	viewer := currentViewer(c)
	if !viewer.Authenticated {
		c.JSON(http.StatusUnauthorized, gin.H{"canView": false, "error": "login required"})
		return
	}

	post, ok := a.loadVisiblePost(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	resolution, err := a.gate.ResolveView(ctx, viewer, post)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"canView": false, "error": "login required"})
			return
		}
		if errors.Is(err, service.ErrPostNotFound) || errors.Is(err, service.ErrPostNotPublished) {
			c.JSON(http.StatusNotFound, gin.H{"canView": false, "error": "post not found"})
			return
		}
		c.Error(err)
		logging.Ctx(ctx).Error().Err(err).Uint("post_id", post.ID).Msg("view gate failed")
		c.JSON(http.StatusInternalServerError, gin.H{"canView": false, "error": "token ledger temporarily unavailable, please retry"})
		return
	}

	if !resolution.CanView {
		c.JSON(http.StatusForbidden, gin.H{
			"canView": false,
			"message": resolution.Message,
			"content": resolution.Content,
			"balance": resolution.BalanceAfter,
			"access":  resolution.Verdict.String(),
		})
		return
	}

	balance := resolution.BalanceAfter
	if resolution.Verdict == service.VerdictFullAccessFree {
		if user := currentUser(c); user != nil {
			balance = user.TokenBalance
		}
	}

	rendered, err := renderMarkdown(resolution.Content)
	if err != nil {
		respondInternal(c, err, "failed to render post")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"canView": true,
		"content": resolution.Content,
		"html":    rendered,
		"balance": balance,
		"charged": resolution.Charged,
		"message": resolution.Message,
		"access":  resolution.Verdict.String(),
	})
}

// CreatePost 提交新文章，进入待审核。
func (a *API) CreatePost(c *gin.Context) {
	var req postRequest
	if !bindJSON(c, &req, "title and content are required") {
		return
	}

	viewer := currentViewer(c)
	post, err := a.posts.Create(req.input(viewer.UserID))
	if err != nil {
		if errors.Is(err, service.ErrInvalidPostInput) {
			respondError(c, http.StatusBadRequest, err.Error())
			return
		}
		respondInternal(c, err, "failed to create post")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"postId": post.ID, "status": post.Status})
}

// UpdatePost 作者修改待审核或需修改的文章。
func (a *API) UpdatePost(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	var req postRequest
	if !bindJSON(c, &req, "title and content are required") {
		return
	}

	viewer := currentViewer(c)
	post, err := a.posts.Update(id, viewer.UserID, req.input(viewer.UserID))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrPostNotFound):
			respondError(c, http.StatusNotFound, err.Error())
		case errors.Is(err, service.ErrNotPostOwner):
			respondError(c, http.StatusForbidden, err.Error())
		case errors.Is(err, service.ErrPostNotEditable):
			respondError(c, http.StatusConflict, err.Error())
		case errors.Is(err, service.ErrInvalidPostInput):
			respondError(c, http.StatusBadRequest, err.Error())
		default:
			respondInternal(c, err, "failed to update post")
		}
		return
	}

	c.JSON(http.StatusOK, newPostSummary(post))
}

// ReportPost 举报文章。
func (a *API) ReportPost(c *gin.Context) {
	post, ok := a.loadVisiblePost(c)
	if !ok {
		return
	}

	var req reportRequest
	if !bindJSON(c, &req, "reason is required") {
		return
	}

	report, err := a.reports.Create(post.ID, currentViewer(c).UserID, req.Reason)
	if err != nil {
		if errors.Is(err, service.ErrInvalidReportInput) {
			respondError(c, http.StatusBadRequest, err.Error())
			return
		}
		respondInternal(c, err, "failed to create report")
		return
	}

	c.JSON(http.StatusCreated, newReportResponse(report))
}

// loadVisiblePost 读取路径中的文章；不存在或对当前查看者不可见时写入 404。
func (a *API) loadVisiblePost(c *gin.Context) (*db.Post, bool) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return nil, false
	}

	post, err := a.posts.Get(id)
	if err != nil {
		if errors.Is(err, service.ErrPostNotFound) {
			respondError(c, http.StatusNotFound, "post not found")
			return nil, false
		}
		respondInternal(c, err, "failed to load post")
		return nil, false
	}

	if !service.VisibleTo(post, currentViewer(c)) {
		respondError(c, http.StatusNotFound, "post not found")
		return nil, false
	}
	return post, true
}
