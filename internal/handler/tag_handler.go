package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tokenboard/internal/service"
)

type tagRequest struct {
	Name string `json:"name" binding:"required"`
}

// GetTags 获取已审核文章的标签统计
func (a *API) GetTags(c *gin.Context) {
	usage, err := a.tags.ApprovedUsage()
	if err != nil {
		respondInternal(c, err, "failed to load tags")
		return
	}
	c.JSON(http.StatusOK, gin.H{"tags": usage})
}

// AdminRenameTag 重命名标签
func (a *API) AdminRenameTag(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	var req tagRequest
	if !bindJSON(c, &req, "name is required") {
		return
	}

	tag, err := a.tags.Rename(id, req.Name)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrTagExists):
			respondError(c, http.StatusConflict, err.Error())
		case errors.Is(err, service.ErrTagNotFound):
			respondError(c, http.StatusNotFound, err.Error())
		case errors.Is(err, service.ErrInvalidTag):
			respondError(c, http.StatusBadRequest, err.Error())
		default:
			respondInternal(c, err, "failed to rename tag")
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": tag.ID, "name": tag.Name})
}

// AdminDeleteTag 删除未被使用的标签
func (a *API) AdminDeleteTag(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.tags.Delete(id); err != nil {
		switch {
		case errors.Is(err, service.ErrTagInUse):
			respondError(c, http.StatusConflict, err.Error())
		case errors.Is(err, service.ErrTagNotFound):
			respondError(c, http.StatusNotFound, err.Error())
		default:
			respondInternal(c, err, "failed to delete tag")
		}
		return
	}

	c.Status(http.StatusNoContent)
}
