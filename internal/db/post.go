package db

import (
	"strings"
	"time"
	"unicode"

	"gorm.io/gorm"
)

const (
	// PostStatusPending 等待审核
	PostStatusPending = "pending"
	// PostStatusApproved 审核通过，对外可见
	PostStatusApproved = "approved"
	// PostStatusRejected 审核驳回
	PostStatusRejected = "rejected"
	// PostStatusNeedsRevision 需要作者修改后重新提交
	PostStatusNeedsRevision = "needs_revision"
)

// DefaultPreviewRunes 是未存储预览时截取正文的长度。
const DefaultPreviewRunes = 200

// Post 定义了文章模型
type Post struct {
	gorm.Model
	Title           string `gorm:"size:100;not null"`
	Content         string `gorm:"type:text;not null"`
	Preview         string `gorm:"type:text"`
	Status          string `gorm:"size:20;not null;default:'pending';index"`
	RejectionReason string `gorm:"type:text"`
	ApprovedAt      *time.Time
	ViewLimit       *int
	ViewCount       int64 `gorm:"not null;default:0"`
	UserID          uint  `gorm:"index;not null"`
	User            User
	Tags            []Tag `gorm:"many2many:post_tags;"`
}

// PreviewText 返回可公开的预览：优先使用存储的预览，否则截取正文前若干字符。
func (p Post) PreviewText() string {
	if preview := strings.TrimSpace(p.Preview); preview != "" {
		return preview
	}
	return DerivePreview(p.Content, DefaultPreviewRunes)
}

// ValidPostStatus 校验文章状态取值。
func ValidPostStatus(status string) bool {
	switch status {
	case PostStatusPending, PostStatusApproved, PostStatusRejected, PostStatusNeedsRevision:
		return true
	}
	return false
}

// DerivePreview 截取正文前 limit 个字符作为预览，按 rune 截断避免切断多字节字符。
func DerivePreview(content string, limit int) string {
	trimmed := strings.TrimSpace(content)
	if limit <= 0 || trimmed == "" {
		return ""
	}

	runes := []rune(trimmed)
	if len(runes) <= limit {
		return trimmed
	}

	return strings.TrimRightFunc(string(runes[:limit]), unicode.IsSpace)
}
