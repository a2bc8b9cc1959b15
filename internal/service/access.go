package service

import "github.com/tokenboard/internal/db"

// Verdict 描述某个查看者对某篇文章的披露策略。
type Verdict int

const (
	// VerdictPreviewOnly 只能看到预览
	VerdictPreviewOnly Verdict = iota
	// VerdictFullAccessFree 可免费查看全文，不经过账本
	VerdictFullAccessFree
	// VerdictFullAccessMetered 查看全文前必须经账本扣费
	VerdictFullAccessMetered
)

// String 返回 verdict 的对外名称，与接口中的 access 字段一致。
func (v Verdict) String() string {
	switch v {
	case VerdictFullAccessFree:
		return "full"
	case VerdictFullAccessMetered:
		return "metered"
	default:
		return "preview"
	}
}

// Viewer 是按请求从会话重建的查看者上下文。
type Viewer struct {
	Authenticated bool
	UserID        uint
	Tier          string
	Role          string
}

// AnonymousViewer 未登录访客。
func AnonymousViewer() Viewer {
	return Viewer{}
}

// ViewerFromUser 由用户记录构造查看者。
func ViewerFromUser(user db.User) Viewer {
	return Viewer{
		Authenticated: user.ID != 0,
		UserID:        user.ID,
		Tier:          user.Tier,
		Role:          user.Role,
	}
}

// IsAdmin 判断查看者是否为管理员。
func (v Viewer) IsAdmin() bool {
	return v.Authenticated && v.Role == db.RoleAdmin
}

// EvaluateAccess 是纯函数：按优先级判断未登录、付费或作者本人、其余计量。
// post 必须已由调用方确认存在。
func EvaluateAccess(viewer Viewer, post *db.Post) Verdict {
	if !viewer.Authenticated {
		return VerdictPreviewOnly
	}
	if viewer.Tier == db.TierPaid || viewer.UserID == post.UserID {
		return VerdictFullAccessFree
	}
	return VerdictFullAccessMetered
}
