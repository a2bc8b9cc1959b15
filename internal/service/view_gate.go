package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/tokenboard/internal/db"
)

// MessageLoginRequired 未登录访客只能看到预览。
const MessageLoginRequired = "login required to read the full post"

// TokenConsumer 是 ViewGate 依赖的扣费能力，TokenLedger 实现了它。
type TokenConsumer interface {
	ConsumeForView(ctx context.Context, userID, postID uint) (ConsumeResult, error)
}

// ViewResolution 是一次查看请求的最终结果。
type ViewResolution struct {
	CanView      bool
	Content      string
	Message      string
	Verdict      Verdict
	BalanceAfter int64
	Charged      bool
}

// ViewGate 组合访问判定与账本，决定返回全文还是预览。
type ViewGate struct {
	ledger TokenConsumer
}

// NewViewGate 创建 ViewGate。
func NewViewGate(ledger TokenConsumer) *ViewGate {
	return &ViewGate{ledger: ledger}
}

// ResolveView 对已确认可见的文章给出查看结果。
// 账本故障返回 ErrLedgerUnavailable，调用方不得把它当成拒绝。
func (g *ViewGate) ResolveView(ctx context.Context, viewer Viewer, post *db.Post) (ViewResolution, error) {
	verdict := EvaluateAccess(viewer, post)

	switch verdict {
	case VerdictFullAccessFree:
		return ViewResolution{CanView: true, Content: post.Content, Verdict: verdict}, nil
	case VerdictPreviewOnly:
		return ViewResolution{Content: post.PreviewText(), Message: MessageLoginRequired, Verdict: verdict}, nil
	}

	result, err := g.ledger.ConsumeForView(ctx, viewer.UserID, post.ID)
	if err != nil {
		if errors.Is(err, ErrLedgerUnavailable) || errors.Is(err, ErrUserNotFound) ||
			errors.Is(err, ErrPostNotFound) || errors.Is(err, ErrPostNotPublished) {
			return ViewResolution{Verdict: verdict}, err
		}
		return ViewResolution{Verdict: verdict}, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}

	if !result.Allowed {
		return ViewResolution{
			Content:      post.PreviewText(),
			Message:      result.Message,
			Verdict:      verdict,
			BalanceAfter: result.BalanceAfter,
		}, nil
	}

	return ViewResolution{
		CanView:      true,
		Content:      post.Content,
		Message:      result.Message,
		Verdict:      verdict,
		BalanceAfter: result.BalanceAfter,
		Charged:      result.Charged,
	}, nil
}
