package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tokenboard/internal/db"
	"github.com/tokenboard/internal/logging"
	"github.com/tokenboard/internal/metrics"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ViewPostCost 每次计量查看扣除的代币数。
const ViewPostCost int64 = 1

// 账本返回给调用方的消息
const (
	MessageInsufficientTokens = "insufficient tokens"
	MessageViewCharged        = "view granted"
	MessageAlreadyPurchased   = "already purchased"
)

var (
	ErrInsufficientTokens      = errors.New("insufficient tokens")
	ErrLedgerUnavailable       = errors.New("token ledger unavailable")
	ErrUserNotFound            = errors.New("user not found")
	ErrInvalidAmount           = errors.New("token amount must not be zero")
	ErrInvalidTokenReason      = errors.New("unknown token reason")
	ErrInvalidStatusTransition = errors.New("post status transition not allowed")
	ErrLedgerInconsistent      = errors.New("token ledger does not match balance")
	ErrPostNotPublished        = errors.New("post is not published")
)

// ConsumeResult 是 ConsumeForView 的结果，字段均为必填。
type ConsumeResult struct {
	Allowed      bool
	Message      string
	BalanceAfter int64
	// Charged 为 true 表示本次调用实际扣除了代币。
	Charged bool
}

// LedgerEntry 描述一次余额变动。
type LedgerEntry struct {
	UserID        uint
	Amount        int64
	Reason        string
	RelatedPostID *uint
	RelatedUserID *uint
}

// LedgerWriter 在同一事务内写入余额变动。
type LedgerWriter interface {
	Apply(entry LedgerEntry) (int64, error)
}

// TokenLedger 是余额与流水的唯一写入方。
type TokenLedger struct {
	db       *gorm.DB
	settings *SystemSettingService
	now      func() time.Time
}

// NewTokenLedger 创建 TokenLedger。
func NewTokenLedger(gdb *gorm.DB, settings *SystemSettingService) *TokenLedger {
	return &TokenLedger{
		db:       gdb,
		settings: settings,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock 允许在测试中固定时间。
func (l *TokenLedger) WithClock(now func() time.Time) *TokenLedger {
	if now != nil {
		l.now = now
	}
	return l
}

type ledgerTx struct {
	tx      *gorm.DB
	now     time.Time
	reasons []string
}

// Apply 以条件更新的方式调整余额并追加流水，余额不足时返回 ErrInsufficientTokens。
func (t *ledgerTx) Apply(entry LedgerEntry) (int64, error) {
	if entry.Amount == 0 {
		return 0, ErrInvalidAmount
	}
	if !db.ValidTokenReason(entry.Reason) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTokenReason, entry.Reason)
	}

	res := t.tx.Model(&db.User{}).
		Where("id = ? AND token_balance + ? >= 0", entry.UserID, entry.Amount).
		UpdateColumn("token_balance", gorm.Expr("token_balance + ?", entry.Amount))
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := t.tx.Model(&db.User{}).Where("id = ?", entry.UserID).Count(&count).Error; err != nil {
			return 0, err
		}
		if count == 0 {
			return 0, ErrUserNotFound
		}
		return 0, ErrInsufficientTokens
	}

	balance, err := balanceOf(t.tx, entry.UserID)
	if err != nil {
		return 0, err
	}

	record := db.TokenLog{
		UserID:             entry.UserID,
		ChangeAmount:       entry.Amount,
		Reason:             entry.Reason,
		RelatedPostID:      entry.RelatedPostID,
		RelatedUserID:      entry.RelatedUserID,
		BalanceAfterChange: balance,
		CreatedAt:          t.now,
	}
	if err := t.tx.Create(&record).Error; err != nil {
		return 0, err
	}

	t.reasons = append(t.reasons, entry.Reason)
	return balance, nil
}

func balanceOf(tx *gorm.DB, userID uint) (int64, error) {
	var user db.User
	if err := tx.Select("id", "token_balance").First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrUserNotFound
		}
		return 0, err
	}
	return user.TokenBalance, nil
}

// Transact 在单个事务中执行 fn，fn 内的所有余额变动通过 writer 写入；事务提交后才计入指标。
// fn 内只能使用传入的 tx，sqlite 单连接下使用其它句柄会互相等待。
func (l *TokenLedger) Transact(ctx context.Context, fn func(tx *gorm.DB, writer LedgerWriter) error) error {
	lt := &ledgerTx{now: l.now()}
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lt.tx = tx
		lt.reasons = lt.reasons[:0]
		return fn(tx, lt)
	})
	if err != nil {
		return err
	}
	for _, reason := range lt.reasons {
		metrics.RecordLedgerEntry(reason)
	}
	return nil
}

// Grant 写入单条余额变动（注册、管理员发放、月度发放等），返回变动后的余额。
func (l *TokenLedger) Grant(ctx context.Context, entry LedgerEntry) (int64, error) {
	var balance int64
	err := l.Transact(ctx, func(_ *gorm.DB, writer LedgerWriter) error {
		var applyErr error
		balance, applyErr = writer.Apply(entry)
		return applyErr
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// ConsumeForView 对 (userID, postID) 计量查看：已付费直接放行，否则原子地扣 1 个代币、
// 追加流水并写入查看记录。post_views 的唯一索引是并发请求的串行化点。
// 存储故障以 ErrLedgerUnavailable 返回，与余额不足的业务拒绝区分。
// 只有已审核的文章会被计量，文章不存在返回 ErrPostNotFound，未审核返回 ErrPostNotPublished。
func (l *TokenLedger) ConsumeForView(ctx context.Context, userID, postID uint) (ConsumeResult, error) {
	if userID == 0 || postID == 0 {
		return ConsumeResult{}, errors.New("invalid user or post id")
	}

	var (
		result   ConsumeResult
		observed int64
	)

	err := l.Transact(ctx, func(tx *gorm.DB, writer LedgerWriter) error {
		var post db.Post
		if err := tx.Select("id", "status").First(&post, postID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPostNotFound
			}
			return err
		}
		if post.Status != db.PostStatusApproved {
			return ErrPostNotPublished
		}

		view := db.PostView{UserID: userID, PostID: postID, CreatedAt: l.now()}
		insert := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "post_id"}},
			DoNothing: true,
		}).Create(&view)
		if insert.Error != nil {
			return insert.Error
		}

		if insert.RowsAffected == 0 {
			balance, err := balanceOf(tx, userID)
			if err != nil {
				return err
			}
			result = ConsumeResult{Allowed: true, Message: MessageAlreadyPurchased, BalanceAfter: balance}
			return nil
		}

		balance, err := writer.Apply(LedgerEntry{
			UserID:        userID,
			Amount:        -ViewPostCost,
			Reason:        db.TokenReasonViewPostCost,
			RelatedPostID: &postID,
		})
		if err != nil {
			if errors.Is(err, ErrInsufficientTokens) {
				current, balanceErr := balanceOf(tx, userID)
				if balanceErr != nil {
					return balanceErr
				}
				observed = current
			}
			return err
		}

		if err := tx.Model(&db.Post{}).
			Where("id = ?", postID).
			UpdateColumn("view_count", gorm.Expr("view_count + ?", 1)).Error; err != nil {
			return err
		}

		result = ConsumeResult{Allowed: true, Charged: true, Message: MessageViewCharged, BalanceAfter: balance}
		return nil
	})

	switch {
	case err == nil:
		if result.Charged {
			metrics.RecordViewDecision(metrics.OutcomeCharged)
		} else {
			metrics.RecordViewDecision(metrics.OutcomeAlreadyPaid)
		}
		logging.Ctx(ctx).Debug().
			Uint("user_id", userID).
			Uint("post_id", postID).
			Bool("charged", result.Charged).
			Int64("balance", result.BalanceAfter).
			Msg("metered view allowed")
		return result, nil
	case errors.Is(err, ErrInsufficientTokens):
		metrics.RecordViewDecision(metrics.OutcomeInsufficient)
		return ConsumeResult{Allowed: false, Message: MessageInsufficientTokens, BalanceAfter: observed}, nil
	case errors.Is(err, ErrUserNotFound), errors.Is(err, ErrPostNotFound), errors.Is(err, ErrPostNotPublished):
		return ConsumeResult{}, err
	default:
		metrics.RecordViewDecision(metrics.OutcomeFailed)
		logging.Ctx(ctx).Error().Err(err).
			Uint("user_id", userID).
			Uint("post_id", postID).
			Msg("consume token for view failed")
		return ConsumeResult{}, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
}

// ApproveAndReward 在同一事务内把待审核文章改为 approved 并向作者发放奖励，
// 两者要么同时生效要么都不生效。只有 pending 状态的文章可以通过审核。
func (l *TokenLedger) ApproveAndReward(ctx context.Context, postID, adminID uint) (*db.Post, error) {
	policy, err := l.policy()
	if err != nil {
		return nil, err
	}

	err = l.Transact(ctx, func(tx *gorm.DB, writer LedgerWriter) error {
		var post db.Post
		if err := tx.Select("id", "user_id", "status").First(&post, postID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPostNotFound
			}
			return err
		}
		if post.Status != db.PostStatusPending {
			return ErrInvalidStatusTransition
		}

		approvedAt := l.now()
		res := tx.Model(&db.Post{}).
			Where("id = ? AND status = ?", postID, db.PostStatusPending).
			Updates(map[string]interface{}{
				"status":           db.PostStatusApproved,
				"approved_at":      approvedAt,
				"rejection_reason": "",
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInvalidStatusTransition
		}

		admin := adminID
		_, err := writer.Apply(LedgerEntry{
			UserID:        post.UserID,
			Amount:        policy.PostApprovedReward,
			Reason:        db.TokenReasonPostApprovedReward,
			RelatedPostID: &postID,
			RelatedUserID: &admin,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	var post db.Post
	if err := l.db.WithContext(ctx).Preload("User").Preload("Tags").First(&post, postID).Error; err != nil {
		return nil, err
	}
	return &post, nil
}

// Balance 返回用户当前余额。
func (l *TokenLedger) Balance(ctx context.Context, userID uint) (int64, error) {
	return balanceOf(l.db.WithContext(ctx), userID)
}

// History 返回用户的代币流水，按时间倒序分页。
func (l *TokenLedger) History(ctx context.Context, userID uint, page, perPage int) ([]db.TokenLog, int64, error) {
	page, perPage = normalizePage(page, perPage)

	query := l.db.WithContext(ctx).Model(&db.TokenLog{}).Where("user_id = ?", userID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var logs []db.TokenLog
	if err := query.Order("id desc").Limit(perPage).Offset((page - 1) * perPage).Find(&logs).Error; err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}

// Verify 按写入顺序重放流水，检查每条快照等于前缀和且最终余额与用户行一致。
func (l *TokenLedger) Verify(ctx context.Context, userID uint) error {
	balance, err := l.Balance(ctx, userID)
	if err != nil {
		return err
	}

	var logs []db.TokenLog
	if err := l.db.WithContext(ctx).Where("user_id = ?", userID).Order("id asc").Find(&logs).Error; err != nil {
		return err
	}

	var running int64
	for _, entry := range logs {
		running += entry.ChangeAmount
		if running != entry.BalanceAfterChange || running < 0 {
			return fmt.Errorf("%w: entry %d snapshot %d, replayed %d", ErrLedgerInconsistent, entry.ID, entry.BalanceAfterChange, running)
		}
	}
	if running != balance {
		return fmt.Errorf("%w: replayed %d, balance %d", ErrLedgerInconsistent, running, balance)
	}
	return nil
}

func (l *TokenLedger) policy() (TokenPolicy, error) {
	if l.settings == nil {
		return DefaultTokenPolicy(), nil
	}
	return l.settings.GetTokenPolicy()
}

func normalizePage(page, perPage int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 10
	}
	if perPage > 100 {
		perPage = 100
	}
	return page, perPage
}
