package db

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// 代币变动原因
const (
	TokenReasonSignup              = "signup"
	TokenReasonMonthlyFree         = "monthly_free"
	TokenReasonMonthlyPaid         = "monthly_paid"
	TokenReasonPostApprovedReward  = "post_approved_reward"
	TokenReasonInvitedUserReward   = "invited_user_reward"
	TokenReasonJoinedViaInvite     = "joined_via_invite_bonus"
	TokenReasonViewPostCost        = "view_post_cost"
	TokenReasonAdminGrant          = "admin_grant"
	TokenReasonSubscriptionPayment = "subscription_payment"
)

// ErrTokenLogImmutable 表示试图修改或删除已写入的流水。
var ErrTokenLogImmutable = errors.New("token log entries are immutable")

// TokenLog 是只追加的代币流水，BalanceAfterChange 为写入时的余额快照。
type TokenLog struct {
	ID                 uint   `gorm:"primaryKey"`
	UserID             uint   `gorm:"index;not null"`
	ChangeAmount       int64  `gorm:"not null"`
	Reason             string `gorm:"size:40;not null;index"`
	RelatedPostID      *uint  `gorm:"index"`
	RelatedUserID      *uint
	BalanceAfterChange int64     `gorm:"not null"`
	CreatedAt          time.Time `gorm:"index"`
}

// TableName 指定自定义表名。
func (TokenLog) TableName() string {
	return "tokens_log"
}

// BeforeUpdate 拒绝任何更新。
func (TokenLog) BeforeUpdate(*gorm.DB) error {
	return ErrTokenLogImmutable
}

// BeforeDelete 拒绝任何删除。
func (TokenLog) BeforeDelete(*gorm.DB) error {
	return ErrTokenLogImmutable
}

// ValidTokenReason 校验流水原因取值。
func ValidTokenReason(reason string) bool {
	switch reason {
	case TokenReasonSignup, TokenReasonMonthlyFree, TokenReasonMonthlyPaid,
		TokenReasonPostApprovedReward, TokenReasonInvitedUserReward, TokenReasonJoinedViaInvite,
		TokenReasonViewPostCost, TokenReasonAdminGrant, TokenReasonSubscriptionPayment:
		return true
	}
	return false
}
