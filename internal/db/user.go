package db

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	// RoleUser 普通用户
	RoleUser = "user"
	// RoleAdmin 管理员
	RoleAdmin = "admin"

	// TierFree 免费用户，查看全文需要消耗代币
	TierFree = "free"
	// TierPaid 付费用户，可直接查看全文
	TierPaid = "paid"
)

// User 定义了用户模型，代币余额直接挂在用户行上，变更必须经由 TokenLedger。
type User struct {
	gorm.Model
	Username                  string `gorm:"unique;not null"`
	Password                  string `gorm:"not null"`
	Nickname                  string `gorm:"size:50;not null;default:''"`
	Role                      string `gorm:"size:16;not null;default:'user';index"`
	Tier                      string `gorm:"size:16;not null;default:'free';index"`
	TokenBalance              int64  `gorm:"not null;default:0;check:chk_users_token_balance,token_balance >= 0"`
	InviteCode                string `gorm:"size:32;uniqueIndex"`
	InvitedByUserID           *uint
	SuccessfulInvitesCount    int `gorm:"not null;default:0"`
	LastMonthlyTokenGrantedAt *time.Time
}

// BeforeCreate 为没有邀请码的新用户生成一个。
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if strings.TrimSpace(u.InviteCode) == "" {
		u.InviteCode = NewInviteCode()
	}
	return nil
}

// NewInviteCode 生成 12 位大写邀请码。
func NewInviteCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}

// IsAdmin 判断用户是否为管理员。
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// ValidRole 校验角色取值。
func ValidRole(role string) bool {
	return role == RoleUser || role == RoleAdmin
}

// ValidTier 校验订阅等级取值。
func ValidTier(tier string) bool {
	return tier == TierFree || tier == TierPaid
}
