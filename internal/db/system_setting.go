package db

import "gorm.io/gorm"

// SystemSetting 存储后台可配置的系统级键值对。
type SystemSetting struct {
	gorm.Model
	Key   string `gorm:"size:100;uniqueIndex;not null"`
	Value string `gorm:"type:text"`
}

// TableName 自定义表名以保持命名一致。
func (SystemSetting) TableName() string {
	return "system_settings"
}

const (
	// SettingKeySiteName 表示站点名称。
	SettingKeySiteName = "site_name"
	// SettingKeySignupBonus 注册赠送代币数。
	SettingKeySignupBonus = "token_signup_bonus"
	// SettingKeyPostApprovedReward 文章审核通过奖励。
	SettingKeyPostApprovedReward = "token_post_approved_reward"
	// SettingKeyInviterReward 邀请人奖励。
	SettingKeyInviterReward = "token_inviter_reward"
	// SettingKeyInviteeBonus 被邀请人额外奖励。
	SettingKeyInviteeBonus = "token_invitee_bonus"
	// SettingKeyMonthlyFreeGrant 免费用户每月发放。
	SettingKeyMonthlyFreeGrant = "token_monthly_free_grant"
	// SettingKeyMonthlyPaidGrant 付费用户每月发放。
	SettingKeyMonthlyPaidGrant = "token_monthly_paid_grant"
)
