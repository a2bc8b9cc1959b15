package service

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tokenboard/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultSiteName = "TokenBoard"

// TokenPolicy 描述各类代币发放的数额，查看扣费固定为 ViewPostCost。
type TokenPolicy struct {
	SiteName           string `json:"siteName"`
	SignupBonus        int64  `json:"signupBonus"`
	PostApprovedReward int64  `json:"postApprovedReward"`
	InviterReward      int64  `json:"inviterReward"`
	InviteeBonus       int64  `json:"inviteeBonus"`
	MonthlyFreeGrant   int64  `json:"monthlyFreeGrant"`
	MonthlyPaidGrant   int64  `json:"monthlyPaidGrant"`
}

// ErrInvalidTokenPolicy 表示代币策略数值不合法。
var ErrInvalidTokenPolicy = errors.New("invalid token policy")

// DefaultTokenPolicy 未配置时使用的默认值。
func DefaultTokenPolicy() TokenPolicy {
	return TokenPolicy{
		SiteName:           defaultSiteName,
		SignupBonus:        5,
		PostApprovedReward: 3,
		InviterReward:      5,
		InviteeBonus:       3,
		MonthlyFreeGrant:   10,
		MonthlyPaidGrant:   30,
	}
}

// Validate 检查数值范围；审核奖励至少为 1，保证每次审核通过都对应一条流水。
func (p TokenPolicy) Validate() error {
	amounts := map[string]int64{
		"signupBonus":      p.SignupBonus,
		"inviterReward":    p.InviterReward,
		"inviteeBonus":     p.InviteeBonus,
		"monthlyFreeGrant": p.MonthlyFreeGrant,
		"monthlyPaidGrant": p.MonthlyPaidGrant,
	}
	for name, value := range amounts {
		if value < 0 {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalidTokenPolicy, name)
		}
	}
	if p.PostApprovedReward < 1 {
		return fmt.Errorf("%w: postApprovedReward must be at least 1", ErrInvalidTokenPolicy)
	}
	return nil
}

// SystemSettingService 提供系统设置的读取与更新能力。
type SystemSettingService struct {
	db *gorm.DB
}

// NewSystemSettingService 构造 SystemSettingService。
func NewSystemSettingService(gdb *gorm.DB) *SystemSettingService {
	return &SystemSettingService{db: gdb}
}

var settingKeys = []string{
	db.SettingKeySiteName,
	db.SettingKeySignupBonus,
	db.SettingKeyPostApprovedReward,
	db.SettingKeyInviterReward,
	db.SettingKeyInviteeBonus,
	db.SettingKeyMonthlyFreeGrant,
	db.SettingKeyMonthlyPaidGrant,
}

// GetTokenPolicy 读取代币策略，未设置或无法解析的键回退默认值。
func (s *SystemSettingService) GetTokenPolicy() (TokenPolicy, error) {
	result := DefaultTokenPolicy()

	var records []db.SystemSetting
	if err := s.db.Where("key IN ?", settingKeys).Find(&records).Error; err != nil {
		return result, fmt.Errorf("load system settings: %w", err)
	}

	for _, record := range records {
		if record.Key == db.SettingKeySiteName {
			if strings.TrimSpace(record.Value) != "" {
				result.SiteName = record.Value
			}
			continue
		}

		value, err := strconv.ParseInt(strings.TrimSpace(record.Value), 10, 64)
		if err != nil {
			continue
		}
		switch record.Key {
		case db.SettingKeySignupBonus:
			result.SignupBonus = value
		case db.SettingKeyPostApprovedReward:
			result.PostApprovedReward = value
		case db.SettingKeyInviterReward:
			result.InviterReward = value
		case db.SettingKeyInviteeBonus:
			result.InviteeBonus = value
		case db.SettingKeyMonthlyFreeGrant:
			result.MonthlyFreeGrant = value
		case db.SettingKeyMonthlyPaidGrant:
			result.MonthlyPaidGrant = value
		}
	}

	return result, nil
}

// UpdateTokenPolicy 保存代币策略，未填写站点名称时回退默认值。
func (s *SystemSettingService) UpdateTokenPolicy(input TokenPolicy) (TokenPolicy, error) {
	sanitized := input
	sanitized.SiteName = strings.TrimSpace(input.SiteName)
	if sanitized.SiteName == "" {
		sanitized.SiteName = defaultSiteName
	}
	if err := sanitized.Validate(); err != nil {
		return TokenPolicy{}, err
	}

	values := map[string]string{
		db.SettingKeySiteName:           sanitized.SiteName,
		db.SettingKeySignupBonus:        strconv.FormatInt(sanitized.SignupBonus, 10),
		db.SettingKeyPostApprovedReward: strconv.FormatInt(sanitized.PostApprovedReward, 10),
		db.SettingKeyInviterReward:      strconv.FormatInt(sanitized.InviterReward, 10),
		db.SettingKeyInviteeBonus:       strconv.FormatInt(sanitized.InviteeBonus, 10),
		db.SettingKeyMonthlyFreeGrant:   strconv.FormatInt(sanitized.MonthlyFreeGrant, 10),
		db.SettingKeyMonthlyPaidGrant:   strconv.FormatInt(sanitized.MonthlyPaidGrant, 10),
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		for _, key := range settingKeys {
			if err := upsertSetting(tx, key, values[key]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return TokenPolicy{}, fmt.Errorf("update system settings: %w", err)
	}

	return sanitized, nil
}

func upsertSetting(tx *gorm.DB, key, value string) error {
	setting := db.SystemSetting{Key: key, Value: value}
	if err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"value":      value,
			"updated_at": gorm.Expr("CURRENT_TIMESTAMP"),
		}),
	}).Create(&setting).Error; err != nil {
		return fmt.Errorf("upsert setting %s: %w", key, err)
	}
	return nil
}
