package service

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/tokenboard/internal/db"
	"github.com/tokenboard/internal/logging"
	"gorm.io/gorm"
)

// MonthlyGrantService 每月向用户发放一次代币，免费与付费用户数额不同。
type MonthlyGrantService struct {
	db       *gorm.DB
	ledger   *TokenLedger
	settings *SystemSettingService
}

// NewMonthlyGrantService 创建 MonthlyGrantService。
func NewMonthlyGrantService(gdb *gorm.DB, ledger *TokenLedger, settings *SystemSettingService) *MonthlyGrantService {
	return &MonthlyGrantService{db: gdb, ledger: ledger, settings: settings}
}

// MonthStart 返回 now 所在月份的第一个时刻（UTC）。
func MonthStart(now time.Time) time.Time {
	utc := now.UTC()
	return time.Date(utc.Year(), utc.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// RunOnce 为本月尚未领取的用户发放代币，每个用户单独一个事务；同月重复执行不会重复发放。
func (s *MonthlyGrantService) RunOnce(ctx context.Context, now time.Time) (int, error) {
	policy, err := s.settings.GetTokenPolicy()
	if err != nil {
		return 0, err
	}

	start := MonthStart(now)
	var ids []uint
	if err := s.db.WithContext(ctx).Model(&db.User{}).
		Where("last_monthly_token_granted_at IS NULL OR last_monthly_token_granted_at < ?", start).
		Order("id asc").
		Pluck("id", &ids).Error; err != nil {
		return 0, err
	}

	granted := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return granted, err
		}

		ok, err := s.grantUser(ctx, id, start, now.UTC(), policy)
		if err != nil {
			logging.Ctx(ctx).Error().Err(err).Uint("user_id", id).Msg("monthly token grant failed")
			continue
		}
		if ok {
			granted++
		}
	}

	logging.Ctx(ctx).Info().Int("granted", granted).Time("month", start).Msg("monthly token grant finished")
	return granted, nil
}

func (s *MonthlyGrantService) grantUser(ctx context.Context, userID uint, start, now time.Time, policy TokenPolicy) (bool, error) {
	granted := false
	err := s.ledger.Transact(ctx, func(tx *gorm.DB, writer LedgerWriter) error {
		res := tx.Model(&db.User{}).
			Where("id = ? AND (last_monthly_token_granted_at IS NULL OR last_monthly_token_granted_at < ?)", userID, start).
			UpdateColumn("last_monthly_token_granted_at", now)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		var user db.User
		if err := tx.Select("id", "tier").First(&user, userID).Error; err != nil {
			return err
		}

		amount, reason := policy.MonthlyFreeGrant, db.TokenReasonMonthlyFree
		if user.Tier == db.TierPaid {
			amount, reason = policy.MonthlyPaidGrant, db.TokenReasonMonthlyPaid
		}
		granted = true
		if amount <= 0 {
			return nil
		}
		_, err := writer.Apply(LedgerEntry{UserID: userID, Amount: amount, Reason: reason})
		return err
	})
	if err != nil {
		return false, err
	}
	return granted, nil
}

// Scheduler 按 cron 表达式周期性执行月度发放。
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler 注册发放任务；schedule 为空时返回 nil，表示不启用。
func NewScheduler(schedule string, svc *MonthlyGrantService) (*Scheduler, error) {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		return nil, nil
	}

	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(schedule, func() {
		ctx := context.Background()
		if _, err := svc.RunOnce(ctx, time.Now()); err != nil {
			logging.Error().Err(err).Msg("scheduled monthly token grant failed")
		}
	}); err != nil {
		return nil, err
	}
	return &Scheduler{cron: c}, nil
}

// Start 启动调度。
func (s *Scheduler) Start() {
	if s == nil {
		return
	}
	s.cron.Start()
}

// Stop 停止调度并等待正在执行的任务结束。
func (s *Scheduler) Stop(ctx context.Context) {
	if s == nil {
		return
	}
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}
