package service

import (
	"github.com/tokenboard/internal/db"
	"gorm.io/gorm"
)

// DashboardStats 后台首页的汇总数字。
type DashboardStats struct {
	Users               int64 `json:"users"`
	PendingPosts        int64 `json:"pendingPosts"`
	ApprovedPosts       int64 `json:"approvedPosts"`
	OpenReports         int64 `json:"openReports"`
	TokensInCirculation int64 `json:"tokensInCirculation"`
}

// DashboardService 汇总后台统计数据。
type DashboardService struct {
	db *gorm.DB
}

// NewDashboardService 创建 DashboardService。
func NewDashboardService(gdb *gorm.DB) *DashboardService {
	return &DashboardService{db: gdb}
}

// Stats 读取当前统计。
func (s *DashboardService) Stats() (DashboardStats, error) {
	var stats DashboardStats

	if err := s.db.Model(&db.User{}).Count(&stats.Users).Error; err != nil {
		return stats, err
	}
	if err := s.db.Model(&db.Post{}).Where("status = ?", db.PostStatusPending).Count(&stats.PendingPosts).Error; err != nil {
		return stats, err
	}
	if err := s.db.Model(&db.Post{}).Where("status = ?", db.PostStatusApproved).Count(&stats.ApprovedPosts).Error; err != nil {
		return stats, err
	}
	if err := s.db.Model(&db.Report{}).
		Where("status IN ?", []string{db.ReportStatusReceived, db.ReportStatusProcessing}).
		Count(&stats.OpenReports).Error; err != nil {
		return stats, err
	}
	if err := s.db.Model(&db.User{}).
		Select("COALESCE(SUM(token_balance), 0)").
		Scan(&stats.TokensInCirculation).Error; err != nil {
		return stats, err
	}

	return stats, nil
}
