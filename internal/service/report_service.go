package service

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tokenboard/internal/db"
	"gorm.io/gorm"
)

const maxReportReasonRunes = 500

var (
	ErrReportNotFound      = errors.New("report not found")
	ErrInvalidReportInput  = errors.New("invalid report input")
	ErrInvalidReportStatus = errors.New("invalid report status")
)

// ReportFilter 后台举报列表过滤条件。
type ReportFilter struct {
	Status  string
	Page    int
	PerPage int
}

// ReportListResult 举报分页结果。
type ReportListResult struct {
	Reports []db.Report
	Total   int64
	Page    int
	PerPage int
}

// ReportService 处理文章举报。
type ReportService struct {
	db  *gorm.DB
	now func() time.Time
}

// NewReportService 创建 ReportService。
func NewReportService(gdb *gorm.DB) *ReportService {
	return &ReportService{db: gdb, now: func() time.Time { return time.Now().UTC() }}
}

// Create 提交举报，初始状态为 received。
func (s *ReportService) Create(postID, reporterID uint, reason string) (*db.Report, error) {
	reason = strings.TrimSpace(reason)
	if n := utf8.RuneCountInString(reason); n == 0 || n > maxReportReasonRunes {
		return nil, fmt.Errorf("%w: reason must be 1-%d characters", ErrInvalidReportInput, maxReportReasonRunes)
	}

	report := db.Report{
		PostID:         postID,
		ReporterUserID: reporterID,
		Reason:         reason,
		Status:         db.ReportStatusReceived,
	}
	if err := s.db.Create(&report).Error; err != nil {
		return nil, err
	}
	return &report, nil
}

// List 按状态过滤举报，最新的在前。
func (s *ReportService) List(filter ReportFilter) (*ReportListResult, error) {
	page, perPage := normalizePage(filter.Page, filter.PerPage)
	result := &ReportListResult{Page: page, PerPage: perPage}

	query := s.db.Model(&db.Report{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if err := query.Count(&result.Total).Error; err != nil {
		return nil, err
	}
	if err := query.Order("id desc").Limit(perPage).Offset((page - 1) * perPage).Find(&result.Reports).Error; err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateStatus 修改举报状态；resolved 与 dismissed 会记录处理人和处理时间。
func (s *ReportService) UpdateStatus(id, adminID uint, status string) (*db.Report, error) {
	switch status {
	case db.ReportStatusProcessing, db.ReportStatusResolved, db.ReportStatusDismissed:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidReportStatus, status)
	}

	var report db.Report
	if err := s.db.First(&report, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReportNotFound
		}
		return nil, err
	}

	updates := map[string]interface{}{"status": status}
	if status == db.ReportStatusResolved || status == db.ReportStatusDismissed {
		updates["resolver_admin_id"] = adminID
		updates["resolved_at"] = s.now()
	}

	if err := s.db.Model(&report).Updates(updates).Error; err != nil {
		return nil, err
	}
	if err := s.db.First(&report, id).Error; err != nil {
		return nil, err
	}
	return &report, nil
}
