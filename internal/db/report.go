package db

import "time"

const (
	ReportStatusReceived   = "received"
	ReportStatusProcessing = "processing"
	ReportStatusResolved   = "resolved"
	ReportStatusDismissed  = "dismissed"
)

// Report 记录用户对文章的举报。
type Report struct {
	ID              uint   `gorm:"primaryKey"`
	PostID          uint   `gorm:"index;not null"`
	Post            Post   `json:"-"`
	ReporterUserID  uint   `gorm:"index;not null"`
	Reporter        User   `gorm:"foreignKey:ReporterUserID" json:"-"`
	Reason          string `gorm:"type:text"`
	Status          string `gorm:"size:20;not null;default:'received';index"`
	ResolverAdminID *uint
	ResolvedAt      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TableName 指定自定义表名。
func (Report) TableName() string {
	return "reports"
}
