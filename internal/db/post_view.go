package db

import "time"

// PostView 记录用户已付费查看的文章，(user_id, post_id) 唯一，是扣费去重的依据。
type PostView struct {
	ID        uint `gorm:"primaryKey"`
	UserID    uint `gorm:"not null;uniqueIndex:idx_post_views_user_post"`
	PostID    uint `gorm:"not null;uniqueIndex:idx_post_views_user_post;index"`
	CreatedAt time.Time
}

// TableName 指定自定义表名。
func (PostView) TableName() string {
	return "post_views"
}
