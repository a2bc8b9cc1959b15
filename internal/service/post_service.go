package service

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tokenboard/internal/db"
	"gorm.io/gorm"
)

// 文章校验边界
const (
	MaxTitleRunes   = 100
	MinContentRunes = 100
	MaxTagsPerPost  = 5
	MaxTagNameRunes = 30
)

var (
	ErrPostNotFound            = errors.New("post not found")
	ErrPostNotEditable         = errors.New("post can only be edited while pending or needs revision")
	ErrNotPostOwner            = errors.New("post belongs to another user")
	ErrInvalidPostInput        = errors.New("invalid post input")
	ErrRejectionReasonRequired = errors.New("rejection reason is required")
)

// PostService wraps post related database operations.
type PostService struct {
	db *gorm.DB
}

// PostFilter describes filters for listing posts.
type PostFilter struct {
	Search  string
	Status  string
	Tag     string
	UserID  uint
	Page    int
	PerPage int
}

// PostListResult aggregates paginated list data.
type PostListResult struct {
	Posts      []db.Post
	Total      int64
	TotalPages int
	Page       int
	PerPage    int
}

// PostInput represents fields accepted when creating or updating a post.
type PostInput struct {
	Title     string
	Content   string
	Preview   string
	Tags      []string
	ViewLimit *int
	UserID    uint
}

// NewPostService creates a PostService instance.
func NewPostService(gdb *gorm.DB) *PostService {
	return &PostService{db: gdb}
}

// Get fetches a post by id with tags and author preloaded.
func (s *PostService) Get(id uint) (*db.Post, error) {
	var post db.Post
	if err := s.db.Preload("Tags").Preload("User").First(&post, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPostNotFound
		}
		return nil, err
	}
	return &post, nil
}

// VisibleTo 已审核的文章对所有人可见，其余状态只对作者和管理员可见。
func VisibleTo(post *db.Post, viewer Viewer) bool {
	if post.Status == db.PostStatusApproved {
		return true
	}
	if !viewer.Authenticated {
		return false
	}
	return viewer.UserID == post.UserID || viewer.IsAdmin()
}

// Create 校验并保存新文章，状态为 pending；未提供预览时截取正文开头。
func (s *PostService) Create(input PostInput) (*db.Post, error) {
	normalized, err := normalizePostInput(input)
	if err != nil {
		return nil, err
	}

	post := db.Post{
		Title:     normalized.Title,
		Content:   normalized.Content,
		Preview:   normalized.Preview,
		Status:    db.PostStatusPending,
		ViewLimit: normalized.ViewLimit,
		UserID:    input.UserID,
	}

	return s.saveWithTags(&post, normalized.Tags)
}

// Update 由作者修改文章，只允许 pending 或 needs_revision 状态，保存后重新进入待审核。
func (s *PostService) Update(id, ownerID uint, input PostInput) (*db.Post, error) {
	var existing db.Post
	if err := s.db.First(&existing, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPostNotFound
		}
		return nil, err
	}
	if existing.UserID != ownerID {
		return nil, ErrNotPostOwner
	}
	if existing.Status != db.PostStatusPending && existing.Status != db.PostStatusNeedsRevision {
		return nil, ErrPostNotEditable
	}

	normalized, err := normalizePostInput(input)
	if err != nil {
		return nil, err
	}

	existing.Title = normalized.Title
	existing.Content = normalized.Content
	existing.Preview = normalized.Preview
	existing.ViewLimit = normalized.ViewLimit
	existing.Status = db.PostStatusPending
	existing.RejectionReason = ""

	return s.saveWithTags(&existing, normalized.Tags)
}

// Reject 驳回待审核文章，必须填写原因。
func (s *PostService) Reject(id uint, reason string) (*db.Post, error) {
	return s.transitionPending(id, db.PostStatusRejected, reason)
}

// RequestRevision 要求作者修改，原因作为反馈保存。
func (s *PostService) RequestRevision(id uint, reason string) (*db.Post, error) {
	return s.transitionPending(id, db.PostStatusNeedsRevision, reason)
}

func (s *PostService) transitionPending(id uint, status, reason string) (*db.Post, error) {
	reason = strings.TrimSpace(reason)
	if status == db.PostStatusRejected && reason == "" {
		return nil, ErrRejectionReasonRequired
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var post db.Post
		if err := tx.Select("id", "status").First(&post, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPostNotFound
			}
			return err
		}

		res := tx.Model(&db.Post{}).
			Where("id = ? AND status = ?", id, db.PostStatusPending).
			Updates(map[string]interface{}{
				"status":           status,
				"rejection_reason": reason,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInvalidStatusTransition
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.Get(id)
}

// ListApproved 返回已审核通过的文章，支持搜索与标签过滤。
func (s *PostService) ListApproved(filter PostFilter) (*PostListResult, error) {
	filter.Status = db.PostStatusApproved
	filter.UserID = 0
	return s.list(filter, "posts.approved_at desc, posts.id desc")
}

// ListForAdmin 返回全部状态的文章，可按状态过滤。
func (s *PostService) ListForAdmin(filter PostFilter) (*PostListResult, error) {
	return s.list(filter, "posts.created_at desc, posts.id desc")
}

// ListByOwner 返回某个用户的全部文章。
func (s *PostService) ListByOwner(userID uint, page, perPage int) (*PostListResult, error) {
	return s.list(PostFilter{UserID: userID, Page: page, PerPage: perPage}, "posts.created_at desc, posts.id desc")
}

// HasViewed 判断用户是否已经为文章付过费。
func (s *PostService) HasViewed(userID, postID uint) (bool, error) {
	if userID == 0 {
		return false, nil
	}
	var count int64
	if err := s.db.Model(&db.PostView{}).
		Where("user_id = ? AND post_id = ?", userID, postID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *PostService) list(filter PostFilter, orderBy string) (*PostListResult, error) {
	page, perPage := normalizePage(filter.Page, filter.PerPage)
	result := &PostListResult{Page: page, PerPage: perPage}

	countQuery := s.applyFilters(s.db.Model(&db.Post{}), filter)
	if err := countQuery.Count(&result.Total).Error; err != nil {
		return nil, err
	}

	var posts []db.Post
	dataQuery := s.applyFilters(s.db.Model(&db.Post{}).Preload("Tags").Preload("User"), filter)
	if err := dataQuery.Order(orderBy).Limit(perPage).Offset((page - 1) * perPage).Find(&posts).Error; err != nil {
		return nil, err
	}

	result.Posts = posts
	result.TotalPages = totalPages(result.Total, perPage)
	return result, nil
}

func (s *PostService) applyFilters(query *gorm.DB, filter PostFilter) *gorm.DB {
	if search := strings.TrimSpace(filter.Search); search != "" {
		like := "%" + search + "%"
		query = query.Where("(posts.title LIKE ? OR posts.preview LIKE ?)", like, like)
	}

	if filter.Status != "" {
		query = query.Where("posts.status = ?", filter.Status)
	}

	if filter.UserID != 0 {
		query = query.Where("posts.user_id = ?", filter.UserID)
	}

	if tag := strings.TrimSpace(filter.Tag); tag != "" {
		subQuery := s.db.Model(&db.Post{}).
			Select("posts.id").
			Joins("JOIN post_tags ON posts.id = post_tags.post_id").
			Joins("JOIN tags ON tags.id = post_tags.tag_id").
			Where("tags.name = ?", tag)

		query = query.Where("posts.id IN (?)", subQuery)
	}

	return query
}

func (s *PostService) saveWithTags(post *db.Post, tagNames []string) (*db.Post, error) {
	return post, s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Tags", "User").Save(post).Error; err != nil {
			return err
		}

		tags := make([]db.Tag, 0, len(tagNames))
		for _, name := range tagNames {
			var tag db.Tag
			if err := tx.Where(db.Tag{Name: name}).FirstOrCreate(&tag).Error; err != nil {
				return err
			}
			tags = append(tags, tag)
		}

		if err := tx.Model(post).Association("Tags").Replace(tags); err != nil {
			return err
		}

		return tx.Preload("Tags").Preload("User").First(post, post.ID).Error
	})
}

func normalizePostInput(input PostInput) (PostInput, error) {
	out := PostInput{
		Title:   strings.TrimSpace(input.Title),
		Content: strings.TrimSpace(input.Content),
		Preview: strings.TrimSpace(input.Preview),
		UserID:  input.UserID,
	}

	if titleLen := utf8.RuneCountInString(out.Title); titleLen == 0 || titleLen > MaxTitleRunes {
		return PostInput{}, fmt.Errorf("%w: title must be 1-%d characters", ErrInvalidPostInput, MaxTitleRunes)
	}
	if utf8.RuneCountInString(out.Content) < MinContentRunes {
		return PostInput{}, fmt.Errorf("%w: content must be at least %d characters", ErrInvalidPostInput, MinContentRunes)
	}
	if out.Preview == "" {
		out.Preview = db.DerivePreview(out.Content, db.DefaultPreviewRunes)
	}

	if input.ViewLimit != nil {
		if *input.ViewLimit < 0 {
			return PostInput{}, fmt.Errorf("%w: view limit must not be negative", ErrInvalidPostInput)
		}
		limit := *input.ViewLimit
		out.ViewLimit = &limit
	}

	tags, err := NormalizeTags(input.Tags)
	if err != nil {
		return PostInput{}, err
	}
	out.Tags = tags

	return out, nil
}

// NormalizeTags 拆分逗号分隔的标签、去空白并去重，最多 MaxTagsPerPost 个。
func NormalizeTags(raw []string) ([]string, error) {
	seen := make(map[string]struct{})
	tags := make([]string, 0, len(raw))
	for _, item := range raw {
		for _, part := range strings.Split(item, ",") {
			name := strings.TrimSpace(part)
			if name == "" {
				continue
			}
			if utf8.RuneCountInString(name) > MaxTagNameRunes {
				return nil, fmt.Errorf("%w: tag %q is too long", ErrInvalidPostInput, name)
			}
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			tags = append(tags, name)
		}
	}
	if len(tags) > MaxTagsPerPost {
		return nil, fmt.Errorf("%w: at most %d tags", ErrInvalidPostInput, MaxTagsPerPost)
	}
	return tags, nil
}

func totalPages(total int64, perPage int) int {
	if total == 0 {
		return 1
	}
	return int((total + int64(perPage) - 1) / int64(perPage))
}
