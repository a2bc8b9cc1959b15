package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tokenboard/internal/db"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	minUsernameRunes = 3
	maxUsernameRunes = 32
	minPasswordRunes = 8
	maxNicknameRunes = 50
)

var (
	ErrDuplicateUsername  = errors.New("username already exists")
	ErrInvalidInviteCode  = errors.New("invite code not found")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidUserInput   = errors.New("invalid user input")
)

// RegisterInput 是注册所需字段。
type RegisterInput struct {
	Username   string
	Password   string
	Nickname   string
	InviteCode string
}

// UserFilter 描述后台用户列表的过滤条件。
type UserFilter struct {
	Search  string
	Role    string
	Tier    string
	Page    int
	PerPage int
}

// UserListResult 用户分页结果。
type UserListResult struct {
	Users   []db.User
	Total   int64
	Page    int
	PerPage int
}

// UserUpdate 后台可修改的字段，nil 表示不修改。
type UserUpdate struct {
	Role *string
	Tier *string
}

// UserService 负责账号、邀请与后台用户管理。
type UserService struct {
	db       *gorm.DB
	ledger   *TokenLedger
	settings *SystemSettingService
	cost     int
}

// NewUserService 创建 UserService。
func NewUserService(gdb *gorm.DB, ledger *TokenLedger, settings *SystemSettingService) *UserService {
	return &UserService{db: gdb, ledger: ledger, settings: settings, cost: bcrypt.DefaultCost}
}

// WithBcryptCost 调整哈希强度，测试中使用 bcrypt.MinCost。
func (s *UserService) WithBcryptCost(cost int) *UserService {
	if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
		s.cost = cost
	}
	return s
}

// Register 创建用户并发放注册奖励；携带有效邀请码时同时奖励邀请双方，全部在一个事务内完成。
func (s *UserService) Register(ctx context.Context, input RegisterInput) (*db.User, error) {
	username := strings.TrimSpace(input.Username)
	nickname := strings.TrimSpace(input.Nickname)
	inviteCode := strings.ToUpper(strings.TrimSpace(input.InviteCode))

	if n := utf8.RuneCountInString(username); n < minUsernameRunes || n > maxUsernameRunes {
		return nil, fmt.Errorf("%w: username must be %d-%d characters", ErrInvalidUserInput, minUsernameRunes, maxUsernameRunes)
	}
	if utf8.RuneCountInString(input.Password) < minPasswordRunes {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidUserInput, minPasswordRunes)
	}
	if nickname == "" {
		nickname = username
	}
	if utf8.RuneCountInString(nickname) > maxNicknameRunes {
		return nil, fmt.Errorf("%w: nickname must be at most %d characters", ErrInvalidUserInput, maxNicknameRunes)
	}

	policy, err := s.settings.GetTokenPolicy()
	if err != nil {
		return nil, err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(input.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := db.User{
		Username: username,
		Password: string(hashed),
		Nickname: nickname,
		Role:     db.RoleUser,
		Tier:     db.TierFree,
	}

	err = s.ledger.Transact(ctx, func(tx *gorm.DB, writer LedgerWriter) error {
		var count int64
		if err := tx.Unscoped().Model(&db.User{}).Where("username = ?", username).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrDuplicateUsername
		}

		var inviter *db.User
		if inviteCode != "" {
			var found db.User
			if err := tx.Where("invite_code = ?", inviteCode).First(&found).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrInvalidInviteCode
				}
				return err
			}
			inviter = &found
			user.InvitedByUserID = &found.ID
		}

		if err := tx.Create(&user).Error; err != nil {
			return err
		}

		if policy.SignupBonus > 0 {
			if _, err := writer.Apply(LedgerEntry{UserID: user.ID, Amount: policy.SignupBonus, Reason: db.TokenReasonSignup}); err != nil {
				return err
			}
		}

		if inviter == nil {
			return nil
		}

		inviterID, inviteeID := inviter.ID, user.ID
		if policy.InviteeBonus > 0 {
			if _, err := writer.Apply(LedgerEntry{
				UserID:        inviteeID,
				Amount:        policy.InviteeBonus,
				Reason:        db.TokenReasonJoinedViaInvite,
				RelatedUserID: &inviterID,
			}); err != nil {
				return err
			}
		}
		if policy.InviterReward > 0 {
			if _, err := writer.Apply(LedgerEntry{
				UserID:        inviterID,
				Amount:        policy.InviterReward,
				Reason:        db.TokenReasonInvitedUserReward,
				RelatedUserID: &inviteeID,
			}); err != nil {
				return err
			}
		}
		return tx.Model(&db.User{}).
			Where("id = ?", inviterID).
			UpdateColumn("successful_invites_count", gorm.Expr("successful_invites_count + ?", 1)).Error
	})
	if err != nil {
		return nil, err
	}

	return s.Get(user.ID)
}

// Authenticate 校验用户名与密码。
func (s *UserService) Authenticate(username, password string) (*db.User, error) {
	var user db.User
	if err := s.db.Where("username = ?", strings.TrimSpace(username)).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return &user, nil
}

// Get 按 id 读取用户。
func (s *UserService) Get(id uint) (*db.User, error) {
	var user db.User
	if err := s.db.First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// EnsureAdmin 创建或提升超级管理员，已存在时更新密码并设为 admin。返回是否新建。
func (s *UserService) EnsureAdmin(username, password string) (*db.User, bool, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, false, fmt.Errorf("%w: admin username and password are required", ErrInvalidUserInput)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, false, fmt.Errorf("hash password: %w", err)
	}

	var user db.User
	err = s.db.Where("username = ?", username).First(&user).Error
	switch {
	case err == nil:
		if err := s.db.Model(&user).Updates(map[string]interface{}{
			"password": string(hashed),
			"role":     db.RoleAdmin,
		}).Error; err != nil {
			return nil, false, err
		}
		user.Role = db.RoleAdmin
		return &user, false, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		user = db.User{
			Username: username,
			Password: string(hashed),
			Nickname: username,
			Role:     db.RoleAdmin,
			Tier:     db.TierFree,
		}
		if err := s.db.Create(&user).Error; err != nil {
			return nil, false, err
		}
		return &user, true, nil
	default:
		return nil, false, err
	}
}

// List 返回后台用户列表。
func (s *UserService) List(filter UserFilter) (*UserListResult, error) {
	page, perPage := normalizePage(filter.Page, filter.PerPage)
	result := &UserListResult{Page: page, PerPage: perPage}

	query := s.db.Model(&db.User{})
	if search := strings.TrimSpace(filter.Search); search != "" {
		like := "%" + search + "%"
		query = query.Where("(username LIKE ? OR nickname LIKE ?)", like, like)
	}
	if filter.Role != "" {
		query = query.Where("role = ?", filter.Role)
	}
	if filter.Tier != "" {
		query = query.Where("tier = ?", filter.Tier)
	}

	if err := query.Count(&result.Total).Error; err != nil {
		return nil, err
	}
	if err := query.Order("id asc").Limit(perPage).Offset((page - 1) * perPage).Find(&result.Users).Error; err != nil {
		return nil, err
	}
	return result, nil
}

// Update 修改角色或等级。
func (s *UserService) Update(id uint, update UserUpdate) (*db.User, error) {
	user, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if update.Role != nil {
		if !db.ValidRole(*update.Role) {
			return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidUserInput, *update.Role)
		}
		updates["role"] = *update.Role
	}
	if update.Tier != nil {
		if !db.ValidTier(*update.Tier) {
			return nil, fmt.Errorf("%w: unknown tier %q", ErrInvalidUserInput, *update.Tier)
		}
		updates["tier"] = *update.Tier
	}
	if len(updates) == 0 {
		return user, nil
	}

	if err := s.db.Model(user).Updates(updates).Error; err != nil {
		return nil, err
	}
	return s.Get(id)
}
