//go:build ignore

// 测试数据生成器: go run scripts/generate_test_data.go
// 所有余额变动都经过 TokenLedger，生成的数据可以直接用 /api/admin/users/:id/ledger/verify 对账。
package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tokenboard/internal/config"
	"github.com/tokenboard/internal/db"
	"github.com/tokenboard/internal/logging"
	"github.com/tokenboard/internal/service"
)

const demoPassword = "password123"

type seeder struct {
	users  *service.UserService
	posts  *service.PostService
	ledger *service.TokenLedger
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load config")
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	// 初始化数据库
	if err := db.Init(cfg.DatabasePath); err != nil {
		logging.Fatal().Err(err).Msg("failed to initialize database")
	}

	settings := service.NewSystemSettingService(db.DB)
	ledger := service.NewTokenLedger(db.DB, settings)
	s := seeder{
		users:  service.NewUserService(db.DB, ledger, settings),
		posts:  service.NewPostService(db.DB),
		ledger: ledger,
	}

	ctx := context.Background()
	admin, _, err := s.users.EnsureAdmin("admin", "admin12345")
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to create admin")
	}

	// 创建测试用户，bob 通过 alice 的邀请码注册
	alice := s.user(ctx, "alice", "")
	bob := s.user(ctx, "bob", alice.InviteCode)
	carol := s.user(ctx, "carol", "")

	if _, err := s.users.Update(carol.ID, service.UserUpdate{Tier: strPtr(db.TierPaid)}); err != nil {
		logging.Fatal().Err(err).Msg("failed to upgrade carol")
	}

	// 创建测试文章
	approved := s.createPosts(ctx, alice.ID, admin.ID)

	// bob 阅读前两篇，carol 是付费用户不扣费
	for i, post := range approved {
		if i >= 2 {
			break
		}
		result, err := s.ledger.ConsumeForView(ctx, bob.ID, post.ID)
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to record view")
		}
		logging.Info().Uint("post_id", post.ID).Bool("charged", result.Charged).Int64("balance", result.BalanceAfter).Msg("bob viewed post")
	}

	fmt.Println("测试数据生成完成！")
	fmt.Println("管理员: admin (密码: admin12345)")
	fmt.Printf("用户: alice / bob / carol (密码: %s)\n", demoPassword)
	fmt.Printf("文章: %d 篇已审核，1 篇待审核\n", len(approved))
}

func (s seeder) user(ctx context.Context, username, inviteCode string) *db.User {
	user, err := s.users.Register(ctx, service.RegisterInput{
		Username:   username,
		Password:   demoPassword,
		Nickname:   strings.ToUpper(username[:1]) + username[1:],
		InviteCode: inviteCode,
	})
	if errors.Is(err, service.ErrDuplicateUsername) {
		existing, lookupErr := s.users.Authenticate(username, demoPassword)
		if lookupErr != nil {
			logging.Fatal().Err(lookupErr).Str("username", username).Msg("existing user has unexpected password")
		}
		return existing
	}
	if err != nil {
		logging.Fatal().Err(err).Str("username", username).Msg("failed to register user")
	}
	return user
}

func (s seeder) createPosts(ctx context.Context, authorID, adminID uint) []*db.Post {
	contents := []struct {
		title string
		tags  []string
		body  string
	}{
		{"用 Go 写一个代币账本", []string{"Go", "账本"}, "每一次余额变动都对应一条只追加的流水。"},
		{"SQLite 下的并发扣费", []string{"数据库", "并发"}, "条件更新加唯一索引，让重复请求只扣一次。"},
		{"邀请奖励是怎么发放的", []string{"产品"}, "注册、邀请与审核奖励共用同一套写入路径。"},
		{"付费用户为什么不扣代币", []string{"产品", "订阅"}, "访问判定是纯函数，付费用户和作者本人直接放行。"},
	}

	approved := make([]*db.Post, 0, len(contents))
	for i, item := range contents {
		post, err := s.posts.Create(service.PostInput{
			Title:   item.title,
			Content: "## " + item.title + "\n\n" + strings.Repeat(item.body+"\n\n", 8),
			Tags:    item.tags,
			UserID:  authorID,
		})
		if err != nil {
			logging.Fatal().Err(err).Str("title", item.title).Msg("failed to create post")
		}

		// 最后一篇保持待审核，方便在后台演示审核流程
		if i == len(contents)-1 {
			continue
		}
		reviewed, err := s.ledger.ApproveAndReward(ctx, post.ID, adminID)
		if err != nil {
			logging.Fatal().Err(err).Uint("post_id", post.ID).Msg("failed to approve post")
		}
		approved = append(approved, reviewed)
	}
	return approved
}

func strPtr(v string) *string {
	return &v
}
