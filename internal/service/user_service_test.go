package service

import (
	"context"
	"errors"
	"testing"

	"github.com/tokenboard/internal/db"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

func newTestUserService(gdb *gorm.DB) (*UserService, *TokenLedger) {
	settings := NewSystemSettingService(gdb)
	ledger := NewTokenLedger(gdb, settings)
	return NewUserService(gdb, ledger, settings).WithBcryptCost(bcrypt.MinCost), ledger
}

func TestRegisterGrantsSignupBonus(t *testing.T) {
	gdb := setupServiceTestDB(t, "user-register")
	svc, ledger := newTestUserService(gdb)

	user, err := svc.Register(context.Background(), RegisterInput{Username: "alice", Password: "password1"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.TokenBalance != DefaultTokenPolicy().SignupBonus {
		t.Fatalf("expected signup bonus, got %d", user.TokenBalance)
	}
	if user.Nickname != "alice" || user.Role != db.RoleUser || user.Tier != db.TierFree {
		t.Fatalf("unexpected defaults %+v", user)
	}
	if user.InviteCode == "" {
		t.Fatal("expected invite code to be generated")
	}
	if user.Password == "password1" {
		t.Fatal("password must be hashed")
	}
	if err := ledger.Verify(context.Background(), user.ID); err != nil {
		t.Fatalf("verify: %v", err)
	}

	if _, err := svc.Register(context.Background(), RegisterInput{Username: "alice", Password: "password2"}); !errors.Is(err, ErrDuplicateUsername) {
		t.Fatalf("expected ErrDuplicateUsername, got %v", err)
	}
}

func TestRegisterWithInviteRewardsBothSides(t *testing.T) {
	gdb := setupServiceTestDB(t, "user-invite")
	svc, ledger := newTestUserService(gdb)
	policy := DefaultTokenPolicy()
	ctx := context.Background()

	inviter, err := svc.Register(ctx, RegisterInput{Username: "inviter", Password: "password1"})
	if err != nil {
		t.Fatalf("register inviter: %v", err)
	}

	invitee, err := svc.Register(ctx, RegisterInput{Username: "invitee", Password: "password1", InviteCode: inviter.InviteCode})
	if err != nil {
		t.Fatalf("register invitee: %v", err)
	}
	if invitee.InvitedByUserID == nil || *invitee.InvitedByUserID != inviter.ID {
		t.Fatalf("invitee should reference inviter, got %v", invitee.InvitedByUserID)
	}
	if want := policy.SignupBonus + policy.InviteeBonus; invitee.TokenBalance != want {
		t.Fatalf("invitee balance = %d, want %d", invitee.TokenBalance, want)
	}

	reloaded, err := svc.Get(inviter.ID)
	if err != nil {
		t.Fatalf("reload inviter: %v", err)
	}
	if want := policy.SignupBonus + policy.InviterReward; reloaded.TokenBalance != want {
		t.Fatalf("inviter balance = %d, want %d", reloaded.TokenBalance, want)
	}
	if reloaded.SuccessfulInvitesCount != 1 {
		t.Fatalf("expected 1 successful invite, got %d", reloaded.SuccessfulInvitesCount)
	}
	for _, id := range []uint{inviter.ID, invitee.ID} {
		if err := ledger.Verify(ctx, id); err != nil {
			t.Fatalf("verify %d: %v", id, err)
		}
	}
}

func TestRegisterRejectsUnknownInviteCode(t *testing.T) {
	gdb := setupServiceTestDB(t, "user-bad-invite")
	svc, _ := newTestUserService(gdb)

	_, err := svc.Register(context.Background(), RegisterInput{Username: "bob", Password: "password1", InviteCode: "NOPE"})
	if !errors.Is(err, ErrInvalidInviteCode) {
		t.Fatalf("expected ErrInvalidInviteCode, got %v", err)
	}
	if n := countRows(t, gdb.Model(&db.User{})); n != 0 {
		t.Fatalf("failed signup must not create a user, got %d", n)
	}
}

func TestRegisterValidatesInput(t *testing.T) {
	gdb := setupServiceTestDB(t, "user-validate")
	svc, _ := newTestUserService(gdb)

	cases := []RegisterInput{
		{Username: "ab", Password: "password1"},
		{Username: "charlie", Password: "short"},
	}
	for _, input := range cases {
		if _, err := svc.Register(context.Background(), input); !errors.Is(err, ErrInvalidUserInput) {
			t.Fatalf("expected ErrInvalidUserInput for %+v, got %v", input, err)
		}
	}
}

func TestAuthenticate(t *testing.T) {
	gdb := setupServiceTestDB(t, "user-auth")
	svc, _ := newTestUserService(gdb)

	if _, err := svc.Register(context.Background(), RegisterInput{Username: "dana", Password: "password1"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := svc.Authenticate("dana", "password1"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if _, err := svc.Authenticate("dana", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Authenticate("nobody", "password1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
}

func TestEnsureAdminCreatesThenPromotes(t *testing.T) {
	gdb := setupServiceTestDB(t, "user-admin")
	svc, _ := newTestUserService(gdb)

	admin, created, err := svc.EnsureAdmin("root", "rootpass")
	if err != nil {
		t.Fatalf("ensure admin: %v", err)
	}
	if !created || admin.Role != db.RoleAdmin {
		t.Fatalf("expected new admin, got created=%v role=%s", created, admin.Role)
	}

	again, created, err := svc.EnsureAdmin("root", "newpass1")
	if err != nil {
		t.Fatalf("ensure admin again: %v", err)
	}
	if created || again.ID != admin.ID {
		t.Fatalf("expected existing admin to be reused")
	}
	if _, err := svc.Authenticate("root", "newpass1"); err != nil {
		t.Fatalf("password should be rotated: %v", err)
	}
}

func TestListAndUpdateUsers(t *testing.T) {
	gdb := setupServiceTestDB(t, "user-list")
	svc, _ := newTestUserService(gdb)
	createTestUser(t, gdb, "erin", db.TierFree)
	paid := createTestUser(t, gdb, "frank", db.TierPaid)
	createTestUser(t, gdb, "grace", db.TierFree)

	result, err := svc.List(UserFilter{Tier: db.TierFree, Page: 1, PerPage: 1})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if result.Total != 2 || len(result.Users) != 1 {
		t.Fatalf("expected 1 of 2 free users, got %d of %d", len(result.Users), result.Total)
	}

	free := db.TierFree
	admin := db.RoleAdmin
	updated, err := svc.Update(paid.ID, UserUpdate{Tier: &free, Role: &admin})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Tier != db.TierFree || updated.Role != db.RoleAdmin {
		t.Fatalf("unexpected updated user %+v", updated)
	}

	bogus := "gold"
	if _, err := svc.Update(paid.ID, UserUpdate{Tier: &bogus}); !errors.Is(err, ErrInvalidUserInput) {
		t.Fatalf("expected ErrInvalidUserInput, got %v", err)
	}
	if _, err := svc.Update(999, UserUpdate{Tier: &free}); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}
