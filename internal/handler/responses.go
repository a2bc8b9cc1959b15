package handler

import (
	"time"

	"github.com/tokenboard/internal/db"
)

type userResponse struct {
	ID                     uint       `json:"id"`
	Username               string     `json:"username"`
	Nickname               string     `json:"nickname"`
	Role                   string     `json:"role"`
	Tier                   string     `json:"tier"`
	Balance                int64      `json:"balance"`
	InviteCode             string     `json:"inviteCode"`
	InvitedByUserID        *uint      `json:"invitedByUserId,omitempty"`
	SuccessfulInvitesCount int        `json:"successfulInvitesCount"`
	LastMonthlyGrantAt     *time.Time `json:"lastMonthlyGrantAt,omitempty"`
	CreatedAt              time.Time  `json:"createdAt"`
}

func newUserResponse(user *db.User) userResponse {
	return userResponse{
		ID:                     user.ID,
		Username:               user.Username,
		Nickname:               user.Nickname,
		Role:                   user.Role,
		Tier:                   user.Tier,
		Balance:                user.TokenBalance,
		InviteCode:             user.InviteCode,
		InvitedByUserID:        user.InvitedByUserID,
		SuccessfulInvitesCount: user.SuccessfulInvitesCount,
		LastMonthlyGrantAt:     user.LastMonthlyTokenGrantedAt,
		CreatedAt:              user.CreatedAt,
	}
}

type postSummary struct {
	ID              uint       `json:"id"`
	Title           string     `json:"title"`
	Preview         string     `json:"preview"`
	Status          string     `json:"status"`
	RejectionReason string     `json:"rejectionReason,omitempty"`
	Tags            []string   `json:"tags"`
	AuthorID        uint       `json:"authorId"`
	AuthorNickname  string     `json:"authorNickname"`
	ViewCount       int64      `json:"viewCount"`
	ViewLimit       *int       `json:"viewLimit,omitempty"`
	ApprovedAt      *time.Time `json:"approvedAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

func newPostSummary(post *db.Post) postSummary {
	tags := make([]string, 0, len(post.Tags))
	for _, tag := range post.Tags {
		tags = append(tags, tag.Name)
	}
	return postSummary{
		ID:              post.ID,
		Title:           post.Title,
		Preview:         post.PreviewText(),
		Status:          post.Status,
		RejectionReason: post.RejectionReason,
		Tags:            tags,
		AuthorID:        post.UserID,
		AuthorNickname:  post.User.Nickname,
		ViewCount:       post.ViewCount,
		ViewLimit:       post.ViewLimit,
		ApprovedAt:      post.ApprovedAt,
		CreatedAt:       post.CreatedAt,
	}
}

func newPostSummaries(posts []db.Post) []postSummary {
	items := make([]postSummary, 0, len(posts))
	for i := range posts {
		items = append(items, newPostSummary(&posts[i]))
	}
	return items
}

type tokenLogResponse struct {
	ID                 uint      `json:"id"`
	ChangeAmount       int64     `json:"changeAmount"`
	Reason             string    `json:"reason"`
	RelatedPostID      *uint     `json:"relatedPostId,omitempty"`
	RelatedUserID      *uint     `json:"relatedUserId,omitempty"`
	BalanceAfterChange int64     `json:"balanceAfterChange"`
	CreatedAt          time.Time `json:"createdAt"`
}

func newTokenLogResponses(logs []db.TokenLog) []tokenLogResponse {
	items := make([]tokenLogResponse, 0, len(logs))
	for _, entry := range logs {
		items = append(items, tokenLogResponse{
			ID:                 entry.ID,
			ChangeAmount:       entry.ChangeAmount,
			Reason:             entry.Reason,
			RelatedPostID:      entry.RelatedPostID,
			RelatedUserID:      entry.RelatedUserID,
			BalanceAfterChange: entry.BalanceAfterChange,
			CreatedAt:          entry.CreatedAt,
		})
	}
	return items
}

type reportResponse struct {
	ID              uint       `json:"id"`
	PostID          uint       `json:"postId"`
	ReporterUserID  uint       `json:"reporterUserId"`
	Reason          string     `json:"reason"`
	Status          string     `json:"status"`
	ResolverAdminID *uint      `json:"resolverAdminId,omitempty"`
	ResolvedAt      *time.Time `json:"resolvedAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

func newReportResponse(report *db.Report) reportResponse {
	return reportResponse{
		ID:              report.ID,
		PostID:          report.PostID,
		ReporterUserID:  report.ReporterUserID,
		Reason:          report.Reason,
		Status:          report.Status,
		ResolverAdminID: report.ResolverAdminID,
		ResolvedAt:      report.ResolvedAt,
		CreatedAt:       report.CreatedAt,
	}
}
