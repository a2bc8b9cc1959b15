package handler

import (
	"github.com/tokenboard/internal/service"
	"gorm.io/gorm"
)

// API bundles shared dependencies for HTTP handlers.
type API struct {
	users     *service.UserService
	posts     *service.PostService
	reports   *service.ReportService
	tags      *service.TagService
	ledger    *service.TokenLedger
	gate      *service.ViewGate
	system    *service.SystemSettingService
	dashboard *service.DashboardService
}

// NewAPI constructs a handler set with shared services.
func NewAPI(db *gorm.DB) *API {
	systemService := service.NewSystemSettingService(db)
	ledger := service.NewTokenLedger(db, systemService)

	return &API{
		users:     service.NewUserService(db, ledger, systemService),
		posts:     service.NewPostService(db),
		reports:   service.NewReportService(db),
		tags:      service.NewTagService(db),
		ledger:    ledger,
		gate:      service.NewViewGate(ledger),
		system:    systemService,
		dashboard: service.NewDashboardService(db),
	}
}

// Users exposes the account service for bootstrap tasks.
func (a *API) Users() *service.UserService {
	return a.users
}

// Ledger exposes the token ledger for background jobs.
func (a *API) Ledger() *service.TokenLedger {
	return a.ledger
}

// Settings exposes the token policy store.
func (a *API) Settings() *service.SystemSettingService {
	return a.system
}
