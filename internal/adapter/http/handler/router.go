package handler

import (
	"time"

	"walletledger/internal/adapter/http/middleware"
	"walletledger/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	LedgerSvc      ports.LedgerService
	ScannerSvc     ports.ScannerService
	TxRepo         ports.TransactionRepository
	TokenSvc       ports.TokenService
	HealthCheckers []ports.HealthChecker
	// OperationTimeout bounds every /api/v1 request context; zero disables.
	OperationTimeout time.Duration
	Logger           zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	// Health check (deep — verifies PostgreSQL + Redis)
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)
	walletHandler := NewWalletHandler(deps.LedgerSvc)
	adminHandler := NewAdminHandler(deps.ScannerSvc, deps.TxRepo)

	v1 := r.Group("/api/v1", middleware.OperationTimeout(deps.OperationTimeout))

	wallets := v1.Group("/wallets", jwtAuth)
	{
		wallets.POST("", walletHandler.CreateWallet)
		wallets.GET("/balance", walletHandler.GetBalance)
		wallets.DELETE("/:id", walletHandler.CloseWallet)
		wallets.POST("/deposit", walletHandler.Deposit)
		wallets.POST("/withdraw", walletHandler.Withdraw)
		wallets.POST("/transfer", walletHandler.Transfer)
	}

	transactions := v1.Group("/transactions", jwtAuth)
	{
		transactions.GET("", walletHandler.GetHistory)
	}

	admin := v1.Group("/admin", jwtAuth)
	{
		admin.POST("/fraud-scan", adminHandler.RunFraudScan)
		admin.GET("/flagged", adminHandler.ListFlagged)
	}

	return r
}
