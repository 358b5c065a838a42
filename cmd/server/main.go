package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ksred/outcomex/internal/auth"
	"github.com/ksred/outcomex/internal/book"
	"github.com/ksred/outcomex/internal/database"
	"github.com/ksred/outcomex/internal/doctrine"
	"github.com/ksred/outcomex/internal/events"
	"github.com/ksred/outcomex/internal/ledger"
	"github.com/ksred/outcomex/internal/margin"
	"github.com/ksred/outcomex/internal/metrics"
	"github.com/ksred/outcomex/internal/reputation"
	"github.com/ksred/outcomex/internal/venue"
	"github.com/ksred/outcomex/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// main wires the venue bottom-up: database, funds ledger, governance
// gate, books, margin engine, then the order pipeline and HTTP surface.
func main() {
	dbPath := envOr("DB_PATH", "outcomex.db")
	jwtSecret := envOr("JWT_SECRET", "outcomex-dev-secret")
	middleware.SetSigningKey(jwtSecret)

	db, err := database.NewDatabase(dbPath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	bus := events.NewBus(1024)
	hub := events.NewHub()
	go hub.Run(bus.Subscribe())

	fundsService := ledger.NewService(ledger.NewDatabase(db))
	// The CCP wallet funds realized P&L payouts; it must exist before the
	// first novation.
	ccpFloat, err := decimal.NewFromString(envOr("CCP_FLOAT", "1000000"))
	if err != nil {
		zlog.Fatal().Err(err).Msg("Invalid CCP_FLOAT")
	}
	if err := fundsService.CreateWallet(ledger.CCPAgentID, ccpFloat); err != nil {
		zlog.Fatal().Err(err).Msg("Failed to create CCP wallet")
	}
	fundsHandlers := ledger.NewGinHandlers(fundsService)

	scores := reputation.NewRegistry()
	scoreHandlers := reputation.NewGinHandlers(scores)
	gateService := doctrine.NewService(doctrine.NewDatabase(db), scores)
	gateHandlers := doctrine.NewGinHandlers(gateService)

	engine := book.NewEngine()

	marginService := margin.NewService(fundsService, margin.NewDatabase(db), bus, gateService)
	marginHandlers := margin.NewGinHandlers(marginService)

	venueService := venue.NewService(engine, fundsService, gateService, marginService, venue.NewDatabase(db), bus)
	venueHandlers := venue.NewGinHandlers(venueService)

	authService := auth.NewService(jwtSecret)
	authHandlers := auth.NewGinHandlers(authService)
	if os.Getenv("ENV") != "production" {
		authService.RegisterAgent("test-agent", "test-api-key", "test-api-secret", false)
		authService.RegisterAgent("operator", "admin-api-key", "admin-api-secret", true)
	}

	// Background processors: margin sweep and order expiry.
	processorCtx, processorCancel := context.WithCancel(context.Background())
	defer processorCancel()
	go margin.NewProcessor(marginService, 5*time.Second).Start(processorCtx)
	go venue.NewProcessor(venueService, 10*time.Second).Start(processorCtx)

	// Initialize router
	router := gin.Default()
	router.Use(metrics.Middleware())
	router.Use(middleware.RateLimit())

	setupRoutes(router, authHandlers, venueHandlers, fundsHandlers, marginHandlers, gateHandlers, scoreHandlers, hub)

	// Get port from env otherwise it's 8080
	port := envOr("PORT", "8080")

	// Create server
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}
	processorCancel()
	bus.Close()

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers, grouped by
// surface:
//   - Auth routes: public token issuance
//   - Trading routes: JWT-scoped order, market data and account access
//   - Internal routes: operator-only market lifecycle and risk controls
func setupRoutes(
	router *gin.Engine,
	authHandlers *auth.GinHandlers,
	venueHandlers *venue.GinHandlers,
	fundsHandlers *ledger.GinHandlers,
	marginHandlers *margin.GinHandlers,
	gateHandlers *doctrine.GinHandlers,
	scoreHandlers *reputation.GinHandlers,
	hub *events.Hub,
) {
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	router.GET("/ws", func(c *gin.Context) {
		hub.HandleWS(c.Writer, c.Request)
	})

	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Order routes
		orders := v1.Group("/orders")
		orders.Use(middleware.JWTAuth())
		{
			orders.POST("", venueHandlers.CreateOrderHandler())
			orders.GET("", venueHandlers.GetAgentOrdersHandler())
			orders.GET("/:order_id", venueHandlers.GetOrderHandler())
			orders.DELETE("/:order_id", venueHandlers.CancelOrderHandler())
		}

		// Market data routes
		markets := v1.Group("/markets")
		markets.Use(middleware.JWTAuth())
		{
			markets.GET("/:market_id/book", venueHandlers.GetOrderBookHandler())
			markets.GET("/:market_id/prices", venueHandlers.GetBestPricesHandler())
			markets.GET("/:market_id/trades", venueHandlers.GetTradesHandler())
		}

		// Account routes
		accounts := v1.Group("/accounts")
		accounts.Use(middleware.JWTAuth())
		{
			accounts.GET("/trades", venueHandlers.GetAgentTradesHandler())
			accounts.GET("/:agent_id/balance", fundsHandlers.GetBalanceHandler())
			accounts.GET("/:agent_id/entries", fundsHandlers.GetEntriesHandler())
			accounts.GET("/:agent_id/margin", marginHandlers.GetAccountHandler())
			accounts.GET("/:agent_id/novations", marginHandlers.GetNovationsHandler())
			accounts.GET("/:agent_id/liquidations", marginHandlers.GetLiquidationsHandler())
		}

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth())
		{
			internal.POST("/wallets", fundsHandlers.CreateWalletHandler())
			internal.POST("/wallets/deposit", fundsHandlers.DepositHandler())
			internal.POST("/wallets/withdraw", fundsHandlers.WithdrawHandler())
			internal.POST("/markets", venueHandlers.CreateMarketHandler())
			internal.POST("/markets/:market_id/resolve", venueHandlers.ResolveMarketHandler())
			internal.DELETE("/orders/:order_id", venueHandlers.ForceCloseHandler())
			internal.GET("/margin/accounts", marginHandlers.GetAllAccountsHandler())
			internal.POST("/doctrine/profiles", gateHandlers.UpsertProfileHandler())
			internal.POST("/doctrine/agents/:agent_id/pause", gateHandlers.PauseAgentHandler())
			internal.POST("/doctrine/agents/:agent_id/resume", gateHandlers.ResumeAgentHandler())
			internal.POST("/doctrine/kill-switch", gateHandlers.KillSwitchHandler())
			internal.GET("/doctrine/agents/:agent_id/status", gateHandlers.GetStatusHandler())
			internal.GET("/doctrine/agents/:agent_id/violations", gateHandlers.GetViolationsHandler())
			internal.POST("/reputation/scores", scoreHandlers.UpsertScoresHandler())
			internal.GET("/reputation/agents/:agent_id/scores", scoreHandlers.GetScoresHandler())
		}
	}
}
