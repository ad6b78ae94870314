package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"offramp-backend/internal/config"
	"offramp-backend/internal/handlers"
	"offramp-backend/internal/middleware"
)

// Setup builds the HTTP router: public probes and metrics, then the
// authenticated off-ramp API.
func Setup(
	cfg *config.Config,
	health *handlers.HealthHandler,
	offramp *handlers.OfframpHandler,
	settings *handlers.SettingsHandler,
) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CORSMiddleware(cfg.CORS))

	r.GET("/health", health.Health)
	r.GET("/ready", health.Ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1", middleware.AuthMiddleware(cfg.Auth.JWTSecret))
	{
		tx := api.Group("/offramp")
		{
			tx.POST("/transactions", offramp.CreateTransaction)
			tx.GET("/transactions", offramp.ListTransactions)
			tx.GET("/transactions/:id", offramp.GetTransaction)
			tx.GET("/transactions/:id/attempts", offramp.ListSwapAttempts)
			tx.POST("/transactions/:id/settle", offramp.TriggerSettlement)
			tx.POST("/transactions/:id/retry", offramp.RetryTransaction)
			tx.POST("/cancel-pending", offramp.CancelPending)
		}

		admin := api.Group("/admin")
		{
			admin.GET("/exchange-rate", settings.GetExchangeRate)
			admin.POST("/exchange-rate", settings.SetExchangeRate)
			admin.GET("/fee-tiers", settings.GetFeeTiers)
			admin.POST("/fee-tiers", settings.ReplaceFeeTiers)
		}
	}

	return r
}
