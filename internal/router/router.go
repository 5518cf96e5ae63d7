package router

import (
	"time"

	"stockpos/internal/config"
	"stockpos/internal/handler"
	"stockpos/internal/infra"
	"stockpos/internal/metrics"
	"stockpos/internal/middleware"
	"stockpos/internal/repository"
	"stockpos/internal/service"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Deps are the infrastructure handles the router wires services onto.
// Redis, the notifier and the mail breaker are optional.
type Deps struct {
	DB       *gorm.DB
	Redis    *redis.Client
	Notifier service.LowStockNotifier
	MailCB   *infra.CircuitBreaker
}

// New wires all dependencies and returns a configured Gin engine.
// Dependency graph: Handler ← Service ← Repository ← DB/Redis
func New(cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Global middleware chain (order matters)
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.CORS(cfg.Env, cfg.AllowedOrigins()))
	r.Use(metrics.Middleware())
	r.Use(middleware.ErrorHandler())
	if cfg.RateLimitPerMinute > 0 {
		r.Use(middleware.RateLimiter(cfg.RateLimitPerMinute, time.Minute))
	}

	// ── Repositories ─────────────────────────────────────────────────────────
	txr := repository.NewTxRunner(deps.DB, cfg.LockTimeout())
	productRepo := repository.NewProductRepository(deps.DB)
	movementRepo := repository.NewStockMovementRepository(deps.DB)
	saleRepo := repository.NewSaleRepository(deps.DB)

	// ── Services ─────────────────────────────────────────────────────────────
	stockSvc := service.NewStockService(productRepo, movementRepo, txr, cfg.StockConflictRetries)
	saleSvc := service.NewSaleService(saleRepo, productRepo, stockSvc, txr, deps.Notifier, cfg.StockConflictRetries)
	inventorySvc := service.NewInventoryService(productRepo, movementRepo)
	reconciler := service.NewReconciler(saleRepo, productRepo, movementRepo)

	// ── Handlers ─────────────────────────────────────────────────────────────
	salesH := handler.NewSalesHandler(saleSvc)
	inventoryH := handler.NewInventoryHandler(stockSvc, inventorySvc, reconciler)

	// ── Routes ───────────────────────────────────────────────────────────────

	// Public
	r.GET("/health", handler.Health(deps.DB, deps.Redis, deps.MailCB))
	r.GET("/metrics", metrics.Handler())

	const (
		operator = middleware.RoleOperator
		manager  = middleware.RoleManager
		admin    = middleware.RoleAdmin
	)

	// Protected routes; tokens come from the external auth service
	v1 := r.Group("/v1", middleware.JWTAuth(cfg.JWTSecret))
	{
		sales := v1.Group("/sales")
		{
			sales.POST("", middleware.RequireRole(operator, manager, admin), salesH.RecordSale)
			sales.GET("", middleware.RequireRole(operator, manager, admin), salesH.ListSales)
			sales.GET("/:id", middleware.RequireRole(operator, manager, admin), salesH.GetSale)
			sales.POST("/:id/cancel", middleware.RequireRole(manager, admin), salesH.CancelSale)
			sales.DELETE("/:id", middleware.RequireRole(admin), salesH.DeleteSale)
		}

		v1.GET("/products/:id/stock", inventoryH.GetStock)

		inv := v1.Group("/inventory", middleware.RequireRole(manager, admin))
		{
			inv.POST("/adjustments", inventoryH.Adjust)
			inv.GET("/movements", inventoryH.ListMovements)
			inv.GET("/alerts", inventoryH.LowStockAlerts)
			inv.GET("/valuation", inventoryH.Valuation)
		}
		v1.GET("/inventory/reconciliation", middleware.RequireRole(admin), inventoryH.Reconciliation)
	}

	// Swagger UI, only outside production
	if cfg.Env != "production" {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	return r
}
