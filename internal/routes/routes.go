// internal/routes/routes.go
package routes

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"kiosk-control/internal/config"
	"kiosk-control/internal/database"
	"kiosk-control/internal/handler"
	"kiosk-control/internal/link"
	"kiosk-control/internal/middleware"
	"kiosk-control/internal/service"
	"kiosk-control/internal/utils"
)

// Router holds all dependencies for routing
type Router struct {
	config          *config.Config
	logger          *zap.Logger
	db              *database.DB
	links           *link.Registry
	vendingService  *service.VendingService
	hardwareService *service.HardwareService
	wsHandler       *handler.WebSocketHandler
}

// NewRouter creates a new router instance
func NewRouter(
	config *config.Config,
	logger *zap.Logger,
	db *database.DB,
	links *link.Registry,
	vendingService *service.VendingService,
	hardwareService *service.HardwareService,
	wsHandler *handler.WebSocketHandler,
) *Router {
	return &Router{
		config:          config,
		logger:          logger,
		db:              db,
		links:           links,
		vendingService:  vendingService,
		hardwareService: hardwareService,
		wsHandler:       wsHandler,
	}
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() *gin.Engine {
	if r.config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	r.addMiddleware(router)
	r.addRoutes(router)

	return router
}

// addMiddleware adds middleware to the router
func (r *Router) addMiddleware(router *gin.Engine) {
	router.Use(middleware.RecoveryMiddleware(r.logger))
	router.Use(middleware.RequestIDMiddleware())

	serviceLogger := utils.NewServiceLogger(r.logger, "http-server")
	router.Use(middleware.LoggingMiddleware(serviceLogger))

	router.Use(middleware.CORSMiddleware(&r.config.Server))

	r.logger.Info("Middleware configured")
}

// addRoutes sets up all application routes
func (r *Router) addRoutes(router *gin.Engine) {
	healthHandler := handler.NewHealthHandler(r.db, r.links, r.config, r.logger)
	paymentHandler := handler.NewPaymentHandler(r.vendingService, r.logger)
	vendHandler := handler.NewVendHandler(r.vendingService, r.logger)
	hardwareHandler := handler.NewHardwareHandler(r.hardwareService, r.logger)

	// Health check routes
	healthHandler.RegisterRoutes(router.Group(""))

	// API v1 routes
	apiV1 := router.Group("/api/v1")
	paymentHandler.RegisterRoutes(apiV1)
	vendHandler.RegisterRoutes(apiV1)
	hardwareHandler.RegisterRoutes(apiV1)

	// WebSocket routes
	r.wsHandler.RegisterRoutes(router.Group("/ws"))

	r.logger.Info("All routes configured successfully")
}
