package http

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"docqa/internal/bootstrap"
	mysqlClient "docqa/internal/platform/mysql"
	rabbitmqClient "docqa/internal/platform/rabbitmq"
	"docqa/internal/transport/http/handler"
	"docqa/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) (*gin.Engine, error) {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.MaxMultipartMemory = app.Config.Upload.MaxFileBytes + 1<<20

	healthHandler := handler.NewHealthHandler(app.Config.App.Name, app.Config.App.Env, app.StartedAt,
		handler.DependencyCheck{Name: "mysql", Check: func(ctx context.Context) error {
			return mysqlClient.Ping(ctx, app.MySQL)
		}},
		handler.DependencyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return app.Redis.Ping(ctx).Err()
		}},
		handler.DependencyCheck{Name: "rabbitmq", Check: func(context.Context) error {
			return rabbitmqClient.Healthy(app.MQConn)
		}},
	)
	router.GET("/healthz", healthHandler.Check)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(app.Registry, promhttp.HandlerOpts{})))

	rl := app.Config.RateLimit
	authLimiter, err := middleware.NewRateLimiter("auth", rl.AuthPerWindow, rl.AuthWindow, rl.CacheSize,
		"too many authentication attempts, please try again later", app.Metrics.ObserveRateLimited)
	if err != nil {
		return nil, err
	}
	askLimiter, err := middleware.NewRateLimiter("ask", rl.AskPerMinute, time.Minute, rl.CacheSize,
		"too many questions, please slow down", app.Metrics.ObserveRateLimited)
	if err != nil {
		return nil, err
	}

	authHandler := handler.NewAuthHandler(app.Auth)
	documentHandler := handler.NewDocumentHandler(app.Documents, app.Config.Upload.MaxFileBytes)
	qaHandler := handler.NewQAHandler(app.QA)
	requireUser := middleware.AuthJWT(app.Config.Auth.JWTSecret)

	v1 := router.Group("/api/v1")
	authGroup := v1.Group("/auth")
	authGroup.POST("/register", authLimiter.Middleware(middleware.ByIP), authHandler.Register)
	authGroup.POST("/login", authLimiter.Middleware(middleware.ByIP), authHandler.Login)
	authGroup.GET("/me", requireUser, authHandler.Me)

	documentGroup := v1.Group("/documents")
	documentGroup.Use(requireUser)
	documentGroup.POST("/upload", documentHandler.Upload)
	documentGroup.GET("", documentHandler.List)
	documentGroup.GET("/:id", documentHandler.Get)
	documentGroup.DELETE("/:id", documentHandler.Delete)
	documentGroup.POST("/:id/reprocess", documentHandler.Reprocess)

	qaGroup := v1.Group("/qa")
	qaGroup.Use(requireUser)
	qaGroup.POST("/ask", askLimiter.Middleware(middleware.ByUser), qaHandler.Ask)
	qaGroup.GET("/history", qaHandler.History)
	qaGroup.GET("/sessions/:id", qaHandler.Session)
	qaGroup.POST("/sessions/:id/feedback", qaHandler.Feedback)
	qaGroup.GET("/analytics", qaHandler.Analytics)

	return router, nil
}
