package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"assetdesk/internal/config"
	"assetdesk/internal/handlers"
	"assetdesk/internal/messaging"
	"assetdesk/internal/models"
	"assetdesk/internal/observability"
	"assetdesk/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	gormtracing "gorm.io/plugin/opentelemetry/tracing"
)

var version = "dev"

func main() {
	// 读取配置文件（默认 ./config.yml）并初始化日志
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()

	cfg := config.Load()

	if err := config.InitLogger(cfg); err != nil {
		logrus.Warnf("init logger: %v", err)
	}
	appLogger := logrus.StandardLogger()

	// OpenTelemetry 初始化（可选）
	shutdownOTel, err := observability.SetupTracing(context.Background(), cfg)
	if err != nil {
		appLogger.Warnf("init tracing: %v", err)
	} else {
		defer func() { _ = shutdownOTel(context.Background()) }()
	}

	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=UTC",
		getenvDefault("DB_HOST", cfg.Database.Host),
		getenvDefault("DB_USER", cfg.Database.User),
		getenvDefault("DB_PASSWORD", cfg.Database.Password),
		getenvDefault("DB_NAME", cfg.Database.Name),
		cfg.Database.Port,
		getenvDefault("DB_SSLMODE", "disable"),
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		appLogger.Fatalf("Failed to connect to database: %v", err)
	}
	if cfg.Monitoring.Tracing.Enabled {
		_ = db.Use(gormtracing.NewPlugin())
	}

	if err := db.AutoMigrate(
		&models.User{}, &models.Asset{},
		&models.Ticket{}, &models.TicketComment{},
		&models.Notification{}, &models.DeadLetter{},
		&models.WorkflowTemplate{}, &models.WorkflowExecution{},
		&models.AssignmentRule{},
		&models.SLAPolicy{}, &models.TicketSLA{},
	); err != nil {
		appLogger.Fatalf("Failed to migrate database: %v", err)
	}

	// 出站消息网关：未启用时用占位实现，服务层无需判空
	var gateway messaging.Gateway
	if cfg.WhatsApp.Enabled {
		gateway = messaging.NewWhatsAppClient(cfg.WhatsApp, appLogger)
	} else {
		gateway = &messaging.NoopGateway{Logger: appLogger}
	}

	// 初始化自动化核心
	notifier := services.NewNotificationService(db, appLogger)
	executor := services.NewActionExecutor(db, appLogger, notifier, gateway)
	workflowService := services.NewWorkflowService(db, appLogger, executor)
	assignmentService := services.NewAssignmentService(db, appLogger)
	slaService := services.NewSLAService(db, appLogger, notifier, gateway, cfg.SLA)
	dispatcher := services.NewDispatcher(db, appLogger, cfg.Automation)
	ticketService := services.NewTicketService(db, appLogger, workflowService, assignmentService, slaService, dispatcher)

	// 启动SLA巡检后台服务
	monitorCtx, cancelMonitor := context.WithCancel(context.Background())
	defer cancelMonitor()
	go slaService.StartSLAMonitor(monitorCtx, cfg.SLA.SweepInterval)

	// 初始化 Gin
	if cfg.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())
	if cfg.Monitoring.Tracing.Enabled {
		r.Use(otelgin.Middleware(cfg.Monitoring.Tracing.ServiceName))
	}

	handlers.RegisterHealthRoutes(r, handlers.NewHealthHandler(db, version))

	api := r.Group("/api")
	handlers.RegisterTicketRoutes(api, handlers.NewTicketHandler(ticketService))
	handlers.RegisterWorkflowRoutes(api, handlers.NewWorkflowHandler(workflowService))
	handlers.RegisterAssignmentRoutes(api, handlers.NewAssignmentHandler(assignmentService))
	handlers.RegisterSLARoutes(api, handlers.NewSLAHandler(slaService))
	if cfg.Monitoring.Enabled {
		handlers.RegisterMetricsRoutes(api, handlers.NewMetricsHandler())
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: r,
	}

	go func() {
		appLogger.Infof("assetdesk listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatalf("Server error: %v", err)
		}
	}()

	// 优雅退出：停收请求，等待在途自动化任务落地
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("Shutting down...")

	cancelMonitor()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Errorf("Server shutdown: %v", err)
	}
	dispatcher.Wait()
	appLogger.Info("Bye")
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
