package main

import (
	"context"
	"fmt"

	"assetdesk/internal/config"
	"assetdesk/internal/messaging"
	"assetdesk/internal/services"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// sweepCmd 执行一轮SLA巡检后退出，供 cron/运维手工触发
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one SLA sweep and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		if err := config.InitLogger(cfg); err != nil {
			logrus.Warnf("init logger: %v", err)
		}
		logger := logrus.StandardLogger()

		db, err := openDatabase(cfg)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}

		var gateway messaging.Gateway
		if cfg.WhatsApp.Enabled {
			gateway = messaging.NewWhatsAppClient(cfg.WhatsApp, logger)
		} else {
			gateway = &messaging.NoopGateway{Logger: logger}
		}

		notifier := services.NewNotificationService(db, logger)
		slaService := services.NewSLAService(db, logger, notifier, gateway, cfg.SLA)
		return slaService.CheckAllSLAs(context.Background())
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
		cfg.Database.Host, cfg.Database.User, cfg.Database.Password, cfg.Database.Name, cfg.Database.Port)
	return gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
}
