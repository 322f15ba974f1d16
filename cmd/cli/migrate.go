package main

import (
	"fmt"

	"assetdesk/internal/config"
	"assetdesk/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// migrateCmd 执行数据库结构迁移后退出
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database schema migration and exit",
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

		logger.Info("Starting database migration...")
		if err := db.AutoMigrate(
			&models.User{}, &models.Asset{},
			&models.Ticket{}, &models.TicketComment{},
			&models.Notification{}, &models.DeadLetter{},
			&models.WorkflowTemplate{}, &models.WorkflowExecution{},
			&models.AssignmentRule{},
			&models.SLAPolicy{}, &models.TicketSLA{},
		); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Info("Migration completed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
