package services

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"

	"assetdesk/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// newTestDB 内存数据库测试夹具。
// 连接池限制为单连接，避免 :memory: 在并发下各连接见到不同库。
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap test db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&models.User{},
		&models.Asset{},
		&models.Ticket{},
		&models.TicketComment{},
		&models.Notification{},
		&models.DeadLetter{},
		&models.WorkflowTemplate{},
		&models.WorkflowExecution{},
		&models.AssignmentRule{},
		&models.SLAPolicy{},
		&models.TicketSLA{},
	)
	if err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func seedUser(t *testing.T, db *gorm.DB, username, role string) *models.User {
	t.Helper()
	user := &models.User{
		Username:  username,
		Email:     username + "@example.com",
		Name:      username,
		Role:      role,
		Available: true,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("seed user %s: %v", username, err)
	}
	return user
}

func seedTechnician(t *testing.T, db *gorm.DB, username, location string) *models.User {
	t.Helper()
	user := &models.User{
		Username:  username,
		Email:     username + "@example.com",
		Name:      username,
		Role:      "technician",
		Location:  location,
		Available: true,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("seed technician %s: %v", username, err)
	}
	return user
}

func seedTicket(t *testing.T, db *gorm.DB, createdBy uint, priority, status string) *models.Ticket {
	t.Helper()
	ticket := &models.Ticket{
		Title:       fmt.Sprintf("ticket by %d", createdBy),
		CreatedByID: createdBy,
		Priority:    priority,
		Status:      status,
	}
	if err := db.Create(ticket).Error; err != nil {
		t.Fatalf("seed ticket: %v", err)
	}
	return ticket
}

// fakeGateway 记录外发消息的测试替身
type fakeGateway struct {
	mu   sync.Mutex
	fail bool
	sent []string // "to: body"
}

func (g *fakeGateway) SendText(ctx context.Context, to, body string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail {
		return fmt.Errorf("gateway unavailable")
	}
	g.sent = append(g.sent, to+": "+body)
	return nil
}

func (g *fakeGateway) sentCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sent)
}
