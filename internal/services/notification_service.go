package services

import (
	"context"
	"fmt"
	"time"

	"assetdesk/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// 相同通知在该窗口内只投递一次
const notificationDedupeWindow = 5 * time.Minute

// NotificationService 站内通知收件箱
type NotificationService struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewNotificationService(db *gorm.DB, logger *logrus.Logger) *NotificationService {
	if logger == nil {
		logger = logrus.New()
	}
	return &NotificationService{db: db, logger: logger}
}

// Notify 给用户投递一条站内通知。
// 同用户、同工单、同类型在去重窗口内已有记录时静默跳过。
func (s *NotificationService) Notify(ctx context.Context, userID uint, ticketID *uint, kind, title, message string) error {
	query := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND kind = ? AND created_at > ?", userID, kind, time.Now().Add(-notificationDedupeWindow))
	if ticketID != nil {
		query = query.Where("ticket_id = ?", *ticketID)
	}

	var existing int64
	if err := query.Count(&existing).Error; err != nil {
		return fmt.Errorf("failed to check recent notifications: %w", err)
	}
	if existing > 0 {
		s.logger.Debugf("notification: duplicate %s for user %d suppressed", kind, userID)
		return nil
	}

	notification := &models.Notification{
		UserID:    userID,
		TicketID:  ticketID,
		Kind:      kind,
		Title:     title,
		Message:   message,
		CreatedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(notification).Error; err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// NotifyMany 批量投递，单个失败不影响其余接收人
func (s *NotificationService) NotifyMany(ctx context.Context, userIDs []uint, ticketID *uint, kind, title, message string) {
	for _, userID := range userIDs {
		if err := s.Notify(ctx, userID, ticketID, kind, title, message); err != nil {
			s.logger.Warnf("notification: deliver to user %d failed: %v", userID, err)
		}
	}
}
