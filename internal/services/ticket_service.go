package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"assetdesk/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// TicketService 工单生命周期服务，也是自动化事件的触发源。
// 每次变更先落库，再异步派发自动化任务；自动化失败不影响变更本身。
type TicketService struct {
	db         *gorm.DB
	logger     *logrus.Logger
	workflows  *WorkflowService
	assignment *AssignmentService
	sla        *SLAService
	dispatcher *Dispatcher
}

// NewTicketService 创建工单服务
func NewTicketService(db *gorm.DB, logger *logrus.Logger, workflows *WorkflowService, assignment *AssignmentService, sla *SLAService, dispatcher *Dispatcher) *TicketService {
	if logger == nil {
		logger = logrus.New()
	}
	return &TicketService{
		db:         db,
		logger:     logger,
		workflows:  workflows,
		assignment: assignment,
		sla:        sla,
		dispatcher: dispatcher,
	}
}

// TicketCreateRequest 创建工单请求
type TicketCreateRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	CreatedByID uint   `json:"created_by_id" binding:"required"`
	AssetID     *uint  `json:"asset_id"`
	Category    string `json:"category"`
	Priority    string `json:"priority"`
}

// CreateTicket 创建工单并触发 created 事件：
// 流程匹配、自动派单与SLA建档都是互不阻塞的后台任务
func (s *TicketService) CreateTicket(ctx context.Context, req *TicketCreateRequest) (*models.Ticket, error) {
	priority := req.Priority
	if priority == "" {
		priority = "medium"
	}
	if !validTicketPriorities[priority] {
		return nil, fmt.Errorf("invalid priority: %s", priority)
	}

	ticket := &models.Ticket{
		Title:       req.Title,
		Description: req.Description,
		CreatedByID: req.CreatedByID,
		AssetID:     req.AssetID,
		Category:    req.Category,
		Priority:    priority,
		Status:      "open",
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(ticket).Error; err != nil {
		return nil, fmt.Errorf("failed to create ticket: %w", err)
	}

	s.logger.Infof("Created ticket %d: %s (priority=%s)", ticket.ID, ticket.Title, ticket.Priority)

	ticketID := ticket.ID
	current := s.ticketSnapshot(ctx, ticketID)
	s.dispatcher.Dispatch("workflow.created", ticketID, func(ctx context.Context) error {
		s.workflows.ExecuteWorkflows(ctx, "ticket", "created", ticketID, current, nil)
		return nil
	})
	s.dispatcher.Dispatch("auto_assign", ticketID, func(ctx context.Context) error {
		_, err := s.assignment.AutoAssignTicket(ctx, ticketID)
		return err
	})
	s.dispatcher.Dispatch("sla.create", ticketID, func(ctx context.Context) error {
		return s.sla.CreateSLA(ctx, ticketID)
	})

	return ticket, nil
}

// UpdateStatus 修改工单状态并触发 status_changed 事件。
// 进入 in_progress 视为首次响应，进入 resolved 记录解决时刻。
func (s *TicketService) UpdateStatus(ctx context.Context, ticketID uint, status string) (*models.Ticket, error) {
	validStatuses := map[string]bool{"open": true, "in_progress": true, "resolved": true, "closed": true}
	if !validStatuses[status] {
		return nil, fmt.Errorf("invalid status: %s", status)
	}

	var ticket models.Ticket
	if err := s.db.WithContext(ctx).First(&ticket, ticketID).Error; err != nil {
		return nil, fmt.Errorf("ticket not found: %w", err)
	}
	previous := s.snapshotOf(&ticket)

	now := time.Now()
	updates := map[string]interface{}{"status": status, "updated_at": now}
	switch status {
	case "resolved":
		updates["resolved_at"] = now
	case "closed":
		updates["closed_at"] = now
	}
	if err := s.db.WithContext(ctx).Model(&models.Ticket{}).Where("id = ?", ticketID).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update status: %w", err)
	}

	current := s.ticketSnapshot(ctx, ticketID)
	s.dispatcher.Dispatch("workflow.status_changed", ticketID, func(ctx context.Context) error {
		s.workflows.ExecuteWorkflows(ctx, "ticket", "status_changed", ticketID, current, previous)
		return nil
	})

	switch status {
	case "in_progress":
		s.dispatcher.Dispatch("sla.first_response", ticketID, func(ctx context.Context) error {
			return s.sla.RecordFirstResponse(ctx, ticketID)
		})
	case "resolved":
		s.dispatcher.Dispatch("sla.resolution", ticketID, func(ctx context.Context) error {
			return s.sla.RecordResolution(ctx, ticketID)
		})
	}

	return s.GetTicket(ctx, ticketID)
}

// UpdatePriority 修改优先级并触发 priority_changed 事件
func (s *TicketService) UpdatePriority(ctx context.Context, ticketID uint, priority string) (*models.Ticket, error) {
	if !validTicketPriorities[priority] {
		return nil, fmt.Errorf("invalid priority: %s", priority)
	}

	var ticket models.Ticket
	if err := s.db.WithContext(ctx).First(&ticket, ticketID).Error; err != nil {
		return nil, fmt.Errorf("ticket not found: %w", err)
	}
	previous := s.snapshotOf(&ticket)

	if err := s.db.WithContext(ctx).Model(&models.Ticket{}).
		Where("id = ?", ticketID).
		Updates(map[string]interface{}{"priority": priority, "updated_at": time.Now()}).Error; err != nil {
		return nil, fmt.Errorf("failed to update priority: %w", err)
	}

	current := s.ticketSnapshot(ctx, ticketID)
	s.dispatcher.Dispatch("workflow.priority_changed", ticketID, func(ctx context.Context) error {
		s.workflows.ExecuteWorkflows(ctx, "ticket", "priority_changed", ticketID, current, previous)
		return nil
	})

	return s.GetTicket(ctx, ticketID)
}

// AssignTicket 手工指派并触发 assigned 事件
func (s *TicketService) AssignTicket(ctx context.Context, ticketID, userID uint) (*models.Ticket, error) {
	var ticket models.Ticket
	if err := s.db.WithContext(ctx).First(&ticket, ticketID).Error; err != nil {
		return nil, fmt.Errorf("ticket not found: %w", err)
	}
	previous := s.snapshotOf(&ticket)

	var user models.User
	if err := s.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		return nil, fmt.Errorf("assignee not found: %w", err)
	}

	if err := s.db.WithContext(ctx).Model(&models.Ticket{}).
		Where("id = ?", ticketID).
		Updates(map[string]interface{}{"assigned_to_id": userID, "updated_at": time.Now()}).Error; err != nil {
		return nil, fmt.Errorf("failed to assign ticket: %w", err)
	}

	current := s.ticketSnapshot(ctx, ticketID)
	s.dispatcher.Dispatch("workflow.assigned", ticketID, func(ctx context.Context) error {
		s.workflows.ExecuteWorkflows(ctx, "ticket", "assigned", ticketID, current, previous)
		return nil
	})

	return s.GetTicket(ctx, ticketID)
}

// AddComment 追加评论。受理技术员的首条公开评论视为首次响应。
func (s *TicketService) AddComment(ctx context.Context, ticketID, userID uint, content string) (*models.TicketComment, error) {
	if content == "" {
		return nil, fmt.Errorf("content required")
	}

	var ticket models.Ticket
	if err := s.db.WithContext(ctx).First(&ticket, ticketID).Error; err != nil {
		return nil, fmt.Errorf("ticket not found: %w", err)
	}

	hash := sha256.Sum256([]byte(content))
	comment := &models.TicketComment{
		TicketID:    ticketID,
		UserID:      userID,
		Content:     content,
		ContentHash: hex.EncodeToString(hash[:]),
		Type:        "comment",
		CreatedAt:   time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(comment).Error; err != nil {
		return nil, fmt.Errorf("failed to create comment: %w", err)
	}

	if ticket.AssignedToID != nil && *ticket.AssignedToID == userID {
		s.dispatcher.Dispatch("sla.first_response", ticketID, func(ctx context.Context) error {
			return s.sla.RecordFirstResponse(ctx, ticketID)
		})
	}

	return comment, nil
}

// GetTicket 读取工单详情
func (s *TicketService) GetTicket(ctx context.Context, ticketID uint) (*models.Ticket, error) {
	var ticket models.Ticket
	if err := s.db.WithContext(ctx).
		Preload("CreatedBy").Preload("AssignedTo").Preload("Asset").
		First(&ticket, ticketID).Error; err != nil {
		return nil, fmt.Errorf("ticket not found: %w", err)
	}
	return &ticket, nil
}

// ticketSnapshot 加载最新工单并生成条件求值快照
func (s *TicketService) ticketSnapshot(ctx context.Context, ticketID uint) map[string]interface{} {
	ticket, err := s.GetTicket(ctx, ticketID)
	if err != nil {
		s.logger.Warnf("ticket: snapshot of %d failed: %v", ticketID, err)
		return map[string]interface{}{}
	}
	return s.snapshotOf(ticket)
}

func (s *TicketService) snapshotOf(ticket *models.Ticket) map[string]interface{} {
	snap := map[string]interface{}{
		"id":          ticket.ID,
		"title":       ticket.Title,
		"description": ticket.Description,
		"priority":    ticket.Priority,
		"status":      ticket.Status,
		"category":    ticket.Category,
	}
	if ticket.AssignedToID != nil {
		snap["assigned_to_id"] = *ticket.AssignedToID
	}
	if ticket.Asset != nil {
		snap["asset"] = map[string]interface{}{
			"type":            ticket.Asset.Type,
			"office_location": ticket.Asset.OfficeLocation,
		}
	}
	if ticket.CreatedBy.ID != 0 {
		snap["created_by"] = map[string]interface{}{
			"department": ticket.CreatedBy.Department,
			"location":   ticket.CreatedBy.Location,
		}
	}
	return snap
}
