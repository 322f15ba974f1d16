package services

import (
	"context"
	"fmt"
	"time"

	"assetdesk/internal/config"
	"assetdesk/internal/messaging"
	"assetdesk/internal/metrics"
	"assetdesk/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// SLAService SLA跟踪与巡检服务
type SLAService struct {
	db       *gorm.DB
	logger   *logrus.Logger
	notifier *NotificationService
	gateway  messaging.Gateway
	tracer   trace.Tracer

	businessHourStart int
	businessHourEnd   int
}

// NewSLAService 创建SLA服务
func NewSLAService(db *gorm.DB, logger *logrus.Logger, notifier *NotificationService, gateway messaging.Gateway, cfg config.SLAConfig) *SLAService {
	if logger == nil {
		logger = logrus.New()
	}
	start, end := cfg.BusinessHourStart, cfg.BusinessHourEnd
	if start <= 0 || end <= start {
		start, end = 9, 17
	}
	return &SLAService{
		db:                db,
		logger:            logger,
		notifier:          notifier,
		gateway:           gateway,
		tracer:            otel.Tracer("assetdesk.sla"),
		businessHourStart: start,
		businessHourEnd:   end,
	}
}

// CreateSLA 在工单创建时建立SLA跟踪。
// 优先级没有匹配的启用策略时静默跳过；同一工单至多一条记录。
func (s *SLAService) CreateSLA(ctx context.Context, ticketID uint) error {
	ctx, span := s.tracer.Start(ctx, "sla.create")
	defer span.End()
	span.SetAttributes(attribute.Int64("sla.ticket_id", int64(ticketID)))

	var ticket models.Ticket
	if err := s.db.WithContext(ctx).First(&ticket, ticketID).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("ticket not found: %w", err)
	}

	var existing models.TicketSLA
	if err := s.db.WithContext(ctx).Where("ticket_id = ?", ticketID).First(&existing).Error; err == nil {
		return nil
	} else if err != gorm.ErrRecordNotFound {
		span.RecordError(err)
		return fmt.Errorf("failed to check existing SLA: %w", err)
	}

	var policy models.SLAPolicy
	err := s.db.WithContext(ctx).
		Where("priority = ? AND is_active = ?", ticket.Priority, true).
		First(&policy).Error
	if err == gorm.ErrRecordNotFound {
		s.logger.Debugf("sla: no active policy for priority %s, skipping ticket %d", ticket.Priority, ticketID)
		return nil
	}
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to load SLA policy: %w", err)
	}

	now := time.Now()
	sla := &models.TicketSLA{
		TicketID:           ticketID,
		PolicyID:           policy.ID,
		ResponseDeadline:   s.deadline(now, policy.ResponseTimeMinutes, policy.BusinessHoursOnly),
		ResolutionDeadline: s.deadline(now, policy.ResolutionTimeMinutes, policy.BusinessHoursOnly),
		Status:             "on_track",
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.db.WithContext(ctx).Create(sla).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create SLA: %w", err)
	}

	metrics.IncSLAEvent("created")
	s.logger.Infof("sla: tracking ticket %d under policy %s (response by %s, resolution by %s)",
		ticketID, policy.Name, sla.ResponseDeadline.Format(time.RFC3339), sla.ResolutionDeadline.Format(time.RFC3339))
	return nil
}

func (s *SLAService) deadline(from time.Time, minutes int, businessHoursOnly bool) time.Time {
	if businessHoursOnly {
		return AddBusinessMinutes(from, minutes, s.businessHourStart, s.businessHourEnd)
	}
	return from.Add(time.Duration(minutes) * time.Minute)
}

// RecordFirstResponse 记录首次响应时刻并判定响应轴是否违约
func (s *SLAService) RecordFirstResponse(ctx context.Context, ticketID uint) error {
	ctx, span := s.tracer.Start(ctx, "sla.record_first_response")
	defer span.End()
	span.SetAttributes(attribute.Int64("sla.ticket_id", int64(ticketID)))

	sla, err := s.loadSLA(ctx, ticketID)
	if err != nil || sla == nil {
		return err
	}
	if sla.FirstResponseAt != nil {
		return nil
	}

	now := time.Now()
	sla.FirstResponseAt = &now
	sla.ResponseBreached = now.After(sla.ResponseDeadline)
	sla.UpdatedAt = now
	if sla.ResponseBreached {
		sla.Status = "breached"
	}

	if err := s.db.WithContext(ctx).Save(sla).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to record first response: %w", err)
	}

	if sla.ResponseBreached {
		s.handleBreach(ctx, sla, "response")
	}
	return nil
}

// RecordResolution 记录解决时刻并判定解决轴是否违约。
// 按时解决会把 at_risk 收敛回 on_track，但不会从 breached 降级。
func (s *SLAService) RecordResolution(ctx context.Context, ticketID uint) error {
	ctx, span := s.tracer.Start(ctx, "sla.record_resolution")
	defer span.End()
	span.SetAttributes(attribute.Int64("sla.ticket_id", int64(ticketID)))

	sla, err := s.loadSLA(ctx, ticketID)
	if err != nil || sla == nil {
		return err
	}
	if sla.ResolvedAt != nil {
		return nil
	}

	now := time.Now()
	sla.ResolvedAt = &now
	sla.ResolutionBreached = now.After(sla.ResolutionDeadline)
	sla.UpdatedAt = now
	if sla.ResolutionBreached {
		sla.Status = "breached"
	} else if sla.Status != "breached" {
		sla.Status = "on_track"
	}

	if err := s.db.WithContext(ctx).Save(sla).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to record resolution: %w", err)
	}

	if sla.ResolutionBreached {
		s.handleBreach(ctx, sla, "resolution")
	}
	return nil
}

func (s *SLAService) loadSLA(ctx context.Context, ticketID uint) (*models.TicketSLA, error) {
	var sla models.TicketSLA
	err := s.db.WithContext(ctx).
		Preload("Policy").Preload("Ticket").
		Where("ticket_id = ?", ticketID).
		First(&sla).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil // 未跟踪的工单不是错误
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load SLA: %w", err)
	}
	return &sla, nil
}

// CheckAllSLAs 巡检所有未解决的SLA记录。
// 每条记录独立隔离，单条异常不会中断整轮巡检。
func (s *SLAService) CheckAllSLAs(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "sla.check_all")
	defer span.End()

	var slas []models.TicketSLA
	if err := s.db.WithContext(ctx).
		Preload("Policy").Preload("Ticket").
		Where("resolved_at IS NULL").
		Find(&slas).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to load open SLAs: %w", err)
	}

	checked, flagged := 0, 0
	for i := range slas {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Errorf("sla: panic while checking ticket %d: %v", slas[i].TicketID, r)
				}
			}()
			changed, err := s.checkSLA(ctx, &slas[i])
			if err != nil {
				s.logger.Errorf("sla: check for ticket %d failed: %v", slas[i].TicketID, err)
				return
			}
			checked++
			if changed {
				flagged++
			}
		}()
	}

	s.logger.Infof("sla: sweep completed, checked %d records, %d state changes", checked, flagged)
	span.SetAttributes(
		attribute.Int("sla.sweep.checked", checked),
		attribute.Int("sla.sweep.flagged", flagged),
	)
	return nil
}

// slaWarning 单条待发送的临期提醒
type slaWarning struct {
	axis      string
	remaining time.Duration
}

// checkSLA 重算两条截止时间轴并推进状态机。
// 新状态先落库，提醒与违约通知在落库成功后发出。
func (s *SLAService) checkSLA(ctx context.Context, sla *models.TicketSLA) (bool, error) {
	now := time.Now()
	notifyBefore := time.Duration(sla.Policy.NotifyBeforeMinutes) * time.Minute
	changed := false
	var breachedAxes []string
	var warnings []slaWarning

	// 响应轴：首次响应未记录时才继续计时
	if sla.FirstResponseAt == nil {
		remaining := sla.ResponseDeadline.Sub(now)
		if remaining <= 0 && !sla.ResponseBreached {
			sla.ResponseBreached = true
			sla.Status = "breached"
			breachedAxes = append(breachedAxes, "response")
			changed = true
		} else if remaining > 0 && remaining <= notifyBefore && !sla.ResponseWarned {
			sla.ResponseWarned = true
			if sla.Status == "on_track" {
				sla.Status = "at_risk"
			}
			warnings = append(warnings, slaWarning{axis: "response", remaining: remaining})
			changed = true
		}
	}

	// 解决轴
	remaining := sla.ResolutionDeadline.Sub(now)
	if remaining <= 0 && !sla.ResolutionBreached {
		sla.ResolutionBreached = true
		sla.Status = "breached"
		breachedAxes = append(breachedAxes, "resolution")
		changed = true
	} else if remaining > 0 && remaining <= notifyBefore && !sla.ResolutionWarned {
		sla.ResolutionWarned = true
		if sla.Status == "on_track" {
			sla.Status = "at_risk"
		}
		warnings = append(warnings, slaWarning{axis: "resolution", remaining: remaining})
		changed = true
	}

	if !changed {
		return false, nil
	}

	sla.UpdatedAt = now
	if err := s.db.WithContext(ctx).Save(sla).Error; err != nil {
		return false, fmt.Errorf("failed to save SLA state: %w", err)
	}

	for _, w := range warnings {
		s.sendWarning(ctx, sla, w.axis, w.remaining)
	}
	for _, axis := range breachedAxes {
		s.handleBreach(ctx, sla, axis)
	}
	return true, nil
}

// sendWarning 截止时间临近时提醒受理人
func (s *SLAService) sendWarning(ctx context.Context, sla *models.TicketSLA, axis string, remaining time.Duration) {
	metrics.IncSLAEvent("warning")
	if sla.Ticket.AssignedToID == nil {
		s.logger.Warnf("sla: ticket %d %s deadline in %d minutes but unassigned", sla.TicketID, axis, int(remaining.Minutes()))
		return
	}

	title := fmt.Sprintf("SLA %s deadline approaching", axis)
	message := fmt.Sprintf("Ticket #%d %s deadline in %d minutes", sla.TicketID, axis, int(remaining.Minutes()))
	if err := s.notifier.Notify(ctx, *sla.Ticket.AssignedToID, &sla.TicketID, "sla_warning", title, message); err != nil {
		s.logger.Warnf("sla: warning notification for ticket %d failed: %v", sla.TicketID, err)
	}
}

// handleBreach 违约处理：通知受理人与建单人，
// 策略允许时升级一次（至多一次）
func (s *SLAService) handleBreach(ctx context.Context, sla *models.TicketSLA, axis string) {
	metrics.IncSLAEvent("breach")
	s.logger.Warnf("sla: ticket %d breached %s deadline", sla.TicketID, axis)

	title := fmt.Sprintf("SLA %s breached", axis)
	message := fmt.Sprintf("Ticket #%d has breached its %s deadline", sla.TicketID, axis)

	recipients := []uint{sla.Ticket.CreatedByID}
	if sla.Ticket.AssignedToID != nil {
		recipients = append([]uint{*sla.Ticket.AssignedToID}, recipients...)
	}
	s.notifier.NotifyMany(ctx, recipients, &sla.TicketID, "sla_breach", title, message)
	s.sendWhatsAppAlert(ctx, recipients, message)

	policy := sla.Policy
	if !policy.EscalationEnabled || policy.EscalationUserID == nil || sla.Escalated {
		return
	}

	now := time.Now()
	res := s.db.WithContext(ctx).Model(&models.TicketSLA{}).
		Where("id = ? AND escalated = ?", sla.ID, false).
		Updates(map[string]interface{}{"escalated": true, "escalated_at": now})
	if res.Error != nil {
		s.logger.Errorf("sla: mark escalated for ticket %d failed: %v", sla.TicketID, res.Error)
		return
	}
	if res.RowsAffected == 0 {
		return // 已被并发巡检升级过
	}
	sla.Escalated = true
	sla.EscalatedAt = &now

	metrics.IncSLAEvent("escalation")
	escMessage := fmt.Sprintf("Ticket #%d escalated: %s SLA breached", sla.TicketID, axis)
	if err := s.notifier.Notify(ctx, *policy.EscalationUserID, &sla.TicketID, "escalation", "SLA escalation", escMessage); err != nil {
		s.logger.Warnf("sla: escalation notification for ticket %d failed: %v", sla.TicketID, err)
	}
	s.sendWhatsAppAlert(ctx, []uint{*policy.EscalationUserID}, escMessage)
}

// sendWhatsAppAlert 给开启了 WhatsApp 渠道的接收人发送文本提醒
func (s *SLAService) sendWhatsAppAlert(ctx context.Context, userIDs []uint, message string) {
	var users []models.User
	if err := s.db.WithContext(ctx).
		Where("id IN ? AND whats_app_opt_in = ? AND phone <> ''", userIDs, true).
		Find(&users).Error; err != nil {
		s.logger.Warnf("sla: load whatsapp recipients failed: %v", err)
		return
	}
	for _, user := range users {
		if err := s.gateway.SendText(ctx, user.Phone, message); err != nil {
			s.logger.Warnf("sla: whatsapp to user %d failed: %v", user.ID, err)
		}
	}
}

// StartSLAMonitor 启动SLA巡检后台服务
func (s *SLAService) StartSLAMonitor(ctx context.Context, interval time.Duration) {
	s.logger.Info("Starting SLA monitoring service")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("SLA monitoring service stopped")
			return
		case <-ticker.C:
			if err := s.CheckAllSLAs(ctx); err != nil {
				s.logger.Errorf("SLA sweep error: %v", err)
			}
		}
	}
}

// SLAStatsResponse SLA统计响应
type SLAStatsResponse struct {
	ActivePolicies     int64             `json:"active_policies"`
	TrackedTickets     int64             `json:"tracked_tickets"`
	ByStatus           map[string]int64  `json:"by_status"`
	ResponseBreaches   int64             `json:"response_breaches"`
	ResolutionBreaches int64             `json:"resolution_breaches"`
	Escalations        int64             `json:"escalations"`
	Events             map[string]uint64 `json:"events"`
}

// GetSLAStats 获取SLA统计信息
func (s *SLAService) GetSLAStats(ctx context.Context) (*SLAStatsResponse, error) {
	ctx, span := s.tracer.Start(ctx, "sla.get_stats")
	defer span.End()

	stats := &SLAStatsResponse{ByStatus: make(map[string]int64)}

	if err := s.db.WithContext(ctx).Model(&models.SLAPolicy{}).Where("is_active = ?", true).Count(&stats.ActivePolicies).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to count policies: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(&models.TicketSLA{}).Count(&stats.TrackedTickets).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to count tracked tickets: %w", err)
	}

	var statusRows []struct {
		Status string `json:"status"`
		Count  int64  `json:"count"`
	}
	if err := s.db.WithContext(ctx).Model(&models.TicketSLA{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&statusRows).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to aggregate SLA status: %w", err)
	}
	for _, row := range statusRows {
		stats.ByStatus[row.Status] = row.Count
	}

	if err := s.db.WithContext(ctx).Model(&models.TicketSLA{}).Where("response_breached = ?", true).Count(&stats.ResponseBreaches).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to count response breaches: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(&models.TicketSLA{}).Where("resolution_breached = ?", true).Count(&stats.ResolutionBreaches).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to count resolution breaches: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(&models.TicketSLA{}).Where("escalated = ?", true).Count(&stats.Escalations).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to count escalations: %w", err)
	}

	_, events := metrics.SLASnapshot()
	stats.Events = events

	return stats, nil
}

// SLAPolicyRequest 创建SLA策略请求
type SLAPolicyRequest struct {
	Name                  string `json:"name" binding:"required"`
	Priority              string `json:"priority" binding:"required"`
	ResponseTimeMinutes   int    `json:"response_time_minutes" binding:"required,min=1"`
	ResolutionTimeMinutes int    `json:"resolution_time_minutes" binding:"required,min=1"`
	BusinessHoursOnly     bool   `json:"business_hours_only"`
	NotifyBeforeMinutes   int    `json:"notify_before_minutes"`
	EscalationEnabled     bool   `json:"escalation_enabled"`
	EscalationUserID      *uint  `json:"escalation_user_id"`
	IsActive              *bool  `json:"is_active"`
}

var validTicketPriorities = map[string]bool{"low": true, "medium": true, "high": true, "critical": true}

// CreatePolicy 创建SLA策略
func (s *SLAService) CreatePolicy(ctx context.Context, req *SLAPolicyRequest) (*models.SLAPolicy, error) {
	if !validTicketPriorities[req.Priority] {
		return nil, fmt.Errorf("invalid priority: %s", req.Priority)
	}
	if req.ResponseTimeMinutes >= req.ResolutionTimeMinutes {
		return nil, fmt.Errorf("response time must be less than resolution time")
	}

	var existing models.SLAPolicy
	if err := s.db.WithContext(ctx).Where("priority = ? AND is_active = ?", req.Priority, true).First(&existing).Error; err == nil {
		return nil, fmt.Errorf("active SLA policy for priority '%s' already exists", req.Priority)
	} else if err != gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("failed to check existing policy: %w", err)
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	notifyBefore := req.NotifyBeforeMinutes
	if notifyBefore <= 0 {
		notifyBefore = 30
	}

	policy := &models.SLAPolicy{
		Name:                  req.Name,
		Priority:              req.Priority,
		ResponseTimeMinutes:   req.ResponseTimeMinutes,
		ResolutionTimeMinutes: req.ResolutionTimeMinutes,
		BusinessHoursOnly:     req.BusinessHoursOnly,
		NotifyBeforeMinutes:   notifyBefore,
		EscalationEnabled:     req.EscalationEnabled,
		EscalationUserID:      req.EscalationUserID,
		IsActive:              active,
		CreatedAt:             time.Now(),
		UpdatedAt:             time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(policy).Error; err != nil {
		return nil, fmt.Errorf("failed to create SLA policy: %w", err)
	}

	s.logger.Infof("Created SLA policy: name=%s, priority=%s, response=%dm, resolution=%dm",
		policy.Name, policy.Priority, policy.ResponseTimeMinutes, policy.ResolutionTimeMinutes)
	return policy, nil
}

// ListPolicies 返回所有SLA策略
func (s *SLAService) ListPolicies(ctx context.Context) ([]models.SLAPolicy, error) {
	var policies []models.SLAPolicy
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&policies).Error; err != nil {
		return nil, err
	}
	return policies, nil
}

// DeletePolicy 删除SLA策略
func (s *SLAService) DeletePolicy(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Delete(&models.SLAPolicy{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("policy not found")
	}
	return nil
}
