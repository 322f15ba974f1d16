package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"assetdesk/internal/metrics"
	"assetdesk/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// 计入技术员负载的工单状态
var activeTicketStatuses = []string{"open", "in_progress"}

// AssignmentService 按规则链为未分派工单选择技术员
type AssignmentService struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewAssignmentService(db *gorm.DB, logger *logrus.Logger) *AssignmentService {
	if logger == nil {
		logger = logrus.New()
	}
	return &AssignmentService{db: db, logger: logger}
}

// AutoAssignTicket 尝试为工单选择技术员并写回分派字段。
// 已分派的工单原样返回当前受理人（幂等）；无人可派返回 nil。
func (s *AssignmentService) AutoAssignTicket(ctx context.Context, ticketID uint) (*uint, error) {
	var ticket models.Ticket
	if err := s.db.WithContext(ctx).
		Preload("Asset").Preload("CreatedBy").
		First(&ticket, ticketID).Error; err != nil {
		return nil, fmt.Errorf("ticket not found: %w", err)
	}

	if ticket.AssignedToID != nil {
		return ticket.AssignedToID, nil
	}

	var rules []models.AssignmentRule
	if err := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("priority DESC, created_at ASC, id ASC").
		Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("failed to load assignment rules: %w", err)
	}

	attrs := assignmentSnapshot(&ticket)

	var assignee *uint
	policy := "fallback"
	for _, rule := range rules {
		conds, err := ParseConditions(rule.Conditions)
		if err != nil {
			s.logger.Warnf("assignment: rule %s has invalid conditions: %v", rule.Name, err)
			continue
		}
		if !EvaluateConditions(s.logger, conds, attrs) {
			continue
		}

		assignee, err = s.resolveRule(ctx, &rule, &ticket)
		if err != nil {
			return nil, err
		}
		if assignee != nil {
			policy = rule.AssignmentType
		}
		break
	}

	// 没有规则命中（或命中规则未解析出人选）时回退全局最空闲
	if assignee == nil {
		id, err := s.leastBusyTechnician(ctx, nil, "")
		if err != nil {
			return nil, err
		}
		assignee = id
	}

	if assignee == nil {
		s.logger.Infof("assignment: no available technician for ticket %d", ticketID)
		metrics.IncAssignment("none")
		return nil, nil
	}

	if err := s.db.WithContext(ctx).Model(&models.Ticket{}).
		Where("id = ?", ticketID).
		Update("assigned_to_id", *assignee).Error; err != nil {
		return nil, fmt.Errorf("failed to assign ticket: %w", err)
	}

	metrics.IncAssignment(policy)
	s.logger.Infof("assignment: ticket %d assigned to user %d via %s", ticketID, *assignee, policy)
	return assignee, nil
}

func (s *AssignmentService) resolveRule(ctx context.Context, rule *models.AssignmentRule, ticket *models.Ticket) (*uint, error) {
	switch rule.AssignmentType {
	case "specific_user":
		return s.resolveSpecificUser(ctx, rule)
	case "round_robin":
		return s.resolveRoundRobin(ctx, rule)
	case "least_busy":
		return s.leastBusyTechnician(ctx, nil, "")
	case "skill_based":
		// 技能画像尚未建模，与最空闲策略等价
		return s.leastBusyTechnician(ctx, nil, "")
	case "location_based":
		return s.resolveLocationBased(ctx, ticket)
	default:
		s.logger.Warnf("assignment: rule %s has unknown type %s", rule.Name, rule.AssignmentType)
		return nil, nil
	}
}

// resolveSpecificUser 指定受理人，仅当其当前可用
func (s *AssignmentService) resolveSpecificUser(ctx context.Context, rule *models.AssignmentRule) (*uint, error) {
	if rule.TargetUserID == nil {
		return nil, nil
	}
	var user models.User
	err := s.db.WithContext(ctx).
		Where("id = ? AND available = ?", *rule.TargetUserID, true).
		First(&user).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load target user: %w", err)
	}
	return &user.ID, nil
}

// resolveRoundRobin 在候选池中按上一次分派循环取下一位。
// 池内无历史分派时取列表中的第一位可用用户。
func (s *AssignmentService) resolveRoundRobin(ctx context.Context, rule *models.AssignmentRule) (*uint, error) {
	var targetIDs []uint
	if rule.TargetUserIDs != "" {
		if err := json.Unmarshal([]byte(rule.TargetUserIDs), &targetIDs); err != nil {
			return nil, fmt.Errorf("rule %s: invalid target user ids: %w", rule.Name, err)
		}
	}
	if len(targetIDs) == 0 {
		return nil, nil
	}

	var availableUsers []models.User
	if err := s.db.WithContext(ctx).
		Where("id IN ? AND available = ?", targetIDs, true).
		Find(&availableUsers).Error; err != nil {
		return nil, fmt.Errorf("failed to load round robin pool: %w", err)
	}
	if len(availableUsers) == 0 {
		return nil, nil
	}

	availableSet := make(map[uint]bool, len(availableUsers))
	for _, u := range availableUsers {
		availableSet[u.ID] = true
	}
	// 保持规则声明的顺序
	pool := make([]uint, 0, len(targetIDs))
	for _, id := range targetIDs {
		if availableSet[id] {
			pool = append(pool, id)
		}
	}

	var lastTicket models.Ticket
	err := s.db.WithContext(ctx).
		Where("assigned_to_id IN ?", pool).
		Order("created_at DESC, id DESC").
		First(&lastTicket).Error
	if err == gorm.ErrRecordNotFound {
		return &pool[0], nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find last assignment: %w", err)
	}

	for i, id := range pool {
		if lastTicket.AssignedToID != nil && id == *lastTicket.AssignedToID {
			next := pool[(i+1)%len(pool)]
			return &next, nil
		}
	}
	return &pool[0], nil
}

// resolveLocationBased 匹配技术员与资产办公地点（缺省回退建单人地点），
// 同地点内取最空闲；无人同地点则回退全局最空闲
func (s *AssignmentService) resolveLocationBased(ctx context.Context, ticket *models.Ticket) (*uint, error) {
	location := ""
	if ticket.Asset != nil {
		location = ticket.Asset.OfficeLocation
	}
	if location == "" {
		location = ticket.CreatedBy.Location
	}

	if location != "" {
		id, err := s.leastBusyTechnician(ctx, nil, location)
		if err != nil {
			return nil, err
		}
		if id != nil {
			return id, nil
		}
	}
	return s.leastBusyTechnician(ctx, nil, "")
}

// leastBusyTechnician 在可用技术员中选活跃工单最少的一位。
// 平局按用户ID升序，保证可复现。
func (s *AssignmentService) leastBusyTechnician(ctx context.Context, candidateIDs []uint, location string) (*uint, error) {
	query := s.db.WithContext(ctx).Model(&models.User{}).
		Where("role = ? AND available = ?", "technician", true)
	if len(candidateIDs) > 0 {
		query = query.Where("id IN ?", candidateIDs)
	}
	if location != "" {
		query = query.Where("location = ?", location)
	}

	var technicians []models.User
	if err := query.Order("id ASC").Find(&technicians).Error; err != nil {
		return nil, fmt.Errorf("failed to load technicians: %w", err)
	}
	if len(technicians) == 0 {
		return nil, nil
	}

	ids := make([]uint, len(technicians))
	for i, tech := range technicians {
		ids[i] = tech.ID
	}

	var loadRows []struct {
		AssignedToID uint  `json:"assigned_to_id"`
		Count        int64 `json:"count"`
	}
	if err := s.db.WithContext(ctx).Model(&models.Ticket{}).
		Select("assigned_to_id, COUNT(*) as count").
		Where("assigned_to_id IN ? AND status IN ?", ids, activeTicketStatuses).
		Group("assigned_to_id").
		Scan(&loadRows).Error; err != nil {
		return nil, fmt.Errorf("failed to count active tickets: %w", err)
	}

	load := make(map[uint]int64, len(loadRows))
	for _, row := range loadRows {
		load[row.AssignedToID] = row.Count
	}

	best := technicians[0].ID
	bestLoad := load[best]
	for _, tech := range technicians[1:] {
		if load[tech.ID] < bestLoad {
			best = tech.ID
			bestLoad = load[tech.ID]
		}
	}
	return &best, nil
}

// assignmentSnapshot 规则条件求值用的工单快照
func assignmentSnapshot(ticket *models.Ticket) map[string]interface{} {
	attrs := map[string]interface{}{
		"title":       ticket.Title,
		"description": ticket.Description,
		"priority":    ticket.Priority,
		"status":      ticket.Status,
		"category":    ticket.Category,
		"created_by": map[string]interface{}{
			"department": ticket.CreatedBy.Department,
			"location":   ticket.CreatedBy.Location,
		},
	}
	if ticket.Asset != nil {
		attrs["asset"] = map[string]interface{}{
			"type":            ticket.Asset.Type,
			"office_location": ticket.Asset.OfficeLocation,
		}
	}
	return attrs
}

// AssignmentRuleRequest 创建派单规则请求
type AssignmentRuleRequest struct {
	Name           string      `json:"name" binding:"required"`
	Priority       int         `json:"priority"`
	Conditions     []Condition `json:"conditions"`
	AssignmentType string      `json:"assignment_type" binding:"required"`
	TargetUserID   *uint       `json:"target_user_id"`
	TargetUserIDs  []uint      `json:"target_user_ids"`
	IsActive       *bool       `json:"is_active"`
}

var supportedAssignmentTypes = map[string]bool{
	"round_robin":    true,
	"least_busy":     true,
	"skill_based":    true,
	"location_based": true,
	"specific_user":  true,
}

// CreateRule 新建派单规则，条件在创建时校验
func (s *AssignmentService) CreateRule(ctx context.Context, req *AssignmentRuleRequest) (*models.AssignmentRule, error) {
	if req == nil {
		return nil, fmt.Errorf("request required")
	}
	if !supportedAssignmentTypes[req.AssignmentType] {
		return nil, fmt.Errorf("unsupported assignment type: %s", req.AssignmentType)
	}
	if req.AssignmentType == "specific_user" && req.TargetUserID == nil {
		return nil, fmt.Errorf("target_user_id required for specific_user rules")
	}
	if req.AssignmentType == "round_robin" && len(req.TargetUserIDs) == 0 {
		return nil, fmt.Errorf("target_user_ids required for round_robin rules")
	}
	if err := ValidateConditions(req.Conditions); err != nil {
		return nil, err
	}

	condJSON, err := json.Marshal(req.Conditions)
	if err != nil {
		return nil, fmt.Errorf("invalid conditions: %w", err)
	}
	idsJSON, err := json.Marshal(req.TargetUserIDs)
	if err != nil {
		return nil, fmt.Errorf("invalid target user ids: %w", err)
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	rule := &models.AssignmentRule{
		Name:           req.Name,
		IsActive:       active,
		Priority:       req.Priority,
		Conditions:     string(condJSON),
		AssignmentType: req.AssignmentType,
		TargetUserID:   req.TargetUserID,
		TargetUserIDs:  string(idsJSON),
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(rule).Error; err != nil {
		return nil, err
	}
	return rule, nil
}

// ListRules 返回所有派单规则
func (s *AssignmentService) ListRules(ctx context.Context) ([]models.AssignmentRule, error) {
	var rules []models.AssignmentRule
	if err := s.db.WithContext(ctx).Order("priority DESC, created_at ASC, id ASC").Find(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}

// DeleteRule 删除派单规则
func (s *AssignmentService) DeleteRule(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Delete(&models.AssignmentRule{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("rule not found")
	}
	return nil
}

// AssignmentStatsResponse 派单统计
type AssignmentStatsResponse struct {
	TotalRules        int64             `json:"total_rules"`
	ActiveRules       int64             `json:"active_rules"`
	UnassignedTickets int64             `json:"unassigned_tickets"`
	TechnicianLoad    map[string]int64  `json:"technician_load"`
	ResolvedByPolicy  map[string]uint64 `json:"resolved_by_policy"`
}

// GetAssignmentStats 只读聚合，用于仪表盘
func (s *AssignmentService) GetAssignmentStats(ctx context.Context) (*AssignmentStatsResponse, error) {
	stats := &AssignmentStatsResponse{
		TechnicianLoad: make(map[string]int64),
	}

	if err := s.db.WithContext(ctx).Model(&models.AssignmentRule{}).Count(&stats.TotalRules).Error; err != nil {
		return nil, fmt.Errorf("failed to count rules: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(&models.AssignmentRule{}).Where("is_active = ?", true).Count(&stats.ActiveRules).Error; err != nil {
		return nil, fmt.Errorf("failed to count active rules: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(&models.Ticket{}).
		Where("assigned_to_id IS NULL AND status IN ?", activeTicketStatuses).
		Count(&stats.UnassignedTickets).Error; err != nil {
		return nil, fmt.Errorf("failed to count unassigned tickets: %w", err)
	}

	var loadRows []struct {
		Username string `json:"username"`
		Count    int64  `json:"count"`
	}
	if err := s.db.WithContext(ctx).Table("tickets").
		Select("users.username, COUNT(*) as count").
		Joins("JOIN users ON users.id = tickets.assigned_to_id").
		Where("tickets.status IN ?", activeTicketStatuses).
		Group("users.username").
		Scan(&loadRows).Error; err != nil {
		return nil, fmt.Errorf("failed to aggregate technician load: %w", err)
	}
	for _, row := range loadRows {
		stats.TechnicianLoad[row.Username] = row.Count
	}

	_, byPolicy := metrics.AssignmentSnapshot()
	stats.ResolvedByPolicy = byPolicy

	return stats, nil
}
