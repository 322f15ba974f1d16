package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"assetdesk/internal/metrics"
	"assetdesk/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// WorkflowService 按生命周期事件驱动规则匹配与动作执行
type WorkflowService struct {
	db       *gorm.DB
	logger   *logrus.Logger
	executor *ActionExecutor
	tracer   trace.Tracer
}

func NewWorkflowService(db *gorm.DB, logger *logrus.Logger, executor *ActionExecutor) *WorkflowService {
	if logger == nil {
		logger = logrus.New()
	}
	return &WorkflowService{
		db:       db,
		logger:   logger,
		executor: executor,
		tracer:   otel.Tracer("assetdesk.workflow"),
	}
}

// WorkflowTemplateRequest 创建流程模板请求
type WorkflowTemplateRequest struct {
	Name       string      `json:"name" binding:"required"`
	EntityType string      `json:"entity_type" binding:"required"`
	Trigger    string      `json:"trigger" binding:"required"`
	Conditions []Condition `json:"conditions"`
	Actions    []Action    `json:"actions"`
	Priority   int         `json:"priority"`
	IsActive   *bool       `json:"is_active"`
}

var supportedTriggers = map[string]bool{
	"created":          true,
	"status_changed":   true,
	"assigned":         true,
	"priority_changed": true,
	"updated":          true,
}

var supportedEntityTypes = map[string]bool{
	"ticket": true,
	"asset":  true,
}

// ExecuteWorkflows 对一次生命周期事件执行所有匹配的流程模板。
// 不向调用方抛错：任何异常都在这里捕获并记录，
// 触发事件的原始变更不受自动化结果影响。
func (s *WorkflowService) ExecuteWorkflows(ctx context.Context, entityType, trigger string, entityID uint, current, previous map[string]interface{}) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorf("workflow: panic during %s/%s for %s %d: %v", entityType, trigger, entityType, entityID, r)
		}
	}()

	ctx, span := s.tracer.Start(ctx, "workflow.execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("workflow.entity_type", entityType),
		attribute.String("workflow.trigger", trigger),
		attribute.Int64("workflow.entity_id", int64(entityID)),
	)

	var templates []models.WorkflowTemplate
	if err := s.db.WithContext(ctx).
		Where("entity_type = ? AND trigger = ? AND is_active = ?", entityType, trigger, true).
		Order("priority DESC, created_at ASC, id ASC").
		Find(&templates).Error; err != nil {
		span.RecordError(err)
		s.logger.Warnf("workflow: load templates failed: %v", err)
		return
	}
	if len(templates) == 0 {
		return
	}

	data := buildSnapshot(current, previous)

	for _, tmpl := range templates {
		s.runTemplate(ctx, tmpl, entityType, entityID, data)
	}
}

// runTemplate 执行单个模板。单个模板的失败不影响后续模板。
func (s *WorkflowService) runTemplate(ctx context.Context, tmpl models.WorkflowTemplate, entityType string, entityID uint, data map[string]interface{}) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorf("workflow: panic in template %s: %v", tmpl.Name, r)
		}
	}()

	now := time.Now()
	execution := &models.WorkflowExecution{
		UID:        uuid.NewString(),
		WorkflowID: tmpl.ID,
		EntityType: entityType,
		EntityID:   entityID,
		Status:     "running",
		StartedAt:  now,
		CreatedAt:  now,
	}
	if err := s.db.WithContext(ctx).Create(execution).Error; err != nil {
		s.logger.Warnf("workflow: create execution for %s failed: %v", tmpl.Name, err)
		return
	}

	conds, err := ParseConditions(tmpl.Conditions)
	if err != nil {
		s.finishExecution(ctx, execution, "failed", "", err.Error())
		metrics.IncWorkflowExecution("failed")
		return
	}

	if !EvaluateConditions(s.logger, conds, data) {
		s.finishExecution(ctx, execution, "completed", `{"skipped":true,"reason":"conditions not met"}`, "")
		metrics.IncWorkflowExecution("skipped")
		return
	}

	actions, err := ParseActions(tmpl.Actions)
	if err != nil {
		s.finishExecution(ctx, execution, "failed", "", err.Error())
		metrics.IncWorkflowExecution("failed")
		return
	}

	// 动作按声明顺序串行执行；已生效的动作不回滚。
	// 动作自身未命中只累积进结果，基础设施错误才中止模板。
	results := make([]ActionResult, 0, len(actions))
	failed := 0
	for _, act := range actions {
		result, err := s.executor.Execute(ctx, act, entityID)
		results = append(results, result)
		if err != nil {
			s.logger.Warnf("workflow: template %s action %s aborted: %v", tmpl.Name, act.Type, err)
			payload, _ := json.Marshal(results)
			s.finishExecution(ctx, execution, "failed", string(payload), err.Error())
			metrics.IncWorkflowExecution("failed")
			return
		}
		if !result.Success {
			failed++
			s.logger.Warnf("workflow: template %s action %s unsuccessful: %s", tmpl.Name, act.Type, result.Error)
		}
	}

	payload, _ := json.Marshal(results)
	s.finishExecution(ctx, execution, "completed", string(payload), "")
	metrics.IncWorkflowExecution("completed")
	s.logger.Infof("workflow: template %s completed for %s %d (%d actions, %d unsuccessful)", tmpl.Name, entityType, entityID, len(actions), failed)
}

// finishExecution 将执行记录推进到终态。
// 终态记录不可变，条件更新保证不会二次覆盖。
func (s *WorkflowService) finishExecution(ctx context.Context, execution *models.WorkflowExecution, status, result, errMsg string) {
	now := time.Now()
	res := s.db.WithContext(ctx).Model(&models.WorkflowExecution{}).
		Where("id = ? AND status = 'running'", execution.ID).
		Updates(map[string]interface{}{
			"status":      status,
			"result":      result,
			"error":       errMsg,
			"finished_at": now,
		})
	if res.Error != nil {
		s.logger.Warnf("workflow: finish execution %s failed: %v", execution.UID, res.Error)
	}
}

// buildSnapshot 组装条件求值用的实体快照；
// 变更类触发器可通过 previous.* 路径访问旧值
func buildSnapshot(current, previous map[string]interface{}) map[string]interface{} {
	data := make(map[string]interface{}, len(current)+1)
	for k, v := range current {
		data[k] = v
	}
	if previous != nil {
		data["previous"] = previous
	}
	return data
}

// CreateTemplate 新建流程模板，条件与动作在此处校验
func (s *WorkflowService) CreateTemplate(ctx context.Context, req *WorkflowTemplateRequest) (*models.WorkflowTemplate, error) {
	if req == nil {
		return nil, fmt.Errorf("request required")
	}
	if !supportedEntityTypes[req.EntityType] {
		return nil, fmt.Errorf("unsupported entity type: %s", req.EntityType)
	}
	if !supportedTriggers[req.Trigger] {
		return nil, fmt.Errorf("unsupported trigger: %s", req.Trigger)
	}
	if err := ValidateConditions(req.Conditions); err != nil {
		return nil, err
	}
	if err := ValidateActions(req.Actions); err != nil {
		return nil, err
	}

	condJSON, err := json.Marshal(req.Conditions)
	if err != nil {
		return nil, fmt.Errorf("invalid conditions: %w", err)
	}
	actJSON, err := json.Marshal(req.Actions)
	if err != nil {
		return nil, fmt.Errorf("invalid actions: %w", err)
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	template := &models.WorkflowTemplate{
		Name:       req.Name,
		EntityType: req.EntityType,
		Trigger:    req.Trigger,
		Conditions: string(condJSON),
		Actions:    string(actJSON),
		IsActive:   active,
		Priority:   req.Priority,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(template).Error; err != nil {
		return nil, err
	}
	return template, nil
}

// ListTemplates 返回所有流程模板
func (s *WorkflowService) ListTemplates(ctx context.Context) ([]models.WorkflowTemplate, error) {
	var templates []models.WorkflowTemplate
	if err := s.db.WithContext(ctx).Order("priority DESC, created_at ASC, id ASC").Find(&templates).Error; err != nil {
		return nil, err
	}
	return templates, nil
}

// DeleteTemplate 删除流程模板
func (s *WorkflowService) DeleteTemplate(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Delete(&models.WorkflowTemplate{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("template not found")
	}
	return nil
}

// ListExecutions 按实体查询执行审计记录
func (s *WorkflowService) ListExecutions(ctx context.Context, entityType string, entityID uint) ([]models.WorkflowExecution, error) {
	query := s.db.WithContext(ctx).Model(&models.WorkflowExecution{}).Order("id DESC")
	if entityType != "" {
		query = query.Where("entity_type = ?", entityType)
	}
	if entityID != 0 {
		query = query.Where("entity_id = ?", entityID)
	}
	var executions []models.WorkflowExecution
	if err := query.Limit(200).Find(&executions).Error; err != nil {
		return nil, err
	}
	return executions, nil
}
