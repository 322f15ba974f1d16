package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"assetdesk/internal/messaging"
	"assetdesk/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Action 单效果声明式动作
type Action struct {
	Type   string                 `json:"type"`
	Params map[string]interface{} `json:"params"`
}

// ActionResult 单个动作的执行结果，累积进执行记录
type ActionResult struct {
	Action  string `json:"action"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

var supportedActionTypes = map[string]bool{
	"assign":            true,
	"change_status":     true,
	"change_priority":   true,
	"add_comment":       true,
	"send_notification": true,
	"send_whatsapp":     true,
}

// ParseActions 解析 JSON 文本形式的动作序列
func ParseActions(text string) ([]Action, error) {
	if text == "" {
		return nil, nil
	}
	var actions []Action
	if err := json.Unmarshal([]byte(text), &actions); err != nil {
		return nil, fmt.Errorf("invalid actions: %w", err)
	}
	return actions, nil
}

// ValidateActions 在模板创建时校验动作类型
func ValidateActions(actions []Action) error {
	for i, act := range actions {
		if !supportedActionTypes[act.Type] {
			return fmt.Errorf("action %d: unsupported type %q", i, act.Type)
		}
	}
	return nil
}

// ActionExecutor 对目标实体施加单个动作。
// 每个效果都是即时提交的直接变更，没有动作级回滚。
type ActionExecutor struct {
	db       *gorm.DB
	logger   *logrus.Logger
	notifier *NotificationService
	gateway  messaging.Gateway
}

func NewActionExecutor(db *gorm.DB, logger *logrus.Logger, notifier *NotificationService, gateway messaging.Gateway) *ActionExecutor {
	if logger == nil {
		logger = logrus.New()
	}
	return &ActionExecutor{db: db, logger: logger, notifier: notifier, gateway: gateway}
}

// Execute 执行一个动作并返回结构化结果。
// 动作自身未命中（缺参数、目标不存在、无可达接收人）记为 Success=false
// 并返回 nil error，模板内后续动作继续；返回非 nil error 表示
// 基础设施级失败，调用方据此中止同一模板内的后续动作。
func (e *ActionExecutor) Execute(ctx context.Context, act Action, ticketID uint) (ActionResult, error) {
	result := ActionResult{Action: act.Type}

	var err error
	switch act.Type {
	case "assign":
		err = e.assign(ctx, act, ticketID, &result)
	case "change_status":
		err = e.changeStatus(ctx, act, ticketID, &result)
	case "change_priority":
		err = e.changePriority(ctx, act, ticketID, &result)
	case "add_comment":
		err = e.addComment(ctx, act, ticketID, &result)
	case "send_notification":
		err = e.sendNotification(ctx, act, ticketID, &result)
	case "send_whatsapp":
		err = e.sendWhatsApp(ctx, act, ticketID, &result)
	default:
		err = fmt.Errorf("unsupported action type: %s", act.Type)
	}

	if err != nil {
		result.Success = false
		result.Error = err.Error()
		return result, err
	}
	result.Success = result.Error == ""
	return result, nil
}

func (e *ActionExecutor) assign(ctx context.Context, act Action, ticketID uint, result *ActionResult) error {
	userID, ok := paramUint(act.Params, "user_id")
	if !ok {
		result.Error = "user_id param required"
		return nil
	}
	var user models.User
	if err := e.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			result.Error = fmt.Sprintf("assignee %d not found", userID)
			return nil
		}
		return fmt.Errorf("load assignee: %w", err)
	}
	if err := e.db.WithContext(ctx).Model(&models.Ticket{}).
		Where("id = ?", ticketID).
		Update("assigned_to_id", userID).Error; err != nil {
		return err
	}
	result.Detail = fmt.Sprintf("assigned to user %d", userID)
	return nil
}

func (e *ActionExecutor) changeStatus(ctx context.Context, act Action, ticketID uint, result *ActionResult) error {
	status, _ := act.Params["status"].(string)
	if status == "" {
		result.Error = "status param required"
		return nil
	}
	updates := map[string]interface{}{"status": status}
	if status == "resolved" {
		updates["resolved_at"] = time.Now()
	}
	if err := e.db.WithContext(ctx).Model(&models.Ticket{}).
		Where("id = ?", ticketID).
		Updates(updates).Error; err != nil {
		return err
	}
	result.Detail = "status set to " + status
	return nil
}

func (e *ActionExecutor) changePriority(ctx context.Context, act Action, ticketID uint, result *ActionResult) error {
	priority, _ := act.Params["priority"].(string)
	if priority == "" {
		result.Error = "priority param required"
		return nil
	}
	if err := e.db.WithContext(ctx).Model(&models.Ticket{}).
		Where("id = ?", ticketID).
		Update("priority", priority).Error; err != nil {
		return err
	}
	result.Detail = "priority set to " + priority
	return nil
}

// addComment 追加系统评论，按内容哈希去重
func (e *ActionExecutor) addComment(ctx context.Context, act Action, ticketID uint, result *ActionResult) error {
	content, _ := act.Params["content"].(string)
	if content == "" {
		result.Error = "content param required"
		return nil
	}

	hash := sha256.Sum256([]byte(content))
	contentHash := hex.EncodeToString(hash[:])

	var existing int64
	if err := e.db.WithContext(ctx).Model(&models.TicketComment{}).
		Where("ticket_id = ? AND content_hash = ? AND type = 'system'", ticketID, contentHash).
		Count(&existing).Error; err != nil {
		return err
	}
	if existing > 0 {
		result.Detail = "duplicate comment skipped"
		return nil
	}

	comment := &models.TicketComment{
		TicketID:    ticketID,
		UserID:      0, // system authored
		Content:     content,
		ContentHash: contentHash,
		Type:        "system",
		CreatedAt:   time.Now(),
	}
	if err := e.db.WithContext(ctx).Create(comment).Error; err != nil {
		return err
	}
	result.Detail = "comment added"
	return nil
}

func (e *ActionExecutor) sendNotification(ctx context.Context, act Action, ticketID uint, result *ActionResult) error {
	userIDs, ok := paramUintSlice(act.Params, "user_ids")
	if !ok || len(userIDs) == 0 {
		result.Error = "user_ids param required"
		return nil
	}
	message, _ := act.Params["message"].(string)
	title, _ := act.Params["title"].(string)
	if title == "" {
		title = "Workflow notification"
	}

	e.notifier.NotifyMany(ctx, userIDs, &ticketID, "workflow", title, message)
	result.Detail = fmt.Sprintf("notified %d users", len(userIDs))
	return nil
}

// sendWhatsApp 只向开启了 WhatsApp 渠道且有手机号的接收人发送
func (e *ActionExecutor) sendWhatsApp(ctx context.Context, act Action, ticketID uint, result *ActionResult) error {
	userIDs, ok := paramUintSlice(act.Params, "user_ids")
	if !ok || len(userIDs) == 0 {
		result.Error = "user_ids param required"
		return nil
	}
	message, _ := act.Params["message"].(string)
	if message == "" {
		result.Error = "message param required"
		return nil
	}

	var users []models.User
	if err := e.db.WithContext(ctx).
		Where("id IN ? AND whats_app_opt_in = ? AND phone <> ''", userIDs, true).
		Find(&users).Error; err != nil {
		return err
	}
	if len(users) == 0 {
		result.Error = "no opted-in recipients"
		return nil
	}

	sent := 0
	for _, user := range users {
		if err := e.gateway.SendText(ctx, user.Phone, message); err != nil {
			e.logger.Warnf("action: whatsapp to user %d failed: %v", user.ID, err)
			continue
		}
		sent++
	}
	result.Detail = fmt.Sprintf("sent to %d of %d opted-in recipients", sent, len(users))
	return nil
}

func paramUint(params map[string]interface{}, key string) (uint, bool) {
	f, ok := toFloat64(params[key])
	if !ok || f < 0 {
		return 0, false
	}
	return uint(f), true
}

func paramUintSlice(params map[string]interface{}, key string) ([]uint, bool) {
	raw, ok := toSlice(params[key])
	if !ok {
		return nil, false
	}
	out := make([]uint, 0, len(raw))
	for _, v := range raw {
		f, ok := toFloat64(v)
		if !ok || f < 0 {
			return nil, false
		}
		out = append(out, uint(f))
	}
	return out, true
}
