package models

import "time"

// WorkflowTemplate 自动化流程模板
// 条件与动作以 JSON 文本存储，创建时校验，引擎只读
type WorkflowTemplate struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Name       string    `gorm:"unique;not null" json:"name"`
	EntityType string    `gorm:"index;not null" json:"entity_type"` // ticket, asset
	Trigger    string    `gorm:"index;not null" json:"trigger"`     // created, status_changed, assigned, priority_changed, updated
	Conditions string    `gorm:"type:text" json:"conditions"`       // JSON: [{field,operator,value}]
	Actions    string    `gorm:"type:text" json:"actions"`          // JSON: [{type,params}]
	IsActive   bool      `json:"is_active"`
	Priority   int       `gorm:"default:0" json:"priority"` // 数值越大越先执行
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// WorkflowExecution 流程执行审计记录，终态后不可变
type WorkflowExecution struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	UID        string     `gorm:"uniqueIndex" json:"uid"`
	WorkflowID uint       `gorm:"index" json:"workflow_id"`
	EntityType string     `json:"entity_type"`
	EntityID   uint       `gorm:"index" json:"entity_id"`
	Status     string     `gorm:"index" json:"status"` // running, completed, failed
	Result     string     `gorm:"type:text" json:"result"`
	Error      string     `gorm:"type:text" json:"error"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
	CreatedAt  time.Time  `json:"created_at"`

	Workflow WorkflowTemplate `gorm:"foreignKey:WorkflowID" json:"workflow,omitempty"`
}

// AssignmentRule 自动派单规则
type AssignmentRule struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Name           string    `gorm:"unique;not null" json:"name"`
	IsActive       bool      `json:"is_active"`
	Priority       int       `gorm:"default:0" json:"priority"`
	Conditions     string    `gorm:"type:text" json:"conditions"`      // JSON: [{field,operator,value}]
	AssignmentType string    `gorm:"not null" json:"assignment_type"`  // round_robin, least_busy, skill_based, location_based, specific_user
	TargetUserID   *uint     `json:"target_user_id"`                   // specific_user
	TargetUserIDs  string    `gorm:"type:text" json:"target_user_ids"` // JSON array, round_robin 候选池
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
