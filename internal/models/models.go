package models

import (
	"time"

	"gorm.io/gorm"
)

// 用户模型
type User struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	Username      string         `gorm:"unique;not null" json:"username"`
	Email         string         `gorm:"unique;not null" json:"email"`
	Name          string         `json:"name"`
	Phone         string         `json:"phone"`
	Department    string         `json:"department"`
	Location      string         `json:"location"`
	Role          string         `gorm:"default:'user'" json:"role"`     // user, technician, admin
	Status        string         `gorm:"default:'active'" json:"status"` // active, inactive
	Available     bool           `json:"available"`
	WhatsAppOptIn bool           `gorm:"default:false" json:"whatsapp_opt_in"`
	LastLogin     *time.Time     `json:"last_login"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`

	// 关联关系
	Tickets []Ticket `gorm:"foreignKey:CreatedByID" json:"tickets,omitempty"`
}

// 资产模型
type Asset struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	Name           string         `gorm:"not null" json:"name"`
	AssetTag       string         `gorm:"unique;not null" json:"asset_tag"`
	Type           string         `json:"type"` // laptop, desktop, printer, network, other
	OfficeLocation string         `json:"office_location"`
	Status         string         `gorm:"default:'in_service'" json:"status"` // in_service, in_repair, retired
	AssignedToID   *uint          `gorm:"index" json:"assigned_to_id"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`

	AssignedTo *User `gorm:"foreignKey:AssignedToID" json:"assigned_to,omitempty"`
}

// 工单模型
type Ticket struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	Title           string         `gorm:"not null" json:"title"`
	Description     string         `gorm:"type:text" json:"description"`
	CreatedByID     uint           `gorm:"index" json:"created_by_id"`
	AssignedToID    *uint          `gorm:"index" json:"assigned_to_id"`
	AssetID         *uint          `gorm:"index" json:"asset_id"`
	Category        string         `json:"category"`                         // hardware, software, network, access, other
	Priority        string         `gorm:"default:'medium'" json:"priority"` // low, medium, high, critical
	Status          string         `gorm:"default:'open'" json:"status"`     // open, in_progress, resolved, closed
	FirstResponseAt *time.Time     `json:"first_response_at"`
	ResolvedAt      *time.Time     `json:"resolved_at"`
	ClosedAt        *time.Time     `json:"closed_at"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`

	// 关联关系
	CreatedBy  User            `gorm:"foreignKey:CreatedByID" json:"created_by,omitempty"`
	AssignedTo *User           `gorm:"foreignKey:AssignedToID" json:"assigned_to,omitempty"`
	Asset      *Asset          `gorm:"foreignKey:AssetID" json:"asset,omitempty"`
	Comments   []TicketComment `gorm:"foreignKey:TicketID" json:"comments,omitempty"`
}

// 工单评论
type TicketComment struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	TicketID    uint      `gorm:"index" json:"ticket_id"`
	UserID      uint      `gorm:"index" json:"user_id"`
	Content     string    `gorm:"type:text;not null" json:"content"`
	ContentHash string    `gorm:"index" json:"-"`                // sha256, 用于系统评论去重
	Type        string    `gorm:"default:'comment'" json:"type"` // comment, internal_note, system
	CreatedAt   time.Time `json:"created_at"`

	Ticket Ticket `gorm:"foreignKey:TicketID" json:"ticket,omitempty"`
	User   User   `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// 站内通知
type Notification struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"index" json:"user_id"`
	TicketID  *uint     `gorm:"index" json:"ticket_id"`
	Kind      string    `gorm:"index" json:"kind"` // workflow, sla_warning, sla_breach, escalation, assignment
	Title     string    `json:"title"`
	Message   string    `gorm:"type:text" json:"message"`
	Read      bool      `gorm:"default:false" json:"read"`
	CreatedAt time.Time `json:"created_at"`

	User User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// 异步任务死信记录：重试耗尽后落库，保证失败可观测
type DeadLetter struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Task      string    `gorm:"index" json:"task"`
	EntityID  uint      `gorm:"index" json:"entity_id"`
	Error     string    `gorm:"type:text" json:"error"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"created_at"`
}
