package models

import "time"

// SLAPolicy SLA策略，按工单优先级匹配
type SLAPolicy struct {
	ID                    uint      `gorm:"primaryKey" json:"id"`
	Name                  string    `gorm:"unique;not null" json:"name"`
	Priority              string    `gorm:"index;not null" json:"priority"` // low, medium, high, critical
	ResponseTimeMinutes   int       `gorm:"not null" json:"response_time_minutes"`
	ResolutionTimeMinutes int       `gorm:"not null" json:"resolution_time_minutes"`
	BusinessHoursOnly     bool      `gorm:"default:false" json:"business_hours_only"`
	NotifyBeforeMinutes   int       `gorm:"default:30" json:"notify_before_minutes"`
	EscalationEnabled     bool      `gorm:"default:false" json:"escalation_enabled"`
	EscalationUserID      *uint     `json:"escalation_user_id"`
	IsActive              bool      `json:"is_active"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// TicketSLA 工单的SLA跟踪状态，与工单一对一
// 状态只会单向升级：on_track -> at_risk -> breached
type TicketSLA struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	TicketID           uint       `gorm:"uniqueIndex;not null" json:"ticket_id"`
	PolicyID           uint       `gorm:"index" json:"policy_id"`
	ResponseDeadline   time.Time  `json:"response_deadline"`
	ResolutionDeadline time.Time  `json:"resolution_deadline"`
	FirstResponseAt    *time.Time `json:"first_response_at"`
	ResolvedAt         *time.Time `json:"resolved_at"`
	ResponseBreached   bool       `gorm:"default:false" json:"response_breached"`
	ResolutionBreached bool       `gorm:"default:false" json:"resolution_breached"`
	Status             string     `gorm:"default:'on_track'" json:"status"` // on_track, at_risk, breached
	ResponseWarned     bool       `gorm:"default:false" json:"response_warned"`
	ResolutionWarned   bool       `gorm:"default:false" json:"resolution_warned"`
	Escalated          bool       `gorm:"default:false" json:"escalated"`
	EscalatedAt        *time.Time `json:"escalated_at"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`

	Ticket Ticket    `gorm:"foreignKey:TicketID" json:"ticket,omitempty"`
	Policy SLAPolicy `gorm:"foreignKey:PolicyID" json:"policy,omitempty"`
}
