package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditLog represents an operator action log entry
type AuditLog struct {
	ID         uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	UserID     uuid.UUID `gorm:"type:uuid;not null" json:"user_id"`
	User       *User     `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Action     string    `gorm:"type:varchar(100);not null" json:"action"` // e.g., "trigger_backup", "pin_backup"
	TargetType string    `gorm:"type:varchar(50);not null" json:"target_type"` // e.g., "device", "backup", "restore"
	TargetID   uuid.UUID `gorm:"type:uuid;not null" json:"target_id"`
	Details    string    `gorm:"type:text" json:"details,omitempty"`
	IPAddress  string    `gorm:"type:varchar(45)" json:"ip_address,omitempty"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName specifies the table name for AuditLog
func (AuditLog) TableName() string {
	return "audit_logs"
}
