package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Company struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	Name      string    `gorm:"uniqueIndex;not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Devices []Device `gorm:"foreignKey:CompanyID" json:"devices,omitempty"`
}

func (c *Company) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

type Device struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	CompanyID uuid.UUID `gorm:"type:uuid;not null;index" json:"company_id"`
	Name      string    `gorm:"not null" json:"name"`
	Host      string    `gorm:"not null" json:"host"`
	Port      int       `gorm:"default:22" json:"port"`
	Username  string    `gorm:"not null" json:"username"`
	Password  string    `gorm:"not null" json:"-"`
	Model     string    `json:"model,omitempty"`
	Notes     string    `json:"notes,omitempty"`

	// Scheduled backups
	BackupEnabled       bool       `gorm:"default:false" json:"backup_enabled"`
	BackupIntervalHours int        `gorm:"default:24" json:"backup_interval_hours"`
	LastBackupAt        *time.Time `json:"last_backup_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Backups []Backup `gorm:"foreignKey:DeviceID" json:"backups,omitempty"`
}

func (d *Device) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

// BackupDue reports whether a scheduled backup should run for the device.
func (d *Device) BackupDue(now time.Time) bool {
	if !d.BackupEnabled || d.BackupIntervalHours <= 0 {
		return false
	}
	if d.LastBackupAt == nil {
		return true
	}
	return now.Sub(*d.LastBackupAt) >= time.Duration(d.BackupIntervalHours)*time.Hour
}
