package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Backup kind
const (
	BackupKindExport = "export" // plain-text configuration export
	BackupKindBinary = "binary" // binary system image
)

// Backup trigger
const (
	TriggerManual     = "manual"
	TriggerScheduled  = "scheduled"
	TriggerPreRestore = "pre-restore"
)

// Lifecycle status, shared by Backup and Restore. Transitions are monotonic:
// pending -> in_progress -> completed|failed, terminal once reached.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Machine-readable failure reasons
const (
	ReasonConnection   = "connection"
	ReasonExport       = "export"
	ReasonStorage      = "storage"
	ReasonCancelled    = "cancelled"
	ReasonSafetyBackup = "safety-backup"
	ReasonIntegrity    = "integrity"
	ReasonPush         = "push"
)

// SummaryMap holds per-section counts of a configuration export, stored as jsonb.
type SummaryMap map[string]int

func (m SummaryMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *SummaryMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		if s, ok := value.(string); ok {
			b = []byte(s)
		} else {
			return fmt.Errorf("unsupported summary column type %T", value)
		}
	}
	return json.Unmarshal(b, m)
}

type Backup struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	DeviceID  uuid.UUID `gorm:"type:uuid;not null;index" json:"device_id"`
	CompanyID uuid.UUID `gorm:"type:uuid;not null;index" json:"company_id"`

	Kind    string `gorm:"not null;default:'export'" json:"kind"`
	Trigger string `gorm:"not null;default:'manual'" json:"trigger"`
	Status  string `gorm:"not null;default:'pending'" json:"status"`

	// Set together, only after a completed upload. A failed backup never has
	// a storage key.
	StorageKey string `json:"storage_key,omitempty"`
	Checksum   string `json:"checksum,omitempty"`
	SizeBytes  int64  `json:"size_bytes"`

	FirmwareVersion string     `json:"firmware_version,omitempty"`
	Summary         SummaryMap `gorm:"type:jsonb" json:"summary,omitempty"`

	// Pinned backups are exempt from retention pruning.
	Pinned    bool   `gorm:"default:false" json:"pinned"`
	PinReason string `json:"pin_reason,omitempty"`

	ErrorReason  string `json:"error_reason,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	// Set when the retention sweep removed the stored object.
	Pruned   bool       `gorm:"default:false;index" json:"pruned"`
	PrunedAt *time.Time `json:"pruned_at,omitempty"`

	StartedAt   time.Time  `gorm:"not null" json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (b *Backup) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.StartedAt.IsZero() {
		b.StartedAt = time.Now()
	}
	return nil
}

// Terminal reports whether the backup reached a final state.
func (b *Backup) Terminal() bool {
	return b.Status == StatusCompleted || b.Status == StatusFailed
}

// Restore kind
const (
	RestoreKindFull    = "full"
	RestoreKindPartial = "partial"
)

type Restore struct {
	ID       uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	BackupID uuid.UUID `gorm:"type:uuid;not null;index" json:"backup_id"`
	DeviceID uuid.UUID `gorm:"type:uuid;not null;index" json:"device_id"`

	Kind   string `gorm:"not null;default:'full'" json:"kind"`
	Status string `gorm:"not null;default:'pending'" json:"status"`

	// Backup taken of the target device before the push, when requested.
	SafetyBackupID *uuid.UUID `gorm:"type:uuid" json:"safety_backup_id,omitempty"`

	ErrorReason  string `json:"error_reason,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	StartedAt   time.Time  `gorm:"not null" json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (r *Restore) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	return nil
}
