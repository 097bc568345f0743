package services

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/routefleet/backend/internal/models"
	"gorm.io/gorm"
)

// recordStore persists the rows a backup or restore run touches, narrowed so
// the orchestrators can run against a fake. The gorm implementation is the
// only one outside tests.
type recordStore interface {
	GetDevice(id uuid.UUID) (*models.Device, error)
	StampDeviceBackup(deviceID uuid.UUID, at time.Time) error

	CreateBackup(b *models.Backup) error
	GetBackup(id uuid.UUID) (*models.Backup, error)
	// UpdateBackup applies updates only while the backup's status is one of
	// from; terminal states stay immutable under concurrent writers.
	UpdateBackup(id uuid.UUID, from []string, updates map[string]interface{}) error
	RetentionPool(deviceID uuid.UUID) ([]*models.Backup, error)
	MarkBackupPruned(id uuid.UUID, at time.Time) error
	BackupAggregates() (*backupAggregates, error)

	CreateRestore(r *models.Restore) error
	UpdateRestore(id uuid.UUID, from []string, updates map[string]interface{}) error
}

// backupAggregates holds the fleet-wide backup counters.
type backupAggregates struct {
	Total     int64
	Completed int64
	Failed    int64
	Pinned    int64
	TotalSize int64
}

type gormRecordStore struct {
	db *gorm.DB
}

func (s *gormRecordStore) GetDevice(id uuid.UUID) (*models.Device, error) {
	var device models.Device
	if err := s.db.First(&device, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}
	return &device, nil
}

func (s *gormRecordStore) StampDeviceBackup(deviceID uuid.UUID, at time.Time) error {
	return s.db.Model(&models.Device{}).Where("id = ?", deviceID).
		Update("last_backup_at", at).Error
}

func (s *gormRecordStore) CreateBackup(b *models.Backup) error {
	return s.db.Create(b).Error
}

func (s *gormRecordStore) GetBackup(id uuid.UUID) (*models.Backup, error) {
	var backup models.Backup
	if err := s.db.First(&backup, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBackupNotFound
		}
		return nil, err
	}
	return &backup, nil
}

func (s *gormRecordStore) UpdateBackup(id uuid.UUID, from []string, updates map[string]interface{}) error {
	return s.db.Model(&models.Backup{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates).Error
}

func (s *gormRecordStore) RetentionPool(deviceID uuid.UUID) ([]*models.Backup, error) {
	var backups []*models.Backup
	err := s.db.
		Where("device_id = ? AND status = ? AND pinned = ? AND pruned = ?",
			deviceID, models.StatusCompleted, false, false).
		Find(&backups).Error
	if err != nil {
		return nil, err
	}
	return backups, nil
}

func (s *gormRecordStore) MarkBackupPruned(id uuid.UUID, at time.Time) error {
	return s.db.Model(&models.Backup{}).Where("id = ?", id).
		Updates(map[string]interface{}{"pruned": true, "pruned_at": at}).Error
}

func (s *gormRecordStore) BackupAggregates() (*backupAggregates, error) {
	agg := &backupAggregates{}
	if err := s.db.Model(&models.Backup{}).Count(&agg.Total).Error; err != nil {
		return nil, err
	}
	if err := s.db.Model(&models.Backup{}).Where("status = ?", models.StatusCompleted).
		Count(&agg.Completed).Error; err != nil {
		return nil, err
	}
	if err := s.db.Model(&models.Backup{}).Where("status = ?", models.StatusFailed).
		Count(&agg.Failed).Error; err != nil {
		return nil, err
	}
	if err := s.db.Model(&models.Backup{}).Where("pinned = ?", true).
		Count(&agg.Pinned).Error; err != nil {
		return nil, err
	}
	if err := s.db.Model(&models.Backup{}).Where("status = ? AND pruned = ?", models.StatusCompleted, false).
		Select("COALESCE(SUM(size_bytes), 0)").Scan(&agg.TotalSize).Error; err != nil {
		return nil, err
	}
	return agg, nil
}

func (s *gormRecordStore) CreateRestore(r *models.Restore) error {
	return s.db.Create(r).Error
}

func (s *gormRecordStore) UpdateRestore(id uuid.UUID, from []string, updates map[string]interface{}) error {
	return s.db.Model(&models.Restore{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates).Error
}
