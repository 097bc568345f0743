package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/routefleet/backend/internal/config"
	"github.com/routefleet/backend/internal/models"
	"github.com/routefleet/backend/internal/pkg/routeros"
	"gorm.io/gorm"
)

// ErrRestoreNotFound is returned when the requested restore record is missing.
var ErrRestoreNotFound = errors.New("restore not found")

// ErrBackupNotRestorable is returned when the source backup has no stored,
// restorable content.
var ErrBackupNotRestorable = errors.New("backup is not restorable")

// RestoreOptions configures one restore run.
type RestoreOptions struct {
	CreateSafetyBackup bool
	Kind               string // models.RestoreKindFull or models.RestoreKindPartial
}

// DefaultRestoreOptions takes a safety backup and restores the full export.
func DefaultRestoreOptions() RestoreOptions {
	return RestoreOptions{CreateSafetyBackup: true, Kind: models.RestoreKindFull}
}

type RestoreService struct {
	db      *gorm.DB
	records recordStore
	cfg     *config.Config
	store   objectStore
	locks   deviceLocker
	dial    sessionDialer
	backups *BackupService
	email   *EmailService
}

func NewRestoreService(db *gorm.DB, cfg *config.Config, s3Svc *S3Service, locks *DeviceLockService, backups *BackupService) *RestoreService {
	return &RestoreService{
		db:      db,
		records: &gormRecordStore{db: db},
		cfg:     cfg,
		store:   s3Svc,
		locks:   locks,
		dial:    sshDialer,
		backups: backups,
	}
}

// AttachEmailService enables failure alert emails.
func (s *RestoreService) AttachEmailService(email *EmailService) {
	s.email = email
}

// RunRestore pushes a stored backup to a device: optional safety backup of
// the target first, checksum-verified download, then the device import. The
// device lock is held for the whole run, covering the safety backup, so a
// restore never overlaps another run against the same device.
//
// There is no automatic rollback: after a failed push the operator restores
// the linked safety backup manually.
func (s *RestoreService) RunRestore(ctx context.Context, backupID, targetDeviceID uuid.UUID, opts RestoreOptions) (*models.Restore, error) {
	backup, err := s.records.GetBackup(backupID)
	if err != nil {
		return nil, err
	}
	if backup.Status != models.StatusCompleted || backup.Pruned || backup.StorageKey == "" {
		return nil, ErrBackupNotRestorable
	}
	if backup.Kind != models.BackupKindExport {
		// Binary system images are applied on-device, not over the command channel.
		return nil, fmt.Errorf("%w: binary image backups cannot be pushed remotely", ErrBackupNotRestorable)
	}

	if targetDeviceID == uuid.Nil {
		targetDeviceID = backup.DeviceID
	}

	device, err := s.records.GetDevice(targetDeviceID)
	if err != nil {
		return nil, err
	}

	if opts.Kind == "" {
		opts.Kind = models.RestoreKindFull
	}

	release, err := s.locks.Acquire(ctx, device.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	restore := &models.Restore{
		BackupID: backup.ID,
		DeviceID: device.ID,
		Kind:     opts.Kind,
		Status:   models.StatusPending,
	}
	if err := s.records.CreateRestore(restore); err != nil {
		return nil, err
	}

	s.transition(restore, models.StatusInProgress, nil)

	if opts.CreateSafetyBackup {
		safety, err := s.backups.runBackupLocked(ctx, device, BackupOptions{
			Kind:    models.BackupKindExport,
			Trigger: models.TriggerPreRestore,
		})
		if safety != nil {
			if err := s.records.UpdateRestore(restore.ID,
				[]string{models.StatusPending, models.StatusInProgress},
				map[string]interface{}{"safety_backup_id": safety.ID}); err != nil {
				log.Printf("WARN: failed to link safety backup to restore %s: %v", restore.ID, err)
			}
			restore.SafetyBackupID = &safety.ID
		}
		if err != nil || safety == nil || safety.Status != models.StatusCompleted {
			// A device that cannot even be backed up must not be restored over.
			cause := err
			if cause == nil {
				cause = errors.New("safety backup did not complete")
			}
			return restore, s.failRestore(restore, device, models.ReasonSafetyBackup, cause)
		}
	}

	content, err := s.store.GetVerified(ctx, backup.StorageKey, backup.Checksum)
	if err != nil {
		var integrityErr *IntegrityError
		reason := models.ReasonStorage
		if errors.As(err, &integrityErr) {
			reason = models.ReasonIntegrity
		}
		return restore, s.failRestore(restore, device, reasonFor(err, reason), err)
	}

	session, err := s.dial(ctx, routeros.Endpoint{
		Host:     device.Host,
		Port:     device.Port,
		Username: device.Username,
		Password: device.Password,
	}, s.cfg.SSHConnectTimeout)
	if err != nil {
		return restore, s.failRestore(restore, device, reasonFor(err, models.ReasonConnection), err)
	}
	defer session.Close()

	cmdCtx := ctx
	if s.cfg.SSHCommandTimeout > 0 {
		var cancel context.CancelFunc
		cmdCtx, cancel = context.WithTimeout(ctx, s.cfg.SSHCommandTimeout)
		defer cancel()
	}

	name := fmt.Sprintf("restore-%s", restore.ID)
	if err := session.PushConfig(cmdCtx, name, content); err != nil {
		return restore, s.failRestore(restore, device, reasonFor(err, models.ReasonPush), err)
	}

	now := time.Now()
	s.transition(restore, models.StatusCompleted, map[string]interface{}{"completed_at": now})
	restore.CompletedAt = &now
	return restore, nil
}

func (s *RestoreService) transition(restore *models.Restore, status string, extra map[string]interface{}) {
	updates := map[string]interface{}{"status": status}
	for k, v := range extra {
		updates[k] = v
	}
	err := s.records.UpdateRestore(restore.ID,
		[]string{models.StatusPending, models.StatusInProgress}, updates)
	if err != nil {
		log.Printf("WARN: failed to update restore %s to %s: %v", restore.ID, status, err)
		return
	}
	restore.Status = status
}

func (s *RestoreService) failRestore(restore *models.Restore, device *models.Device, reason string, cause error) error {
	now := time.Now()
	s.transition(restore, models.StatusFailed, map[string]interface{}{
		"error_reason":  reason,
		"error_message": cause.Error(),
		"completed_at":  now,
	})
	restore.ErrorReason = reason
	restore.ErrorMessage = cause.Error()
	restore.CompletedAt = &now

	if s.email != nil && s.cfg.AlertEmailEnabled {
		go s.email.SendRestoreFailureAlert(device.Name, device.Host, reason, cause.Error())
	}
	return cause
}

// ListRestores retrieves restore runs with pagination, newest first.
func (s *RestoreService) ListRestores(deviceID *uuid.UUID, offset, limit int) ([]*models.Restore, int64, error) {
	query := s.db.Model(&models.Restore{})
	if deviceID != nil {
		query = query.Where("device_id = ?", *deviceID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var restores []*models.Restore
	if err := query.Offset(offset).Limit(limit).Order("created_at DESC").Find(&restores).Error; err != nil {
		return nil, 0, err
	}
	return restores, total, nil
}

// GetRestoreByID retrieves a restore by ID
func (s *RestoreService) GetRestoreByID(restoreID uuid.UUID) (*models.Restore, error) {
	var restore models.Restore
	if err := s.db.First(&restore, "id = ?", restoreID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRestoreNotFound
		}
		return nil, err
	}
	return &restore, nil
}
