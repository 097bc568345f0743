package services

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/routefleet/backend/internal/config"
	"github.com/routefleet/backend/internal/models"
	"github.com/routefleet/backend/internal/pkg/configexport"
	"github.com/routefleet/backend/internal/pkg/retention"
	"github.com/routefleet/backend/internal/pkg/routeros"
	"gorm.io/gorm"
)

// ErrBackupNotFound is returned when the requested backup record is missing.
var ErrBackupNotFound = errors.New("backup not found")

// ErrDeviceNotFound is returned when the target device is missing.
var ErrDeviceNotFound = errors.New("device not found")

// deviceSession is the per-run session contract, narrowed for tests.
type deviceSession interface {
	ExportConfig(ctx context.Context, compact bool) (string, error)
	FetchBinaryBackup(ctx context.Context) ([]byte, error)
	PushConfig(ctx context.Context, name string, content []byte) error
	Close() error
}

// sessionDialer opens a session to a device. Swapped for a fake in tests.
type sessionDialer func(ctx context.Context, ep routeros.Endpoint, timeout time.Duration) (deviceSession, error)

func sshDialer(ctx context.Context, ep routeros.Endpoint, timeout time.Duration) (deviceSession, error) {
	return routeros.Dial(ctx, ep, timeout)
}

// objectStore is the slice of the S3 gateway the orchestrators use.
type objectStore interface {
	Put(ctx context.Context, key string, content []byte, contentType string) (*PutResult, error)
	GetVerified(ctx context.Context, key, expectedChecksum string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Stats(ctx context.Context, prefix string) (*PrefixStats, error)
	SignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// deviceLocker serializes runs per device.
type deviceLocker interface {
	Acquire(ctx context.Context, deviceID uuid.UUID) (func(), error)
}

// BackupOptions configures one backup run.
type BackupOptions struct {
	Kind    string // models.BackupKindExport or models.BackupKindBinary
	Compact bool
	Trigger string
}

type BackupService struct {
	db      *gorm.DB
	records recordStore
	cfg     *config.Config
	store   objectStore
	locks   deviceLocker
	dial    sessionDialer
	email   *EmailService
}

func NewBackupService(db *gorm.DB, cfg *config.Config, s3Svc *S3Service, locks *DeviceLockService) *BackupService {
	return &BackupService{
		db:      db,
		records: &gormRecordStore{db: db},
		cfg:     cfg,
		store:   s3Svc,
		locks:   locks,
		dial:    sshDialer,
	}
}

// AttachEmailService enables failure alert emails.
func (s *BackupService) AttachEmailService(email *EmailService) {
	s.email = email
}

// RunBackup executes the full backup workflow for a device: acquire the
// device lock, open a session, export, analyze, upload, record the outcome
// and sweep retention. The record is created before any remote call so every
// failure is attributable to a persisted row.
func (s *BackupService) RunBackup(ctx context.Context, deviceID uuid.UUID, opts BackupOptions) (*models.Backup, error) {
	device, err := s.records.GetDevice(deviceID)
	if err != nil {
		return nil, err
	}

	release, err := s.locks.Acquire(ctx, device.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	return s.runBackupLocked(ctx, device, opts)
}

// runBackupLocked runs a backup for a device whose lock the caller already
// holds. The restore orchestrator uses it for safety backups.
func (s *BackupService) runBackupLocked(ctx context.Context, device *models.Device, opts BackupOptions) (*models.Backup, error) {
	if opts.Kind == "" {
		opts.Kind = models.BackupKindExport
	}
	if opts.Trigger == "" {
		opts.Trigger = models.TriggerManual
	}

	backup := &models.Backup{
		DeviceID:  device.ID,
		CompanyID: device.CompanyID,
		Kind:      opts.Kind,
		Trigger:   opts.Trigger,
		Status:    models.StatusPending,
	}
	if err := s.records.CreateBackup(backup); err != nil {
		return nil, err
	}

	session, err := s.dial(ctx, routeros.Endpoint{
		Host:     device.Host,
		Port:     device.Port,
		Username: device.Username,
		Password: device.Password,
	}, s.cfg.SSHConnectTimeout)
	if err != nil {
		return backup, s.failBackup(backup, device, reasonFor(err, models.ReasonConnection), err)
	}
	defer session.Close()

	s.transition(backup, models.StatusInProgress, nil)

	cmdCtx := ctx
	if s.cfg.SSHCommandTimeout > 0 {
		var cancel context.CancelFunc
		cmdCtx, cancel = context.WithTimeout(ctx, s.cfg.SSHCommandTimeout)
		defer cancel()
	}

	var content []byte
	var contentType string
	switch opts.Kind {
	case models.BackupKindBinary:
		data, err := session.FetchBinaryBackup(cmdCtx)
		if err != nil {
			return backup, s.failBackup(backup, device, reasonFor(err, models.ReasonExport), err)
		}
		content, contentType = data, "application/octet-stream"
	default:
		text, err := session.ExportConfig(cmdCtx, opts.Compact)
		if err != nil {
			return backup, s.failBackup(backup, device, reasonFor(err, models.ReasonExport), err)
		}
		content, contentType = []byte(text), "text/plain"
	}

	// A device must never produce an empty backup; storing one would only
	// mask the fault until a restore needs it.
	if len(content) == 0 {
		return backup, s.failBackup(backup, device, models.ReasonExport,
			errors.New("device returned empty backup content"))
	}

	// The analyzer is total: it never fails on arbitrary input.
	backup.Checksum = configexport.Checksum(content)
	if opts.Kind == models.BackupKindExport {
		backup.Summary = configexport.Summarize(string(content))
		backup.FirmwareVersion = configexport.ExtractVersion(string(content))
	}

	key := BackupKey(device.ID, opts.Kind, time.Now())
	result, err := s.store.Put(ctx, key, content, contentType)
	if err != nil {
		return backup, s.failBackup(backup, device, reasonFor(err, models.ReasonStorage), err)
	}

	now := time.Now()
	backup.StorageKey = key
	backup.Checksum = result.Checksum
	backup.SizeBytes = result.Size
	backup.Status = models.StatusCompleted
	backup.CompletedAt = &now
	if err := s.records.UpdateBackup(backup.ID, []string{models.StatusInProgress},
		map[string]interface{}{
			"status":           models.StatusCompleted,
			"storage_key":      backup.StorageKey,
			"checksum":         backup.Checksum,
			"size_bytes":       backup.SizeBytes,
			"firmware_version": backup.FirmwareVersion,
			"summary":          backup.Summary,
			"completed_at":     now,
		}); err != nil {
		return backup, err
	}

	if err := s.records.StampDeviceBackup(device.ID, now); err != nil {
		log.Printf("WARN: failed to stamp last backup time for device %s: %v", device.ID, err)
	}

	// A pre-restore run must not sweep: the restore that requested it still
	// needs its source object in the store.
	if opts.Trigger != models.TriggerPreRestore {
		if pruned, err := s.ApplyRetention(ctx, device.ID); err != nil {
			log.Printf("WARN: retention sweep failed for device %s: %v", device.ID, err)
		} else if pruned > 0 {
			log.Printf("Retention sweep: pruned %d backups for device %s", pruned, device.ID)
		}
	}

	return backup, nil
}

// transition moves the in-memory record and the row forward. Terminal states
// are never left again; the guard keeps concurrent writers monotonic.
func (s *BackupService) transition(backup *models.Backup, status string, extra map[string]interface{}) {
	updates := map[string]interface{}{"status": status}
	for k, v := range extra {
		updates[k] = v
	}
	err := s.records.UpdateBackup(backup.ID,
		[]string{models.StatusPending, models.StatusInProgress}, updates)
	if err != nil {
		log.Printf("WARN: failed to update backup %s to %s: %v", backup.ID, status, err)
		return
	}
	backup.Status = status
}

func (s *BackupService) failBackup(backup *models.Backup, device *models.Device, reason string, cause error) error {
	now := time.Now()
	s.transition(backup, models.StatusFailed, map[string]interface{}{
		"error_reason":  reason,
		"error_message": cause.Error(),
		"completed_at":  now,
	})
	backup.ErrorReason = reason
	backup.ErrorMessage = cause.Error()
	backup.CompletedAt = &now
	// The analyzer may have stamped the in-memory record before the failing
	// step; the row never got those values, so drop them from the response too.
	backup.StorageKey = ""
	backup.Checksum = ""
	backup.SizeBytes = 0
	backup.FirmwareVersion = ""
	backup.Summary = nil

	if s.email != nil && s.cfg.AlertEmailEnabled {
		go s.email.SendBackupFailureAlert(device.Name, device.Host, reason, cause.Error())
	}
	return cause
}

// reasonFor maps an error to its machine-readable failure reason, preferring
// cancellation over the step's own reason.
func reasonFor(err error, fallback string) string {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return models.ReasonCancelled
	}
	var connErr *routeros.ConnectionError
	if errors.As(err, &connErr) {
		return models.ReasonConnection
	}
	return fallback
}

// ApplyRetention prunes completed, non-pinned backups outside the configured
// daily/weekly/monthly tiers. One candidate failing to delete does not stop
// the rest.
func (s *BackupService) ApplyRetention(ctx context.Context, deviceID uuid.UUID) (int, error) {
	backups, err := s.records.RetentionPool(deviceID)
	if err != nil {
		return 0, err
	}

	records := make([]retention.Record, len(backups))
	byID := make(map[uuid.UUID]*models.Backup, len(backups))
	for i, b := range backups {
		records[i] = retention.Record{ID: b.ID, CreatedAt: b.CreatedAt}
		byID[b.ID] = b
	}

	policy := retention.Policy{
		Daily:   s.cfg.RetentionDaily,
		Weekly:  s.cfg.RetentionWeekly,
		Monthly: s.cfg.RetentionMonthly,
	}

	pruned := 0
	for _, candidate := range retention.Candidates(records, policy) {
		backup := byID[candidate.ID]
		if err := s.store.Delete(ctx, backup.StorageKey); err != nil {
			log.Printf("WARN: retention delete failed for %s: %v", backup.StorageKey, err)
			continue
		}
		if err := s.records.MarkBackupPruned(backup.ID, time.Now()); err != nil {
			log.Printf("WARN: failed to mark backup %s pruned: %v", backup.ID, err)
			continue
		}
		pruned++
	}
	return pruned, nil
}

// BackupFilter narrows backup listings.
type BackupFilter struct {
	DeviceID  *uuid.UUID
	CompanyID *uuid.UUID
	Status    string
	Pinned    *bool
	Trigger   string
}

// ListBackups retrieves backups with pagination, newest first.
func (s *BackupService) ListBackups(filter BackupFilter, offset, limit int) ([]*models.Backup, int64, error) {
	query := s.db.Model(&models.Backup{}).Where("pruned = ?", false)
	if filter.DeviceID != nil {
		query = query.Where("device_id = ?", *filter.DeviceID)
	}
	if filter.CompanyID != nil {
		query = query.Where("company_id = ?", *filter.CompanyID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Pinned != nil {
		query = query.Where("pinned = ?", *filter.Pinned)
	}
	if filter.Trigger != "" {
		query = query.Where("trigger = ?", filter.Trigger)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var backups []*models.Backup
	if err := query.Offset(offset).Limit(limit).Order("created_at DESC").Find(&backups).Error; err != nil {
		return nil, 0, err
	}
	return backups, total, nil
}

// GetBackupByID retrieves a backup by ID
func (s *BackupService) GetBackupByID(backupID uuid.UUID) (*models.Backup, error) {
	var backup models.Backup
	if err := s.db.First(&backup, "id = ?", backupID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBackupNotFound
		}
		return nil, err
	}
	return &backup, nil
}

// Pin exempts a completed backup from retention pruning. Pin state is the
// only mutation allowed after a terminal state.
func (s *BackupService) Pin(backupID uuid.UUID, reason string) (*models.Backup, error) {
	backup, err := s.GetBackupByID(backupID)
	if err != nil {
		return nil, err
	}
	if backup.Status != models.StatusCompleted || backup.Pruned {
		return nil, errors.New("only completed, stored backups can be pinned")
	}
	updates := map[string]interface{}{"pinned": true, "pin_reason": reason}
	if err := s.db.Model(backup).Updates(updates).Error; err != nil {
		return nil, err
	}
	backup.Pinned = true
	backup.PinReason = reason
	return backup, nil
}

// Unpin returns a backup to the retention pool.
func (s *BackupService) Unpin(backupID uuid.UUID) (*models.Backup, error) {
	backup, err := s.GetBackupByID(backupID)
	if err != nil {
		return nil, err
	}
	updates := map[string]interface{}{"pinned": false, "pin_reason": ""}
	if err := s.db.Model(backup).Updates(updates).Error; err != nil {
		return nil, err
	}
	backup.Pinned = false
	backup.PinReason = ""
	return backup, nil
}

// DownloadURL produces a signed link for a completed backup's object.
func (s *BackupService) DownloadURL(ctx context.Context, backupID uuid.UUID, expiry time.Duration) (string, error) {
	backup, err := s.GetBackupByID(backupID)
	if err != nil {
		return "", err
	}
	if backup.Status != models.StatusCompleted || backup.Pruned || backup.StorageKey == "" {
		return "", ErrNotFound
	}
	return s.store.SignedURL(ctx, backup.StorageKey, expiry)
}

// GetBackupStats returns aggregate statistics about backups.
func (s *BackupService) GetBackupStats(ctx context.Context) (map[string]interface{}, error) {
	agg, err := s.records.BackupAggregates()
	if err != nil {
		return nil, err
	}

	stats := map[string]interface{}{
		"total_backups":     agg.Total,
		"completed_backups": agg.Completed,
		"failed_backups":    agg.Failed,
		"pinned_backups":    agg.Pinned,
		"total_size_bytes":  agg.TotalSize,
	}

	// Cross-check against the store when reachable.
	if storeStats, err := s.store.Stats(ctx, "backups/"); err == nil {
		stats["stored_objects"] = storeStats.FileCount
		stats["stored_size_bytes"] = storeStats.TotalSize
	}

	return stats, nil
}
