package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/routefleet/backend/internal/models"
	"github.com/routefleet/backend/internal/pkg/configexport"
	"github.com/routefleet/backend/internal/pkg/routeros"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRestoreService wires a restore orchestrator over fakes. The backup
// dialer serves the safety backup, the restore dialer the push itself.
func newTestRestoreService(records *fakeRecordStore, store *fakeObjects, backupDial, restoreDial sessionDialer) *RestoreService {
	backups := newTestBackupService(records, store, backupDial)
	return &RestoreService{
		records: records,
		cfg:     backups.cfg,
		store:   store,
		locks:   &fakeLocker{},
		dial:    restoreDial,
		backups: backups,
	}
}

// seedRestorableBackup stores a completed export backup with its object.
func seedRestorableBackup(records *fakeRecordStore, store *fakeObjects, device *models.Device) *models.Backup {
	content := []byte(sampleDeviceExport)
	at := time.Now().Add(-time.Hour)
	b := records.addCompletedBackup(device, at)
	b.Checksum = configexport.Checksum(content)
	b.SizeBytes = int64(len(content))
	store.objects[b.StorageKey] = content
	return b
}

func TestRunRestorePushesStoredConfig(t *testing.T) {
	records := newFakeRecordStore()
	device := records.addDevice()
	store := newFakeObjects()
	backup := seedRestorableBackup(records, store, device)

	safetySession := &fakeSession{export: sampleDeviceExport}
	pushSession := &fakeSession{}
	svc := newTestRestoreService(records, store, dialSession(safetySession), dialSession(pushSession))

	restore, err := svc.RunRestore(context.Background(), backup.ID, device.ID, DefaultRestoreOptions())

	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, restore.Status)
	require.Len(t, pushSession.pushNames, 1)
	assert.Equal(t, "restore-"+restore.ID.String(), pushSession.pushNames[0])

	require.NotNil(t, restore.SafetyBackupID)
	safety := records.backups[*restore.SafetyBackupID]
	require.NotNil(t, safety)
	assert.Equal(t, models.StatusCompleted, safety.Status)
	assert.Equal(t, models.TriggerPreRestore, safety.Trigger)

	row := records.restores[restore.ID]
	require.NotNil(t, row)
	assert.Equal(t, models.StatusCompleted, row.Status)
}

func TestRunRestoreSafetyBackupFailureSkipsPush(t *testing.T) {
	records := newFakeRecordStore()
	device := records.addDevice()
	store := newFakeObjects()
	backup := seedRestorableBackup(records, store, device)

	pushSession := &fakeSession{}
	svc := newTestRestoreService(records, store,
		dialError(&routeros.ConnectionError{Addr: "10.0.0.1:22", Err: errors.New("connection refused")}),
		dialSession(pushSession))

	restore, err := svc.RunRestore(context.Background(), backup.ID, device.ID, DefaultRestoreOptions())

	require.Error(t, err)
	assert.Equal(t, models.StatusFailed, restore.Status)
	assert.Equal(t, models.ReasonSafetyBackup, restore.ErrorReason)
	assert.Empty(t, pushSession.pushNames, "a failed safety backup must block the push")

	require.NotNil(t, restore.SafetyBackupID, "the failed safety backup stays linked for the operator")
	assert.Equal(t, models.StatusFailed, records.backups[*restore.SafetyBackupID].Status)
	assert.Equal(t, models.StatusFailed, records.restores[restore.ID].Status)
}

func TestRunRestoreIntegrityFailureSkipsPush(t *testing.T) {
	records := newFakeRecordStore()
	device := records.addDevice()
	store := newFakeObjects()
	backup := seedRestorableBackup(records, store, device)
	// Tamper with the stored object after the checksum was recorded.
	store.objects[backup.StorageKey] = append(store.objects[backup.StorageKey], '#')

	pushSession := &fakeSession{}
	svc := newTestRestoreService(records, store, dialSession(&fakeSession{}), dialSession(pushSession))

	restore, err := svc.RunRestore(context.Background(), backup.ID, device.ID,
		RestoreOptions{CreateSafetyBackup: false, Kind: models.RestoreKindFull})

	require.Error(t, err)
	assert.Equal(t, models.StatusFailed, restore.Status)
	assert.Equal(t, models.ReasonIntegrity, restore.ErrorReason)
	assert.Empty(t, pushSession.pushNames)
}

func TestRunRestorePushFailure(t *testing.T) {
	records := newFakeRecordStore()
	device := records.addDevice()
	store := newFakeObjects()
	backup := seedRestorableBackup(records, store, device)

	pushSession := &fakeSession{pushErr: &routeros.CommandError{Command: "/import", Err: errors.New("failure: already have such entry")}}
	svc := newTestRestoreService(records, store, dialSession(&fakeSession{}), dialSession(pushSession))

	restore, err := svc.RunRestore(context.Background(), backup.ID, device.ID,
		RestoreOptions{CreateSafetyBackup: false, Kind: models.RestoreKindFull})

	require.Error(t, err)
	assert.Equal(t, models.StatusFailed, restore.Status)
	assert.Equal(t, models.ReasonPush, restore.ErrorReason)
}

func TestRunRestoreRejectsBinaryBackup(t *testing.T) {
	records := newFakeRecordStore()
	device := records.addDevice()
	store := newFakeObjects()
	backup := seedRestorableBackup(records, store, device)
	records.backups[backup.ID].Kind = models.BackupKindBinary

	svc := newTestRestoreService(records, store, dialSession(&fakeSession{}), dialSession(&fakeSession{}))

	restore, err := svc.RunRestore(context.Background(), backup.ID, device.ID, DefaultRestoreOptions())

	assert.ErrorIs(t, err, ErrBackupNotRestorable)
	assert.Nil(t, restore)
}

func TestRunRestoreRejectsUnstoredBackup(t *testing.T) {
	records := newFakeRecordStore()
	device := records.addDevice()
	store := newFakeObjects()
	backup := seedRestorableBackup(records, store, device)
	records.backups[backup.ID].Pruned = true

	svc := newTestRestoreService(records, store, dialSession(&fakeSession{}), dialSession(&fakeSession{}))

	restore, err := svc.RunRestore(context.Background(), backup.ID, device.ID, DefaultRestoreOptions())

	assert.ErrorIs(t, err, ErrBackupNotRestorable)
	assert.Nil(t, restore)
}

func TestRunRestoreDefaultsToSourceDevice(t *testing.T) {
	records := newFakeRecordStore()
	device := records.addDevice()
	store := newFakeObjects()
	backup := seedRestorableBackup(records, store, device)

	svc := newTestRestoreService(records, store, dialSession(&fakeSession{export: sampleDeviceExport}), dialSession(&fakeSession{}))

	restore, err := svc.RunRestore(context.Background(), backup.ID, uuid.Nil, DefaultRestoreOptions())

	require.NoError(t, err)
	assert.Equal(t, device.ID, restore.DeviceID)
}
