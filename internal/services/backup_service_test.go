package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/routefleet/backend/internal/config"
	"github.com/routefleet/backend/internal/models"
	"github.com/routefleet/backend/internal/pkg/configexport"
	"github.com/routefleet/backend/internal/pkg/routeros"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDeviceExport = `# 2026-01-01 02:00:00 by RouterOS 7.16
# software id = ABCD-1234
/interface bridge
add name=lan
/ip address
add address=10.0.0.1/24 interface=lan
`

// fakeRecordStore keeps rows in memory. Create stores a copy, so the row and
// the struct the orchestrator hands back can be compared independently, the
// way a database round trip would behave.
type fakeRecordStore struct {
	devices  map[uuid.UUID]*models.Device
	backups  map[uuid.UUID]*models.Backup
	restores map[uuid.UUID]*models.Restore
	stamps   map[uuid.UUID]time.Time
	agg      backupAggregates
	aggErr   error
}

func newFakeRecordStore() *fakeRecordStore {
	return &fakeRecordStore{
		devices:  make(map[uuid.UUID]*models.Device),
		backups:  make(map[uuid.UUID]*models.Backup),
		restores: make(map[uuid.UUID]*models.Restore),
		stamps:   make(map[uuid.UUID]time.Time),
	}
}

func (f *fakeRecordStore) addDevice() *models.Device {
	d := &models.Device{
		ID:        uuid.New(),
		CompanyID: uuid.New(),
		Name:      "edge-1",
		Host:      "10.0.0.1",
		Port:      22,
		Username:  "admin",
		Password:  "secret",
	}
	f.devices[d.ID] = d
	return d
}

func (f *fakeRecordStore) addCompletedBackup(device *models.Device, at time.Time) *models.Backup {
	b := &models.Backup{
		ID:          uuid.New(),
		DeviceID:    device.ID,
		CompanyID:   device.CompanyID,
		Kind:        models.BackupKindExport,
		Trigger:     models.TriggerScheduled,
		Status:      models.StatusCompleted,
		StorageKey:  fmt.Sprintf("backups/%s/%d-export.rsc", device.ID, at.UnixMilli()),
		Checksum:    "cafebabe",
		SizeBytes:   128,
		StartedAt:   at,
		CompletedAt: &at,
		CreatedAt:   at,
	}
	f.backups[b.ID] = b
	return b
}

func (f *fakeRecordStore) GetDevice(id uuid.UUID) (*models.Device, error) {
	d, ok := f.devices[id]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	row := *d
	return &row, nil
}

func (f *fakeRecordStore) StampDeviceBackup(deviceID uuid.UUID, at time.Time) error {
	f.stamps[deviceID] = at
	return nil
}

func (f *fakeRecordStore) CreateBackup(b *models.Backup) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.StartedAt.IsZero() {
		b.StartedAt = time.Now()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	row := *b
	f.backups[b.ID] = &row
	return nil
}

func (f *fakeRecordStore) GetBackup(id uuid.UUID) (*models.Backup, error) {
	b, ok := f.backups[id]
	if !ok {
		return nil, ErrBackupNotFound
	}
	row := *b
	return &row, nil
}

func (f *fakeRecordStore) UpdateBackup(id uuid.UUID, from []string, updates map[string]interface{}) error {
	b, ok := f.backups[id]
	if !ok || !containsStatus(from, b.Status) {
		return nil
	}
	for k, v := range updates {
		switch k {
		case "status":
			b.Status = v.(string)
		case "error_reason":
			b.ErrorReason = v.(string)
		case "error_message":
			b.ErrorMessage = v.(string)
		case "completed_at":
			at := v.(time.Time)
			b.CompletedAt = &at
		case "storage_key":
			b.StorageKey = v.(string)
		case "checksum":
			b.Checksum = v.(string)
		case "size_bytes":
			b.SizeBytes = v.(int64)
		case "firmware_version":
			b.FirmwareVersion = v.(string)
		case "summary":
			b.Summary, _ = v.(models.SummaryMap)
		}
	}
	return nil
}

func (f *fakeRecordStore) RetentionPool(deviceID uuid.UUID) ([]*models.Backup, error) {
	var pool []*models.Backup
	for _, b := range f.backups {
		if b.DeviceID == deviceID && b.Status == models.StatusCompleted && !b.Pinned && !b.Pruned {
			pool = append(pool, b)
		}
	}
	return pool, nil
}

func (f *fakeRecordStore) MarkBackupPruned(id uuid.UUID, at time.Time) error {
	if b, ok := f.backups[id]; ok {
		b.Pruned = true
		b.PrunedAt = &at
	}
	return nil
}

func (f *fakeRecordStore) BackupAggregates() (*backupAggregates, error) {
	if f.aggErr != nil {
		return nil, f.aggErr
	}
	agg := f.agg
	return &agg, nil
}

func (f *fakeRecordStore) CreateRestore(r *models.Restore) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	row := *r
	f.restores[r.ID] = &row
	return nil
}

func (f *fakeRecordStore) UpdateRestore(id uuid.UUID, from []string, updates map[string]interface{}) error {
	r, ok := f.restores[id]
	if !ok || !containsStatus(from, r.Status) {
		return nil
	}
	for k, v := range updates {
		switch k {
		case "status":
			r.Status = v.(string)
		case "error_reason":
			r.ErrorReason = v.(string)
		case "error_message":
			r.ErrorMessage = v.(string)
		case "completed_at":
			at := v.(time.Time)
			r.CompletedAt = &at
		case "safety_backup_id":
			sid := v.(uuid.UUID)
			r.SafetyBackupID = &sid
		}
	}
	return nil
}

func containsStatus(statuses []string, status string) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

type fakeLocker struct {
	err      error
	acquired int
	released int
}

func (f *fakeLocker) Acquire(ctx context.Context, deviceID uuid.UUID) (func(), error) {
	if f.err != nil {
		return nil, f.err
	}
	f.acquired++
	return func() { f.released++ }, nil
}

// fakeObjects is an in-memory objectStore with the gateway's checksum
// verification semantics.
type fakeObjects struct {
	objects map[string][]byte
	putKeys []string
	putErr  error
	deleted []string
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: make(map[string][]byte)}
}

func (f *fakeObjects) Put(ctx context.Context, key string, content []byte, contentType string) (*PutResult, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	f.putKeys = append(f.putKeys, key)
	f.objects[key] = content
	return &PutResult{Checksum: configexport.Checksum(content), Size: int64(len(content))}, nil
}

func (f *fakeObjects) GetVerified(ctx context.Context, key, expectedChecksum string) ([]byte, error) {
	content, ok := f.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	if actual := configexport.Checksum(content); expectedChecksum != "" && actual != expectedChecksum {
		return nil, &IntegrityError{Key: key, Expected: expectedChecksum, Actual: actual}
	}
	return content, nil
}

func (f *fakeObjects) Delete(ctx context.Context, key string) error {
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeObjects) Stats(ctx context.Context, prefix string) (*PrefixStats, error) {
	stats := &PrefixStats{}
	for key, content := range f.objects {
		if strings.HasPrefix(key, prefix) {
			stats.FileCount++
			stats.TotalSize += int64(len(content))
		}
	}
	return stats, nil
}

func (f *fakeObjects) SignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return "https://store.example/" + key + "?signed=1", nil
}

type fakeSession struct {
	export    string
	exportErr error
	binary    []byte
	binaryErr error
	pushErr   error
	pushNames []string
	closed    bool
}

func (f *fakeSession) ExportConfig(ctx context.Context, compact bool) (string, error) {
	return f.export, f.exportErr
}

func (f *fakeSession) FetchBinaryBackup(ctx context.Context) ([]byte, error) {
	return f.binary, f.binaryErr
}

func (f *fakeSession) PushConfig(ctx context.Context, name string, content []byte) error {
	f.pushNames = append(f.pushNames, name)
	return f.pushErr
}

func (f *fakeSession) Close() error {
	f.closed = true
	return nil
}

func dialSession(s deviceSession) sessionDialer {
	return func(ctx context.Context, ep routeros.Endpoint, timeout time.Duration) (deviceSession, error) {
		return s, nil
	}
}

func dialError(err error) sessionDialer {
	return func(ctx context.Context, ep routeros.Endpoint, timeout time.Duration) (deviceSession, error) {
		return nil, err
	}
}

func testConfig() *config.Config {
	return &config.Config{
		SSHConnectTimeout: time.Second,
		SSHCommandTimeout: time.Second,
		RetentionDaily:    7,
		RetentionWeekly:   4,
		RetentionMonthly:  12,
	}
}

func newTestBackupService(records recordStore, store objectStore, dial sessionDialer) *BackupService {
	return &BackupService{
		records: records,
		cfg:     testConfig(),
		store:   store,
		locks:   &fakeLocker{},
		dial:    dial,
	}
}

func TestRunBackupStoresExportAndCompletes(t *testing.T) {
	records := newFakeRecordStore()
	device := records.addDevice()
	store := newFakeObjects()
	session := &fakeSession{export: sampleDeviceExport}
	svc := newTestBackupService(records, store, dialSession(session))

	backup, err := svc.RunBackup(context.Background(), device.ID, BackupOptions{Trigger: models.TriggerManual})

	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, backup.Status)
	assert.NotEmpty(t, backup.StorageKey)
	assert.Equal(t, configexport.Checksum([]byte(sampleDeviceExport)), backup.Checksum)
	assert.Equal(t, "7.16", backup.FirmwareVersion)
	assert.True(t, session.closed)

	row := records.backups[backup.ID]
	require.NotNil(t, row)
	assert.Equal(t, models.StatusCompleted, row.Status)
	assert.Equal(t, backup.StorageKey, row.StorageKey)
	assert.Contains(t, store.objects, backup.StorageKey)
	assert.False(t, records.stamps[device.ID].IsZero(), "last backup time not stamped")
}

func TestRunBackupEmptyExportFailsWithoutStoredObject(t *testing.T) {
	records := newFakeRecordStore()
	device := records.addDevice()
	store := newFakeObjects()
	svc := newTestBackupService(records, store, dialSession(&fakeSession{export: ""}))

	backup, err := svc.RunBackup(context.Background(), device.ID, BackupOptions{})

	require.Error(t, err)
	assert.Equal(t, models.StatusFailed, backup.Status)
	assert.Equal(t, models.ReasonExport, backup.ErrorReason)
	assert.Empty(t, backup.StorageKey)
	assert.Empty(t, store.putKeys, "nothing may reach the store")

	row := records.backups[backup.ID]
	require.NotNil(t, row)
	assert.Equal(t, models.StatusFailed, row.Status)
	assert.Empty(t, row.StorageKey)
}

func TestRunBackupConnectionFailure(t *testing.T) {
	records := newFakeRecordStore()
	device := records.addDevice()
	svc := newTestBackupService(records, newFakeObjects(),
		dialError(&routeros.ConnectionError{Addr: "10.0.0.1:22", Err: errors.New("connection refused")}))

	backup, err := svc.RunBackup(context.Background(), device.ID, BackupOptions{})

	require.Error(t, err)
	assert.Equal(t, models.StatusFailed, backup.Status)
	assert.Equal(t, models.ReasonConnection, backup.ErrorReason)
	assert.Equal(t, models.StatusFailed, records.backups[backup.ID].Status)
}

func TestRunBackupStorageFailureClearsAnalyzerFields(t *testing.T) {
	records := newFakeRecordStore()
	device := records.addDevice()
	store := newFakeObjects()
	store.putErr = errors.New("bucket unavailable")
	svc := newTestBackupService(records, store, dialSession(&fakeSession{export: sampleDeviceExport}))

	backup, err := svc.RunBackup(context.Background(), device.ID, BackupOptions{})

	require.Error(t, err)
	assert.Equal(t, models.StatusFailed, backup.Status)
	assert.Equal(t, models.ReasonStorage, backup.ErrorReason)

	// The response must match the failed row: no analyzer output survives a
	// failed upload.
	assert.Empty(t, backup.StorageKey)
	assert.Empty(t, backup.Checksum)
	assert.Empty(t, backup.FirmwareVersion)
	assert.Nil(t, backup.Summary)
	assert.Zero(t, backup.SizeBytes)

	row := records.backups[backup.ID]
	require.NotNil(t, row)
	assert.Empty(t, row.StorageKey)
	assert.Empty(t, row.Checksum)
}

func TestRunBackupBinaryKind(t *testing.T) {
	records := newFakeRecordStore()
	device := records.addDevice()
	store := newFakeObjects()
	svc := newTestBackupService(records, store, dialSession(&fakeSession{binary: []byte{0x88, 0xac, 0xa1, 0xb1}}))

	backup, err := svc.RunBackup(context.Background(), device.ID, BackupOptions{Kind: models.BackupKindBinary})

	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, backup.Status)
	assert.True(t, strings.HasSuffix(backup.StorageKey, ".backup"))
	assert.Empty(t, backup.FirmwareVersion, "binary images carry no parseable version")
	assert.Nil(t, backup.Summary)
}

func TestRunBackupDeviceNotFound(t *testing.T) {
	svc := newTestBackupService(newFakeRecordStore(), newFakeObjects(), dialSession(&fakeSession{}))

	backup, err := svc.RunBackup(context.Background(), uuid.New(), BackupOptions{})

	assert.ErrorIs(t, err, ErrDeviceNotFound)
	assert.Nil(t, backup)
}

func TestRunBackupDeviceBusy(t *testing.T) {
	records := newFakeRecordStore()
	device := records.addDevice()
	svc := newTestBackupService(records, newFakeObjects(), dialSession(&fakeSession{export: sampleDeviceExport}))
	svc.locks = &fakeLocker{err: ErrDeviceBusy}

	backup, err := svc.RunBackup(context.Background(), device.ID, BackupOptions{})

	assert.ErrorIs(t, err, ErrDeviceBusy)
	assert.Nil(t, backup)
}

func TestRunBackupSweepsRetention(t *testing.T) {
	records := newFakeRecordStore()
	device := records.addDevice()
	store := newFakeObjects()
	now := time.Now()
	for day := 1; day <= 9; day++ {
		old := records.addCompletedBackup(device, now.AddDate(0, 0, -day))
		store.objects[old.StorageKey] = []byte("stored")
	}

	svc := newTestBackupService(records, store, dialSession(&fakeSession{export: sampleDeviceExport}))
	svc.cfg.RetentionWeekly = 0
	svc.cfg.RetentionMonthly = 0

	backup, err := svc.RunBackup(context.Background(), device.ID, BackupOptions{})

	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, backup.Status)
	// Ten dailies against a keep-7 policy: the three oldest go.
	assert.Len(t, store.deleted, 3)
	pruned := 0
	for _, b := range records.backups {
		if b.Pruned {
			pruned++
			assert.NotNil(t, b.PrunedAt)
		}
	}
	assert.Equal(t, 3, pruned)
	assert.False(t, records.backups[backup.ID].Pruned, "the newest backup must survive the sweep")
}

func TestGetBackupStats(t *testing.T) {
	records := newFakeRecordStore()
	records.agg = backupAggregates{Total: 10, Completed: 7, Failed: 3, Pinned: 2, TotalSize: 4096}
	store := newFakeObjects()
	store.objects["backups/a/1-export.rsc"] = []byte("abcd")
	svc := newTestBackupService(records, store, dialSession(&fakeSession{}))

	stats, err := svc.GetBackupStats(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int64(10), stats["total_backups"])
	assert.Equal(t, int64(7), stats["completed_backups"])
	assert.Equal(t, int64(3), stats["failed_backups"])
	assert.Equal(t, int64(2), stats["pinned_backups"])
	assert.Equal(t, int64(4096), stats["total_size_bytes"])
	assert.Equal(t, int64(1), stats["stored_objects"])
}

func TestGetBackupStatsAggregateError(t *testing.T) {
	records := newFakeRecordStore()
	records.aggErr = errors.New("connection reset")
	svc := newTestBackupService(records, newFakeObjects(), dialSession(&fakeSession{}))

	stats, err := svc.GetBackupStats(context.Background())

	require.Error(t, err)
	assert.Nil(t, stats)
}

func TestReasonForCancellationWinsOverStep(t *testing.T) {
	assert.Equal(t, models.ReasonCancelled, reasonFor(context.Canceled, models.ReasonExport))
	assert.Equal(t, models.ReasonCancelled, reasonFor(context.DeadlineExceeded, models.ReasonExport))
}

func TestReasonForConnectionError(t *testing.T) {
	err := &routeros.ConnectionError{Addr: "10.0.0.1:22", Err: errors.New("refused")}
	assert.Equal(t, models.ReasonConnection, reasonFor(err, models.ReasonExport))

	// Also when the connection error is wrapped.
	wrapped := &routeros.CommandError{Command: "/export", Err: err}
	assert.Equal(t, models.ReasonConnection, reasonFor(wrapped, models.ReasonExport))
}

func TestReasonForFallback(t *testing.T) {
	assert.Equal(t, models.ReasonExport, reasonFor(errors.New("device rejected command"), models.ReasonExport))
	assert.Equal(t, models.ReasonStorage, reasonFor(errors.New("bucket gone"), models.ReasonStorage))
}
