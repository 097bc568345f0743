package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupTerminal(t *testing.T) {
	assert.False(t, (&Backup{Status: StatusPending}).Terminal())
	assert.False(t, (&Backup{Status: StatusInProgress}).Terminal())
	assert.True(t, (&Backup{Status: StatusCompleted}).Terminal())
	assert.True(t, (&Backup{Status: StatusFailed}).Terminal())
}

func TestSummaryMapScan(t *testing.T) {
	var m SummaryMap
	require.NoError(t, m.Scan([]byte(`{"interfaces":3,"nat_rules":0}`)))
	assert.Equal(t, 3, m["interfaces"])
	assert.Equal(t, 0, m["nat_rules"])

	// Some drivers hand the jsonb column back as a string.
	var fromString SummaryMap
	require.NoError(t, fromString.Scan(`{"routes":1}`))
	assert.Equal(t, 1, fromString["routes"])

	var fromNil SummaryMap
	require.NoError(t, fromNil.Scan(nil))
	assert.Nil(t, fromNil)
}

func TestSummaryMapNilValue(t *testing.T) {
	var m SummaryMap
	v, err := m.Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestDeviceBackupDue(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-1 * time.Hour)
	stale := now.Add(-25 * time.Hour)

	disabled := &Device{BackupEnabled: false, BackupIntervalHours: 24}
	assert.False(t, disabled.BackupDue(now))

	neverBackedUp := &Device{BackupEnabled: true, BackupIntervalHours: 24}
	assert.True(t, neverBackedUp.BackupDue(now))

	current := &Device{BackupEnabled: true, BackupIntervalHours: 24, LastBackupAt: &recent}
	assert.False(t, current.BackupDue(now))

	overdue := &Device{BackupEnabled: true, BackupIntervalHours: 24, LastBackupAt: &stale}
	assert.True(t, overdue.BackupDue(now))

	zeroInterval := &Device{BackupEnabled: true, BackupIntervalHours: 0, LastBackupAt: &stale}
	assert.False(t, zeroInterval.BackupDue(now))
}
