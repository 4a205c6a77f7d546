package reliability

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFakeDB(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".db"), []byte("fake sqlite contents for "+name), 0o644))
}

// withFakeClock makes backupNow advance one second per call, so repeated
// CreateAndUpload calls within a single test always land on distinct
// timestamp-keyed archive names.
func withFakeClock(t *testing.T) {
	t.Helper()
	original := backupNow
	cur := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	backupNow = func() time.Time {
		out := cur
		cur = cur.Add(time.Second)
		return out
	}
	t.Cleanup(func() { backupNow = original })
}

func TestBackupService_CreateAndUpload(t *testing.T) {
	dir := t.TempDir()
	writeFakeDB(t, dir, "bars")
	writeFakeDB(t, dir, "audit")

	remote := newFakeObjectStore()
	svc := NewBackupService(remote, dir, []string{"bars", "audit", "missing"}, zerolog.Nop())

	key, err := svc.CreateAndUpload(context.Background())
	require.NoError(t, err)
	assert.Contains(t, remote.objects, key)
	assert.Contains(t, remote.objects, key[:len(key)-len(".tar.gz")]+".meta.json")
}

func TestBackupService_List_OrdersNewestFirst(t *testing.T) {
	withFakeClock(t)
	dir := t.TempDir()
	writeFakeDB(t, dir, "bars")

	remote := newFakeObjectStore()
	svc := NewBackupService(remote, dir, []string{"bars"}, zerolog.Nop())

	for i := 0; i < 2; i++ {
		_, err := svc.CreateAndUpload(context.Background())
		require.NoError(t, err)
	}

	backups, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, backups, 2)
	assert.True(t, backups[0].Timestamp.After(backups[1].Timestamp))
}

func TestBackupService_Rotate_KeepsAtLeastThree(t *testing.T) {
	withFakeClock(t)
	dir := t.TempDir()
	writeFakeDB(t, dir, "bars")

	remote := newFakeObjectStore()
	svc := NewBackupService(remote, dir, []string{"bars"}, zerolog.Nop())

	for i := 0; i < 3; i++ {
		_, err := svc.CreateAndUpload(context.Background())
		require.NoError(t, err)
	}

	require.NoError(t, svc.Rotate(context.Background(), 0))
	backups, err := svc.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, backups, 3)
}
