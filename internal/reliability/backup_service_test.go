package reliability

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aristath/mbbfolio/internal/events"
	testingpkg "github.com/aristath/mbbfolio/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryObjectStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	uploadErr error
	deleteErr map[string]error
}

func newMemoryObjectStore() *memoryObjectStore {
	return &memoryObjectStore{objects: make(map[string][]byte), deleteErr: make(map[string]error)}
}

func (s *memoryObjectStore) Upload(_ context.Context, key string, body io.Reader, size int64) error {
	if s.uploadErr != nil {
		return s.uploadErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: read %d, declared %d", len(data), size)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return nil
}

func (s *memoryObjectStore) List(_ context.Context, prefix string) ([]ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ObjectInfo
	for key, data := range s.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, ObjectInfo{Key: key, SizeBytes: int64(len(data))})
		}
	}
	return out, nil
}

func (s *memoryObjectStore) Delete(_ context.Context, key string) error {
	if err := s.deleteErr[key]; err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *memoryObjectStore) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.objects))
	for key := range s.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

var fixedNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func readArchive(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	files := make(map[string][]byte)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		content, err := io.ReadAll(tr)
		require.NoError(t, err)
		files[header.Name] = content
	}
	return files
}

func TestBackupService_CreateAndUploadBackup(t *testing.T) {
	historyDB, cleanupHistory := testingpkg.NewTestDB(t, "history")
	defer cleanupHistory()
	runsDB, cleanupRuns := testingpkg.NewTestDB(t, "runs")
	defer cleanupRuns()

	bus := events.NewBus(zerolog.Nop())
	var completed *events.Event
	bus.Subscribe(events.BackupCompleted, func(event *events.Event) { completed = event })

	store := newMemoryObjectStore()
	service := NewBackupService(store, []Snapshotter{historyDB, runsDB}, t.TempDir(),
		events.NewManager(bus, zerolog.Nop()), zerolog.Nop())
	service.now = func() time.Time { return fixedNow }

	require.NoError(t, service.CreateAndUploadBackup(context.Background()))

	expectedName := "mbbfolio-backup-2026-03-15-120000.tar.gz"
	require.Equal(t, []string{expectedName}, store.keys())

	files := readArchive(t, store.objects[expectedName])
	require.Contains(t, files, "history.db")
	require.Contains(t, files, "runs.db")
	require.Contains(t, files, metadataFilename)

	var metadata BackupMetadata
	require.NoError(t, json.Unmarshal(files[metadataFilename], &metadata))
	assert.True(t, metadata.Timestamp.Equal(fixedNow))
	assert.Equal(t, metadataVersion, metadata.Version)
	require.Len(t, metadata.Databases, 2)
	for _, db := range metadata.Databases {
		content := files[db.Filename]
		assert.Equal(t, int64(len(content)), db.SizeBytes, db.Name)
		assert.Equal(t, fmt.Sprintf("sha256:%x", sha256.Sum256(content)), db.Checksum, db.Name)
		assert.True(t, bytes.HasPrefix(content, []byte("SQLite format 3")), db.Name)
	}

	require.NotNil(t, completed)
	typed, ok := completed.GetTypedData().(*events.BackupCompletedData)
	require.True(t, ok)
	assert.Equal(t, expectedName, typed.Filename)
	assert.Equal(t, 2, typed.Databases)
	assert.Equal(t, int64(len(store.objects[expectedName])), typed.SizeBytes)
}

type failingSnapshotter struct{}

func (failingSnapshotter) Name() string { return "broken" }

func (failingSnapshotter) Snapshot(context.Context, string) error {
	return errors.New("disk I/O error")
}

func TestBackupService_CreateAndUploadBackup_Failures(t *testing.T) {
	t.Run("snapshot", func(t *testing.T) {
		store := newMemoryObjectStore()
		service := NewBackupService(store, []Snapshotter{failingSnapshotter{}}, t.TempDir(), nil, zerolog.Nop())

		err := service.CreateAndUploadBackup(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "broken")
		assert.Empty(t, store.keys())
	})

	t.Run("upload", func(t *testing.T) {
		db, cleanup := testingpkg.NewTestDB(t, "runs")
		defer cleanup()

		store := newMemoryObjectStore()
		store.uploadErr = errors.New("access denied")
		service := NewBackupService(store, []Snapshotter{db}, t.TempDir(), nil, zerolog.Nop())

		err := service.CreateAndUploadBackup(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "access denied")
	})
}

func seedBackups(store *memoryObjectStore, daysAgo ...int) {
	for _, d := range daysAgo {
		store.objects[BackupFilename(fixedNow.AddDate(0, 0, -d))] = []byte("archive")
	}
}

func TestBackupService_ListBackups(t *testing.T) {
	store := newMemoryObjectStore()
	seedBackups(store, 3, 0, 1)
	store.objects["mbbfolio-backup-latest.tar.gz"] = []byte("not a timestamp")
	store.objects["notes.txt"] = []byte("unrelated")

	service := NewBackupService(store, nil, t.TempDir(), nil, zerolog.Nop())
	service.now = func() time.Time { return fixedNow }

	backups, err := service.ListBackups(context.Background())
	require.NoError(t, err)
	require.Len(t, backups, 3)

	assert.True(t, backups[0].Timestamp.Equal(fixedNow))
	assert.True(t, backups[1].Timestamp.Equal(fixedNow.AddDate(0, 0, -1)))
	assert.True(t, backups[2].Timestamp.Equal(fixedNow.AddDate(0, 0, -3)))
	assert.Equal(t, int64(72), backups[2].AgeHours)
	assert.Equal(t, int64(len("archive")), backups[0].SizeBytes)
}

func TestBackupService_RotateOldBackups(t *testing.T) {
	testCases := []struct {
		name          string
		daysAgo       []int
		retentionDays int
		remaining     []int
	}{
		{"deletes expired", []int{0, 1, 2, 10, 20, 40}, 7, []int{0, 1, 2}},
		{"keeps minimum even when expired", []int{10, 20, 30, 40, 50}, 7, []int{10, 20, 30}},
		{"too few to rotate", []int{30, 40, 50}, 7, []int{30, 40, 50}},
		{"nothing expired", []int{0, 1, 2, 3, 4}, 30, []int{0, 1, 2, 3, 4}},
		{"retention disabled", []int{10, 20, 30, 40}, 0, []int{10, 20, 30, 40}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			store := newMemoryObjectStore()
			seedBackups(store, tc.daysAgo...)

			service := NewBackupService(store, nil, t.TempDir(), nil, zerolog.Nop())
			service.now = func() time.Time { return fixedNow }

			require.NoError(t, service.RotateOldBackups(context.Background(), tc.retentionDays))

			expected := make([]string, 0, len(tc.remaining))
			for _, d := range tc.remaining {
				expected = append(expected, BackupFilename(fixedNow.AddDate(0, 0, -d)))
			}
			sort.Strings(expected)
			assert.Equal(t, expected, store.keys())
		})
	}
}

func TestBackupService_RotateOldBackups_DeleteFailureContinues(t *testing.T) {
	store := newMemoryObjectStore()
	seedBackups(store, 0, 1, 2, 10, 20)
	stuck := BackupFilename(fixedNow.AddDate(0, 0, -10))
	store.deleteErr[stuck] = errors.New("throttled")

	service := NewBackupService(store, nil, t.TempDir(), nil, zerolog.Nop())
	service.now = func() time.Time { return fixedNow }

	require.NoError(t, service.RotateOldBackups(context.Background(), 7))
	assert.Contains(t, store.keys(), stuck)
	assert.NotContains(t, store.keys(), BackupFilename(fixedNow.AddDate(0, 0, -20)))
}
