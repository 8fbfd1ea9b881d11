package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func exerciseKeyValueStore(t *testing.T, store KeyValueStore) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Get(ctx, "player_state")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrKeyNotFound))

	require.NoError(t, store.Put(ctx, "player_state", []byte(`{"version":2}`)))
	got, err := store.Get(ctx, "player_state")
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":2}`, string(got))

	require.NoError(t, store.Put(ctx, "player_state", []byte(`{"version":3}`)))
	got, err = store.Get(ctx, "player_state")
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":3}`, string(got), "put replaces")

	require.NoError(t, store.Put(ctx, "player_state:abc", []byte(`{}`)))
	require.NoError(t, store.Delete(ctx, "player_state"))
	_, err = store.Get(ctx, "player_state")
	assert.True(t, errors.Is(err, ErrKeyNotFound))
	require.NoError(t, store.Delete(ctx, "player_state"), "deleting twice is fine")

	got, err = store.Get(ctx, "player_state:abc")
	require.NoError(t, err)
	assert.Equal(t, "{}", string(got))
}

func TestMemoryStorage(t *testing.T) {
	store := NewMemoryStorage(0, 0)
	exerciseKeyValueStore(t, store)
}

func TestMemoryStorageExpiryAndEviction(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage(5, time.Hour)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return clock }

	for _, key := range []string{"a", "b", "c", "d", "e"} {
		clock = clock.Add(time.Second)
		require.NoError(t, store.Put(ctx, key, []byte(key)))
	}
	clock = clock.Add(time.Second)
	_, err := store.Get(ctx, "a") // a becomes the most recently read
	require.NoError(t, err)

	clock = clock.Add(time.Second)
	require.NoError(t, store.Put(ctx, "f", []byte("f")))
	assert.Equal(t, 5, store.Len())
	_, err = store.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrKeyNotFound, "least recently read is evicted")

	clock = clock.Add(2 * time.Hour)
	_, err = store.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrKeyNotFound, "expired")
}

func TestMemoryStorageCopiesValues(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage(0, 0)
	value := []byte("abc")
	require.NoError(t, store.Put(ctx, "k", value))
	value[0] = 'x'

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestFileStorage(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	store, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	exerciseKeyValueStore(t, store)

	keys, err := store.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"player_state__abc"}, keys)
}

func TestFileStorageReadsThroughCache(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewFileStorage(dir)
	require.NoError(t, err)
	defer store.Close()

	path := store.PathFor("slot")
	assert.Equal(t, filepath.Join(dir, "saves", "slot.json"), path)

	require.NoError(t, os.WriteFile(path, []byte("disk"), 0644))
	got, err := store.Get(ctx, "slot")
	require.NoError(t, err)
	assert.Equal(t, "disk", string(got))

	// a fresh cache entry hides out-of-band edits
	require.NoError(t, os.WriteFile(path, []byte("edited"), 0644))
	got, err = store.Get(ctx, "slot")
	require.NoError(t, err)
	assert.Equal(t, "disk", string(got))

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestFileStorageHonoursContext(t *testing.T) {
	store, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, store.Put(ctx, "k", []byte("v")), context.Canceled)
	_, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSQLiteStorage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "saves.sqlite")
	store, err := OpenSQLStorage(context.Background(), DialectSQLite, path)
	require.NoError(t, err)
	defer store.Close()

	assert.Equal(t, DialectSQLite, store.Dialect())
	exerciseKeyValueStore(t, store)

	// migrations are recorded and not re-applied
	require.NoError(t, store.applyMigrations(context.Background()))
	var count int
	require.NoError(t, store.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestSQLiteStorageSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "saves.sqlite")

	store, err := OpenSQLStorage(ctx, DialectSQLite, path)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "player_state", []byte("kept")))
	require.NoError(t, store.Close())

	store, err = OpenSQLStorage(ctx, DialectSQLite, path)
	require.NoError(t, err)
	defer store.Close()
	got, err := store.Get(ctx, "player_state")
	require.NoError(t, err)
	assert.Equal(t, "kept", string(got))
}

func TestSQLQueries(t *testing.T) {
	sqlite := &SQLStorage{dialect: DialectSQLite}
	pg := &SQLStorage{dialect: DialectPostgres}

	assert.Equal(t, "?", sqlite.bind(1))
	assert.Equal(t, "$2", pg.bind(2))
	assert.Equal(t, "INSERT INTO t (a, b) VALUES ($1, $2)", pg.insertQuery("t", []string{"a", "b"}))
	assert.Contains(t, sqlite.upsertQuery(), "VALUES (?, ?, ?) ON CONFLICT (slot_key)")
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	store, err := Open(ctx, Options{Backend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStorage{}, store)

	store, err = Open(ctx, Options{Backend: "FILE", DataDir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &FileStorage{}, store)
	require.NoError(t, store.Close())

	_, err = Open(ctx, Options{Backend: "postgres"})
	assert.Error(t, err)

	_, err = Open(ctx, Options{Backend: "redis"})
	assert.Error(t, err)
}
