package storage_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"shopmedia/internal/storage"

	"github.com/stretchr/testify/require"
)

func TestLocalFileStorageCreatesRootOnFirstStore(t *testing.T) {
	t.Parallel()

	root := filepath.Join(t.TempDir(), "does", "not", "exist")
	engine := storage.NewLocalFileStorage(storage.LocalConfig{Root: root})

	_, err := os.Stat(root)
	require.True(t, os.IsNotExist(err), "root should not exist before first store")

	payload := []byte("hello local storage")
	location, err := engine.Store(context.Background(), "1700000000000-hello.png", bytes.NewReader(payload), int64(len(payload)), "image/png")
	require.NoError(t, err, "Store error")
	require.Equal(t, "/uploads/1700000000000-hello.png", location)

	got, err := os.ReadFile(filepath.Join(root, "1700000000000-hello.png"))
	require.NoError(t, err, "expected object file to exist")
	require.Equal(t, payload, got, "payload mismatch")

	f, err := engine.Open("1700000000000-hello.png")
	require.NoError(t, err, "Open error")
	defer f.Close()
	opened, err := io.ReadAll(f)
	require.NoError(t, err)
	require.Equal(t, payload, opened)
}

func TestLocalFileStorageEscapesPublicPath(t *testing.T) {
	t.Parallel()

	engine := storage.NewLocalFileStorage(storage.LocalConfig{Root: t.TempDir(), PublicPrefix: "static/"})
	require.Equal(t, "/static", engine.PublicPrefix())
	require.Equal(t, "/static/1-%EC%82%AC%EC%A7%84.png", engine.PublicPath("1-사진.png"))
}

func TestLocalFileStorageRejectsInvalidKeys(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	engine := storage.NewLocalFileStorage(storage.LocalConfig{Root: root})

	for _, key := range []string{"", "../escape.png", "a/b.png", ".tmp", `a\b`, "nul\x00.png"} {
		_, err := engine.Store(context.Background(), key, bytes.NewReader([]byte("x")), 1, "image/png")
		require.ErrorIsf(t, err, storage.ErrInvalidKey, "key %q", key)
	}

	_, err := os.Stat(filepath.Join(filepath.Dir(root), "escape.png"))
	require.True(t, os.IsNotExist(err), "nothing may be written outside the root")
}

func TestLocalFileStorageCanceledContext(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	engine := storage.NewLocalFileStorage(storage.LocalConfig{Root: root})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Store(ctx, "1-canceled.png", bytes.NewReader([]byte("x")), 1, "image/png")
	require.ErrorIs(t, err, context.Canceled)

	_, err = os.Stat(filepath.Join(root, "1-canceled.png"))
	require.True(t, os.IsNotExist(err))
}

func TestLocalFileStorageShortBodyLeavesNoObject(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	engine := storage.NewLocalFileStorage(storage.LocalConfig{Root: root})

	_, err := engine.Store(context.Background(), "1-short.png", bytes.NewReader([]byte("abc")), 10, "image/png")
	require.Error(t, err, "expected size mismatch error")

	_, err = os.Stat(filepath.Join(root, "1-short.png"))
	require.True(t, os.IsNotExist(err), "partial upload must not be published")

	leftovers, err := os.ReadDir(filepath.Join(root, ".tmp"))
	require.NoError(t, err)
	require.Empty(t, leftovers, "temp files should be cleaned up")
}

func TestValidKey(t *testing.T) {
	t.Parallel()

	require.True(t, storage.ValidKey("1700000000000-my_photo.png"))
	require.True(t, storage.ValidKey("1700000000000"))
	require.False(t, storage.ValidKey(".hidden"))
	require.False(t, storage.ValidKey("a..b"))
	require.False(t, storage.ValidKey("dir/file"))
}

func TestNewBackendSelectsLocal(t *testing.T) {
	t.Parallel()

	backend, err := storage.NewBackend(context.Background(), storage.BackendConfig{
		Mode:  storage.ModeLocal,
		Local: storage.LocalConfig{Root: t.TempDir()},
	})
	require.NoError(t, err)
	require.IsType(t, &storage.LocalFileStorage{}, backend)
	require.Equal(t, "local", backend.Name())
}

func TestNewBackendUnknownMode(t *testing.T) {
	t.Parallel()

	_, err := storage.NewBackend(context.Background(), storage.BackendConfig{Mode: "ftp"})
	require.ErrorIs(t, err, storage.ErrUnknownMode)
}

func TestLocalFileStorageNeverOverwrites(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	engine := storage.NewLocalFileStorage(storage.LocalConfig{Root: root})
	key := "1700000000000-photo.png"

	first := []byte("first")
	_, err := engine.Store(context.Background(), key, bytes.NewReader(first), int64(len(first)), "image/png")
	require.NoError(t, err)

	second := []byte("SECOND")
	_, err = engine.Store(context.Background(), key, bytes.NewReader(second), int64(len(second)), "image/png")
	require.ErrorIs(t, err, storage.ErrObjectExists)

	got, err := os.ReadFile(filepath.Join(root, key))
	require.NoError(t, err)
	require.Equal(t, first, got, "stored object must stay immutable")

	leftovers, err := os.ReadDir(filepath.Join(root, ".tmp"))
	require.NoError(t, err)
	require.Empty(t, leftovers)
}

func TestMoveFileRefusesExistingDestination(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.WriteFile(src, []byte("new"), 0o644))
	require.NoError(t, os.WriteFile(dst, []byte("old"), 0o644))

	require.ErrorIs(t, storage.MoveFile(src, dst), storage.ErrObjectExists)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "old", string(got))

	require.NoError(t, os.Remove(dst))
	require.NoError(t, storage.MoveFile(src, dst))
	_, err = os.Stat(src)
	require.ErrorIs(t, err, os.ErrNotExist)
}
