package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vrdf/internal/core/errors"
	"vrdf/internal/core/store"
)

const docTwo = doc + "<urn:bldg#vav1> <https://brickschema.org/schema/Brick#feeds> <urn:bldg#zone1> .\n"

func openTarget(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.OpenPath(context.Background(), filepath.Join(t.TempDir(), "vrdf.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMirror_DatasetFor(t *testing.T) {
	m := NewMirror("/data/docs", nil, nil)

	ds, err := m.DatasetFor("/data/docs/east/ahu.nt")
	require.NoError(t, err)
	assert.Equal(t, "east/ahu", ds)

	_, err = m.DatasetFor("/elsewhere/ahu.nt")
	assert.Error(t, err)
}

func TestMirror_SyncFileCommitsOnlyTheDelta(t *testing.T) {
	ctx := context.Background()
	s := openTarget(t)
	root := t.TempDir()
	m := NewMirror(root, s, nil)
	path := filepath.Join(root, "bldg.nt")

	require.NoError(t, os.WriteFile(path, []byte(docTwo), 0o644))
	res, err := m.SyncFile(ctx, path)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 2, res.Version.OpCount)

	res, err = m.SyncFile(ctx, path)
	require.NoError(t, err)
	assert.Nil(t, res, "an unchanged document commits nothing")

	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	res, err = m.SyncFile(ctx, path)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 1, res.Version.OpCount)

	g, err := s.Latest(ctx, "bldg")
	require.NoError(t, err)
	assert.Equal(t, 1, g.Len())
	assert.Len(t, s.Versions("bldg"), 2)
}

func TestMirror_SyncFileRejectsBadDocument(t *testing.T) {
	s := openTarget(t)
	root := t.TempDir()
	path := filepath.Join(root, "bad.nt")
	require.NoError(t, os.WriteFile(path, []byte("<urn:a> <urn:b>\n"), 0o644))

	_, err := NewMirror(root, s, nil).SyncFile(context.Background(), path)
	assert.True(t, errors.IsCode(err, errors.CodeValidationError))
	assert.Empty(t, s.Versions("bad"))
}

func TestMirror_RunFollowsChanges(t *testing.T) {
	s := openTarget(t)
	root := t.TempDir()
	path := filepath.Join(root, "bldg.nt")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewMirror(root, s, nil).Run(ctx, 20*time.Millisecond, nil, nil) }()

	require.Eventually(t, func() bool { return len(s.Versions("bldg")) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte(docTwo), 0o644))
	require.Eventually(t, func() bool {
		g, err := s.Latest(context.Background(), "bldg")
		return err == nil && g.Len() == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("mirror did not stop after cancel")
	}
}
