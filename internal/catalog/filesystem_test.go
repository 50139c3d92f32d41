package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilesystemSourceScanAssignsStableIDsAcrossRescans(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.mp3"), []byte("fake"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.flac"), []byte("fake"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignore.txt"), []byte("fake"), 0o644))

	src, err := NewFilesystemSource(dir, nil)
	require.NoError(t, err)

	track, ok, err := src.Track(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", track.Title)

	pl, ok, err := src.Playlist(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, pl.TrackIDs, 2)

	require.NoError(t, src.Scan())
	trackAgain, ok, err := src.Track(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, track.SourceURL, trackAgain.SourceURL, "ids must stay stable across rescans")
}

func TestFilesystemSourceUnknownTrackMisses(t *testing.T) {
	dir := t.TempDir()
	src, err := NewFilesystemSource(dir, nil)
	require.NoError(t, err)

	_, ok, err := src.Track(context.Background(), 42)
	require.NoError(t, err)
	assert.False(t, ok)
}
