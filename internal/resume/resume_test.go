package resume

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileStartsEmpty(t *testing.T) {
	s := Load(filepath.Join(t.TempDir(), "resume.json"), nil)
	_, ok := s.Get(1)
	assert.False(t, ok)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "resume.json")

	s := Load(path, nil)
	s.Save(1, 42, 90*time.Second)

	reloaded := Load(path, nil)
	st, ok := reloaded.Get(1)
	require.True(t, ok)
	assert.Equal(t, int64(42), st.TrackID)
	assert.Equal(t, int64(90_000), st.PositionMS)
}

func TestClearRemovesZone(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resume.json")
	s := Load(path, nil)
	s.Save(1, 42, 10*time.Second)

	s.Clear(1)

	_, ok := s.Get(1)
	assert.False(t, ok)

	reloaded := Load(path, nil)
	_, ok = reloaded.Get(1)
	assert.False(t, ok, "clearing must persist, not just update memory")
}

func TestLoadMalformedFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "resume.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	s := Load(path, nil)
	_, ok := s.Get(1)
	assert.False(t, ok)
}
