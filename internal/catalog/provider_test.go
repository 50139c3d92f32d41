package catalog

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumire-audio/zonehub/internal/apperr"
	"github.com/sumire-audio/zonehub/internal/domain"
)

type countingSource struct {
	calls atomic.Int32
	track domain.Track
	found bool
}

func (s *countingSource) Track(ctx context.Context, id int64) (domain.Track, bool, error) {
	s.calls.Add(1)
	return s.track, s.found, nil
}
func (s *countingSource) Playlist(ctx context.Context, id int64) (domain.Playlist, bool, error) {
	return domain.Playlist{}, false, nil
}
func (s *countingSource) StreamURL(ctx context.Context, id int64) (string, bool, error) {
	return "", false, nil
}

func TestResolveTrackCachesHits(t *testing.T) {
	src := &countingSource{track: domain.Track{ID: 1, Title: "A"}, found: true}
	p := New(src, time.Minute, nil)

	t1, err := p.ResolveTrack(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "A", t1.Title)

	_, err = p.ResolveTrack(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int32(1), src.calls.Load(), "second resolution should be served from cache")
}

func TestResolveTrackMissReturnsCatalogMiss(t *testing.T) {
	src := &countingSource{found: false}
	p := New(src, time.Minute, nil)

	_, err := p.ResolveTrack(context.Background(), 99)
	require.Error(t, err)
	assert.Equal(t, apperr.KindCatalogMiss, apperr.KindOf(err))
}

func TestRefreshInvalidatesCache(t *testing.T) {
	src := &countingSource{track: domain.Track{ID: 1, Title: "A"}, found: true}
	p := New(src, time.Minute, nil)

	_, err := p.ResolveTrack(context.Background(), 1)
	require.NoError(t, err)
	p.Refresh(1)
	_, err = p.ResolveTrack(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, int32(2), src.calls.Load())
}
