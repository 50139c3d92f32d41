package resume

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumire-audio/zonehub/internal/pipeline"
)

type fakeSink struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *fakeSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}
func (s *fakeSink) Close() error { return nil }

type blockingDecoder struct{}

func (blockingDecoder) Decode(ctx context.Context, url string, startOffset time.Duration, sink pipeline.SinkWriter, onFormat func(pipeline.Format), onPosition func(time.Duration)) error {
	onFormat(pipeline.Format{SampleRate: 48000, BitDepth: 16, Channels: 2})
	onPosition(0)
	<-ctx.Done()
	return nil
}

func TestDriverSavesOnStreamingAndClearsOnStop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resume.json")
	store := Load(path, nil)
	pipe := pipeline.New(blockingDecoder{}, func(zone int) (pipeline.SinkWriter, error) { return &fakeSink{}, nil }, nil)
	driver := NewDriver(store, pipe, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go driver.Run(ctx)

	durationS := 180.0
	require.NoError(t, pipe.Start(ctx, 1, "http://example.invalid/track.mp3", pipeline.TrackMetadata{TrackID: 7, DurationS: &durationS}))

	require.Eventually(t, func() bool {
		_, ok := store.Get(1)
		return ok
	}, time.Second, 5*time.Millisecond)

	st, ok := store.Get(1)
	require.True(t, ok)
	assert.Equal(t, int64(7), st.TrackID)

	require.NoError(t, pipe.Stop(context.Background(), 1))
	require.Eventually(t, func() bool {
		_, ok := store.Get(1)
		return !ok
	}, time.Second, 5*time.Millisecond)

	cancel()
}
