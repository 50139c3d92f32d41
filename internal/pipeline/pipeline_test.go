package pipeline

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

// blockingDecoder decodes until ctx is cancelled, simulating a live
// stream with no natural end.
type blockingDecoder struct {
	formatSent chan struct{}
}

func (d *blockingDecoder) Decode(ctx context.Context, url string, startOffset time.Duration, sink SinkWriter, onFormat func(Format), onPosition func(time.Duration)) error {
	onFormat(Format{SampleRate: 48000, BitDepth: 16, Channels: 2})
	if d.formatSent != nil {
		close(d.formatSent)
	}
	<-ctx.Done()
	return nil
}

// instantDecoder returns immediately, simulating a finite track that ends
// on its own.
type instantDecoder struct{}

func (instantDecoder) Decode(ctx context.Context, url string, startOffset time.Duration, sink SinkWriter, onFormat func(Format), onPosition func(time.Duration)) error {
	onFormat(Format{SampleRate: 48000, BitDepth: 16, Channels: 2})
	sink.Write([]byte("abc"))
	return nil
}

// seekableDecoder simulates a finite, non-live source: it records the
// offset each Decode call was started with, then blocks until cancelled,
// so tests can assert a seek tore down the old decode and restarted one
// at the requested position.
type seekableDecoder struct {
	mu           sync.Mutex
	startOffsets []time.Duration
}

func (d *seekableDecoder) Decode(ctx context.Context, url string, startOffset time.Duration, sink SinkWriter, onFormat func(Format), onPosition func(time.Duration)) error {
	d.mu.Lock()
	d.startOffsets = append(d.startOffsets, startOffset)
	d.mu.Unlock()
	onFormat(Format{SampleRate: 48000, BitDepth: 16, Channels: 2})
	<-ctx.Done()
	return nil
}

func (d *seekableDecoder) offsets() []time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]time.Duration, len(d.startOffsets))
	copy(out, d.startOffsets)
	return out
}

func testSinkOpener() SinkOpener {
	return func(zone int) (SinkWriter, error) { return &fakeSink{}, nil }
}

func TestStartTransitionsPreparingThenStreaming(t *testing.T) {
	m := New(&blockingDecoder{}, testSinkOpener(), nil)
	ctx := context.Background()

	err := m.Start(ctx, 1, "http://example.invalid/stream", TrackMetadata{Title: "Live"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return m.Status(1).State == Streaming }, time.Second, 5*time.Millisecond)
}

func TestStopIsIdempotent(t *testing.T) {
	m := New(&blockingDecoder{}, testSinkOpener(), nil)
	ctx := context.Background()

	require.NoError(t, m.Stop(ctx, 1))

	require.NoError(t, m.Start(ctx, 1, "http://example.invalid/stream", TrackMetadata{}))
	require.Eventually(t, func() bool { return m.Status(1).State == Streaming }, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Stop(ctx, 1))
	assert.Equal(t, Idle, m.Status(1).State)
	require.NoError(t, m.Stop(ctx, 1), "stopping an already-idle pipeline must succeed")
}

func TestStartWhileStreamingStopsThePreviousPipelineFirst(t *testing.T) {
	m := New(&blockingDecoder{}, testSinkOpener(), nil)
	ctx := context.Background()

	require.NoError(t, m.Start(ctx, 1, "http://example.invalid/a", TrackMetadata{Title: "A"}))
	require.Eventually(t, func() bool { return m.Status(1).State == Streaming }, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Start(ctx, 1, "http://example.invalid/b", TrackMetadata{Title: "B"}))
	require.Eventually(t, func() bool { return m.Status(1).State == Streaming }, time.Second, 5*time.Millisecond)
}

func TestSeekRejectsLiveSource(t *testing.T) {
	m := New(&blockingDecoder{}, testSinkOpener(), nil)
	ctx := context.Background()

	require.NoError(t, m.Start(ctx, 1, "http://example.invalid/stream", TrackMetadata{}))
	require.Eventually(t, func() bool { return m.Status(1).State == Streaming }, time.Second, 5*time.Millisecond)

	err := m.Seek(ctx, 1, 10*time.Second)
	require.Error(t, err)
}

func TestSeekSucceedsForNonLiveSource(t *testing.T) {
	decoder := &seekableDecoder{}
	m := New(decoder, testSinkOpener(), nil)
	ctx := context.Background()
	durationS := 120.0

	require.NoError(t, m.Start(ctx, 1, "http://example.invalid/track.mp3", TrackMetadata{Title: "Track", DurationS: &durationS}))
	require.Eventually(t, func() bool { return m.Status(1).State == Streaming }, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Seek(ctx, 1, 30*time.Second))

	require.Eventually(t, func() bool { return m.Status(1).State == Streaming }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 30*time.Second, m.Status(1).Position)
	assert.Equal(t, []time.Duration{0, 30 * time.Second}, decoder.offsets())
}

func TestFinishedDecodeReturnsPipelineToIdle(t *testing.T) {
	m := New(instantDecoder{}, testSinkOpener(), nil)
	ctx := context.Background()

	require.NoError(t, m.Start(ctx, 1, "/tmp/does-not-exist.mp3", TrackMetadata{}))
	require.Eventually(t, func() bool { return m.Status(1).State == Idle }, time.Second, 5*time.Millisecond)
}
