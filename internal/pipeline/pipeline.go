// Package pipeline manages per-zone media decode pipelines, at most one
// active per zone.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sumire-audio/zonehub/internal/apperr"
)

// State is a pipeline's lifecycle stage.
type State string

const (
	Idle       State = "Idle"
	Preparing  State = "Preparing"
	Streaming  State = "Streaming"
	Stopping   State = "Stopping"
	PipeError  State = "Error"
)

// Format describes the negotiated PCM format written to a zone's sink.
type Format struct {
	SampleRate int
	BitDepth   int
	Channels   int
}

// TrackMetadata is the caller-supplied description of what is playing,
// superseded by embedded metadata when the decoder exposes it.
type TrackMetadata struct {
	TrackID   int64
	Title     string
	Artist    string
	Album     string
	DurationS *float64
}

// Status is the point-in-time view returned by Manager.Status.
type Status struct {
	Zone      int
	State     State
	Position  time.Duration
	Duration  *time.Duration
	Format    Format
	StartedAt time.Time
	Err       string
	TrackID   int64
}

// EventKind tags a pipeline event.
type EventKind string

const (
	EventPositionChanged     EventKind = "PositionChanged"
	EventPlaybackStateChanged EventKind = "PlaybackStateChanged"
	EventTrackInfoChanged    EventKind = "TrackInfoChanged"
)

// Event is published on the Manager's event stream.
type Event struct {
	Zone     int
	Kind     EventKind
	State    State
	Position time.Duration
	Track    *TrackMetadata
}

// SinkWriter abstracts the per-zone named sink so tests can substitute an
// in-memory buffer instead of a real file or FIFO.
type SinkWriter interface {
	Write(p []byte) (int, error)
	Close() error
}

// SinkOpener opens (creating parent directories as needed) the named sink
// for a zone.
type SinkOpener func(zone int) (SinkWriter, error)

// Decoder runs one decode pass from url into the sink, starting at
// startOffset into the source when the source supports it (0 for a normal
// start), reporting negotiated format once known and position as it
// advances. It must return promptly when ctx is cancelled.
type Decoder interface {
	Decode(ctx context.Context, url string, startOffset time.Duration, sink SinkWriter, onFormat func(Format), onPosition func(time.Duration)) error
}

// handle is the manager's per-zone pipeline state.
type handle struct {
	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
	status Status
	track  TrackMetadata
	url    string
}

// Manager owns at most one active pipeline per zone and never lets a
// caller observe more than one decoder running against the same sink.
type Manager struct {
	mu       sync.Mutex
	zones    map[int]*handle
	decoder  Decoder
	sinkOpen SinkOpener
	log      *slog.Logger
	events   chan Event
}

// New creates a Manager. decoder and sinkOpen are required collaborators;
// production wiring supplies an ffmpeg-backed Decoder and a filesystem
// SinkOpener, tests supply fakes.
func New(decoder Decoder, sinkOpen SinkOpener, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		zones:    make(map[int]*handle),
		decoder:  decoder,
		sinkOpen: sinkOpen,
		log:      log,
		events:   make(chan Event, 256),
	}
}

// Events returns the manager's event stream. There is one shared stream
// across all zones; consumers filter by Event.Zone.
func (m *Manager) Events() <-chan Event { return m.events }

func (m *Manager) publish(ev Event) {
	select {
	case m.events <- ev:
	default:
		m.log.Warn("dropping pipeline event, subscriber too slow", "zone", ev.Zone, "kind", ev.Kind)
	}
}

func (m *Manager) handleFor(zone int) *handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.zones[zone]
	if !ok {
		h = &handle{state: Idle, done: closedChan()}
		m.zones[zone] = h
	}
	return h
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Start transitions the zone's pipeline to Preparing and then Streaming. A
// pipeline already running is stopped first, gracefully, with a 2s
// deadline.
func (m *Manager) Start(ctx context.Context, zone int, url string, meta TrackMetadata) error {
	h := m.handleFor(zone)

	h.mu.Lock()
	if h.state != Idle {
		h.mu.Unlock()
		stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := m.Stop(stopCtx, zone); err != nil {
			return err
		}
		h.mu.Lock()
	}
	h.mu.Unlock()

	return m.startLocked(zone, h, url, meta, 0)
}

// startLocked does the actual Preparing->Streaming transition, assuming the
// zone is already Idle. offset seeds the decode at a position into the
// source, used by Seek to restart a pipeline partway through.
func (m *Manager) startLocked(zone int, h *handle, url string, meta TrackMetadata, offset time.Duration) error {
	var duration *time.Duration
	if meta.DurationS != nil {
		d := time.Duration(*meta.DurationS * float64(time.Second))
		duration = &d
	}

	h.mu.Lock()
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	h.state = Preparing
	h.cancel = cancel
	h.done = done
	h.track = meta
	h.url = url
	h.status = Status{Zone: zone, State: Preparing, StartedAt: time.Now(), Position: offset, Duration: duration, TrackID: meta.TrackID}
	h.mu.Unlock()

	m.publish(Event{Zone: zone, Kind: EventPlaybackStateChanged, State: Preparing})

	sink, err := m.sinkOpen(zone)
	if err != nil {
		m.failZone(h, zone, err)
		close(done)
		return apperr.Transient("opening pipeline sink", err)
	}

	h.mu.Lock()
	h.state = Streaming
	h.status.State = Streaming
	h.mu.Unlock()
	m.publish(Event{Zone: zone, Kind: EventPlaybackStateChanged, State: Streaming})

	go m.run(runCtx, h, zone, url, offset, sink, done)
	go m.emitTrackInfoIfChanged(zone, meta, url)

	return nil
}

// run is the pipeline worker goroutine. A single recover() at its root
// guarantees the sink is closed and the zone lands in Error rather than
// crashing the process.
func (m *Manager) run(ctx context.Context, h *handle, zone int, url string, offset time.Duration, sink SinkWriter, done chan struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("pipeline worker panicked, recovering", "zone", zone, "panic", r)
			m.failZone(h, zone, apperr.Fatal("pipeline worker panic", nil))
		}
		sink.Close()
	}()

	onFormat := func(f Format) {
		h.mu.Lock()
		h.status.Format = f
		h.mu.Unlock()
	}
	onPosition := func(pos time.Duration) {
		absolute := offset + pos
		h.mu.Lock()
		h.status.Position = absolute
		h.mu.Unlock()
		m.publish(Event{Zone: zone, Kind: EventPositionChanged, Position: absolute})
	}

	err := m.decoder.Decode(ctx, url, offset, sink, onFormat, onPosition)

	if err != nil && ctx.Err() == nil {
		m.failZone(h, zone, err)
		return
	}

	// Any non-error exit — explicit Stop, cancellation, or the decoder
	// reaching end of stream on its own — returns the zone to Idle.
	h.mu.Lock()
	h.state = Idle
	h.status.State = Idle
	h.mu.Unlock()
	m.publish(Event{Zone: zone, Kind: EventPlaybackStateChanged, State: Idle})
}

func (m *Manager) failZone(h *handle, zone int, err error) {
	h.mu.Lock()
	h.state = PipeError
	h.status.State = PipeError
	h.status.Err = err.Error()
	h.mu.Unlock()
	m.log.Error("pipeline entered Error state", "zone", zone, "error", err)
	m.publish(Event{Zone: zone, Kind: EventPlaybackStateChanged, State: PipeError})
}

// Stop is idempotent: stopping an already-idle pipeline succeeds
// immediately.
func (m *Manager) Stop(ctx context.Context, zone int) error {
	h := m.handleFor(zone)

	h.mu.Lock()
	if h.state == Idle {
		h.mu.Unlock()
		return nil
	}
	h.state = Stopping
	h.status.State = Stopping
	cancel := h.cancel
	done := h.done
	h.mu.Unlock()
	m.publish(Event{Zone: zone, Kind: EventPlaybackStateChanged, State: Stopping})

	if cancel != nil {
		cancel()
	}

	select {
	case <-done:
	case <-ctx.Done():
		return apperr.Timeout("pipeline did not stop within deadline", ctx.Err())
	}

	h.mu.Lock()
	h.state = Idle
	h.status.State = Idle
	h.mu.Unlock()
	return nil
}

// Seek is only valid while Streaming; live sources (nil Duration) report
// NotSeekable. The decoder has no in-place reposition primitive, so a seek
// tears down the running decode and restarts it with a start offset, the
// same way Start replaces an already-running pipeline.
func (m *Manager) Seek(ctx context.Context, zone int, position time.Duration) error {
	h := m.handleFor(zone)

	h.mu.Lock()
	if h.state != Streaming {
		h.mu.Unlock()
		return apperr.Invariant("seek is only valid while Streaming")
	}
	if h.status.Duration == nil {
		h.mu.Unlock()
		return apperr.Validation("NotSeekable: live source has no duration")
	}
	if position < 0 {
		position = 0
	}
	if position > *h.status.Duration {
		position = *h.status.Duration
	}
	url := h.url
	meta := h.track
	h.mu.Unlock()

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := m.Stop(stopCtx, zone); err != nil {
		return err
	}

	return m.startLocked(zone, h, url, meta, position)
}

// Status returns a point-in-time snapshot of the zone's pipeline.
func (m *Manager) Status(zone int) Status {
	h := m.handleFor(zone)
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}
