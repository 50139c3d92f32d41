package resume

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sumire-audio/zonehub/internal/pipeline"
)

// SaveInterval is how often a streaming zone's position is checkpointed.
const SaveInterval = 10 * time.Second

// Driver watches a pipeline.Manager's event stream and keeps a Store
// current: it saves a zone's position as soon as it starts streaming, every
// SaveInterval while it keeps streaming, clears the zone once it stops, and
// takes a final checkpoint of every still-streaming zone when ctx ends.
type Driver struct {
	store *Store
	pipe  *pipeline.Manager
	log   *slog.Logger

	mu        sync.Mutex
	streaming map[int]struct{}
}

// NewDriver wires a Store to a pipeline.Manager's event stream.
func NewDriver(store *Store, pipe *pipeline.Manager, log *slog.Logger) *Driver {
	if log == nil {
		log = slog.Default()
	}
	return &Driver{store: store, pipe: pipe, log: log, streaming: map[int]struct{}{}}
}

// Run blocks consuming pipeline events and ticking SaveInterval until ctx is
// cancelled, then checkpoints every still-streaming zone once more before
// returning.
func (d *Driver) Run(ctx context.Context) {
	ticker := time.NewTicker(SaveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.checkpointAll()
			return
		case ev := <-d.pipe.Events():
			d.handleEvent(ev)
		case <-ticker.C:
			d.checkpointAll()
		}
	}
}

func (d *Driver) handleEvent(ev pipeline.Event) {
	if ev.Kind != pipeline.EventPlaybackStateChanged {
		return
	}
	switch ev.State {
	case pipeline.Streaming:
		d.mu.Lock()
		d.streaming[ev.Zone] = struct{}{}
		d.mu.Unlock()
		d.checkpoint(ev.Zone)
	default:
		d.mu.Lock()
		_, wasStreaming := d.streaming[ev.Zone]
		delete(d.streaming, ev.Zone)
		d.mu.Unlock()
		if wasStreaming {
			d.store.Clear(ev.Zone)
		}
	}
}

func (d *Driver) checkpoint(zone int) {
	st := d.pipe.Status(zone)
	if st.TrackID == 0 {
		return
	}
	d.store.Save(zone, st.TrackID, st.Position)
}

func (d *Driver) checkpointAll() {
	d.mu.Lock()
	zones := make([]int, 0, len(d.streaming))
	for z := range d.streaming {
		zones = append(zones, z)
	}
	d.mu.Unlock()

	for _, z := range zones {
		d.checkpoint(z)
	}
}
