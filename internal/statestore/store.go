// Package statestore implements a single "world snapshot" value exposed
// via snapshot()/mutate()/subscribe().
// Writes are strictly serialized through one mutex; reads take an atomic
// pointer load and never block on a writer.
package statestore

import (
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/sumire-audio/zonehub/internal/domain"
	"github.com/sumire-audio/zonehub/internal/fanout"
)

// SnapshotDelta describes one successful mutation for subscribers.
type SnapshotDelta struct {
	OldVersion   uint64
	NewVersion   uint64
	ChangedZones []int
	ChangedClients []int
}

// MutateFunc mutates a candidate snapshot and returns the result. It must
// be pure with respect to external I/O — side effects belong in a
// subscriber driven off the delta feed, not inside the function itself.
type MutateFunc func(Snapshot) (Snapshot, error)

// Store is the authoritative in-memory state of zones, clients, and
// catalog index.
type Store struct {
	writerMu sync.Mutex // serializes the single writer slot
	current  atomic.Pointer[Snapshot]
	deltas   *fanout.Broadcaster[SnapshotDelta]
	log      *slog.Logger
}

// New creates a Store seeded with the given initial snapshot (version 0).
func New(initial Snapshot, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	if initial.Zones == nil {
		initial.Zones = map[int]domain.Zone{}
	}
	if initial.Clients == nil {
		initial.Clients = map[int]domain.Client{}
	}
	if initial.Tracks == nil {
		initial.Tracks = map[int64]domain.Track{}
	}
	if initial.Playlists == nil {
		initial.Playlists = map[int64]domain.Playlist{}
	}
	s := &Store{
		deltas: fanout.New[SnapshotDelta](64, func(d SnapshotDelta) {
			log.Warn("dropping slow statestore subscriber", "from_version", d.OldVersion, "to_version", d.NewVersion)
		}),
		log: log,
	}
	s.current.Store(&initial)
	return s
}

// Snapshot returns the current immutable snapshot. Cheap: a single atomic
// pointer load.
func (s *Store) Snapshot() Snapshot {
	return *s.current.Load()
}

// Mutate serializes a write: it acquires the single writer slot, invokes f
// on a cloned copy of the latest snapshot, validates invariants, and
// publishes the result atomically if f succeeds and validation passes.
// On failure the previous snapshot is retained unchanged.
func (s *Store) Mutate(f MutateFunc) (Snapshot, error) {
	s.writerMu.Lock()
	defer s.writerMu.Unlock()

	before := s.Snapshot()
	candidate, err := f(before.clone())
	if err != nil {
		return before, err
	}
	if err := validate(candidate); err != nil {
		return before, err
	}

	candidate.Version = before.Version + 1
	s.current.Store(&candidate)

	s.deltas.Publish(SnapshotDelta{
		OldVersion: before.Version,
		NewVersion: candidate.Version,
		ChangedZones: diffZoneIDs(before, candidate),
		ChangedClients: diffClientIDs(before, candidate),
	})

	return candidate, nil
}

// Subscribe returns a lazy, restartable change feed. Callers must invoke
// the returned cancel function when done to free the subscriber slot.
func (s *Store) Subscribe() (<-chan SnapshotDelta, func()) {
	return s.deltas.Subscribe()
}

func diffZoneIDs(a, b Snapshot) []int {
	var out []int
	for id, za := range b.Zones {
		zb, ok := a.Zones[id]
		if !ok || !reflect.DeepEqual(za, zb) {
			out = append(out, id)
		}
	}
	return out
}

func diffClientIDs(a, b Snapshot) []int {
	var out []int
	for id, ca := range b.Clients {
		cb, ok := a.Clients[id]
		if !ok || !reflect.DeepEqual(ca, cb) {
			out = append(out, id)
		}
	}
	return out
}
