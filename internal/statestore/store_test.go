package statestore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumire-audio/zonehub/internal/apperr"
	"github.com/sumire-audio/zonehub/internal/domain"
)

func freshSnapshot() Snapshot {
	return Snapshot{
		Zones: map[int]domain.Zone{
			1: {ID: 1, Name: "Living Room", Volume: 50, ClientIDs: map[int]struct{}{}},
			2: {ID: 2, Name: "Kitchen", Volume: 50, ClientIDs: map[int]struct{}{}},
		},
		Clients: map[int]domain.Client{
			1: {ID: 1, Name: "living-room", Volume: 50},
		},
		Tracks:    map[int64]domain.Track{},
		Playlists: map[int64]domain.Playlist{},
	}
}

func TestMutateSetsClientVolumeAndBumpsVersion(t *testing.T) {
	store := New(freshSnapshot(), nil)

	snap, err := store.Mutate(func(s Snapshot) (Snapshot, error) {
		c := s.Clients[1]
		c.Volume = 37
		s.Clients[1] = c
		return s, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 37, snap.Clients[1].Volume)
	assert.Equal(t, uint64(1), snap.Version)

	// Round-trip: SetClientVolume then GetClient sees the same value.
	assert.Equal(t, 37, store.Snapshot().Clients[1].Volume)
}

func TestMutateRejectsVolumeOutOfRange(t *testing.T) {
	store := New(freshSnapshot(), nil)
	before := store.Snapshot()

	_, err := store.Mutate(func(s Snapshot) (Snapshot, error) {
		c := s.Clients[1]
		c.Volume = 150
		s.Clients[1] = c
		return s, nil
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvariantViolation, apperr.KindOf(err))
	assert.Equal(t, before, store.Snapshot(), "state must be unchanged after a rejected mutation")
}

func TestMutateRejectsDuplicateSnapcastGroupID(t *testing.T) {
	store := New(freshSnapshot(), nil)

	_, err := store.Mutate(func(s Snapshot) (Snapshot, error) {
		z1 := s.Zones[1]
		z1.SnapcastGroupID = "g1"
		s.Zones[1] = z1
		z2 := s.Zones[2]
		z2.SnapcastGroupID = "g1"
		s.Zones[2] = z2
		return s, nil
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvariantViolation, apperr.KindOf(err))
}

func TestMutateRejectsClientBoundToUnknownZone(t *testing.T) {
	store := New(freshSnapshot(), nil)

	_, err := store.Mutate(func(s Snapshot) (Snapshot, error) {
		c := s.Clients[1]
		bogus := 99
		c.ZoneID = &bogus
		s.Clients[1] = c
		return s, nil
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvariantViolation, apperr.KindOf(err))
}

func TestSubscribeObservesMonotoneVersionsInOrder(t *testing.T) {
	store := New(freshSnapshot(), nil)
	deltas, cancel := store.Subscribe()
	defer cancel()

	for i := 0; i < 5; i++ {
		vol := 10 + i
		_, err := store.Mutate(func(s Snapshot) (Snapshot, error) {
			c := s.Clients[1]
			c.Volume = vol
			s.Clients[1] = c
			return s, nil
		})
		require.NoError(t, err)
	}

	var lastVersion uint64
	for i := 0; i < 5; i++ {
		d := <-deltas
		assert.Equal(t, lastVersion, d.OldVersion)
		assert.Equal(t, lastVersion+1, d.NewVersion)
		lastVersion = d.NewVersion
	}
}

func TestMutateIsSerializedAcrossConcurrentWriters(t *testing.T) {
	store := New(freshSnapshot(), nil)
	const n = 50
	done := make(chan struct{}, n)

	for i := 0; i < n; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			_, err := store.Mutate(func(s Snapshot) (Snapshot, error) {
				c := s.Clients[1]
				c.LatencyMs++
				s.Clients[1] = c
				return s, nil
			})
			assert.NoError(t, err)
		}()
	}
	for i := 0; i < n; i++ {
		<-done
	}

	assert.Equal(t, uint64(n), store.Snapshot().Version)
	assert.Equal(t, n, store.Snapshot().Clients[1].LatencyMs)
}
