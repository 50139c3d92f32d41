package statestore

import (
	"github.com/sumire-audio/zonehub/internal/domain"
)

// Snapshot is the immutable "world" value handed out to every reader. A new
// Snapshot is published atomically on every successful Mutate; old ones
// survive until their last reader drops the reference, which Go's garbage
// collector handles for free — there is no explicit refcounting needed.
type Snapshot struct {
	Version  uint64
	Zones    map[int]domain.Zone
	Clients  map[int]domain.Client
	Tracks   map[int64]domain.Track
	Playlists map[int64]domain.Playlist
	Snapcast domain.SnapcastView
}

// clone returns a deep-enough copy so that mutation functions can modify
// the result freely without affecting the published snapshot until Mutate
// installs it.
func (s Snapshot) clone() Snapshot {
	out := Snapshot{
		Version:  s.Version,
		Zones:    make(map[int]domain.Zone, len(s.Zones)),
		Clients:  make(map[int]domain.Client, len(s.Clients)),
		Tracks:   s.Tracks,    // read-only catalog data, never mutated in place
		Playlists: s.Playlists, // same
		Snapcast: s.Snapcast.Clone(),
	}
	for id, z := range s.Zones {
		out.Zones[id] = z.Clone()
	}
	for id, c := range s.Clients {
		out.Clients[id] = c.Clone()
	}
	return out
}

// ClientZone returns the zone id a client is currently bound to, if any.
func (s Snapshot) ClientZone(clientID int) (int, bool) {
	c, ok := s.Clients[clientID]
	if !ok || c.ZoneID == nil {
		return 0, false
	}
	return *c.ZoneID, true
}

// DesiredTopology computes, for each
// zone, the set of Snapcast client UUIDs that should be bound to it, and
// the stream id the zone's group should play. Clients not yet bound to a
// Snapcast UUID (never discovered) are omitted from the topology — there is
// nothing Snapcast-side to move until that binding exists.
func (s Snapshot) DesiredTopology() domain.DesiredTopology {
	topo := domain.DesiredTopology{
		ZoneClients: make(map[int]map[string]struct{}, len(s.Zones)),
		ZoneStream:  make(map[int]string, len(s.Zones)),
	}
	for zid, z := range s.Zones {
		topo.ZoneClients[zid] = make(map[string]struct{})
		topo.ZoneStream[zid] = z.SnapcastStreamID
	}
	for _, c := range s.Clients {
		if c.ZoneID == nil || c.SnapcastUUID == "" {
			continue
		}
		set, ok := topo.ZoneClients[*c.ZoneID]
		if !ok {
			continue
		}
		set[c.SnapcastUUID] = struct{}{}
	}
	return topo
}
