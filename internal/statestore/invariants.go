package statestore

import (
	"fmt"

	"github.com/sumire-audio/zonehub/internal/apperr"
	"github.com/sumire-audio/zonehub/internal/domain"
)

// validate checks the domain invariants against a candidate snapshot. It
// is called after every Mutate's function runs and
// before the result is published; a violation rejects the write entirely.
func validate(s Snapshot) error {
	groupIDs := make(map[string]int) // snapcast group id -> zone id, for uniqueness check
	for zid, z := range s.Zones {
		if z.Volume < 0 || z.Volume > 100 {
			return apperr.Invariant(fmt.Sprintf("zone %d volume %d out of range [0,100]", zid, z.Volume))
		}
		if z.SnapcastGroupID != "" {
			if other, dup := groupIDs[z.SnapcastGroupID]; dup && other != zid {
				return apperr.Invariant(fmt.Sprintf("zones %d and %d share snapcast group id %q", other, zid, z.SnapcastGroupID))
			}
			groupIDs[z.SnapcastGroupID] = zid
		}
		if z.TrackID != nil {
			if _, ok := s.Tracks[*z.TrackID]; !ok {
				if !reachableThroughPlaylist(s, z) {
					return apperr.Invariant(fmt.Sprintf("zone %d current track %d is not reachable through its playlist", zid, *z.TrackID))
				}
			}
		}
		for cid := range z.ClientIDs {
			c, ok := s.Clients[cid]
			if !ok {
				return apperr.Invariant(fmt.Sprintf("zone %d references unknown client %d", zid, cid))
			}
			if c.ZoneID == nil || *c.ZoneID != zid {
				return apperr.Invariant(fmt.Sprintf("client %d is listed under zone %d but points elsewhere", cid, zid))
			}
		}
	}

	boundZones := make(map[int]int) // client id -> zone id
	for cid, c := range s.Clients {
		if c.Volume < 0 || c.Volume > 100 {
			return apperr.Invariant(fmt.Sprintf("client %d volume %d out of range [0,100]", cid, c.Volume))
		}
		if c.LatencyMs < 0 {
			return apperr.Invariant(fmt.Sprintf("client %d latency %d is negative", cid, c.LatencyMs))
		}
		if c.ZoneID != nil {
			if _, ok := s.Zones[*c.ZoneID]; !ok {
				return apperr.Invariant(fmt.Sprintf("client %d is bound to unknown zone %d", cid, *c.ZoneID))
			}
			if prev, dup := boundZones[cid]; dup && prev != *c.ZoneID {
				return apperr.Invariant(fmt.Sprintf("client %d is bound to more than one zone", cid))
			}
			boundZones[cid] = *c.ZoneID
			z := s.Zones[*c.ZoneID]
			if _, inSet := z.ClientIDs[cid]; !inSet {
				return apperr.Invariant(fmt.Sprintf("client %d points to zone %d which doesn't list it", cid, *c.ZoneID))
			}
		}
	}
	return nil
}

// reachableThroughPlaylist resolves z.TrackID against z's current
// playlist: it must be either null or reference a track reachable through
// the current playlist.
func reachableThroughPlaylist(s Snapshot, z domain.Zone) bool {
	if z.PlaylistID == nil || z.TrackID == nil {
		return false
	}
	pl, ok := s.Playlists[*z.PlaylistID]
	if !ok {
		return false
	}
	for _, tid := range pl.TrackIDs {
		if tid == *z.TrackID {
			return true
		}
	}
	return false
}
