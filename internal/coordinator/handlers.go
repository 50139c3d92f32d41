package coordinator

import (
	"context"
	"time"

	"github.com/sumire-audio/zonehub/internal/apperr"
	"github.com/sumire-audio/zonehub/internal/domain"
	"github.com/sumire-audio/zonehub/internal/pipeline"
	"github.com/sumire-audio/zonehub/internal/statestore"
)

// handle invokes the domain handler for cmd and returns the status events
// produced by a successful mutation.
func (c *Coordinator) handle(ctx context.Context, cmd TaggedCommand) ([]StatusEvent, error) {
	switch cmd.Kind {
	case CmdSetZoneVolume:
		return c.handleSetZoneVolume(cmd)
	case CmdSetZoneMute:
		return c.handleSetZoneMute(cmd)
	case CmdSetClientVolume:
		return c.handleSetClientVolume(ctx, cmd)
	case CmdSetClientMute:
		return c.handleSetClientMute(ctx, cmd)
	case CmdAssignClientToZone:
		return c.handleAssignClientToZone(cmd)
	case CmdPlay:
		return c.handlePlay(ctx, cmd)
	case CmdPause, CmdStop:
		return c.handleStop(ctx, cmd)
	case CmdSeek:
		return c.handleSeek(ctx, cmd)
	case CmdSetPlaylist:
		return c.handleSetPlaylist(ctx, cmd)
	case CmdSetTrackByIndex:
		return c.handleSetTrackByIndex(ctx, cmd)
	case CmdNext:
		return c.handleSkip(ctx, cmd, 1)
	case CmdPrevious:
		return c.handleSkip(ctx, cmd, -1)
	default:
		return nil, apperr.Validation("unrecognized command kind")
	}
}

func intValue(cmd TaggedCommand) (int, error) {
	if cmd.IntValue == nil {
		return 0, apperr.Validation("command missing integer value")
	}
	return *cmd.IntValue, nil
}

func boolValue(cmd TaggedCommand) (bool, error) {
	if cmd.BoolValue == nil {
		return false, apperr.Validation("command missing boolean value")
	}
	return *cmd.BoolValue, nil
}

func (c *Coordinator) handleSetZoneVolume(cmd TaggedCommand) ([]StatusEvent, error) {
	vol, err := intValue(cmd)
	if err != nil {
		return nil, err
	}
	if vol < 0 || vol > 100 {
		return nil, apperr.Validation("volume must be in [0,100]")
	}
	_, err = c.store.Mutate(func(s statestore.Snapshot) (statestore.Snapshot, error) {
		z, ok := s.Zones[cmd.ZoneID]
		if !ok {
			return s, apperr.NotFound("zone not found")
		}
		z.Volume = vol
		s.Zones[cmd.ZoneID] = z
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return []StatusEvent{{EntityKind: EntityZone, EntityID: cmd.ZoneID, Field: "volume", Value: vol, Source: cmd.Source, At: time.Now()}}, nil
}

func (c *Coordinator) handleSetZoneMute(cmd TaggedCommand) ([]StatusEvent, error) {
	mute, err := boolValue(cmd)
	if err != nil {
		return nil, err
	}
	_, err = c.store.Mutate(func(s statestore.Snapshot) (statestore.Snapshot, error) {
		z, ok := s.Zones[cmd.ZoneID]
		if !ok {
			return s, apperr.NotFound("zone not found")
		}
		z.Mute = mute
		s.Zones[cmd.ZoneID] = z
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return []StatusEvent{{EntityKind: EntityZone, EntityID: cmd.ZoneID, Field: "mute", Value: mute, Source: cmd.Source, At: time.Now()}}, nil
}

func (c *Coordinator) handleSetClientVolume(ctx context.Context, cmd TaggedCommand) ([]StatusEvent, error) {
	vol, err := intValue(cmd)
	if err != nil {
		return nil, err
	}
	if vol < 0 || vol > 100 {
		return nil, apperr.Validation("volume must be in [0,100]")
	}
	var uuid string
	var mute bool
	_, err = c.store.Mutate(func(s statestore.Snapshot) (statestore.Snapshot, error) {
		cl, ok := s.Clients[cmd.ClientID]
		if !ok {
			return s, apperr.NotFound("client not found")
		}
		cl.Volume = vol
		s.Clients[cmd.ClientID] = cl
		uuid, mute = cl.SnapcastUUID, cl.Mute
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	if uuid != "" && c.snap != nil {
		if err := c.snap.SetClientVolume(ctx, uuid, vol, mute); err != nil {
			c.log.Warn("failed to push client volume to snapcast", "client", cmd.ClientID, "error", err)
		}
	}
	return []StatusEvent{{EntityKind: EntityClient, EntityID: cmd.ClientID, Field: "volume", Value: vol, Source: cmd.Source, At: time.Now()}}, nil
}

func (c *Coordinator) handleSetClientMute(ctx context.Context, cmd TaggedCommand) ([]StatusEvent, error) {
	mute, err := boolValue(cmd)
	if err != nil {
		return nil, err
	}
	var uuid string
	var vol int
	_, err = c.store.Mutate(func(s statestore.Snapshot) (statestore.Snapshot, error) {
		cl, ok := s.Clients[cmd.ClientID]
		if !ok {
			return s, apperr.NotFound("client not found")
		}
		cl.Mute = mute
		s.Clients[cmd.ClientID] = cl
		uuid, vol = cl.SnapcastUUID, cl.Volume
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	if uuid != "" && c.snap != nil {
		if err := c.snap.SetClientVolume(ctx, uuid, vol, mute); err != nil {
			c.log.Warn("failed to push client mute to snapcast", "client", cmd.ClientID, "error", err)
		}
	}
	return []StatusEvent{{EntityKind: EntityClient, EntityID: cmd.ClientID, Field: "mute", Value: mute, Source: cmd.Source, At: time.Now()}}, nil
}

// handleAssignClientToZone rebinds a client to a new zone and triggers an
// immediate reconciliation pass, since the desired topology just changed
// and waiting for the next tick would leave audio routed to the old zone.
func (c *Coordinator) handleAssignClientToZone(cmd TaggedCommand) ([]StatusEvent, error) {
	zoneID, err := intValue(cmd)
	if err != nil {
		return nil, err
	}
	_, err = c.store.Mutate(func(s statestore.Snapshot) (statestore.Snapshot, error) {
		cl, ok := s.Clients[cmd.ClientID]
		if !ok {
			return s, apperr.NotFound("client not found")
		}
		newZone, ok := s.Zones[zoneID]
		if !ok {
			return s, apperr.Validation("target zone does not exist")
		}
		if cl.ZoneID != nil {
			if oldZone, ok := s.Zones[*cl.ZoneID]; ok {
				delete(oldZone.ClientIDs, cmd.ClientID)
				s.Zones[*cl.ZoneID] = oldZone
			}
		}
		z := zoneID
		cl.ZoneID = &z
		s.Clients[cmd.ClientID] = cl
		newZone.ClientIDs[cmd.ClientID] = struct{}{}
		s.Zones[zoneID] = newZone
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	if c.recon != nil {
		go func() {
			if _, err := c.recon.Reconcile(context.Background()); err != nil {
				c.log.Warn("reconciliation after client reassignment failed", "error", err)
			}
		}()
	}
	return []StatusEvent{{EntityKind: EntityClient, EntityID: cmd.ClientID, Field: "zone_id", Value: zoneID, Source: cmd.Source, At: time.Now()}}, nil
}

func (c *Coordinator) handlePlay(ctx context.Context, cmd TaggedCommand) ([]StatusEvent, error) {
	snap := c.store.Snapshot()
	z, ok := snap.Zones[cmd.ZoneID]
	if !ok {
		return nil, apperr.NotFound("zone not found")
	}
	if z.TrackID == nil {
		return nil, apperr.Validation("zone has no current track to play")
	}
	if c.catalog == nil || c.pipe == nil {
		return nil, apperr.Invariant("playback components not wired")
	}
	track, err := c.catalog.ResolveTrack(ctx, *z.TrackID)
	if err != nil {
		return nil, err
	}
	url, err := c.catalog.StreamURL(ctx, *z.TrackID)
	if err != nil {
		return nil, err
	}
	meta := pipeline.TrackMetadata{TrackID: track.ID, Title: track.Title, Artist: track.Artist, Album: track.Album, DurationS: track.DurationS}
	if err := c.pipe.Start(ctx, cmd.ZoneID, url, meta); err != nil {
		return nil, err
	}
	if _, err := c.store.Mutate(func(s statestore.Snapshot) (statestore.Snapshot, error) {
		zz := s.Zones[cmd.ZoneID]
		zz.State = domain.Playing
		s.Zones[cmd.ZoneID] = zz
		return s, nil
	}); err != nil {
		return nil, err
	}
	return []StatusEvent{{EntityKind: EntityZone, EntityID: cmd.ZoneID, Field: "playback_state", Value: domain.Playing, Source: cmd.Source, At: time.Now()}}, nil
}

func (c *Coordinator) handleStop(ctx context.Context, cmd TaggedCommand) ([]StatusEvent, error) {
	if c.pipe == nil {
		return nil, apperr.Invariant("pipeline manager not wired")
	}
	if err := c.pipe.Stop(ctx, cmd.ZoneID); err != nil {
		return nil, err
	}
	newState := domain.Stopped
	if cmd.Kind == CmdPause {
		newState = domain.Paused
	}
	if _, err := c.store.Mutate(func(s statestore.Snapshot) (statestore.Snapshot, error) {
		z, ok := s.Zones[cmd.ZoneID]
		if !ok {
			return s, apperr.NotFound("zone not found")
		}
		z.State = newState
		s.Zones[cmd.ZoneID] = z
		return s, nil
	}); err != nil {
		return nil, err
	}
	return []StatusEvent{{EntityKind: EntityZone, EntityID: cmd.ZoneID, Field: "playback_state", Value: newState, Source: cmd.Source, At: time.Now()}}, nil
}

func (c *Coordinator) handleSeek(ctx context.Context, cmd TaggedCommand) ([]StatusEvent, error) {
	if cmd.DurationValue == nil {
		return nil, apperr.Validation("seek command missing position")
	}
	if c.pipe == nil {
		return nil, apperr.Invariant("pipeline manager not wired")
	}
	if err := c.pipe.Seek(ctx, cmd.ZoneID, *cmd.DurationValue); err != nil {
		return nil, err
	}
	return []StatusEvent{{EntityKind: EntityZone, EntityID: cmd.ZoneID, Field: "position", Value: *cmd.DurationValue, Source: cmd.Source, At: time.Now()}}, nil
}

func (c *Coordinator) handleSetPlaylist(ctx context.Context, cmd TaggedCommand) ([]StatusEvent, error) {
	if cmd.Int64Value == nil {
		return nil, apperr.Validation("command missing playlist id")
	}
	if c.catalog == nil {
		return nil, apperr.Invariant("catalog not wired")
	}
	playlist, err := c.catalog.ResolvePlaylist(ctx, *cmd.Int64Value)
	if err != nil {
		return nil, err
	}
	var firstTrack *int64
	if len(playlist.TrackIDs) > 0 {
		t := playlist.TrackIDs[0]
		firstTrack = &t
	}
	if _, err := c.store.Mutate(func(s statestore.Snapshot) (statestore.Snapshot, error) {
		z, ok := s.Zones[cmd.ZoneID]
		if !ok {
			return s, apperr.NotFound("zone not found")
		}
		pid := playlist.ID
		z.PlaylistID = &pid
		z.TrackID = firstTrack
		s.Zones[cmd.ZoneID] = z
		// Mirror the resolved playlist into the snapshot's own read model so
		// the current-track invariant can verify reachability locally,
		// without re-querying the catalog on every mutation.
		s.Playlists[playlist.ID] = playlist
		return s, nil
	}); err != nil {
		return nil, err
	}
	return []StatusEvent{{EntityKind: EntityZone, EntityID: cmd.ZoneID, Field: "playlist_id", Value: playlist.ID, Source: cmd.Source, At: time.Now()}}, nil
}

func (c *Coordinator) handleSetTrackByIndex(ctx context.Context, cmd TaggedCommand) ([]StatusEvent, error) {
	idx, err := intValue(cmd)
	if err != nil {
		return nil, err
	}
	snap := c.store.Snapshot()
	z, ok := snap.Zones[cmd.ZoneID]
	if !ok {
		return nil, apperr.NotFound("zone not found")
	}
	if z.PlaylistID == nil {
		return nil, apperr.Validation("zone has no active playlist")
	}
	if c.catalog == nil {
		return nil, apperr.Invariant("catalog not wired")
	}
	playlist, err := c.catalog.ResolvePlaylist(ctx, *z.PlaylistID)
	if err != nil {
		return nil, err
	}
	if idx < 0 || idx >= len(playlist.TrackIDs) {
		return nil, apperr.Validation("track index out of range")
	}
	trackID := playlist.TrackIDs[idx]
	if _, err := c.store.Mutate(func(s statestore.Snapshot) (statestore.Snapshot, error) {
		zz := s.Zones[cmd.ZoneID]
		zz.TrackID = &trackID
		s.Zones[cmd.ZoneID] = zz
		s.Playlists[playlist.ID] = playlist
		return s, nil
	}); err != nil {
		return nil, err
	}
	return []StatusEvent{{EntityKind: EntityZone, EntityID: cmd.ZoneID, Field: "track_id", Value: trackID, Source: cmd.Source, At: time.Now()}}, nil
}

// handleSkip advances or rewinds the zone's current track by one position
// within its active playlist, wrapping with repeat semantics.
func (c *Coordinator) handleSkip(ctx context.Context, cmd TaggedCommand, delta int) ([]StatusEvent, error) {
	snap := c.store.Snapshot()
	z, ok := snap.Zones[cmd.ZoneID]
	if !ok {
		return nil, apperr.NotFound("zone not found")
	}
	if z.PlaylistID == nil {
		return nil, apperr.Validation("zone has no active playlist")
	}
	if c.catalog == nil {
		return nil, apperr.Invariant("catalog not wired")
	}
	playlist, err := c.catalog.ResolvePlaylist(ctx, *z.PlaylistID)
	if err != nil {
		return nil, err
	}
	if len(playlist.TrackIDs) == 0 {
		return nil, apperr.Validation("playlist is empty")
	}

	currentIdx := 0
	if z.TrackID != nil {
		for i, id := range playlist.TrackIDs {
			if id == *z.TrackID {
				currentIdx = i
				break
			}
		}
	}
	nextIdx := currentIdx + delta
	if z.PlaylistRepeat {
		nextIdx = ((nextIdx % len(playlist.TrackIDs)) + len(playlist.TrackIDs)) % len(playlist.TrackIDs)
	} else if nextIdx < 0 || nextIdx >= len(playlist.TrackIDs) {
		return nil, apperr.Validation("no next track in playlist")
	}
	trackID := playlist.TrackIDs[nextIdx]

	if _, err := c.store.Mutate(func(s statestore.Snapshot) (statestore.Snapshot, error) {
		zz := s.Zones[cmd.ZoneID]
		zz.TrackID = &trackID
		s.Zones[cmd.ZoneID] = zz
		s.Playlists[playlist.ID] = playlist
		return s, nil
	}); err != nil {
		return nil, err
	}

	events := []StatusEvent{{EntityKind: EntityZone, EntityID: cmd.ZoneID, Field: "track_id", Value: trackID, Source: cmd.Source, At: time.Now()}}

	if z.State == domain.Playing {
		playEvents, err := c.handlePlay(ctx, TaggedCommand{Kind: CmdPlay, Source: cmd.Source, ZoneID: cmd.ZoneID})
		if err != nil {
			c.log.Warn("failed to continue playback after skip", "zone", cmd.ZoneID, "error", err)
		} else {
			events = append(events, playEvents...)
		}
	}
	return events, nil
}
