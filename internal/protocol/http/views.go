package http

import (
	"github.com/sumire-audio/zonehub/internal/domain"
)

// ZoneView is the JSON-facing sub-view of a domain.Zone returned by the
// read endpoints and embedded in status events.
type ZoneView struct {
	ID               int     `json:"id"`
	Name             string  `json:"name"`
	State            string  `json:"state"`
	Volume           int     `json:"volume"`
	Mute             bool    `json:"mute"`
	TrackRepeat      bool    `json:"trackRepeat"`
	PlaylistRepeat   bool    `json:"playlistRepeat"`
	Shuffle          bool    `json:"shuffle"`
	PlaylistID       *int64  `json:"playlistId,omitempty"`
	TrackID          *int64  `json:"trackId,omitempty"`
	SnapcastGroupID  string  `json:"snapcastGroupId,omitempty"`
	SnapcastStreamID string  `json:"snapcastStreamId,omitempty"`
	ClientIDs        []int   `json:"clientIds"`
}

func zoneView(z domain.Zone) ZoneView {
	ids := make([]int, 0, len(z.ClientIDs))
	for id := range z.ClientIDs {
		ids = append(ids, id)
	}
	return ZoneView{
		ID:               z.ID,
		Name:             z.Name,
		State:            string(z.State),
		Volume:           z.Volume,
		Mute:             z.Mute,
		TrackRepeat:      z.TrackRepeat,
		PlaylistRepeat:   z.PlaylistRepeat,
		Shuffle:          z.Shuffle,
		PlaylistID:       z.PlaylistID,
		TrackID:          z.TrackID,
		SnapcastGroupID:  z.SnapcastGroupID,
		SnapcastStreamID: z.SnapcastStreamID,
		ClientIDs:        ids,
	}
}

// ClientView is the JSON-facing sub-view of a domain.Client.
type ClientView struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	MAC       string `json:"mac"`
	Connected bool   `json:"connected"`
	Volume    int    `json:"volume"`
	Mute      bool   `json:"mute"`
	LatencyMs int    `json:"latencyMs"`
	ZoneID    *int   `json:"zoneId,omitempty"`
}

func clientView(c domain.Client) ClientView {
	return ClientView{
		ID:        c.ID,
		Name:      c.Name,
		MAC:       c.MAC,
		Connected: c.Connected,
		Volume:    c.Volume,
		Mute:      c.Mute,
		LatencyMs: c.LatencyMs,
		ZoneID:    c.ZoneID,
	}
}
