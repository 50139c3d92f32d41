package statestore

import (
	"github.com/sumire-audio/zonehub/internal/config"
	"github.com/sumire-audio/zonehub/internal/domain"
)

// Seed builds the initial Snapshot from the declarative zone/client
// configuration loaded at startup. Every Zone and Client entity is created
// here, never again at runtime.
func Seed(cfg *config.Config) Snapshot {
	snap := Snapshot{
		Zones:     make(map[int]domain.Zone, len(cfg.Zones)),
		Clients:   make(map[int]domain.Client, len(cfg.Clients)),
		Tracks:    make(map[int64]domain.Track),
		Playlists: make(map[int64]domain.Playlist),
		Snapcast: domain.SnapcastView{
			Groups:  make(map[string]domain.SnapcastGroupView),
			Clients: make(map[string]domain.SnapcastClientView),
		},
	}

	for _, zc := range cfg.Zones {
		snap.Zones[zc.ID] = domain.Zone{
			ID:        zc.ID,
			Name:      zc.Name,
			State:     domain.Stopped,
			Volume:    50,
			ClientIDs: make(map[int]struct{}),
		}
	}

	for _, cc := range cfg.Clients {
		c := domain.Client{
			ID:     cc.ID,
			Name:   cc.Name,
			MAC:    cc.MAC,
			Volume: 50,
			ZoneID: cc.ZoneID,
		}
		snap.Clients[cc.ID] = c
		if cc.ZoneID != nil {
			if z, ok := snap.Zones[*cc.ZoneID]; ok {
				z.ClientIDs[cc.ID] = struct{}{}
				snap.Zones[*cc.ZoneID] = z
			}
		}
	}

	return snap
}
