package snapcast

import (
	"time"

	"github.com/sumire-audio/zonehub/internal/domain"
)

// ViewFromStatus converts a raw Server.GetStatus result into the mirror
// shape the state store holds. now is injected so callers can make this
// deterministic in tests.
func ViewFromStatus(status ServerStatus, now time.Time) domain.SnapcastView {
	view := domain.SnapcastView{
		Groups:      make(map[string]domain.SnapcastGroupView, len(status.Server.Groups)),
		Clients:     make(map[string]domain.SnapcastClientView),
		RefreshedAt: now,
	}

	for _, g := range status.Server.Groups {
		ids := make([]string, 0, len(g.Clients))
		for _, cl := range g.Clients {
			ids = append(ids, cl.ID)
			view.Clients[cl.ID] = domain.SnapcastClientView{
				UUID:      cl.ID,
				Name:      cl.Config.Name,
				Connected: cl.Connected,
				Volume:    cl.Config.Volume.Percent,
				Mute:      cl.Config.Volume.Muted,
				LatencyMs: cl.Config.Latency,
				Host: domain.HostInfo{
					IP:       cl.Host.IP,
					Hostname: cl.Host.Name,
					OS:       cl.Host.OS,
					Arch:     cl.Host.Arch,
				},
			}
		}
		view.Groups[g.ID] = domain.SnapcastGroupView{
			ID:        g.ID,
			StreamID:  g.StreamID,
			ClientIDs: ids,
			Muted:     g.Muted,
		}
	}

	return view
}
