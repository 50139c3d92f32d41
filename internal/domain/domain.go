// Package domain holds the entities of the control plane's data model:
// zones, clients, tracks, playlists, and the Snapcast mirror types. Every
// type here is treated as read-only once handed out by the state store —
// callers that want to change something submit a mutation function instead
// of editing a returned value in place.
package domain

import "time"

// PlaybackState is a zone's current playback status.
type PlaybackState string

const (
	Stopped   PlaybackState = "Stopped"
	Playing   PlaybackState = "Playing"
	Paused    PlaybackState = "Paused"
	Buffering PlaybackState = "Buffering"
	ErrorState PlaybackState = "Error"
)

// SourceProtocol tags which protocol originated a command or event.
type SourceProtocol string

const (
	SourceAPI      SourceProtocol = "Api"
	SourceMQTT     SourceProtocol = "Mqtt"
	SourceKNX      SourceProtocol = "Knx"
	SourceSnapcast SourceProtocol = "Snapcast"
	SourceInternal SourceProtocol = "Internal"
)

// Zone is the system's logical audio room, realized by exactly one
// Snapcast group. Identity is a stable positive integer assigned at
// configuration time and never reused.
type Zone struct {
	ID              int
	Name            string
	State           PlaybackState
	Volume          int // 0..100
	Mute            bool
	TrackRepeat     bool
	PlaylistRepeat  bool
	Shuffle         bool
	PlaylistID      *int64
	TrackID         *int64
	SnapcastGroupID string
	SnapcastStreamID string
	ClientIDs       map[int]struct{}
}

// Clone returns a deep-enough copy for copy-on-write snapshot semantics.
func (z Zone) Clone() Zone {
	clients := make(map[int]struct{}, len(z.ClientIDs))
	for id := range z.ClientIDs {
		clients[id] = struct{}{}
	}
	z.ClientIDs = clients
	if z.PlaylistID != nil {
		v := *z.PlaylistID
		z.PlaylistID = &v
	}
	if z.TrackID != nil {
		v := *z.TrackID
		z.TrackID = &v
	}
	return z
}

// HostInfo mirrors the Snapcast client's self-reported host metadata.
type HostInfo struct {
	IP       string
	Hostname string
	OS       string
	Arch     string
}

// Client is a physical receiver endpoint, declared in configuration and
// bound dynamically to a Snapcast UUID on first discovery.
type Client struct {
	ID            int
	Name          string
	MAC           string
	SnapcastUUID  string
	Connected     bool
	Volume        int
	Mute          bool
	LatencyMs     int
	ZoneID        *int
	LastSeen      time.Time
	Host          HostInfo
}

func (c Client) Clone() Client {
	if c.ZoneID != nil {
		v := *c.ZoneID
		c.ZoneID = &v
	}
	return c
}

// Track is a read-only catalog entry supplied by the Catalog Provider.
type Track struct {
	ID         int64
	Title      string
	Artist     string
	Album      string
	DurationS  *float64 // nil for live streams
	SourceURL  string
	CoverArtURL string
}

// Playlist is an ordered sequence of track ids.
type Playlist struct {
	ID       int64
	Name     string
	TrackIDs []int64
}

// SnapcastGroupView mirrors one group observed on the daemon.
type SnapcastGroupView struct {
	ID        string
	StreamID  string
	ClientIDs []string // snapcast client UUIDs
	Muted     bool
}

// SnapcastClientView mirrors one client observed on the daemon.
type SnapcastClientView struct {
	UUID      string
	Name      string
	Connected bool
	Volume    int
	Mute      bool
	LatencyMs int
	Host      HostInfo
}

// SnapcastView is a mirror, never authoritative, of the downstream server.
type SnapcastView struct {
	Groups      map[string]SnapcastGroupView
	Clients     map[string]SnapcastClientView
	RefreshedAt time.Time
}

func (v SnapcastView) Clone() SnapcastView {
	groups := make(map[string]SnapcastGroupView, len(v.Groups))
	for k, g := range v.Groups {
		ids := make([]string, len(g.ClientIDs))
		copy(ids, g.ClientIDs)
		g.ClientIDs = ids
		groups[k] = g
	}
	clients := make(map[string]SnapcastClientView, len(v.Clients))
	for k, c := range v.Clients {
		clients[k] = c
	}
	v.Groups = groups
	v.Clients = clients
	return v
}

// DesiredTopology is the pure function of configured zones and client→zone
// bindings: zone id to the set of snapcast client UUIDs that should be in
// that zone's group, plus the stream id the group should play.
type DesiredTopology struct {
	ZoneClients map[int]map[string]struct{} // zone id -> snapcast client uuids
	ZoneStream  map[int]string              // zone id -> desired stream id
}

// ZoneHealth is the per-zone reconciliation health classification.
type ZoneHealth string

const (
	HealthHealthy   ZoneHealth = "Healthy"
	HealthDegraded  ZoneHealth = "Degraded"
	HealthUnhealthy ZoneHealth = "Unhealthy"
)
