package coordinator

import (
	"time"

	"github.com/sumire-audio/zonehub/internal/domain"
)

// CommandKind enumerates the recognized commands.
type CommandKind string

const (
	CmdSetClientVolume    CommandKind = "SetClientVolume"
	CmdSetClientMute      CommandKind = "SetClientMute"
	CmdSetZoneVolume      CommandKind = "SetZoneVolume"
	CmdSetZoneMute        CommandKind = "SetZoneMute"
	CmdPlay               CommandKind = "Play"
	CmdPause              CommandKind = "Pause"
	CmdStop               CommandKind = "Stop"
	CmdNext               CommandKind = "Next"
	CmdPrevious           CommandKind = "Previous"
	CmdSetPlaylist        CommandKind = "SetPlaylist"
	CmdSetTrackByIndex    CommandKind = "SetTrackByIndex"
	CmdSeek               CommandKind = "Seek"
	CmdAssignClientToZone CommandKind = "AssignClientToZone"
)

// idempotentKinds drives the backpressure overflow policy:
// oldest-drop for these, newest-drop for everything else.
var idempotentKinds = map[CommandKind]bool{
	CmdSetZoneVolume:   true,
	CmdSetClientVolume: true,
	CmdSetZoneMute:     true,
	CmdSetClientMute:   true,
	CmdSeek:            true,
}

// IsIdempotent reports whether repeated application of k converges to the
// same state, which decides which end of a full queue gets dropped.
func (k CommandKind) IsIdempotent() bool { return idempotentKinds[k] }

// EntityKind distinguishes zones from clients for striping and echo keys.
type EntityKind string

const (
	EntityZone   EntityKind = "zone"
	EntityClient EntityKind = "client"
)

// TaggedCommand is one inbound command carrying its originating protocol.
type TaggedCommand struct {
	Kind     CommandKind
	Source   domain.SourceProtocol
	ZoneID   int
	ClientID int

	IntValue      *int
	BoolValue     *bool
	StringValue   *string
	DurationValue *time.Duration
	Int64Value    *int64

	SubmittedAt time.Time
}

// entityKind reports which entity a command targets.
func (c TaggedCommand) entityKind() EntityKind {
	switch c.Kind {
	case CmdSetClientVolume, CmdSetClientMute, CmdAssignClientToZone:
		return EntityClient
	default:
		return EntityZone
	}
}

func (c TaggedCommand) entityID() int {
	if c.entityKind() == EntityClient {
		return c.ClientID
	}
	return c.ZoneID
}

// field names the attribute this command affects, used for debounce and
// echo-suppression keys.
func (c TaggedCommand) field() string {
	switch c.Kind {
	case CmdSetClientVolume, CmdSetZoneVolume:
		return "volume"
	case CmdSetClientMute, CmdSetZoneMute:
		return "mute"
	case CmdSeek:
		return "position"
	case CmdAssignClientToZone:
		return "zone_id"
	case CmdSetPlaylist:
		return "playlist_id"
	case CmdSetTrackByIndex:
		return "track_index"
	default:
		return "playback_state"
	}
}

// StatusEvent is the typed notification published to every adapter after a
// successful mutation.
type StatusEvent struct {
	EntityKind EntityKind
	EntityID   int
	Field      string
	Value      any
	Source     domain.SourceProtocol
	At         time.Time
}

// Egress is the outbound half of a protocol adapter: it receives published
// status events and encodes them to its own surface. Publish must not
// block the coordinator on a slow or unreachable adapter.
type Egress interface {
	Protocol() domain.SourceProtocol
	Publish(ev StatusEvent)
}
