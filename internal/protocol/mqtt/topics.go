// Package mqtt implements the MQTT protocol adapter: a topic tree mirroring
// zone/client state, with `.../set` command topics.
package mqtt

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sumire-audio/zonehub/internal/coordinator"
	"github.com/sumire-audio/zonehub/internal/domain"
)

// scope names the entity kind segment of a topic, e.g.
// "snapdog/zone/1/volume/set".
type scope string

const (
	scopeZone   scope = "zone"
	scopeClient scope = "client"
)

func scopeFor(k coordinator.EntityKind) scope {
	if k == coordinator.EntityClient {
		return scopeClient
	}
	return scopeZone
}

// fieldCodec parses an inbound payload for one (scope, field) pair into a
// TaggedCommand, and renders an outbound StatusEvent's value as a payload.
// This is a declarative registry in place of reflection-driven dispatch:
// one table entry per recognized field, instead of a type switch sprawled
// through the adapter.
type fieldCodec struct {
	decode func(entityID int, payload string) (coordinator.TaggedCommand, error)
	encode func(value any) (string, error)
}

var zoneCodecs = map[string]fieldCodec{
	"volume": {
		decode: func(id int, payload string) (coordinator.TaggedCommand, error) {
			v, err := strconv.Atoi(payload)
			if err != nil {
				return coordinator.TaggedCommand{}, fmt.Errorf("mqtt: invalid volume payload %q: %w", payload, err)
			}
			return coordinator.TaggedCommand{Kind: coordinator.CmdSetZoneVolume, Source: domain.SourceMQTT, ZoneID: id, IntValue: &v}, nil
		},
		encode: encodeInt,
	},
	"mute": {
		decode: func(id int, payload string) (coordinator.TaggedCommand, error) {
			v, err := parseBool(payload)
			if err != nil {
				return coordinator.TaggedCommand{}, err
			}
			return coordinator.TaggedCommand{Kind: coordinator.CmdSetZoneMute, Source: domain.SourceMQTT, ZoneID: id, BoolValue: &v}, nil
		},
		encode: encodeBool,
	},
	"position": {
		decode: func(id int, payload string) (coordinator.TaggedCommand, error) {
			secs, err := strconv.ParseFloat(payload, 64)
			if err != nil {
				return coordinator.TaggedCommand{}, fmt.Errorf("mqtt: invalid position payload %q: %w", payload, err)
			}
			d := time.Duration(secs * float64(time.Second))
			return coordinator.TaggedCommand{Kind: coordinator.CmdSeek, Source: domain.SourceMQTT, ZoneID: id, DurationValue: &d}, nil
		},
		encode: encodeDuration,
	},
	"playlist_id": {
		decode: func(id int, payload string) (coordinator.TaggedCommand, error) {
			v, err := strconv.ParseInt(payload, 10, 64)
			if err != nil {
				return coordinator.TaggedCommand{}, fmt.Errorf("mqtt: invalid playlist_id payload %q: %w", payload, err)
			}
			return coordinator.TaggedCommand{Kind: coordinator.CmdSetPlaylist, Source: domain.SourceMQTT, ZoneID: id, Int64Value: &v}, nil
		},
		encode: encodeDefault,
	},
	"track_index": {
		decode: func(id int, payload string) (coordinator.TaggedCommand, error) {
			v, err := strconv.Atoi(payload)
			if err != nil {
				return coordinator.TaggedCommand{}, fmt.Errorf("mqtt: invalid track_index payload %q: %w", payload, err)
			}
			return coordinator.TaggedCommand{Kind: coordinator.CmdSetTrackByIndex, Source: domain.SourceMQTT, ZoneID: id, IntValue: &v}, nil
		},
		encode: encodeDefault,
	},
	"playback_state": {
		decode: func(id int, payload string) (coordinator.TaggedCommand, error) {
			kind, ok := playbackVerbs[strings.ToLower(strings.TrimSpace(payload))]
			if !ok {
				return coordinator.TaggedCommand{}, fmt.Errorf("mqtt: unrecognized playback verb %q", payload)
			}
			return coordinator.TaggedCommand{Kind: kind, Source: domain.SourceMQTT, ZoneID: id}, nil
		},
		encode: encodeDefault,
	},
}

var clientCodecs = map[string]fieldCodec{
	"volume": {
		decode: func(id int, payload string) (coordinator.TaggedCommand, error) {
			v, err := strconv.Atoi(payload)
			if err != nil {
				return coordinator.TaggedCommand{}, fmt.Errorf("mqtt: invalid volume payload %q: %w", payload, err)
			}
			return coordinator.TaggedCommand{Kind: coordinator.CmdSetClientVolume, Source: domain.SourceMQTT, ClientID: id, IntValue: &v}, nil
		},
		encode: encodeInt,
	},
	"mute": {
		decode: func(id int, payload string) (coordinator.TaggedCommand, error) {
			v, err := parseBool(payload)
			if err != nil {
				return coordinator.TaggedCommand{}, err
			}
			return coordinator.TaggedCommand{Kind: coordinator.CmdSetClientMute, Source: domain.SourceMQTT, ClientID: id, BoolValue: &v}, nil
		},
		encode: encodeBool,
	},
	"zone_id": {
		decode: func(id int, payload string) (coordinator.TaggedCommand, error) {
			v, err := strconv.Atoi(payload)
			if err != nil {
				return coordinator.TaggedCommand{}, fmt.Errorf("mqtt: invalid zone_id payload %q: %w", payload, err)
			}
			return coordinator.TaggedCommand{Kind: coordinator.CmdAssignClientToZone, Source: domain.SourceMQTT, ClientID: id, IntValue: &v}, nil
		},
		encode: encodeInt,
	},
}

var playbackVerbs = map[string]coordinator.CommandKind{
	"play":     coordinator.CmdPlay,
	"pause":    coordinator.CmdPause,
	"stop":     coordinator.CmdStop,
	"next":     coordinator.CmdNext,
	"previous": coordinator.CmdPrevious,
}

func parseBool(payload string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(payload)) {
	case "1", "true", "on":
		return true, nil
	case "0", "false", "off":
		return false, nil
	default:
		return false, fmt.Errorf("mqtt: invalid boolean payload %q", payload)
	}
}

func encodeInt(v any) (string, error) {
	switch n := v.(type) {
	case int:
		return strconv.Itoa(n), nil
	case int64:
		return strconv.FormatInt(n, 10), nil
	default:
		return encodeDefault(v)
	}
}

func encodeBool(v any) (string, error) {
	b, ok := v.(bool)
	if !ok {
		return encodeDefault(v)
	}
	if b {
		return "true", nil
	}
	return "false", nil
}

func encodeDuration(v any) (string, error) {
	d, ok := v.(time.Duration)
	if !ok {
		return encodeDefault(v)
	}
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64), nil
}

func encodeDefault(v any) (string, error) {
	return fmt.Sprintf("%v", v), nil
}

func codecFor(k coordinator.EntityKind, field string) (fieldCodec, bool) {
	table := zoneCodecs
	if k == coordinator.EntityClient {
		table = clientCodecs
	}
	c, ok := table[field]
	return c, ok
}
