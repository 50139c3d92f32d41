package knx

import (
	"fmt"
	"log/slog"

	"github.com/vapourismo/knx-go/knx"
	"github.com/vapourismo/knx-go/knx/cemi"

	"github.com/sumire-audio/zonehub/internal/coordinator"
	"github.com/sumire-audio/zonehub/internal/domain"
)

// GroupAddress binds one command/status field to a KNX group address and
// datapoint type, mirroring internal/config.KNXGroupAddress.
type GroupAddress struct {
	Scope     coordinator.EntityKind
	ID        int
	Field     string
	Address   string
	DPT       DPT
	Direction Direction
}

// Direction says whether a group address is read from the bus as an inbound
// command (DirectionCommand) or written to the bus as an outbound status
// (DirectionStatus).
type Direction string

const (
	DirectionCommand Direction = "command"
	DirectionStatus  Direction = "status"
)

type boundPoint struct {
	addr cemi.GroupAddr
	ga   GroupAddress
}

// Adapter is the KNX protocol adapter, implemented against a
// knx.GroupTunnel to a KNXnet/IP tunnel interface. It has no router
// (multicast) mode.
type Adapter struct {
	tunnel *knx.GroupTunnel
	coord  *coordinator.Coordinator
	log    *slog.Logger

	byAddress map[cemi.GroupAddr]boundPoint
	statusOut []boundPoint
}

// New resolves every configured group address up front; a malformed address
// string is a startup error rather than a silent no-op.
func New(gatewayAddr string, addresses []GroupAddress, coord *coordinator.Coordinator, log *slog.Logger) (*Adapter, error) {
	if log == nil {
		log = slog.Default()
	}
	tunnel, err := knx.NewGroupTunnel(gatewayAddr, knx.TunnelConfig{})
	if err != nil {
		return nil, fmt.Errorf("knx: dial %s: %w", gatewayAddr, err)
	}

	a := &Adapter{tunnel: &tunnel, coord: coord, log: log, byAddress: make(map[cemi.GroupAddr]boundPoint)}
	for _, ga := range addresses {
		addr, err := cemi.NewGroupAddrString(ga.Address)
		if err != nil {
			tunnel.Close()
			return nil, fmt.Errorf("knx: invalid group address %q: %w", ga.Address, err)
		}
		bp := boundPoint{addr: addr, ga: ga}
		a.byAddress[addr] = bp
		if ga.Direction == DirectionStatus {
			a.statusOut = append(a.statusOut, bp)
		}
	}
	return a, nil
}

// Protocol implements coordinator.Egress.
func (a *Adapter) Protocol() domain.SourceProtocol { return domain.SourceKNX }

// Publish implements coordinator.Egress: it writes ev's value to every
// configured status group address bound to the same entity and field.
func (a *Adapter) Publish(ev coordinator.StatusEvent) {
	for _, bp := range a.statusOut {
		if bp.ga.Scope != ev.EntityKind || bp.ga.ID != ev.EntityID || bp.ga.Field != ev.Field {
			continue
		}
		raw, err := EncodeDPT(bp.ga.DPT, ev.Value)
		if err != nil {
			a.log.Warn("knx: failed to encode status value", "address", bp.ga.Address, "error", err)
			continue
		}
		if err := a.tunnel.Send(knx.GroupEvent{
			Command:     knx.GroupWrite,
			Destination: bp.addr,
			Data:        raw,
		}); err != nil {
			a.log.Warn("knx: failed to send group write", "address", bp.ga.Address, "error", err)
		}
	}
}

// Run drains inbound group telegrams until the tunnel closes, translating
// writes on configured command group addresses into tagged commands.
func (a *Adapter) Run() {
	for ev := range a.tunnel.Inbound() {
		if ev.Command != knx.GroupWrite && ev.Command != knx.GroupResponse {
			continue
		}
		bp, ok := a.byAddress[ev.Destination]
		if !ok || bp.ga.Direction != DirectionCommand {
			continue
		}
		a.handleGroupWrite(bp.ga, ev.Data)
	}
}

func (a *Adapter) handleGroupWrite(ga GroupAddress, data []byte) {
	value, err := DecodeDPT(ga.DPT, data)
	if err != nil {
		a.log.Warn("knx: failed to decode group write", "address", ga.Address, "error", err)
		return
	}
	cmd, err := commandFor(ga, value)
	if err != nil {
		a.log.Warn("knx: failed to translate group write to a command", "address", ga.Address, "error", err)
		return
	}
	if err := a.coord.Submit(cmd); err != nil {
		a.log.Warn("knx: failed to submit command", "address", ga.Address, "error", err)
	}
}

// commandFor maps a decoded DPT value on a (scope, field) group address to
// the tagged command it represents. This is the same declarative
// scope/field registry as the MQTT adapter's topic codecs, specialized to
// the value shapes DecodeDPT produces.
func commandFor(ga GroupAddress, value any) (coordinator.TaggedCommand, error) {
	base := coordinator.TaggedCommand{Source: domain.SourceKNX}
	if ga.Scope == coordinator.EntityClient {
		base.ClientID = ga.ID
	} else {
		base.ZoneID = ga.ID
	}

	switch ga.Field {
	case "volume":
		pct, ok := value.(float64)
		if !ok {
			return base, fmt.Errorf("knx: volume expects a percentage value, got %T", value)
		}
		v := int(pct)
		base.IntValue = &v
		if ga.Scope == coordinator.EntityClient {
			base.Kind = coordinator.CmdSetClientVolume
		} else {
			base.Kind = coordinator.CmdSetZoneVolume
		}
		return base, nil

	case "mute":
		b, ok := value.(bool)
		if !ok {
			return base, fmt.Errorf("knx: mute expects a boolean value, got %T", value)
		}
		base.BoolValue = &b
		if ga.Scope == coordinator.EntityClient {
			base.Kind = coordinator.CmdSetClientMute
		} else {
			base.Kind = coordinator.CmdSetZoneMute
		}
		return base, nil

	case "playback_state":
		n, ok := value.(int)
		if !ok {
			return base, fmt.Errorf("knx: playback_state expects a count value, got %T", value)
		}
		kind, ok := playbackSceneVerbs[n]
		if !ok {
			return base, fmt.Errorf("knx: unrecognized playback scene value %d", n)
		}
		base.Kind = kind
		return base, nil

	default:
		return base, fmt.Errorf("knx: unsupported command field %q", ga.Field)
	}
}

// playbackSceneVerbs maps a DPT 7.001 scene number to a transport verb, so a
// KNX scene switch (GA bound to "playback_state", DPT 7.001) can drive
// playback the same way a scene button on a wall panel would.
var playbackSceneVerbs = map[int]coordinator.CommandKind{
	0: coordinator.CmdStop,
	1: coordinator.CmdPlay,
	2: coordinator.CmdPause,
	3: coordinator.CmdNext,
	4: coordinator.CmdPrevious,
}

// Close releases the underlying KNX tunnel.
func (a *Adapter) Close() {
	a.tunnel.Close()
}
