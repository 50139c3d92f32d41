package mqtt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumire-audio/zonehub/internal/coordinator"
)

func TestZoneVolumeCodecRoundTrips(t *testing.T) {
	codec, ok := codecFor(coordinator.EntityZone, "volume")
	require.True(t, ok)

	cmd, err := codec.decode(1, "75")
	require.NoError(t, err)
	assert.Equal(t, coordinator.CmdSetZoneVolume, cmd.Kind)
	assert.Equal(t, 75, *cmd.IntValue)

	payload, err := codec.encode(75)
	require.NoError(t, err)
	assert.Equal(t, "75", payload)
}

func TestZoneMuteCodecAcceptsCommonSpellings(t *testing.T) {
	codec, ok := codecFor(coordinator.EntityZone, "mute")
	require.True(t, ok)

	for _, payload := range []string{"1", "true", "on"} {
		cmd, err := codec.decode(1, payload)
		require.NoError(t, err)
		assert.True(t, *cmd.BoolValue)
	}
	for _, payload := range []string{"0", "false", "off"} {
		cmd, err := codec.decode(1, payload)
		require.NoError(t, err)
		assert.False(t, *cmd.BoolValue)
	}
}

func TestZoneMuteCodecRejectsGarbage(t *testing.T) {
	codec, _ := codecFor(coordinator.EntityZone, "mute")
	_, err := codec.decode(1, "maybe")
	assert.Error(t, err)
}

func TestZonePlaybackStateCodecMapsVerbs(t *testing.T) {
	codec, ok := codecFor(coordinator.EntityZone, "playback_state")
	require.True(t, ok)

	cmd, err := codec.decode(1, "Play")
	require.NoError(t, err)
	assert.Equal(t, coordinator.CmdPlay, cmd.Kind)

	_, err = codec.decode(1, "levitate")
	assert.Error(t, err)
}

func TestZonePositionCodecRoundTrips(t *testing.T) {
	codec, ok := codecFor(coordinator.EntityZone, "position")
	require.True(t, ok)

	cmd, err := codec.decode(1, "12.5")
	require.NoError(t, err)
	assert.Equal(t, 12500*time.Millisecond, *cmd.DurationValue)

	payload, err := codec.encode(12500 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "12.500", payload)
}

func TestClientZoneIDCodecRoundTrips(t *testing.T) {
	codec, ok := codecFor(coordinator.EntityClient, "zone_id")
	require.True(t, ok)

	cmd, err := codec.decode(3, "2")
	require.NoError(t, err)
	assert.Equal(t, coordinator.CmdAssignClientToZone, cmd.Kind)
	assert.Equal(t, 2, *cmd.IntValue)
}

func TestUnknownFieldIsNotFound(t *testing.T) {
	_, ok := codecFor(coordinator.EntityZone, "brightness")
	assert.False(t, ok)
}
