package knx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDPT5001DecodesGatewayExample(t *testing.T) {
	v, err := DecodeDPT(DPT5001, []byte{128})
	require.NoError(t, err)
	assert.Equal(t, float64(50), v)
}

func TestDPT5001EncodeDecodeRoundTrips(t *testing.T) {
	for _, pct := range []float64{0, 1, 25, 50, 75, 99, 100} {
		raw, err := EncodeDPT(DPT5001, pct)
		require.NoError(t, err)
		back, err := DecodeDPT(DPT5001, raw)
		require.NoError(t, err)
		assert.InDelta(t, pct, back.(float64), 1.0, "dpt 5.001 round trip for %v", pct)
	}
}

func TestDPT5001RejectsOutOfRange(t *testing.T) {
	_, err := EncodeDPT(DPT5001, 150.0)
	assert.Error(t, err)
}

func TestDPT1001RoundTrips(t *testing.T) {
	for _, b := range []bool{true, false} {
		raw, err := EncodeDPT(DPT1001, b)
		require.NoError(t, err)
		back, err := DecodeDPT(DPT1001, raw)
		require.NoError(t, err)
		assert.Equal(t, b, back)
	}
}

func TestDPT7001RoundTrips(t *testing.T) {
	for _, n := range []int{0, 1, 255, 256, 65535} {
		raw, err := EncodeDPT(DPT7001, n)
		require.NoError(t, err)
		back, err := DecodeDPT(DPT7001, raw)
		require.NoError(t, err)
		assert.Equal(t, n, back)
	}
}

func TestDPT9001RoundTripsWithinTolerance(t *testing.T) {
	for _, f := range []float64{0, 1.5, -10, 21.3, 100} {
		raw, err := EncodeDPT(DPT9001, f)
		require.NoError(t, err)
		back, err := DecodeDPT(DPT9001, raw)
		require.NoError(t, err)
		assert.InDelta(t, f, back.(float64), 0.1, "dpt 9.001 round trip for %v", f)
	}
}

func TestDPT16001RoundTrips(t *testing.T) {
	raw, err := EncodeDPT(DPT16001, "Kitchen")
	require.NoError(t, err)
	assert.Len(t, raw, 14)
	back, err := DecodeDPT(DPT16001, raw)
	require.NoError(t, err)
	assert.Equal(t, "Kitchen", back)
}

func TestDPT19001RoundTripsToTheSecond(t *testing.T) {
	in := time.Date(2026, time.March, 5, 14, 30, 12, 0, time.UTC)
	raw, err := EncodeDPT(DPT19001, in)
	require.NoError(t, err)
	back, err := DecodeDPT(DPT19001, raw)
	require.NoError(t, err)
	assert.True(t, in.Equal(back.(time.Time)))
}
