package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumire-audio/zonehub/internal/domain"
	"github.com/sumire-audio/zonehub/internal/statestore"
)

func seedStore() *statestore.Store {
	return statestore.New(statestore.Snapshot{
		Zones: map[int]domain.Zone{
			1: {ID: 1, Name: "Kitchen", Volume: 50, ClientIDs: map[int]struct{}{1: {}}},
			2: {ID: 2, Name: "Living Room", Volume: 50, ClientIDs: map[int]struct{}{}},
		},
		Clients: map[int]domain.Client{
			1: {ID: 1, Name: "kitchen-speaker", Volume: 40, ZoneID: intPtr(1)},
		},
	}, nil)
}

type recordingEgress struct {
	protocol domain.SourceProtocol
	mu       sync.Mutex
	events   []StatusEvent
}

func (r *recordingEgress) Protocol() domain.SourceProtocol { return r.protocol }
func (r *recordingEgress) Publish(ev StatusEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}
func (r *recordingEgress) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func intPtr(v int) *int { return &v }

func TestSetZoneVolumeAppliesAndPublishes(t *testing.T) {
	store := seedStore()
	c := New(store, nil, nil, nil, nil, Config{DebounceWindow: 5 * time.Millisecond}, nil)
	mqtt := &recordingEgress{protocol: domain.SourceMQTT}
	c.RegisterEgress(mqtt)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	require.NoError(t, c.Submit(TaggedCommand{Kind: CmdSetZoneVolume, Source: domain.SourceAPI, ZoneID: 1, IntValue: intPtr(75)}))

	require.Eventually(t, func() bool {
		return store.Snapshot().Zones[1].Volume == 75
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool { return mqtt.count() > 0 }, time.Second, 5*time.Millisecond)
}

func TestDebounceCollapsesRapidFireToLastValue(t *testing.T) {
	store := seedStore()
	c := New(store, nil, nil, nil, nil, Config{DebounceWindow: 40 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	for _, v := range []int{10, 20, 30, 40} {
		require.NoError(t, c.Submit(TaggedCommand{Kind: CmdSetZoneVolume, Source: domain.SourceAPI, ZoneID: 1, IntValue: intPtr(v)}))
	}

	require.Eventually(t, func() bool {
		return store.Snapshot().Zones[1].Volume == 40
	}, time.Second, 5*time.Millisecond)
}

func TestEchoSuppressionSkipsOriginatingProtocol(t *testing.T) {
	store := seedStore()
	c := New(store, nil, nil, nil, nil, Config{DebounceWindow: 5 * time.Millisecond, EchoWindow: time.Second}, nil)
	mqtt := &recordingEgress{protocol: domain.SourceMQTT}
	api := &recordingEgress{protocol: domain.SourceAPI}
	c.RegisterEgress(mqtt)
	c.RegisterEgress(api)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	require.NoError(t, c.Submit(TaggedCommand{Kind: CmdSetZoneVolume, Source: domain.SourceMQTT, ZoneID: 1, IntValue: intPtr(60)}))

	require.Eventually(t, func() bool { return api.count() > 0 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, mqtt.count(), "the originating protocol must not receive its own echo")
}

func TestAssignClientToZoneUpdatesBothZonesClientIDs(t *testing.T) {
	store := seedStore()
	c := New(store, nil, nil, nil, nil, Config{DebounceWindow: 5 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	require.NoError(t, c.Submit(TaggedCommand{Kind: CmdAssignClientToZone, Source: domain.SourceAPI, ClientID: 1, IntValue: intPtr(2)}))

	require.Eventually(t, func() bool {
		cl, ok := store.Snapshot().Clients[1]
		return ok && cl.ZoneID != nil && *cl.ZoneID == 2
	}, time.Second, 5*time.Millisecond)

	snap := store.Snapshot()
	_, stillInOldZone := snap.Zones[1].ClientIDs[1]
	assert.False(t, stillInOldZone, "the previous zone must no longer list the reassigned client")
	_, inNewZone := snap.Zones[2].ClientIDs[1]
	assert.True(t, inNewZone, "the new zone must list the reassigned client")
}

func TestSetClientVolumeValidatesRange(t *testing.T) {
	store := seedStore()
	c := New(store, nil, nil, nil, nil, Config{DebounceWindow: 5 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	require.NoError(t, c.Submit(TaggedCommand{Kind: CmdSetClientVolume, Source: domain.SourceAPI, ClientID: 1, IntValue: intPtr(200)}))

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 40, store.Snapshot().Clients[1].Volume, "out-of-range volume must be rejected, leaving prior value intact")
}
