package reconciler

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumire-audio/zonehub/internal/domain"
	"github.com/sumire-audio/zonehub/internal/snapcast"
	"github.com/sumire-audio/zonehub/internal/statestore"
)

// stubDaemon is a stateful fake Snapcast server good enough to exercise the
// reconciler's group/client/stream RPCs without a real daemon.
type stubDaemon struct {
	mu      sync.Mutex
	groups  map[string]*snapcast.GroupStatus
	nextGen int
}

func newStubDaemon(groups map[string]*snapcast.GroupStatus) *stubDaemon {
	return &stubDaemon{groups: groups}
}

func (d *stubDaemon) status() snapcast.ServerStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	var status snapcast.ServerStatus
	for _, g := range d.groups {
		status.Server.Groups = append(status.Server.Groups, *g)
	}
	return status
}

func (d *stubDaemon) handle(method string, params json.RawMessage) (json.RawMessage, *snapcast.RpcError) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch method {
	case "Server.GetStatus":
		var status snapcast.ServerStatus
		for _, g := range d.groups {
			status.Server.Groups = append(status.Server.Groups, *g)
		}
		raw, _ := json.Marshal(status)
		return raw, nil
	case "Group.SetClients":
		var req struct {
			ID      string   `json:"id"`
			Clients []string `json:"clients"`
		}
		json.Unmarshal(params, &req)
		id := req.ID
		if id == "" {
			d.nextGen++
			id = "G_gen_" + itoa(d.nextGen)
		}
		g, ok := d.groups[id]
		if !ok {
			g = &snapcast.GroupStatus{ID: id}
			d.groups[id] = g
		}
		clients := make([]snapcast.ClientStatus, len(req.Clients))
		for i, id := range req.Clients {
			clients[i] = snapcast.ClientStatus{ID: id, Connected: true}
		}
		g.Clients = clients
		return json.RawMessage(`{}`), nil
	case "Group.SetStream":
		var req struct {
			ID       string `json:"id"`
			StreamID string `json:"stream_id"`
		}
		json.Unmarshal(params, &req)
		if g, ok := d.groups[req.ID]; ok {
			g.StreamID = req.StreamID
		}
		return json.RawMessage(`{}`), nil
	}
	return nil, &snapcast.RpcError{Code: -32601, Message: "unknown method"}
}

func startReconcilerTestDaemon(t *testing.T, d *stubDaemon) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			var req struct {
				ID     int             `json:"id"`
				Method string          `json:"method"`
				Params json.RawMessage `json:"params"`
			}
			if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
				continue
			}
			result, rpcErr := d.handle(req.Method, req.Params)
			resp := struct {
				JSONRPC string              `json:"jsonrpc"`
				ID      int                 `json:"id"`
				Result  json.RawMessage     `json:"result,omitempty"`
				Error   *snapcast.RpcError  `json:"error,omitempty"`
			}{JSONRPC: "2.0", ID: req.ID, Result: result, Error: rpcErr}
			line, _ := json.Marshal(resp)
			line = append(line, '\n')
			conn.Write(line)
		}
	}()

	return ln.Addr().String()
}

func zoneSnapshot() statestore.Snapshot {
	return statestore.Snapshot{
		Zones: map[int]domain.Zone{
			1: {ID: 1, Name: "Living Room", SnapcastStreamID: "stream-living", ClientIDs: map[int]struct{}{1: {}}},
			2: {ID: 2, Name: "Kitchen", SnapcastStreamID: "stream-kitchen", ClientIDs: map[int]struct{}{2: {}}},
		},
		Clients: map[int]domain.Client{
			1: {ID: 1, Name: "living-room", SnapcastUUID: "living-room", ZoneID: intPtr(1)},
			2: {ID: 2, Name: "kitchen", SnapcastUUID: "kitchen", ZoneID: intPtr(2)},
		},
		Tracks:    map[int64]domain.Track{},
		Playlists: map[int64]domain.Playlist{},
	}
}

func intPtr(v int) *int { return &v }

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func TestReconcileMovesStrayClientToDesiredZone(t *testing.T) {
	daemon := newStubDaemon(map[string]*snapcast.GroupStatus{
		"G_1": {ID: "G_1", Clients: []snapcast.ClientStatus{{ID: "living-room"}, {ID: "kitchen"}}},
	})
	addr := startReconcilerTestDaemon(t, daemon)

	store := statestore.New(zoneSnapshot(), nil)
	client := snapcast.New(snapcast.Config{Addr: addr, CallTimeout: 2 * time.Second}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	client.Connect(ctx)
	defer client.Disconnect()
	require.Eventually(t, func() bool { return client.State() == snapcast.StateConnected }, time.Second, 10*time.Millisecond)

	// maxParallel=1 keeps zone processing order deterministic (zone 1 then
	// zone 2) so the stray client's removal from its old group is visible
	// before the new group's membership is looked up.
	r := New(store, client, nil, time.Hour, 1)
	report, err := r.Reconcile(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, report.ZonesReconciled)
	assert.GreaterOrEqual(t, report.ClientsMoved, 1)
	assert.Empty(t, report.Errors)

	status := daemon.status()
	kitchenGroup := findGroupContaining(status, "kitchen")
	require.NotNil(t, kitchenGroup)
	assert.NotContains(t, clientIDs(kitchenGroup.Clients), "living-room")
}

func TestReconcileIsIdempotent(t *testing.T) {
	daemon := newStubDaemon(map[string]*snapcast.GroupStatus{})
	addr := startReconcilerTestDaemon(t, daemon)

	store := statestore.New(zoneSnapshot(), nil)
	client := snapcast.New(snapcast.Config{Addr: addr, CallTimeout: 2 * time.Second}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	client.Connect(ctx)
	defer client.Disconnect()
	require.Eventually(t, func() bool { return client.State() == snapcast.StateConnected }, time.Second, 10*time.Millisecond)

	r := New(store, client, nil, time.Hour, 4)
	_, err := r.Reconcile(ctx)
	require.NoError(t, err)

	second, err := r.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, second.ClientsMoved, "second pass should be a no-op once converged")
	assert.Equal(t, domain.HealthHealthy, second.AggregateHealth())
}

func findGroupContaining(status snapcast.ServerStatus, clientID string) *snapcast.GroupStatus {
	for i := range status.Server.Groups {
		for _, c := range status.Server.Groups[i].Clients {
			if c.ID == clientID {
				return &status.Server.Groups[i]
			}
		}
	}
	return nil
}

func clientIDs(clients []snapcast.ClientStatus) []string {
	out := make([]string, len(clients))
	for i, c := range clients {
		out[i] = c.ID
	}
	return out
}
