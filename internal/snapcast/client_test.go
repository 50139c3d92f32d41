package snapcast

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumire-audio/zonehub/internal/apperr"
)

// fakeDaemon is a minimal JSON-RPC newline server standing in for a real
// Snapcast daemon, good enough to exercise Client's framing and
// request/response correlation.
type fakeDaemon struct {
	ln net.Listener
}

func startFakeDaemon(t *testing.T, handle func(method string, params json.RawMessage) (json.RawMessage, *RpcError)) *fakeDaemon {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	d := &fakeDaemon{ln: ln}

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			var req rpcRequest
			if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
				continue
			}
			result, rpcErr := handle(req.Method, req.Params)
			resp := rpcResponse{JSONRPC: "2.0", ID: &req.ID, Result: result, Error: rpcErr}
			line, _ := json.Marshal(resp)
			line = append(line, '\n')
			conn.Write(line)
		}
	}()

	t.Cleanup(func() { ln.Close() })
	return d
}

func TestCallRoundTripsOverNewlineFraming(t *testing.T) {
	d := startFakeDaemon(t, func(method string, params json.RawMessage) (json.RawMessage, *RpcError) {
		assert.Equal(t, "Server.GetStatus", method)
		raw, _ := json.Marshal(ServerStatus{})
		return raw, nil
	})

	c := New(Config{Addr: d.ln.Addr().String(), CallTimeout: 2 * time.Second}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c.Connect(ctx)
	defer c.Disconnect()

	require.Eventually(t, func() bool { return c.State() == StateConnected }, time.Second, 10*time.Millisecond)

	_, err := c.GetStatus(ctx)
	require.NoError(t, err)
}

func TestCallSurfacesRpcErrorAsTransient(t *testing.T) {
	d := startFakeDaemon(t, func(method string, params json.RawMessage) (json.RawMessage, *RpcError) {
		return nil, &RpcError{Code: -1, Message: "boom"}
	})

	c := New(Config{Addr: d.ln.Addr().String(), CallTimeout: 2 * time.Second}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c.Connect(ctx)
	defer c.Disconnect()

	require.Eventually(t, func() bool { return c.State() == StateConnected }, time.Second, 10*time.Millisecond)

	callErr := c.SetGroupMute(ctx, "g1", true)
	require.Error(t, callErr)
	assert.Equal(t, apperr.KindTransient, apperr.KindOf(callErr))
}

func TestCallFailsFastWhenNotConnected(t *testing.T) {
	c := New(Config{Addr: "127.0.0.1:1"}, nil)
	_, err := c.Call(context.Background(), "Server.GetStatus", nil)
	require.Error(t, err)
	assert.Equal(t, apperr.KindTransient, apperr.KindOf(err))
}

func TestEventsDeliversNotifications(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		notif := rpcResponse{JSONRPC: "2.0", Method: "Client.OnConnect", Params: json.RawMessage(`{"id":"c1"}`)}
		line, _ := json.Marshal(notif)
		line = append(line, '\n')
		conn.Write(line)
		time.Sleep(200 * time.Millisecond)
	}()

	c := New(Config{Addr: ln.Addr().String()}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	evCh, evCancel := c.Events()
	defer evCancel()
	c.Connect(ctx)
	defer c.Disconnect()

	select {
	case ev := <-evCh:
		assert.Equal(t, "Client.OnConnect", ev.Method)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}
