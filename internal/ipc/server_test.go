package ipc_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	busp "github.com/jeeves-cluster-organization/agentkernel/internal/bus"
	"github.com/jeeves-cluster-organization/agentkernel/internal/config"
	"github.com/jeeves-cluster-organization/agentkernel/internal/envelope"
	"github.com/jeeves-cluster-organization/agentkernel/internal/ipc"
	"github.com/jeeves-cluster-organization/agentkernel/internal/kernel"
	"github.com/jeeves-cluster-organization/agentkernel/internal/klog"
)

// testServer holds a running IPC server and an address to dial for tests.
type testServer struct {
	srv     *ipc.Server
	address string
	cancel  context.CancelFunc
	errCh   chan error
}

func startTestServer(t *testing.T, maxConnections int) *testServer {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	address := lis.Addr().String()
	require.NoError(t, lis.Close())

	k := kernel.New(kernel.RateLimitWindowConfig{RPM: 1000, RPH: 10000, Burst: 100})
	envs := envelope.NewStore()
	b := busp.New(50*time.Millisecond, klog.NewNop())
	dispatcher := ipc.NewDispatcher(k, nil, envs, b, klog.NewNop())

	cfg := config.IPCConfig{
		Address:        address,
		MaxConnections: maxConnections,
		MaxFrameBytes:  1 << 20,
		IOTimeout:      2 * time.Second,
	}
	srv := ipc.NewServer(cfg, dispatcher, klog.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	waitForListen(t, address)

	return &testServer{srv: srv, address: address, cancel: cancel, errCh: errCh}
}

func (ts *testServer) stop(t *testing.T) {
	t.Helper()
	ts.cancel()
	select {
	case <-ts.errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down in time")
	}
}

func waitForListen(t *testing.T, address string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", address, 100*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server never started listening on %s", address)
}

func dialAndRoundTrip(t *testing.T, address string, req ipc.Request) (ipc.Response, net.Conn) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", address, time.Second)
	require.NoError(t, err)

	payload, err := ipc.EncodePayload(req)
	require.NoError(t, err)
	require.NoError(t, ipc.WriteFrame(conn, ipc.Frame{Type: ipc.FrameRequest, Payload: payload}))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	frame, err := ipc.ReadFrame(conn, 1<<20)
	require.NoError(t, err)
	require.Equal(t, ipc.FrameResponse, frame.Type)

	var resp ipc.Response
	require.NoError(t, ipc.DecodePayload(frame.Payload, &resp))
	return resp, conn
}

func TestServerAcceptsConnectionAndDispatchesRequest(t *testing.T) {
	ts := startTestServer(t, 16)
	defer ts.stop(t)

	resp, conn := dialAndRoundTrip(t, ts.address, ipc.Request{
		Method: "CreateProcess",
		Params: map[string]any{"user_id": "u-1", "request_id": "r-1", "session_id": "s-1"},
	})
	defer conn.Close()

	assert.True(t, resp.OK)
}

func TestServerHandlesMultipleRequestsOnSameConnection(t *testing.T) {
	ts := startTestServer(t, 16)
	defer ts.stop(t)

	conn, err := net.DialTimeout("tcp", ts.address, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	for i := 0; i < 3; i++ {
		payload, err := ipc.EncodePayload(ipc.Request{Method: "SystemStatus"})
		require.NoError(t, err)
		require.NoError(t, ipc.WriteFrame(conn, ipc.Frame{Type: ipc.FrameRequest, Payload: payload}))

		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		frame, err := ipc.ReadFrame(conn, 1<<20)
		require.NoError(t, err)

		var resp ipc.Response
		require.NoError(t, ipc.DecodePayload(frame.Payload, &resp))
		assert.True(t, resp.OK)
	}
}

func TestServerReturnsErrorResponseForUnknownMethod(t *testing.T) {
	ts := startTestServer(t, 16)
	defer ts.stop(t)

	resp, conn := dialAndRoundTrip(t, ts.address, ipc.Request{Method: "NotARealMethod"})
	defer conn.Close()

	assert.False(t, resp.OK)
	require.NotNil(t, resp.Error)
}

func TestServerRejectsConnectionsPastMaxConnections(t *testing.T) {
	ts := startTestServer(t, 1)
	defer ts.stop(t)

	// Hold the first connection open without reading/writing so it keeps the
	// single admission slot occupied.
	holder, err := net.DialTimeout("tcp", ts.address, time.Second)
	require.NoError(t, err)
	defer holder.Close()

	// Give the accept loop a moment to acquire the semaphore for holder.
	time.Sleep(100 * time.Millisecond)

	rejected, err := net.DialTimeout("tcp", ts.address, time.Second)
	require.NoError(t, err)
	defer rejected.Close()

	_ = rejected.SetReadDeadline(time.Now().Add(2 * time.Second))
	frame, err := ipc.ReadFrame(rejected, 1<<20)
	require.NoError(t, err)
	assert.Equal(t, ipc.FrameError, frame.Type)

	var errPayload ipc.ErrorPayload
	require.NoError(t, ipc.DecodePayload(frame.Payload, &errPayload))
	assert.Equal(t, "resource_exhausted", errPayload.Code)
}

func TestServerStopsAcceptingOnContextCancel(t *testing.T) {
	ts := startTestServer(t, 16)
	ts.stop(t)

	_, err := net.DialTimeout("tcp", ts.address, 300*time.Millisecond)
	assert.Error(t, err)
}

func TestServerStreamsPublishedEventsToSubscriber(t *testing.T) {
	ts := startTestServer(t, 16)
	defer ts.stop(t)

	subConn, err := net.DialTimeout("tcp", ts.address, time.Second)
	require.NoError(t, err)
	defer subConn.Close()

	subPayload, err := ipc.EncodePayload(ipc.Request{
		Method: "SubscribeEvents",
		Params: map[string]any{"topic": "lifecycle.events"},
	})
	require.NoError(t, err)
	require.NoError(t, ipc.WriteFrame(subConn, ipc.Frame{Type: ipc.FrameRequest, Payload: subPayload}))

	// Give the subscription time to register before publishing.
	time.Sleep(100 * time.Millisecond)

	resp, pubConn := dialAndRoundTrip(t, ts.address, ipc.Request{
		Method: "Publish",
		Params: map[string]any{"topic": "lifecycle.events", "payload": map[string]any{"pid": "p-1"}},
	})
	defer pubConn.Close()
	require.True(t, resp.OK)

	_ = subConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	frame, err := ipc.ReadFrame(subConn, 1<<20)
	require.NoError(t, err)
	require.Equal(t, ipc.FrameStreamChunk, frame.Type)

	var event map[string]any
	require.NoError(t, ipc.DecodePayload(frame.Payload, &event))
	assert.Equal(t, "p-1", event["pid"])
}

func TestServerSubscribeEndsWithStreamEndOnShutdown(t *testing.T) {
	ts := startTestServer(t, 16)

	subConn, err := net.DialTimeout("tcp", ts.address, time.Second)
	require.NoError(t, err)
	defer subConn.Close()

	subPayload, err := ipc.EncodePayload(ipc.Request{
		Method: "SubscribeEvents",
		Params: map[string]any{"topic": "lifecycle.events"},
	})
	require.NoError(t, err)
	require.NoError(t, ipc.WriteFrame(subConn, ipc.Frame{Type: ipc.FrameRequest, Payload: subPayload}))
	time.Sleep(100 * time.Millisecond)

	ts.stop(t)

	_ = subConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	frame, err := ipc.ReadFrame(subConn, 1<<20)
	require.NoError(t, err)
	assert.Equal(t, ipc.FrameStreamEnd, frame.Type)
}
