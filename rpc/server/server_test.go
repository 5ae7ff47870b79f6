package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/remoting/lib/pool"
	"github.com/ValentinKolb/remoting/rpc/client"
	"github.com/ValentinKolb/remoting/rpc/common"
	"github.com/ValentinKolb/remoting/rpc/serializer"
	"github.com/ValentinKolb/remoting/rpc/transport"
	"github.com/ValentinKolb/remoting/rpc/transport/tcp"
)

func startTestServer(t *testing.T, setup func(s *RemotingServer)) *RemotingServer {
	t.Helper()

	config := common.DefaultServerConfig("127.0.0.1:0")
	config.Name = "test"
	config.Socket.BufferPoolInitialSize = 2
	config.PoolShrinkInterval = 50 * time.Millisecond

	s, err := NewRemotingServer(config, nil, nil)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	if setup != nil {
		setup(s)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(s.Shutdown)
	return s
}

func startTestClient(t *testing.T, s *RemotingServer, setup func(c *client.RemotingClient)) *client.RemotingClient {
	t.Helper()

	config := common.DefaultClientConfig(s.Addr().String())
	config.Socket.ScanTimeoutRequestInterval = 20 * time.Millisecond
	config.Socket.BufferPoolInitialSize = 2

	c, err := client.NewRemotingClient(config, nil, nil)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	if setup != nil {
		setup(c)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Failed to start client: %v", err)
	}
	t.Cleanup(c.Shutdown)
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func pingHandler() IRequestHandler {
	return RequestHandlerFunc(func(_ IRequestHandlerContext, req *common.Request) (*common.Response, error) {
		if string(req.Body) != "ping" {
			return nil, fmt.Errorf("unexpected body %q", req.Body)
		}
		return common.NewResponse(req, 10, []byte("pong")), nil
	})
}

func TestPingPong(t *testing.T) {
	s := startTestServer(t, func(s *RemotingServer) {
		s.RegisterRequestHandler(100, pingHandler())
	})
	c := startTestClient(t, s, nil)

	header := map[string]string{"trace": "abc"}
	resp, err := c.InvokeSync(100, []byte("ping"), header, time.Second)
	if err != nil {
		t.Fatalf("InvokeSync failed: %v", err)
	}
	if resp.ResponseCode != 10 || string(resp.ResponseBody) != "pong" {
		t.Errorf("Unexpected response: %s", resp)
	}
	if len(resp.RequestHeader) != 1 || resp.RequestHeader["trace"] != "abc" {
		t.Errorf("Request header not echoed: %v", resp.RequestHeader)
	}
	if resp.RequestCode != 100 || resp.RequestType != common.RequestTypeAsync {
		t.Errorf("Request fields not echoed: %s", resp)
	}
}

func TestHandlerFailures(t *testing.T) {
	s := startTestServer(t, func(s *RemotingServer) {
		s.RegisterRequestHandler(100, pingHandler())
		s.RegisterRequestHandler(200, RequestHandlerFunc(func(IRequestHandlerContext, *common.Request) (*common.Response, error) {
			panic("boom")
		}))
	})
	c := startTestClient(t, s, nil)

	tests := []struct {
		name     string
		code     int16
		body     string
		contains string
	}{
		{"missing handler", 999, "", "No request handler found"},
		{"handler error", 100, "not ping", "unexpected body"},
		{"handler panic", 200, "", "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := c.InvokeSync(tt.code, []byte(tt.body), nil, time.Second)
			if err != nil {
				t.Fatalf("InvokeSync failed: %v", err)
			}
			if resp.ResponseCode != common.ResponseCodeFailed || !resp.Failed() {
				t.Errorf("Expected failure code, got %s", resp)
			}
			if !strings.Contains(string(resp.ResponseBody), tt.contains) {
				t.Errorf("Expected body containing %q, got %q", tt.contains, resp.ResponseBody)
			}
		})
	}

	// the connection survives handler failures
	if _, err := c.InvokeSync(100, []byte("ping"), nil, time.Second); err != nil {
		t.Errorf("InvokeSync after failures failed: %v", err)
	}
}

// TestOnewayProducesNoFrame checks on the raw socket that no frame is sent back for
// oneway requests, not even for a missing handler
func TestOnewayProducesNoFrame(t *testing.T) {
	s := startTestServer(t, func(s *RemotingServer) {
		s.RegisterRequestHandler(100, pingHandler())
	})

	bufferPool, err := pool.NewBufferPool(4096, 2)
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}

	var mu sync.Mutex
	var received [][]byte
	socket := tcp.NewClientSocket(common.DefaultClientConfig(s.Addr().String()), bufferPool,
		func(_ transport.IConnection, payload []byte) {
			mu.Lock()
			received = append(received, payload)
			mu.Unlock()
		})
	if err := socket.Connect(); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer socket.Close()

	ser := serializer.NewBinarySerializer()
	send := func(req *common.Request) {
		data, _ := ser.EncodeRequest(req)
		if err := socket.QueueMessage(data); err != nil {
			t.Fatalf("Failed to queue request: %v", err)
		}
	}

	send(common.NewRequest(999, nil, nil, common.RequestTypeOneway))
	send(common.NewRequest(100, []byte("ping"), nil, common.RequestTypeOneway))
	send(common.NewRequest(100, []byte("not ping"), nil, common.RequestTypeOneway))

	// requests of one connection are handled in order, so this reply is the first frame
	async := common.NewRequest(999, nil, nil, common.RequestTypeAsync)
	send(async)

	waitFor(t, "reply", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) > 0
	})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("Expected exactly one frame, got %d", len(received))
	}

	msg, err := ser.DecodeServerMessage(received[0])
	if err != nil {
		t.Fatalf("Failed to decode server message: %v", err)
	}
	if msg.Type != common.ServerMessageTypeResponse || msg.Id != async.Id {
		t.Fatalf("Unexpected envelope: %s", msg)
	}
	resp, err := ser.DecodeResponse(msg.Body)
	if err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.RequestSequence != async.Sequence || resp.ResponseCode != common.ResponseCodeFailed ||
		!strings.Contains(string(resp.ResponseBody), "No request handler found") {
		t.Errorf("Unexpected response: %s", resp)
	}
}

// TestDeferredOutOfOrderReplies holds requests in the handler and replies in reverse order
func TestDeferredOutOfOrderReplies(t *testing.T) {
	const n = 20

	var mu sync.Mutex
	var held []IRequestHandlerContext
	var heldReqs []*common.Request

	s := startTestServer(t, func(s *RemotingServer) {
		s.RegisterRequestHandler(101, RequestHandlerFunc(func(ctx IRequestHandlerContext, req *common.Request) (*common.Response, error) {
			mu.Lock()
			defer mu.Unlock()
			held = append(held, ctx)
			heldReqs = append(heldReqs, req)

			if len(held) == n {
				go func(ctxs []IRequestHandlerContext, reqs []*common.Request) {
					for i := len(ctxs) - 1; i >= 0; i-- {
						_ = ctxs[i].SendResponse(common.NewResponse(reqs[i], 0, reqs[i].Body))
					}
				}(held, heldReqs)
			}
			return nil, nil
		}))
	})
	c := startTestClient(t, s, nil)

	futures := make([]*client.ResponseFuture, n)
	for i := range futures {
		f, err := c.InvokeAsync(101, []byte(fmt.Sprintf("%d", i)), nil, 5*time.Second)
		if err != nil {
			t.Fatalf("InvokeAsync failed: %v", err)
		}
		futures[i] = f
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	for i, f := range futures {
		resp, err := f.Wait(ctx)
		if err != nil {
			t.Fatalf("Future %d failed: %v", i, err)
		}
		if string(resp.ResponseBody) != fmt.Sprintf("%d", i) || resp.RequestSequence != f.Request.Sequence {
			t.Errorf("Future %d got wrong response: %s", i, resp)
		}
	}
}

func TestSendResponseOneway(t *testing.T) {
	errCh := make(chan error, 1)
	s := startTestServer(t, func(s *RemotingServer) {
		s.RegisterRequestHandler(1, RequestHandlerFunc(func(ctx IRequestHandlerContext, req *common.Request) (*common.Response, error) {
			errCh <- ctx.SendResponse(common.NewResponse(req, 0, nil))
			return nil, nil
		}))
	})
	c := startTestClient(t, s, nil)

	if err := c.InvokeOneway(1, nil, nil); err != nil {
		t.Fatalf("InvokeOneway failed: %v", err)
	}
	select {
	case err := <-errCh:
		if err == nil {
			t.Errorf("Expected SendResponse to fail for oneway requests")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Handler was not invoked")
	}
}

func TestPush(t *testing.T) {
	s := startTestServer(t, nil)

	const clients = 3
	received := make(chan string, clients*2)
	cs := make([]*client.RemotingClient, clients)
	for i := range cs {
		name := fmt.Sprintf("client-%d", i)
		cs[i] = startTestClient(t, s, func(c *client.RemotingClient) {
			c.RegisterPushMessageHandler(300, client.PushMessageHandlerFunc(func(msg *common.ServerMessage) {
				received <- name + ":" + string(msg.Body)
			}))
		})
	}

	waitFor(t, "connections", func() bool { return len(s.GetAllConnections()) == clients })

	if err := s.PushToAll(common.NewPushMessage(300, []byte("all"), nil)); err != nil {
		t.Fatalf("PushToAll failed: %v", err)
	}

	got := map[string]bool{}
	for i := 0; i < clients; i++ {
		select {
		case m := <-received:
			got[m] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("Only %d of %d pushes arrived", i, clients)
		}
	}
	for i := 0; i < clients; i++ {
		if !got[fmt.Sprintf("client-%d:all", i)] {
			t.Errorf("client-%d did not receive the push", i)
		}
	}

	// push to a single connection, identified by the client's local endpoint
	target := cs[1].LocalEndpoint().String()
	var targetId string
	for _, conn := range s.GetAllConnections() {
		if conn.RemoteEndpoint().String() == target {
			targetId = conn.Id()
		}
	}
	if targetId == "" {
		t.Fatalf("Connection of client-1 not found")
	}

	sent, err := s.PushToConnection(targetId, common.NewPushMessage(300, []byte("one"), nil))
	if err != nil || !sent {
		t.Fatalf("PushToConnection failed: %v, %v", sent, err)
	}
	select {
	case m := <-received:
		if m != "client-1:one" {
			t.Errorf("Unexpected push %q", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Push to single connection did not arrive")
	}

	// unknown connections are a silent no-op
	if sent, err := s.PushToConnection("unknown", common.NewPushMessage(300, nil, nil)); sent || err != nil {
		t.Errorf("Expected no-op for unknown connection, got %v, %v", sent, err)
	}
}

func TestConnectionRegistry(t *testing.T) {
	var accepted, closed sync.WaitGroup
	accepted.Add(1)
	closed.Add(1)

	s := startTestServer(t, func(s *RemotingServer) {
		s.RegisterConnectionEventListener(transport.ConnectionEventFuncs{
			Accepted: func(transport.IConnection) { accepted.Done() },
			Closed:   func(transport.IConnection, error) { closed.Done() },
		})
	})

	c := startTestClient(t, s, nil)
	accepted.Wait()
	if n := len(s.GetAllConnections()); n != 1 {
		t.Fatalf("Expected 1 connection, got %d", n)
	}

	c.Shutdown()
	closed.Wait()
	waitFor(t, "registry cleanup", func() bool { return len(s.GetAllConnections()) == 0 })
}

func TestStartTwice(t *testing.T) {
	s := startTestServer(t, nil)
	if err := s.Start(); err == nil {
		t.Errorf("Expected second start to fail")
	}
}

func TestClientTimeoutAgainstSilentHandler(t *testing.T) {
	s := startTestServer(t, func(s *RemotingServer) {
		s.RegisterRequestHandler(1, RequestHandlerFunc(func(IRequestHandlerContext, *common.Request) (*common.Response, error) {
			return nil, nil
		}))
	})
	c := startTestClient(t, s, nil)

	_, err := c.InvokeSync(1, nil, nil, 50*time.Millisecond)
	var timeoutErr *client.TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("Expected TimeoutError, got %v", err)
	}
}
