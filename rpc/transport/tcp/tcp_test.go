package tcp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/remoting/lib/pool"
	"github.com/ValentinKolb/remoting/rpc/common"
	"github.com/ValentinKolb/remoting/rpc/framing"
	"github.com/ValentinKolb/remoting/rpc/transport"
)

func newTestPool(t *testing.T) *pool.BufferPool {
	t.Helper()
	p, err := pool.NewBufferPool(4096, 4)
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}
	return p
}

// startEchoServer starts a server socket which sends every message back
func startEchoServer(t *testing.T, listener transport.IConnectionEventListener) *ServerSocket {
	t.Helper()

	config := common.DefaultServerConfig("127.0.0.1:0")
	server := NewServerSocket(config, newTestPool(t), func(conn transport.IConnection, payload []byte) {
		_ = conn.QueueMessage(payload)
	})
	if listener != nil {
		server.RegisterConnectionEventListener(listener)
	}
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(server.Close)
	return server
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEchoPreservesOrder(t *testing.T) {
	server := startEchoServer(t, nil)

	const n = 2000

	var mu sync.Mutex
	received := make([]int, 0, n)

	config := common.DefaultClientConfig(server.Addr().String())
	client := NewClientSocket(config, newTestPool(t), func(_ transport.IConnection, payload []byte) {
		mu.Lock()
		received = append(received, int(binary.LittleEndian.Uint32(payload)))
		mu.Unlock()
	})
	if err := client.Connect(); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer client.Close()

	for i := 0; i < n; i++ {
		payload := binary.LittleEndian.AppendUint32(nil, uint32(i))
		payload = append(payload, bytes.Repeat([]byte{byte(i)}, i%300)...)
		if err := client.QueueMessage(payload); err != nil {
			t.Fatalf("Failed to queue message %d: %v", i, err)
		}
	}

	waitFor(t, "all echoes", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == n
	})

	for i, v := range received {
		if v != i {
			t.Fatalf("Message %d arrived at position %d", v, i)
		}
	}
}

func TestConnectionEvents(t *testing.T) {
	var accepted, serverClosed sync.WaitGroup
	accepted.Add(1)
	serverClosed.Add(1)

	server := startEchoServer(t, transport.ConnectionEventFuncs{
		Accepted: func(transport.IConnection) { accepted.Done() },
		Closed:   func(transport.IConnection, error) { serverClosed.Done() },
	})

	var established, closed int
	var mu sync.Mutex

	client := NewClientSocket(common.DefaultClientConfig(server.Addr().String()), newTestPool(t), nil)
	client.RegisterConnectionEventListener(transport.ConnectionEventFuncs{
		Established: func(transport.IConnection) { mu.Lock(); established++; mu.Unlock() },
		Closed:      func(transport.IConnection, error) { mu.Lock(); closed++; mu.Unlock() },
	})
	// a panicking listener must not break the others
	client.RegisterConnectionEventListener(transport.ConnectionEventFuncs{
		Established: func(transport.IConnection) { panic("listener failure") },
	})

	if err := client.Connect(); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	accepted.Wait()

	waitFor(t, "server registry", func() bool { return server.ConnectionCount() == 1 })
	if !client.IsConnected() {
		t.Errorf("Expected client to be connected")
	}

	client.Close()
	client.Close()
	serverClosed.Wait()

	waitFor(t, "server registry cleanup", func() bool { return server.ConnectionCount() == 0 })

	mu.Lock()
	defer mu.Unlock()
	if established != 1 || closed != 1 {
		t.Errorf("Expected one established and one closed event, got %d and %d", established, closed)
	}
	if client.IsConnected() {
		t.Errorf("Expected client to be disconnected")
	}
	if err := client.QueueMessage([]byte("x")); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("Expected ErrConnectionClosed, got %v", err)
	}
}

func TestConnectFailed(t *testing.T) {
	// grab a free port and release it again
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	endpoint := l.Addr().String()
	_ = l.Close()

	var failedEndpoint string
	config := common.DefaultClientConfig(endpoint)
	config.ConnectTimeout = 500 * time.Millisecond
	client := NewClientSocket(config, newTestPool(t), nil)
	client.RegisterConnectionEventListener(transport.ConnectionEventFuncs{
		Failed: func(endpoint string, err error) { failedEndpoint = endpoint },
	})

	if err := client.Connect(); err == nil {
		t.Fatalf("Expected connect to fail")
	}
	if failedEndpoint != endpoint {
		t.Errorf("Expected failed event for %s, got %q", endpoint, failedEndpoint)
	}
	if client.IsConnected() {
		t.Errorf("Expected client to be disconnected")
	}
}

func TestConnectFromLocalEndpoint(t *testing.T) {
	server := startEchoServer(t, nil)

	// grab a free local port and release it again
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	local := l.Addr().String()
	_ = l.Close()

	config := common.DefaultClientConfig(server.Addr().String())
	config.LocalEndpoint = local
	if err := config.Validate(); err != nil {
		t.Fatalf("Expected valid config, got %v", err)
	}

	client := NewClientSocket(config, newTestPool(t), nil)
	if err := client.Connect(); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer client.Close()

	if got := client.LocalEndpoint().String(); got != local {
		t.Errorf("Expected local endpoint %s, got %s", local, got)
	}
	waitFor(t, "server connection", func() bool {
		conns := server.GetAllConnections()
		return len(conns) == 1 && conns[0].RemoteEndpoint().String() == local
	})

	config.LocalEndpoint = "not-an-endpoint"
	if err := config.Validate(); err == nil {
		t.Errorf("Expected invalid local endpoint to be rejected")
	}
}

func TestProtocolErrorClosesConnection(t *testing.T) {
	closedErr := make(chan error, 1)
	server := startEchoServer(t, transport.ConnectionEventFuncs{
		Closed: func(_ transport.IConnection, err error) { closedErr <- err },
	})

	conn, err := net.Dial("tcp", server.Addr().String())
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer conn.Close()

	// length prefix 0 is invalid
	if _, err := conn.Write([]byte{0, 0, 0, 0, 1}); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}

	select {
	case err := <-closedErr:
		if !errors.Is(err, framing.ErrInvalidFrameLength) {
			t.Errorf("Expected ErrInvalidFrameLength, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Connection was not closed on protocol error")
	}
}

func TestPushToAll(t *testing.T) {
	server := startEchoServer(t, nil)

	const clients = 3
	var wg sync.WaitGroup
	wg.Add(clients)

	for i := 0; i < clients; i++ {
		client := NewClientSocket(common.DefaultClientConfig(server.Addr().String()), newTestPool(t),
			func(_ transport.IConnection, payload []byte) {
				if string(payload) == "push" {
					wg.Done()
				}
			})
		if err := client.Connect(); err != nil {
			t.Fatalf("Failed to connect client %d: %v", i, err)
		}
		defer client.Close()
	}

	waitFor(t, "all clients registered", func() bool { return server.ConnectionCount() == clients })
	server.QueueToAll([]byte("push"))
	wg.Wait()

	if server.QueueTo("unknown", []byte("push")) {
		t.Errorf("Queueing to an unknown connection must fail")
	}
	if len(server.GetAllConnections()) != clients {
		t.Errorf("Expected %d connections", clients)
	}
}

func TestDequeueBatch(t *testing.T) {
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	config := common.DefaultSocketConfig()
	config.MaxSendPacketSize = 30

	c := newTCPConnection(local, config, newTestPool(t), nil, nil)

	// 4 byte prefix + 10 byte payload = 14 bytes per frame
	for i := 0; i < 5; i++ {
		if err := c.QueueMessage([]byte(fmt.Sprintf("message-%02d", i))); err != nil {
			t.Fatalf("Failed to queue: %v", err)
		}
	}
	// larger than MaxSendPacketSize
	if err := c.QueueMessage(make([]byte, 100)); err != nil {
		t.Fatalf("Failed to queue: %v", err)
	}

	expected := []int{2, 2, 1, 1}
	for i, want := range expected {
		_, count := c.dequeueBatch()
		if count != want {
			t.Errorf("Batch %d: expected %d frames, got %d", i, want, count)
		}
	}
	if c.sendQueue.Length() != 0 {
		t.Errorf("Expected empty queue, got %d frames", c.sendQueue.Length())
	}
	if c.PendingMessageCount() != 6 {
		t.Errorf("Expected 6 unwritten messages, got %d", c.PendingMessageCount())
	}
}
