package tcp

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/ValentinKolb/remoting/lib/pool"
	"github.com/ValentinKolb/remoting/rpc/common"
	"github.com/ValentinKolb/remoting/rpc/transport"
	"github.com/puzpuzpuz/xsync/v3"
)

// acceptRetryDelay is the pause after a failed accept
const acceptRetryDelay = 10 * time.Millisecond

var connectionsTotal = metrics.GetOrCreateCounter(common.MetricServerConnectionsTotal)

// ServerSocket listens on an endpoint and tracks all accepted connections
type ServerSocket struct {
	config     common.ServerConfig
	bufferPool *pool.BufferPool
	onMessage  transport.MessageArrivedFunc

	listenersMu sync.RWMutex
	listeners   []transport.IConnectionEventListener

	listener    net.Listener
	connections *xsync.MapOf[string, *tcpConnection]

	closed atomic.Bool
	done   chan struct{}
}

// NewServerSocket creates a server socket. Call Start to begin listening.
func NewServerSocket(config common.ServerConfig, bufferPool *pool.BufferPool, onMessage transport.MessageArrivedFunc) *ServerSocket {
	return &ServerSocket{
		config:      config,
		bufferPool:  bufferPool,
		onMessage:   onMessage,
		connections: xsync.NewMapOf[string, *tcpConnection](),
		done:        make(chan struct{}),
	}
}

// RegisterConnectionEventListener adds a listener. Listeners must be registered before Start.
func (s *ServerSocket) RegisterConnectionEventListener(listener transport.IConnectionEventListener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, listener)
}

// Start binds the endpoint and accepts connections in the background
func (s *ServerSocket) Start() error {
	listener, err := net.Listen("tcp", s.config.Endpoint)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Endpoint, err)
	}
	s.listener = listener

	Logger.Infof("Starting %s server on %s", s.config.Name, listener.Addr())

	go s.acceptLoop()
	return nil
}

// Addr returns the bound address, nil before Start
func (s *ServerSocket) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// GetConnection returns the live connection with the given id
func (s *ServerSocket) GetConnection(id string) (transport.IConnection, bool) {
	c, ok := s.connections.Load(id)
	if !ok {
		return nil, false
	}
	return c, true
}

// GetAllConnections returns a snapshot of all live connections
func (s *ServerSocket) GetAllConnections() []transport.IConnection {
	conns := make([]transport.IConnection, 0, s.connections.Size())
	s.connections.Range(func(_ string, c *tcpConnection) bool {
		conns = append(conns, c)
		return true
	})
	return conns
}

// ConnectionCount returns the number of live connections
func (s *ServerSocket) ConnectionCount() int {
	return s.connections.Size()
}

// QueueToAll queues the payload on every live connection
func (s *ServerSocket) QueueToAll(payload []byte) {
	s.connections.Range(func(id string, c *tcpConnection) bool {
		if err := c.QueueMessage(payload); err != nil {
			Logger.Debugf("Failed to queue message on connection %s: %v", id, err)
		}
		return true
	})
}

// QueueTo queues the payload on one connection. Returns false if the connection is gone.
func (s *ServerSocket) QueueTo(id string, payload []byte) bool {
	c, ok := s.connections.Load(id)
	if !ok {
		return false
	}
	return c.QueueMessage(payload) == nil
}

// Close stops accepting and closes all connections
func (s *ServerSocket) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	if s.listener != nil {
		_ = s.listener.Close()
		<-s.done
	}
	s.connections.Range(func(_ string, c *tcpConnection) bool {
		c.Close(nil)
		return true
	})
	Logger.Infof("Server %s stopped", s.config.Name)
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// acceptLoop registers every accepted connection and immediately accepts the next one
func (s *ServerSocket) acceptLoop() {
	defer close(s.done)

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			Logger.Errorf("Accept error: %v", err)
			time.Sleep(acceptRetryDelay)
			continue
		}

		s.register(conn)
	}
}

func (s *ServerSocket) register(conn net.Conn) {
	if err := tuneConnection(conn, s.config.Socket); err != nil {
		Logger.Warningf("Failed to tune connection from %s: %v", conn.RemoteAddr(), err)
	}

	c := newTCPConnection(conn, s.config.Socket, s.bufferPool, s.onMessage, s.onConnectionClosed)
	s.connections.Store(c.id, c)
	connectionsTotal.Inc()

	Logger.Infof("Accepted connection %s", c)
	s.notify("accepted", func(l transport.IConnectionEventListener) { l.OnConnectionAccepted(c) })

	c.start()

	// the server may have been closed while registering
	if s.closed.Load() {
		c.Close(nil)
	}
}

func (s *ServerSocket) onConnectionClosed(c *tcpConnection, err error) {
	s.connections.Delete(c.id)
	s.notify("closed", func(l transport.IConnectionEventListener) { l.OnConnectionClosed(c, err) })
}

func (s *ServerSocket) notify(event string, fn func(transport.IConnectionEventListener)) {
	s.listenersMu.RLock()
	listeners := append([]transport.IConnectionEventListener(nil), s.listeners...)
	s.listenersMu.RUnlock()

	notifyListeners(event, listeners, fn)
}
