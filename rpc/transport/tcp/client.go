package tcp

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/remoting/lib/pool"
	"github.com/ValentinKolb/remoting/rpc/common"
	"github.com/ValentinKolb/remoting/rpc/transport"
	"golang.org/x/time/rate"
)

// flowControlWait is the time a sender backs off when the flow control threshold is reached
const flowControlWait = time.Millisecond

// ClientSocket owns a single connection to a fixed remote endpoint. A ClientSocket
// connects once; reconnecting means creating a new ClientSocket.
type ClientSocket struct {
	config     common.ClientConfig
	bufferPool *pool.BufferPool
	onMessage  transport.MessageArrivedFunc

	listenersMu sync.RWMutex
	listeners   []transport.IConnectionEventListener

	conn atomic.Pointer[tcpConnection]

	flowControlCount atomic.Int64
	flowControlLog   rate.Sometimes
}

// NewClientSocket creates an unconnected client socket
func NewClientSocket(config common.ClientConfig, bufferPool *pool.BufferPool, onMessage transport.MessageArrivedFunc) *ClientSocket {
	return &ClientSocket{
		config:         config,
		bufferPool:     bufferPool,
		onMessage:      onMessage,
		flowControlLog: rate.Sometimes{Interval: time.Second},
	}
}

// RegisterConnectionEventListener adds a listener. Listeners must be registered before Connect.
func (s *ClientSocket) RegisterConnectionEventListener(listener transport.IConnectionEventListener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, listener)
}

// Connect dials the remote endpoint. Listeners are notified about the result.
func (s *ClientSocket) Connect() error {
	endpoint := s.config.ServerEndpoint

	dialer := net.Dialer{Timeout: s.config.ConnectTimeout}
	if s.config.LocalEndpoint != "" {
		localAddr, err := net.ResolveTCPAddr("tcp", s.config.LocalEndpoint)
		if err != nil {
			err = fmt.Errorf("invalid local endpoint %s: %w", s.config.LocalEndpoint, err)
			s.notify("failed", func(l transport.IConnectionEventListener) { l.OnConnectionFailed(endpoint, err) })
			return err
		}
		dialer.LocalAddr = localAddr
	}

	conn, err := dialer.Dial("tcp", endpoint)
	if err != nil {
		err = fmt.Errorf("failed to connect to %s: %w", endpoint, err)
		s.notify("failed", func(l transport.IConnectionEventListener) { l.OnConnectionFailed(endpoint, err) })
		return err
	}

	if err := tuneConnection(conn, s.config.Socket); err != nil {
		_ = conn.Close()
		err = fmt.Errorf("failed to tune connection to %s: %w", endpoint, err)
		s.notify("failed", func(l transport.IConnectionEventListener) { l.OnConnectionFailed(endpoint, err) })
		return err
	}

	c := newTCPConnection(conn, s.config.Socket, s.bufferPool, s.onMessage, s.onConnectionClosed)
	s.conn.Store(c)
	c.start()

	Logger.Infof("Connected to %s, connection: %s", endpoint, c)
	s.notify("established", func(l transport.IConnectionEventListener) { l.OnConnectionEstablished(c) })
	return nil
}

// QueueMessage queues the payload on the connection. If the number of pending messages
// reached the flow control threshold the caller sleeps briefly before queueing.
func (s *ClientSocket) QueueMessage(payload []byte) error {
	c := s.conn.Load()
	if c == nil {
		return ErrConnectionClosed
	}

	if pending := c.PendingMessageCount(); pending >= s.config.Socket.SendMessageFlowControlThreshold {
		total := s.flowControlCount.Add(1)
		flowControlTotal.Inc()
		s.flowControlLog.Do(func() {
			Logger.Infof("Flow control taken effect, pending messages: %d, threshold: %d, flow control times: %d",
				pending, s.config.Socket.SendMessageFlowControlThreshold, total)
		})
		time.Sleep(flowControlWait)
	}

	return c.QueueMessage(payload)
}

// IsConnected returns whether the socket has a live connection
func (s *ClientSocket) IsConnected() bool {
	c := s.conn.Load()
	return c != nil && c.IsConnected()
}

// Connection returns the connection or nil if the socket never connected
func (s *ClientSocket) Connection() transport.IConnection {
	if c := s.conn.Load(); c != nil {
		return c
	}
	return nil
}

// LocalEndpoint returns the local address or nil if not connected
func (s *ClientSocket) LocalEndpoint() net.Addr {
	if c := s.conn.Load(); c != nil {
		return c.LocalEndpoint()
	}
	return nil
}

// FlowControlCount returns how often a sender had to back off
func (s *ClientSocket) FlowControlCount() int64 {
	return s.flowControlCount.Load()
}

// Close closes the connection
func (s *ClientSocket) Close() {
	if c := s.conn.Load(); c != nil {
		c.Close(nil)
	}
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (s *ClientSocket) onConnectionClosed(c *tcpConnection, err error) {
	s.notify("closed", func(l transport.IConnectionEventListener) { l.OnConnectionClosed(c, err) })
}

func (s *ClientSocket) notify(event string, fn func(transport.IConnectionEventListener)) {
	s.listenersMu.RLock()
	listeners := append([]transport.IConnectionEventListener(nil), s.listeners...)
	s.listenersMu.RUnlock()

	notifyListeners(event, listeners, fn)
}
