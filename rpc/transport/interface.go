package transport

import (
	"net"
)

// --------------------------------------------------------------------------
// Connection
// --------------------------------------------------------------------------

// IConnection is one live socket. Outbound messages are delivered in the order they
// were queued, inbound messages are dispatched in the order they arrived.
type IConnection interface {
	// Id returns the process-unique id of the connection
	Id() string
	// LocalEndpoint returns the local address of the socket
	LocalEndpoint() net.Addr
	// RemoteEndpoint returns the remote address of the socket
	RemoteEndpoint() net.Addr
	// QueueMessage frames the payload and queues it for asynchronous delivery.
	// It fails if the connection is closed.
	QueueMessage(payload []byte) error
	// PendingMessageCount returns the number of queued but not yet written messages
	PendingMessageCount() int
	// IsConnected returns false once the connection was closed
	IsConnected() bool
	// Close closes the socket and discards all queued messages. Only the first call
	// has an effect; err is reported to the listeners (nil for a graceful close).
	Close(err error)
}

// MessageArrivedFunc is invoked once per complete inbound message on the reader goroutine
// of the connection. The payload is owned by the callee.
type MessageArrivedFunc func(conn IConnection, payload []byte)

// --------------------------------------------------------------------------
// Connection Events
// --------------------------------------------------------------------------

// IConnectionEventListener receives the lifecycle events of connections
type IConnectionEventListener interface {
	// OnConnectionAccepted is called by a server socket for every accepted connection
	OnConnectionAccepted(conn IConnection)
	// OnConnectionEstablished is called by a client socket after a successful connect
	OnConnectionEstablished(conn IConnection)
	// OnConnectionFailed is called by a client socket if a connect attempt failed
	OnConnectionFailed(endpoint string, err error)
	// OnConnectionClosed is called exactly once per connection. err is nil for a graceful close.
	OnConnectionClosed(conn IConnection, err error)
}

// ConnectionEventFuncs adapts functions to IConnectionEventListener. Nil functions are skipped.
type ConnectionEventFuncs struct {
	Accepted    func(conn IConnection)
	Established func(conn IConnection)
	Failed      func(endpoint string, err error)
	Closed      func(conn IConnection, err error)
}

func (f ConnectionEventFuncs) OnConnectionAccepted(conn IConnection) {
	if f.Accepted != nil {
		f.Accepted(conn)
	}
}

func (f ConnectionEventFuncs) OnConnectionEstablished(conn IConnection) {
	if f.Established != nil {
		f.Established(conn)
	}
}

func (f ConnectionEventFuncs) OnConnectionFailed(endpoint string, err error) {
	if f.Failed != nil {
		f.Failed(endpoint, err)
	}
}

func (f ConnectionEventFuncs) OnConnectionClosed(conn IConnection, err error) {
	if f.Closed != nil {
		f.Closed(conn, err)
	}
}
