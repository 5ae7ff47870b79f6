package tcp

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/remoting/lib/pool"
	"github.com/ValentinKolb/remoting/rpc/common"
	"github.com/ValentinKolb/remoting/rpc/framing"
	"github.com/ValentinKolb/remoting/rpc/transport"
	"github.com/eapache/queue"
	"github.com/google/uuid"
)

// ErrConnectionClosed is returned when a message is queued on a closed connection
var ErrConnectionClosed = errors.New("connection closed")

// tcpConnection implements transport.IConnection. A writer goroutine drains the outbound
// queue, a reader goroutine feeds the framer from a pooled receive buffer.
type tcpConnection struct {
	id         string
	conn       net.Conn
	config     common.SocketConfig
	bufferPool *pool.BufferPool
	framer     *framing.LengthPrefixFramer
	onMessage  transport.MessageArrivedFunc
	onClosed   func(conn *tcpConnection, err error)

	// outbound FIFO of framed messages ([][]byte)
	sendMu     sync.Mutex
	sendQueue  *queue.Queue
	pending    atomic.Int64 // queued plus in-flight frames
	sendSignal chan struct{}

	closed    atomic.Bool
	closeOnce sync.Once
	closeCh   chan struct{}
}

// newTCPConnection wraps a connected socket. Call start to launch the reader and writer.
func newTCPConnection(conn net.Conn, config common.SocketConfig, bufferPool *pool.BufferPool,
	onMessage transport.MessageArrivedFunc, onClosed func(conn *tcpConnection, err error)) *tcpConnection {

	c := &tcpConnection{
		id:         uuid.NewString(),
		conn:       conn,
		config:     config,
		bufferPool: bufferPool,
		framer:     framing.NewLengthPrefixFramer(MaxFrameLength),
		onMessage:  onMessage,
		onClosed:   onClosed,
		sendQueue:  queue.New(),
		sendSignal: make(chan struct{}, 1),
		closeCh:    make(chan struct{}),
	}
	c.framer.RegisterMessageArrivedCallback(c.handleMessage)
	return c
}

func (c *tcpConnection) start() {
	go c.writeLoop()
	go c.readLoop()
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IConnection)
// --------------------------------------------------------------------------

func (c *tcpConnection) Id() string {
	return c.id
}

func (c *tcpConnection) LocalEndpoint() net.Addr {
	return c.conn.LocalAddr()
}

func (c *tcpConnection) RemoteEndpoint() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *tcpConnection) QueueMessage(payload []byte) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}

	frame := framing.FrameData(payload)

	c.sendMu.Lock()
	if c.closed.Load() {
		c.sendMu.Unlock()
		return ErrConnectionClosed
	}
	c.sendQueue.Add(frame)
	c.pending.Add(1)
	c.sendMu.Unlock()

	// wake up the writer
	select {
	case c.sendSignal <- struct{}{}:
	default:
	}
	return nil
}

func (c *tcpConnection) PendingMessageCount() int {
	return int(c.pending.Load())
}

func (c *tcpConnection) IsConnected() bool {
	return !c.closed.Load()
}

func (c *tcpConnection) Close(err error) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.closeCh)

		if cerr := c.conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			Logger.Debugf("Error closing socket of connection %s: %v", c.id, cerr)
		}

		// discard unsent messages
		c.sendMu.Lock()
		discarded := c.sendQueue.Length()
		c.sendQueue = queue.New()
		c.pending.Add(int64(-discarded))
		c.sendMu.Unlock()

		if err != nil {
			Logger.Warningf("Connection %s to %s closed with error: %v (%d unsent messages discarded)", c.id, c.conn.RemoteAddr(), err, discarded)
		} else {
			Logger.Infof("Connection %s to %s closed (%d unsent messages discarded)", c.id, c.conn.RemoteAddr(), discarded)
		}

		if c.onClosed != nil {
			c.onClosed(c, err)
		}
	})
}

// String returns a short representation for log output
func (c *tcpConnection) String() string {
	return fmt.Sprintf("[Id=%s,Local=%s,Remote=%s]", c.id, c.conn.LocalAddr(), c.conn.RemoteAddr())
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// writeLoop writes queued frames in batches of at most MaxSendPacketSize bytes
func (c *tcpConnection) writeLoop() {
	for {
		select {
		case <-c.closeCh:
			return
		case <-c.sendSignal:
		}

		for {
			batch, count := c.dequeueBatch()
			if count == 0 {
				break
			}

			n, err := batch.WriteTo(c.conn)
			bytesSentTotal.Add(int(n))
			c.pending.Add(int64(-count))
			if err != nil {
				if !c.closed.Load() {
					c.Close(fmt.Errorf("failed to write: %w", err))
				}
				return
			}
		}
	}
}

// dequeueBatch removes frames from the queue until MaxSendPacketSize would be exceeded.
// The first frame is always taken. The frames stay pending until the writer wrote them.
func (c *tcpConnection) dequeueBatch() (net.Buffers, int) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	var batch net.Buffers
	size, count := 0, 0

	for c.sendQueue.Length() > 0 {
		frame := c.sendQueue.Peek().([][]byte)
		frameSize := len(frame[0]) + len(frame[1])
		if count > 0 && size+frameSize > c.config.MaxSendPacketSize {
			break
		}
		c.sendQueue.Remove()
		batch = append(batch, frame...)
		size += frameSize
		count++
	}

	return batch, count
}

// readLoop reads from the socket into a pooled buffer and feeds the framer
func (c *tcpConnection) readLoop() {
	buf := c.bufferPool.Get()
	defer c.bufferPool.Return(buf)

	for {
		n, err := c.conn.Read(buf.Bytes)
		if n > 0 {
			bytesReceivedTotal.Add(n)
			if ferr := c.framer.UnframeData(buf.Bytes[:n]); ferr != nil {
				c.Close(fmt.Errorf("protocol error: %w", ferr))
				return
			}
		}

		if err != nil {
			switch {
			case c.closed.Load():
				// closed locally
			case errors.Is(err, io.EOF):
				c.Close(nil)
			default:
				c.Close(fmt.Errorf("failed to read: %w", err))
			}
			return
		}
	}
}

// handleMessage passes a complete message to the owner and logs handler panics
func (c *tcpConnection) handleMessage(payload []byte) {
	if c.onMessage == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			Logger.Errorf("Message handler of connection %s panicked: %v", c.id, r)
		}
	}()
	c.onMessage(c, payload)
}
