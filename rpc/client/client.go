package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/ValentinKolb/remoting/lib/pool"
	"github.com/ValentinKolb/remoting/lib/schedule"
	"github.com/ValentinKolb/remoting/rpc/common"
	"github.com/ValentinKolb/remoting/rpc/serializer"
	"github.com/ValentinKolb/remoting/rpc/transport"
	"github.com/ValentinKolb/remoting/rpc/transport/tcp"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("remoting/client")

var (
	requestsTotal   = metrics.GetOrCreateCounter(common.MetricClientRequestsTotal)
	responsesTotal  = metrics.GetOrCreateCounter(common.MetricClientResponsesTotal)
	timeoutsTotal   = metrics.GetOrCreateCounter(common.MetricClientTimeoutsTotal)
	reconnectsTotal = metrics.GetOrCreateCounter(common.MetricClientReconnectsTotal)
	pushTotal       = metrics.GetOrCreateCounter(common.MetricClientPushTotal)
	roundTrip       = metrics.GetOrCreateHistogram(common.MetricClientRoundTrip)
)

// --------------------------------------------------------------------------
// Client State
// --------------------------------------------------------------------------

// State is the lifecycle state of a RemotingClient
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnectPending
	StateShutDown
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnectPending:
		return "reconnect pending"
	case StateShutDown:
		return "shut down"
	default:
		return "unknown"
	}
}

// --------------------------------------------------------------------------
// Remoting Client
// --------------------------------------------------------------------------

// RemotingClient sends requests to one server endpoint and correlates the responses.
// Handlers and listeners must be registered before Start.
type RemotingClient struct {
	id         string
	config     common.ClientConfig
	serializer serializer.IRemotingSerializer
	log        logger.ILogger
	scheduler  schedule.IScheduler
	bufferPool *pool.BufferPool

	socket       atomic.Pointer[tcp.ClientSocket]
	state        atomic.Int32
	reconnecting atomic.Bool

	// sequence -> future of every pending async request
	pending *xsync.MapOf[int64, *ResponseFuture]

	handlersMu       sync.RWMutex
	responseHandlers map[int16]IResponseHandler
	pushHandlers     map[int16]IPushMessageHandler
	listeners        []transport.IConnectionEventListener

	scanTimeoutTaskName string
	reconnectTaskName   string
}

// NewRemotingClient creates a client for config.ServerEndpoint. A nil log uses the package
// logger, a nil scheduler creates a private one.
func NewRemotingClient(config common.ClientConfig, log logger.ILogger, scheduler schedule.IScheduler) (*RemotingClient, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid client config: %w", err)
	}

	bufferPool, err := pool.NewBufferPool(config.Socket.BufferPoolItemSize, config.Socket.BufferPoolInitialSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create buffer pool: %w", err)
	}

	if log == nil {
		log = Logger
	}
	if scheduler == nil {
		scheduler = schedule.NewScheduler()
	}

	id := uuid.NewString()
	return &RemotingClient{
		id:                  id,
		config:              config,
		serializer:          serializer.NewBinarySerializer(),
		log:                 log,
		scheduler:           scheduler,
		bufferPool:          bufferPool,
		pending:             xsync.NewMapOf[int64, *ResponseFuture](),
		responseHandlers:    make(map[int16]IResponseHandler),
		pushHandlers:        make(map[int16]IPushMessageHandler),
		scanTimeoutTaskName: fmt.Sprintf("remoting-client-%s-scan-timeout", id),
		reconnectTaskName:   fmt.Sprintf("remoting-client-%s-reconnect", id),
	}, nil
}

// RegisterResponseHandler sets the handler for callback responses of the given request code
func (c *RemotingClient) RegisterResponseHandler(requestCode int16, handler IResponseHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.responseHandlers[requestCode] = handler
}

// RegisterPushMessageHandler sets the handler for push messages with the given code
func (c *RemotingClient) RegisterPushMessageHandler(code int16, handler IPushMessageHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.pushHandlers[code] = handler
}

// RegisterConnectionEventListener adds a listener. It is registered on every new connection.
func (c *RemotingClient) RegisterConnectionEventListener(listener transport.IConnectionEventListener) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.listeners = append(c.listeners, listener)
}

// Start starts the timeout sweep and connects. If the connection fails the error is
// returned and the client keeps reconnecting in the background until Shutdown.
func (c *RemotingClient) Start() error {
	if !c.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		return fmt.Errorf("client already started, state: %s", c.State())
	}

	c.log.Infof("Starting remoting client %s", c.id)
	c.log.Debugf(c.config.String())

	interval := c.config.Socket.ScanTimeoutRequestInterval
	c.scheduler.Schedule(c.scanTimeoutTaskName, c.scanTimeoutRequest, interval, interval)

	socket := c.newSocket()
	c.socket.Store(socket)
	return socket.Connect()
}

// Shutdown stops the background tasks, closes the connection and fails all pending requests
func (c *RemotingClient) Shutdown() {
	if State(c.state.Swap(int32(StateShutDown))) == StateShutDown {
		return
	}

	c.awaitTasks(
		c.scheduler.Cancel(c.scanTimeoutTaskName),
		c.scheduler.Cancel(c.reconnectTaskName),
	)

	if socket := c.socket.Load(); socket != nil {
		socket.Close()
	}

	failed := 0
	c.pending.Range(func(seq int64, _ *ResponseFuture) bool {
		if f, ok := c.pending.LoadAndDelete(seq); ok && f.SetError(ErrClientShutdown) {
			failed++
		}
		return true
	})

	c.log.Infof("Remoting client %s shut down, %d pending requests failed", c.id, failed)
}

// --------------------------------------------------------------------------
// Invocation
// --------------------------------------------------------------------------

// InvokeOneway sends a request without expecting a response
func (c *RemotingClient) InvokeOneway(code int16, body []byte, header map[string]string) error {
	if err := c.checkServerAvailable(); err != nil {
		return err
	}
	return c.send(common.NewRequest(code, body, header, common.RequestTypeOneway))
}

// InvokeWithCallback sends a request whose response is passed to the response handler
// registered for the code. Callback requests are not tracked and never time out.
func (c *RemotingClient) InvokeWithCallback(code int16, body []byte, header map[string]string) error {
	if err := c.checkServerAvailable(); err != nil {
		return err
	}
	return c.send(common.NewRequest(code, body, header, common.RequestTypeCallback))
}

// InvokeAsync sends a request and returns a future for its response. If no response
// arrives within timeout, the timeout sweep completes the future with a response
// carrying common.ResponseCodeTimeout.
func (c *RemotingClient) InvokeAsync(code int16, body []byte, header map[string]string, timeout time.Duration) (*ResponseFuture, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive, got %s", timeout)
	}
	if err := c.checkServerAvailable(); err != nil {
		return nil, err
	}

	req := common.NewRequest(code, body, header, common.RequestTypeAsync)
	future := newResponseFuture(req, timeout)

	if _, loaded := c.pending.LoadOrStore(req.Sequence, future); loaded {
		return nil, &ResponseFutureAddFailedError{Sequence: req.Sequence}
	}

	if err := c.send(req); err != nil {
		c.pending.Delete(req.Sequence)
		return nil, err
	}
	return future, nil
}

// InvokeSync sends a request and waits up to timeout for the response. It returns a
// *TimeoutError if no response arrived in time, a *RequestError if the request failed
// and a *ServerUnavailableError if the client is not connected. A response carrying
// common.ResponseCodeFailed is returned as is.
func (c *RemotingClient) InvokeSync(code int16, body []byte, header map[string]string, timeout time.Duration) (*common.Response, error) {
	future, err := c.InvokeAsync(code, body, header, timeout)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	resp, err := future.Wait(ctx)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		c.completeTimeout(future.Request.Sequence)
		return nil, &TimeoutError{Request: future.Request, Timeout: timeout}
	case err != nil:
		return nil, &RequestError{Request: future.Request, Err: err}
	case resp == nil:
		return nil, &RequestError{Request: future.Request, Err: errors.New("no response")}
	case resp.ResponseCode == common.ResponseCodeTimeout:
		return nil, &TimeoutError{Request: future.Request, Timeout: timeout}
	}
	return resp, nil
}

// --------------------------------------------------------------------------
// Status
// --------------------------------------------------------------------------

// State returns the lifecycle state
func (c *RemotingClient) State() State {
	return State(c.state.Load())
}

// IsConnected returns whether the client has a live connection
func (c *RemotingClient) IsConnected() bool {
	socket := c.socket.Load()
	return socket != nil && socket.IsConnected()
}

// ServerEndpoint returns the remote endpoint
func (c *RemotingClient) ServerEndpoint() string {
	return c.config.ServerEndpoint
}

// LocalEndpoint returns the local address of the current connection or nil
func (c *RemotingClient) LocalEndpoint() net.Addr {
	if socket := c.socket.Load(); socket != nil {
		return socket.LocalEndpoint()
	}
	return nil
}

// PendingCount returns the number of async requests waiting for a response
func (c *RemotingClient) PendingCount() int {
	return c.pending.Size()
}

// PendingMessageCount returns the number of outbound messages not yet written to the socket
func (c *RemotingClient) PendingMessageCount() int {
	if socket := c.socket.Load(); socket != nil {
		if conn := socket.Connection(); conn != nil {
			return conn.PendingMessageCount()
		}
	}
	return 0
}

// FlowControlCount returns how often senders backed off on the current connection
func (c *RemotingClient) FlowControlCount() int64 {
	if socket := c.socket.Load(); socket != nil {
		return socket.FlowControlCount()
	}
	return 0
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// newSocket creates a socket with the internal and all registered listeners
func (c *RemotingClient) newSocket() *tcp.ClientSocket {
	socket := tcp.NewClientSocket(c.config, c.bufferPool, c.onMessage)
	socket.RegisterConnectionEventListener(transport.ConnectionEventFuncs{
		Established: c.onConnectionEstablished,
		Failed:      c.onConnectionFailed,
		Closed:      c.onConnectionClosed,
	})

	c.handlersMu.RLock()
	for _, l := range c.listeners {
		socket.RegisterConnectionEventListener(l)
	}
	c.handlersMu.RUnlock()

	return socket
}

func (c *RemotingClient) checkServerAvailable() error {
	if c.State() == StateShutDown {
		return ErrClientShutdown
	}
	if !c.IsConnected() {
		return &ServerUnavailableError{Endpoint: c.config.ServerEndpoint}
	}
	return nil
}

func (c *RemotingClient) send(req *common.Request) error {
	data, err := c.serializer.EncodeRequest(req)
	if err != nil {
		return &RequestError{Request: req, Err: err}
	}

	socket := c.socket.Load()
	if socket == nil {
		return &ServerUnavailableError{Endpoint: c.config.ServerEndpoint}
	}
	if err := socket.QueueMessage(data); err != nil {
		if errors.Is(err, tcp.ErrConnectionClosed) {
			return &ServerUnavailableError{Endpoint: c.config.ServerEndpoint}
		}
		return &RequestError{Request: req, Err: err}
	}

	requestsTotal.Inc()
	return nil
}

// onMessage decodes a server message and routes it
func (c *RemotingClient) onMessage(_ transport.IConnection, payload []byte) {
	msg, err := c.serializer.DecodeServerMessage(payload)
	if err != nil {
		c.log.Errorf("Failed to decode server message: %v", err)
		return
	}

	switch msg.Type {
	case common.ServerMessageTypeResponse:
		resp, err := c.serializer.DecodeResponse(msg.Body)
		if err != nil {
			c.log.Errorf("Failed to decode response of message %s: %v", msg, err)
			return
		}
		c.handleResponse(resp)
	case common.ServerMessageTypePush:
		c.handlePushMessage(msg)
	default:
		c.log.Errorf("Unknown server message type: %s", msg)
	}
}

func (c *RemotingClient) handleResponse(resp *common.Response) {
	responsesTotal.Inc()

	switch resp.RequestType {
	case common.RequestTypeAsync:
		future, ok := c.pending.LoadAndDelete(resp.RequestSequence)
		if !ok {
			c.log.Debugf("Response future not found, maybe the request already timed out: %s", resp)
			return
		}
		roundTrip.UpdateDuration(future.BeginTime)
		future.SetResponse(resp)

	case common.RequestTypeCallback:
		c.handlersMu.RLock()
		handler, ok := c.responseHandlers[resp.RequestCode]
		c.handlersMu.RUnlock()
		if !ok {
			c.log.Errorf("No response handler found for response: %s", resp)
			return
		}
		c.invokeSafely("response handler", func() { handler.HandleResponse(resp) })

	default:
		c.log.Errorf("Invalid response type of response: %s", resp)
	}
}

func (c *RemotingClient) handlePushMessage(msg *common.ServerMessage) {
	pushTotal.Inc()

	c.handlersMu.RLock()
	handler, ok := c.pushHandlers[msg.Code]
	c.handlersMu.RUnlock()
	if !ok {
		c.log.Errorf("No push message handler found for message: %s", msg)
		return
	}
	c.invokeSafely("push message handler", func() { handler.HandlePushMessage(msg) })
}

// scanTimeoutRequest completes every expired future with a timeout response
func (c *RemotingClient) scanTimeoutRequest() {
	now := time.Now()
	c.pending.Range(func(seq int64, f *ResponseFuture) bool {
		if f.IsTimeout(now) {
			c.completeTimeout(seq)
		}
		return true
	})
}

func (c *RemotingClient) completeTimeout(seq int64) {
	if f, ok := c.pending.LoadAndDelete(seq); ok && f.SetResponse(common.NewTimeoutResponse(f.Request)) {
		timeoutsTotal.Inc()
		c.log.Debugf("Request timed out after %s: %s", f.Timeout, f.Request)
	}
}

// reconnect replaces a dead socket with a new one. Concurrent calls are dropped.
func (c *RemotingClient) reconnect() {
	if !c.reconnecting.CompareAndSwap(false, true) {
		return
	}
	defer c.reconnecting.Store(false)

	if c.State() == StateShutDown {
		return
	}
	if c.IsConnected() {
		c.scheduler.Cancel(c.reconnectTaskName)
		return
	}

	reconnectsTotal.Inc()
	c.log.Infof("Reconnecting to %s", c.config.ServerEndpoint)

	if old := c.socket.Load(); old != nil {
		old.Close()
	}

	// a concurrent Shutdown wins
	current := c.State()
	if current == StateShutDown || !c.state.CompareAndSwap(int32(current), int32(StateConnecting)) {
		return
	}
	socket := c.newSocket()
	c.socket.Store(socket)
	if err := socket.Connect(); err != nil {
		c.log.Debugf("Reconnect to %s failed: %v", c.config.ServerEndpoint, err)
	}

	// shut down while connecting
	if c.State() == StateShutDown {
		socket.Close()
	}
}

func (c *RemotingClient) onConnectionEstablished(conn transport.IConnection) {
	if c.state.CompareAndSwap(int32(StateConnecting), int32(StateConnected)) ||
		c.state.CompareAndSwap(int32(StateReconnectPending), int32(StateConnected)) {
		c.scheduler.Cancel(c.reconnectTaskName)
		c.log.Infof("Connection to %s established, local endpoint: %s", c.config.ServerEndpoint, conn.LocalEndpoint())
	}
}

func (c *RemotingClient) onConnectionFailed(endpoint string, err error) {
	c.log.Warningf("Failed to connect to %s: %v", endpoint, err)
	c.scheduleReconnect()
}

func (c *RemotingClient) onConnectionClosed(conn transport.IConnection, err error) {
	c.log.Infof("Connection %s to %s closed: %v", conn.Id(), c.config.ServerEndpoint, err)
	c.scheduleReconnect()
}

func (c *RemotingClient) scheduleReconnect() {
	for {
		current := c.State()
		if current == StateShutDown {
			return
		}
		if c.state.CompareAndSwap(int32(current), int32(StateReconnectPending)) {
			break
		}
	}

	interval := c.config.Socket.ReconnectionInterval
	c.scheduler.Schedule(c.reconnectTaskName, c.reconnect, interval, interval)
}

// awaitTasks waits until the cancelled tasks returned. The wait is bounded since a
// connection listener running inside the reconnect task may call Shutdown itself.
func (c *RemotingClient) awaitTasks(done ...<-chan struct{}) {
	timeout := time.NewTimer(c.config.ConnectTimeout)
	defer timeout.Stop()

	for _, ch := range done {
		select {
		case <-ch:
		case <-timeout.C:
			c.log.Warningf("Background tasks of client %s did not stop within %s", c.id, c.config.ConnectTimeout)
			return
		}
	}
}

func (c *RemotingClient) invokeSafely(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Errorf("The %s panicked: %v", name, r)
		}
	}()
	fn()
}
