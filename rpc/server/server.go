package server

import (
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/ValentinKolb/remoting/lib/pool"
	"github.com/ValentinKolb/remoting/lib/schedule"
	"github.com/ValentinKolb/remoting/rpc/common"
	"github.com/ValentinKolb/remoting/rpc/serializer"
	"github.com/ValentinKolb/remoting/rpc/transport"
	"github.com/ValentinKolb/remoting/rpc/transport/tcp"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("remoting/server")

var (
	requestsTotal       = metrics.GetOrCreateCounter(common.MetricServerRequestsTotal)
	handlerFailureTotal = metrics.GetOrCreateCounter(common.MetricServerHandlerFailureTotal)
	pushTotal           = metrics.GetOrCreateCounter(common.MetricServerPushTotal)
	handlerDuration     = metrics.GetOrCreateHistogram(common.MetricServerHandlerDuration)
)

// RemotingServer accepts connections, dispatches requests to the handler registered for
// their code and pushes server messages to connected clients
type RemotingServer struct {
	config     common.ServerConfig
	serializer serializer.IRemotingSerializer
	log        logger.ILogger
	scheduler  schedule.IScheduler
	bufferPool *pool.BufferPool
	socket     *tcp.ServerSocket

	handlers *xsync.MapOf[int16, IRequestHandler]

	state          atomic.Int32
	shrinkTaskName string
}

const (
	serverCreated int32 = iota
	serverStarted
	serverShutDown
)

// NewRemotingServer creates a server for config.Endpoint. A nil log uses the package logger,
// a nil scheduler creates a private one.
func NewRemotingServer(config common.ServerConfig, log logger.ILogger, scheduler schedule.IScheduler) (*RemotingServer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
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

	s := &RemotingServer{
		config:     config,
		serializer: serializer.NewBinarySerializer(),
		log:        log,
		scheduler:  scheduler,
		bufferPool: bufferPool,
		handlers:   xsync.NewMapOf[int16, IRequestHandler](),
	}
	s.socket = tcp.NewServerSocket(config, bufferPool, s.onMessage)
	s.shrinkTaskName = fmt.Sprintf("remoting-server-%s-%p-shrink-pool", config.Name, s)
	return s, nil
}

// RegisterRequestHandler sets the handler for a request code, replacing any previous one
func (s *RemotingServer) RegisterRequestHandler(code int16, handler IRequestHandler) {
	s.handlers.Store(code, handler)
}

// RegisterConnectionEventListener adds a listener. Listeners must be registered before Start.
func (s *RemotingServer) RegisterConnectionEventListener(listener transport.IConnectionEventListener) {
	s.socket.RegisterConnectionEventListener(listener)
}

// Start binds the endpoint, starts accepting connections and schedules the pool maintenance
func (s *RemotingServer) Start() error {
	if !s.state.CompareAndSwap(serverCreated, serverStarted) {
		return errors.New("server already started")
	}

	s.log.Infof("Starting remoting server %q", s.config.Name)
	s.log.Infof(s.config.String())

	if err := s.socket.Start(); err != nil {
		s.state.Store(serverShutDown)
		return err
	}

	interval := s.config.PoolShrinkInterval
	s.scheduler.Schedule(s.shrinkTaskName, s.shrinkBufferPool, interval, interval)

	s.log.Infof("Remoting server %q listening on %s", s.config.Name, s.socket.Addr())
	return nil
}

// Shutdown stops the maintenance task, the listener and closes all connections
func (s *RemotingServer) Shutdown() {
	if s.state.Swap(serverShutDown) == serverShutDown {
		return
	}

	<-s.scheduler.Cancel(s.shrinkTaskName)
	s.socket.Close()

	s.log.Infof("Remoting server %q shut down", s.config.Name)
}

// Addr returns the listen address or nil if the server is not started
func (s *RemotingServer) Addr() net.Addr {
	return s.socket.Addr()
}

// GetAllConnections returns a snapshot of all live connections
func (s *RemotingServer) GetAllConnections() []transport.IConnection {
	return s.socket.GetAllConnections()
}

// PushToAll sends a push message to every connected client
func (s *RemotingServer) PushToAll(msg *common.ServerMessage) error {
	data, err := s.serializer.EncodeServerMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to encode push message: %w", err)
	}

	s.socket.QueueToAll(data)
	pushTotal.Inc()
	return nil
}

// PushToConnection sends a push message to one connection. If the connection is gone the
// message is dropped and false is returned.
func (s *RemotingServer) PushToConnection(connectionId string, msg *common.ServerMessage) (bool, error) {
	data, err := s.serializer.EncodeServerMessage(msg)
	if err != nil {
		return false, fmt.Errorf("failed to encode push message: %w", err)
	}

	if !s.socket.QueueTo(connectionId, data) {
		s.log.Debugf("Push to connection %s dropped, connection not found", connectionId)
		return false, nil
	}
	pushTotal.Inc()
	return true, nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// onMessage decodes and dispatches one request. It runs on the reader goroutine of conn,
// so requests of one connection are dispatched in arrival order.
func (s *RemotingServer) onMessage(conn transport.IConnection, payload []byte) {
	req, err := s.serializer.DecodeRequest(payload)
	if err != nil {
		s.log.Errorf("Failed to decode request from %s: %v", conn.RemoteEndpoint(), err)
		return
	}
	requestsTotal.Inc()

	handler, ok := s.handlers.Load(req.Code)
	if !ok {
		message := fmt.Sprintf("No request handler found for request: %d", req.Code)
		s.log.Errorf("%s, request: %s", message, req)
		s.sendFailure(conn, req, message)
		return
	}

	start := time.Now()
	resp, err := s.invokeHandler(handler, &handlerContext{server: s, conn: conn, req: req}, req)
	handlerDuration.UpdateDuration(start)

	if err != nil {
		handlerFailureTotal.Inc()
		s.log.Errorf("Failed to handle request %s: %v", req, err)
		s.sendFailure(conn, req, err.Error())
		return
	}

	if resp == nil || req.Type == common.RequestTypeOneway {
		return
	}
	if err := s.sendResponse(conn, req, resp); err != nil {
		s.log.Errorf("Failed to send response for request %s: %v", req, err)
	}
}

// invokeHandler calls the handler and converts a panic into an error
func (s *RemotingServer) invokeHandler(handler IRequestHandler, ctx IRequestHandlerContext, req *common.Request) (resp *common.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp = nil
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler.HandleRequest(ctx, req)
}

func (s *RemotingServer) sendFailure(conn transport.IConnection, req *common.Request, message string) {
	if req.Type == common.RequestTypeOneway {
		return
	}
	if err := s.sendResponse(conn, req, common.NewFailedResponse(req, message)); err != nil {
		s.log.Errorf("Failed to send failure response for request %s: %v", req, err)
	}
}

// sendResponse wraps the response into a response envelope and queues it on conn
func (s *RemotingServer) sendResponse(conn transport.IConnection, req *common.Request, resp *common.Response) error {
	encoded, err := s.serializer.EncodeResponse(resp)
	if err != nil {
		return err
	}
	data, err := s.serializer.EncodeServerMessage(common.NewResponseEnvelope(req, encoded))
	if err != nil {
		return err
	}
	return conn.QueueMessage(data)
}

func (s *RemotingServer) shrinkBufferPool() {
	if s.bufferPool.Shrink() {
		s.log.Infof("Receive buffer pool shrunk to %d buffers (generation %d)",
			s.bufferPool.TotalCount(), s.bufferPool.Generation())
	}
}

// --------------------------------------------------------------------------
// Handler Context
// --------------------------------------------------------------------------

type handlerContext struct {
	server *RemotingServer
	conn   transport.IConnection
	req    *common.Request
}

func (c *handlerContext) Connection() transport.IConnection {
	return c.conn
}

func (c *handlerContext) SendResponse(resp *common.Response) error {
	if c.req.Type == common.RequestTypeOneway {
		return fmt.Errorf("request %d is oneway and takes no response", c.req.Sequence)
	}
	if resp == nil {
		return errors.New("response is nil")
	}
	return c.server.sendResponse(c.conn, c.req, resp)
}
