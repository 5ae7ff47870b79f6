package serve

import (
	"time"

	cmdUtil "github.com/ValentinKolb/remoting/cmd/util"
	"github.com/ValentinKolb/remoting/rpc/common"
	"github.com/ValentinKolb/remoting/rpc/server"
)

// Request and push codes of the demo server
const (
	// CodeEcho answers "ping" with CodePong "pong" and echoes every other body
	CodeEcho int16 = 100

	// CodeDeferredEcho echoes the body from another goroutine
	CodeDeferredEcho int16 = 101

	// CodePong is the response code of a ping
	CodePong int16 = 10

	// CodePush is the code of the periodic push message
	CodePush int16 = 300
)

func registerDemoHandlers(s *server.RemotingServer) {
	s.RegisterRequestHandler(CodeEcho, server.RequestHandlerFunc(handleEcho))
	s.RegisterRequestHandler(CodeDeferredEcho, server.RequestHandlerFunc(handleDeferredEcho))
}

func handleEcho(_ server.IRequestHandlerContext, req *common.Request) (*common.Response, error) {
	if string(req.Body) == "ping" {
		return common.NewResponse(req, CodePong, []byte("pong")), nil
	}
	return common.NewResponse(req, 0, req.Body), nil
}

// handleDeferredEcho returns no response and replies later through the handler context
func handleDeferredEcho(ctx server.IRequestHandlerContext, req *common.Request) (*common.Response, error) {
	if req.Type == common.RequestTypeOneway {
		return nil, nil
	}
	go func() {
		if err := ctx.SendResponse(common.NewResponse(req, 0, req.Body)); err != nil {
			cmdUtil.Logger.Warningf("Deferred reply to %s failed: %v", ctx.Connection().RemoteEndpoint(), err)
		}
	}()
	return nil, nil
}

// pushTime sends the current time to all connected clients
func pushTime(s *server.RemotingServer) {
	msg := common.NewPushMessage(CodePush, []byte(time.Now().Format(time.RFC3339Nano)), map[string]string{"source": "serve"})
	if err := s.PushToAll(msg); err != nil {
		cmdUtil.Logger.Errorf("Push failed: %v", err)
	}
}
