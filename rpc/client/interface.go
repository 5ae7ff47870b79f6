package client

import "github.com/ValentinKolb/remoting/rpc/common"

// IResponseHandler receives the responses of callback requests for one request code
type IResponseHandler interface {
	HandleResponse(resp *common.Response)
}

// ResponseHandlerFunc adapts a function to IResponseHandler
type ResponseHandlerFunc func(resp *common.Response)

func (f ResponseHandlerFunc) HandleResponse(resp *common.Response) {
	f(resp)
}

// IPushMessageHandler receives the push messages for one code
type IPushMessageHandler interface {
	HandlePushMessage(msg *common.ServerMessage)
}

// PushMessageHandlerFunc adapts a function to IPushMessageHandler
type PushMessageHandlerFunc func(msg *common.ServerMessage)

func (f PushMessageHandlerFunc) HandlePushMessage(msg *common.ServerMessage) {
	f(msg)
}
