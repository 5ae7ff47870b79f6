package serializer

import "github.com/ValentinKolb/remoting/rpc/common"

// IRemotingSerializer converts the protocol messages to and from their wire payload.
// The payload does not include the frame length prefix.
type IRemotingSerializer interface {
	// EncodeRequest serializes a Request
	EncodeRequest(req *common.Request) ([]byte, error)
	// DecodeRequest deserializes a Request
	DecodeRequest(data []byte) (*common.Request, error)

	// EncodeResponse serializes a Response
	EncodeResponse(resp *common.Response) ([]byte, error)
	// DecodeResponse deserializes a Response
	DecodeResponse(data []byte) (*common.Response, error)

	// EncodeServerMessage serializes a ServerMessage
	EncodeServerMessage(msg *common.ServerMessage) ([]byte, error)
	// DecodeServerMessage deserializes a ServerMessage
	DecodeServerMessage(data []byte) (*common.ServerMessage, error)
}
