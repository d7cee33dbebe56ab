package walletconnect

import (
	"encoding/json"
	"time"

	"go.uber.org/atomic"
	"moff.io/wallet-connector/internal/connector"
	"moff.io/wallet-connector/pkg/log"
)

type peer struct {
	PeerID   string               `json:"peerId"`
	PeerMeta connector.ClientMeta `json:"peerMeta"`
	ChainID  interface{}          `json:"chainId"`
}

// sessionUpdate is the param of wc_sessionUpdate, nil fields are sent as null.
type sessionUpdate struct {
	Approved bool        `json:"approved"`
	ChainID  interface{} `json:"chainId"`
	Accounts []string    `json:"accounts"`
}

type wcMessage struct {
	Topic string `json:"topic"`
	// pub sub ack
	Type    string `json:"type"`
	Payload string `json:"payload"`
	Silent  bool   `json:"silent"`
}

func (msg *wcMessage) Marshal() []byte {
	bytes, _ := json.Marshal(msg)
	return bytes
}

type jsonRpcRequest struct {
	Id      int64         `json:"id"`
	JSONRpc string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

func newJSONRpcRequest(method string, params ...interface{}) *jsonRpcRequest {
	r := &jsonRpcRequest{
		Id:      payloadID(),
		JSONRpc: "2.0",
		Method:  method,
		Params:  []interface{}{},
	}
	if len(params) > 0 {
		r.Params = params
	}
	return r
}

func (e *jsonRpcRequest) Marshal() []byte {
	s, err := json.Marshal(e)
	if err != nil {
		log.Errorf("marshal:%v", err)
	}
	return s
}

// RPCError is an error answered by the wallet to a request.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return e.Message
}

var lastPayloadID atomic.Int64

// payloadID 微秒时间戳，同一微秒内递增，保证在 js number 精度内唯一
func payloadID() int64 {
	for {
		id := time.Now().UnixNano() / 1000
		last := lastPayloadID.Load()
		if id <= last {
			id = last + 1
		}
		if lastPayloadID.CAS(last, id) {
			return id
		}
	}
}
