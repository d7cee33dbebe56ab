package eip1193

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"go.uber.org/atomic"
	"moff.io/wallet-connector/internal/emitter"
	"moff.io/wallet-connector/pkg/errors"
	"moff.io/wallet-connector/pkg/log"
)

var errClientClosed = &RPCError{Code: CodeDisconnected, Message: "provider disconnected"}

const notificationBuffer = 64

type request struct {
	ID      int64         `json:"id"`
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type response struct {
	result json.RawMessage
	err    error
}

type notification struct {
	method string
	params gjson.Result
}

// Client is a Provider speaking JSON-RPC 2.0 over a websocket to a wallet
// bridge. Responses are matched by id; frames carrying only a method are
// provider events and are dispatched in order on their own goroutine, so a
// listener may issue requests.
type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	seq     atomic.Int64
	mu      sync.Mutex
	pending map[int64]chan response

	emitter       *emitter.Emitter
	notifications chan notification
	closed        atomic.Bool
	done          chan struct{}
}

// Dial connects to a wallet bridge at url.
func Dial(ctx context.Context, url string) (*Client, error) {
	dialer := websocket.Dialer{}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.WrapAndReport(err, "dial to wallet bridge")
	}
	return NewClient(conn), nil
}

// NewClient takes ownership of conn and starts reading from it.
func NewClient(conn *websocket.Conn) *Client {
	c := &Client{
		conn:          conn,
		pending:       make(map[int64]chan response),
		emitter:       emitter.New(),
		notifications: make(chan notification, notificationBuffer),
		done:          make(chan struct{}),
	}
	go c.readLoop()
	go c.dispatchLoop()
	return c
}

func (c *Client) On(event string, fn emitter.Listener) emitter.Handle {
	return c.emitter.On(event, fn)
}

func (c *Client) Off(h emitter.Handle) bool {
	return c.emitter.Off(h)
}

func (c *Client) Request(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	if c.closed.Load() {
		return nil, errClientClosed
	}
	req := request{
		ID:      c.seq.Inc(),
		JSONRPC: "2.0",
		Method:  method,
		Params:  []interface{}{},
	}
	if len(params) > 0 {
		req.Params = params
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrapf(err, "marshal %s request", method)
	}

	ch := make(chan response, 1)
	c.mu.Lock()
	c.pending[req.ID] = ch
	c.mu.Unlock()
	defer c.forget(req.ID)

	log.Debugf("eip1193 - request:%s", payload)
	if err := c.write(payload); err != nil {
		return nil, err
	}
	select {
	case resp := <-ch:
		return resp.result, resp.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, errClientClosed
	}
}

// Close tears the connection down. Pending requests fail with a disconnected error.
func (c *Client) Close() error {
	err := c.conn.Close()
	c.shutdown(nil)
	return err
}

func (c *Client) write(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return errors.Wrap(err, "write wallet bridge message")
	}
	return nil
}

func (c *Client) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.shutdown(err)
			return
		}
		c.handle(data)
	}
}

func (c *Client) handle(data []byte) {
	if !gjson.ValidBytes(data) {
		log.Warnf("eip1193 - drop invalid frame:%s", data)
		return
	}
	frame := gjson.ParseBytes(data)
	method := frame.Get("method")
	id := frame.Get("id")
	if method.Exists() {
		select {
		case c.notifications <- notification{method: method.String(), params: frame.Get("params")}:
		default:
			log.Warnf("eip1193 - notification buffer full, dropping %s", method.String())
		}
		return
	}
	if !id.Exists() {
		log.Warnf("eip1193 - frame without id or method:%s", data)
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[id.Int()]
	c.mu.Unlock()
	if !ok {
		log.Debugf("eip1193 - response for unknown request %v", id.Int())
		return
	}
	resp := response{}
	if e := frame.Get("error"); e.Exists() {
		rpcErr := &RPCError{Code: int(e.Get("code").Int()), Message: e.Get("message").String()}
		if d := e.Get("data"); d.Exists() {
			rpcErr.Data = json.RawMessage(d.Raw)
		}
		resp.err = rpcErr
	} else {
		resp.result = json.RawMessage(frame.Get("result").Raw)
	}
	select {
	case ch <- resp:
	default:
		log.Warnf("eip1193 - duplicate response for request %v", id.Int())
	}
}

func (c *Client) dispatchLoop() {
	for {
		select {
		case n := <-c.notifications:
			c.emitter.Emit(n.method, decodeParams(n)...)
		case <-c.done:
			return
		}
	}
}

// decodeParams turns notification params into listener arguments.
func decodeParams(n notification) []interface{} {
	first := n.params.Get("0")
	switch n.method {
	case EventChainChanged:
		return []interface{}{first.String()}
	case EventAccountsChanged:
		accounts := make([]string, 0)
		for _, a := range first.Array() {
			accounts = append(accounts, a.String())
		}
		return []interface{}{accounts}
	case EventConnect:
		return []interface{}{first.Get("chainId").String()}
	case EventDisconnect:
		return []interface{}{&RPCError{Code: int(first.Get("code").Int()), Message: first.Get("message").String()}}
	}
	args := make([]interface{}, 0)
	for _, p := range n.params.Array() {
		args = append(args, p.Value())
	}
	return args
}

func (c *Client) shutdown(cause error) {
	if !c.closed.CAS(false, true) {
		return
	}
	close(c.done)
	if cause != nil {
		log.Warnf("eip1193 - wallet bridge connection lost:%v", cause)
	}
	c.emitter.Emit(EventDisconnect, errClientClosed)
}
