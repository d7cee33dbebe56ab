package walletconnect

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/skip2/go-qrcode"
	"github.com/tidwall/gjson"
	"go.uber.org/atomic"
	"moff.io/wallet-connector/internal/connector"
	"moff.io/wallet-connector/internal/emitter"
	"moff.io/wallet-connector/pkg/errors"
	"moff.io/wallet-connector/pkg/log"
	"moff.io/wallet-connector/pkg/wcutil"
)

const (
	defaultReadTimeout = time.Minute * 5
	defaultQRCodeSize  = 256
)

var (
	errSessionClosed   = errors.New("session closed")
	errSessionRejected = errors.New("session rejected")
	errNotConnected    = errors.New("session not connected")
)

// relaySession is a WalletConnect v1 session over a bridge server.
// 交互流程见文档：https://docs.walletconnect.com/tech-spec#establishing-connection
type relaySession struct {
	opts    connector.ProviderOptions
	emitter *emitter.Emitter

	bridgeURL      string
	handshakeTopic string
	clientID       string
	encryptionKey  []byte
	readTimeout    time.Duration

	enableMu sync.Mutex
	writeMu  sync.Mutex
	conn     *websocket.Conn

	mu       sync.Mutex
	accounts []string
	chainID  int
	peerID   string
	pending  map[int64]chan gjson.Result

	connected atomic.Bool
	closed    atomic.Bool
	done      chan struct{}
}

var _ Session = (*relaySession)(nil)

// NewRelaySession is the default SessionFactory. Nothing is dialed until Enable.
func NewRelaySession(_ context.Context, opts connector.ProviderOptions) (Session, error) {
	key, err := wcutil.GenerateRandomBytes(256 / 8)
	if err != nil {
		return nil, errors.WrapAndReport(err, "generate session key")
	}
	s := &relaySession{
		opts:           opts,
		emitter:        emitter.New(),
		bridgeURL:      opts.BridgeURL,
		handshakeTopic: uuid.NewString(),
		clientID:       uuid.NewString(),
		encryptionKey:  key,
		readTimeout:    opts.ReadTimeout,
		pending:        make(map[int64]chan gjson.Result),
		done:           make(chan struct{}),
	}
	if s.bridgeURL == "" {
		s.bridgeURL = wcutil.RandomBridgeURL()
	}
	if s.readTimeout <= 0 {
		s.readTimeout = defaultReadTimeout
	}
	return s, nil
}

func (s *relaySession) On(event string, fn emitter.Listener) emitter.Handle {
	return s.emitter.On(event, fn)
}

func (s *relaySession) Off(h emitter.Handle) bool {
	return s.emitter.Off(h)
}

func (s *relaySession) Accounts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.accounts...)
}

func (s *relaySession) ChainID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chainID
}

// URI is the pairing uri shown as QR code.
func (s *relaySession) URI() string {
	return wcutil.SessionURI(s.handshakeTopic, s.bridgeURL, s.encryptionKey)
}

func (s *relaySession) Enable(ctx context.Context) ([]string, error) {
	s.enableMu.Lock()
	defer s.enableMu.Unlock()
	if s.connected.Load() {
		return s.Accounts(), nil
	}
	if s.closed.Load() {
		return nil, errSessionClosed
	}
	if err := s.dialWS(ctx); err != nil {
		return nil, err
	}

	// 等待用户扫码期间，ctx 取消则关闭链接以打断读取
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			s.conn.Close()
		case <-stop:
		}
	}()

	accounts, err := s.handshake()
	if err != nil {
		s.conn.Close()
		s.closed.Store(true)
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), "wait for session approval")
		}
		return nil, err
	}
	s.connected.Store(true)
	go s.readLoop()

	s.emitter.Emit(EventConnect, accounts, s.ChainID())
	return accounts, nil
}

func (s *relaySession) handshake() ([]string, error) {
	if err := s.subscribe(); err != nil {
		return nil, err
	}
	req := newJSONRpcRequest("wc_sessionRequest", peer{
		PeerID:   s.clientID,
		PeerMeta: s.opts.Metadata,
		ChainID:  chainIDParam(s.opts.ChainID),
	})
	if err := s.publish(s.handshakeTopic, req); err != nil {
		return nil, err
	}
	if err := s.displayQRCode(); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(s.readTimeout)
	for {
		payload, err := s.readPayload(deadline)
		if err != nil {
			return nil, err
		}
		if payload.Get("id").Int() != req.Id {
			log.Debugf("wallet connect - skip payload before approval:%v", payload.Raw)
			continue
		}
		return s.approve(payload)
	}
}

func (s *relaySession) approve(payload gjson.Result) ([]string, error) {
	if e := payload.Get("error"); e.Exists() {
		msg := e.Get("message").String()
		if strings.Contains(msg, "Session Rejected") {
			return nil, errSessionRejected
		}
		return nil, errors.New(msg)
	}
	result := payload.Get("result")
	if !result.Get("approved").Bool() {
		return nil, errSessionRejected
	}
	accounts := stringArray(result.Get("accounts"))
	if len(accounts) == 0 {
		return nil, errors.NewWithReport("no wallet accounts acquired")
	}
	s.mu.Lock()
	s.accounts = accounts
	s.chainID = int(result.Get("chainId").Int())
	s.peerID = result.Get("peerId").String()
	s.mu.Unlock()
	log.Infof("wallet connect - session approved by %s, chain %d", result.Get("peerMeta.name").String(), s.ChainID())
	return append([]string(nil), accounts...), nil
}

func (s *relaySession) displayQRCode() error {
	uri := s.URI()
	log.Debugf("wallet connect - generated uri:%v", uri)
	if s.opts.DisplayQR == nil {
		log.Infof("wallet connect - scan to connect:%v", uri)
		return nil
	}
	size := s.opts.QRCodeSize
	if size <= 0 {
		size = defaultQRCodeSize
	}
	png, err := qrcode.Encode(uri, qrcode.Medium, size)
	if err != nil {
		return errors.WrapAndReport(err, "encode wallet connect qr code")
	}
	return s.opts.DisplayQR(uri, png)
}

// Disconnect tells the wallet the session is over and closes the bridge connection.
func (s *relaySession) Disconnect(_ context.Context) error {
	if s.closed.Load() {
		return nil
	}
	if !s.connected.Load() {
		// 尚未配对，直接关闭链接，打断等待扫码的 Enable
		s.shutdown(nil)
		return nil
	}
	s.mu.Lock()
	peerID := s.peerID
	s.mu.Unlock()
	req := newJSONRpcRequest("wc_sessionUpdate", sessionUpdate{Approved: false})
	err := s.publish(peerID, req)
	if err != nil {
		log.Warnf("wallet connect - send session kill:%v", err)
	}
	s.shutdown(nil)
	return err
}

func (s *relaySession) Sign(ctx context.Context, address, message string) (string, error) {
	if !s.connected.Load() || s.closed.Load() {
		return "", errNotConnected
	}
	req := newJSONRpcRequest("eth_sign", address, message)
	ch := make(chan gjson.Result, 1)
	s.mu.Lock()
	s.pending[req.Id] = ch
	peerID := s.peerID
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, req.Id)
		s.mu.Unlock()
	}()

	if err := s.publish(peerID, req); err != nil {
		return "", err
	}
	select {
	case payload := <-ch:
		if e := payload.Get("error"); e.Exists() {
			return "", &RPCError{Code: int(e.Get("code").Int()), Message: e.Get("message").String()}
		}
		return payload.Get("result").String(), nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-s.done:
		return "", errSessionClosed
	}
}

// readLoop runs for the lifetime of an established session without a read
// deadline, the wallet may stay silent for hours.
func (s *relaySession) readLoop() {
	for {
		payload, err := s.readPayload(time.Time{})
		if err != nil {
			if s.closed.Load() {
				return
			}
			s.shutdown(err)
			return
		}
		s.handlePayload(payload)
	}
}

func (s *relaySession) handlePayload(payload gjson.Result) {
	if method := payload.Get("method").String(); method != "" {
		if method != "wc_sessionUpdate" {
			log.Debugf("wallet connect - ignore request %s", method)
			return
		}
		s.sessionUpdate(payload.Get("params.0"))
		return
	}
	id := payload.Get("id").Int()
	s.mu.Lock()
	ch, ok := s.pending[id]
	s.mu.Unlock()
	if !ok {
		log.Debugf("wallet connect - response for unknown request %v", id)
		return
	}
	select {
	case ch <- payload:
	default:
	}
}

func (s *relaySession) sessionUpdate(params gjson.Result) {
	if !params.Get("approved").Bool() {
		// 用户在钱包端断开链接
		log.Warnf("wallet connect - session closed by wallet:%v", params.Raw)
		s.shutdown(errSessionClosed)
		return
	}
	accounts := stringArray(params.Get("accounts"))
	chainID := int(params.Get("chainId").Int())

	s.mu.Lock()
	accountsChanged := len(accounts) > 0 && !equalStrings(accounts, s.accounts)
	chainChanged := chainID != 0 && chainID != s.chainID
	if accountsChanged {
		s.accounts = accounts
	}
	if chainChanged {
		s.chainID = chainID
	}
	s.mu.Unlock()

	if accountsChanged {
		s.emitter.Emit(EventAccountsChanged, append([]string(nil), accounts...))
	}
	if chainChanged {
		s.emitter.Emit(EventChainChanged, chainID)
	}
}

func (s *relaySession) shutdown(cause error) {
	if !s.closed.CAS(false, true) {
		return
	}
	close(s.done)
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	s.emitter.Emit(EventDisconnect, cause)
}

func (s *relaySession) dialWS(ctx context.Context) error {
	wsURL := wcutil.GetWebSocketUrl(s.bridgeURL, "wc", "1")
	dialer := websocket.Dialer{}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return errors.WrapAndReport(err, "dial to wallet connect bridge url")
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	if s.closed.Load() {
		conn.Close()
		return errSessionClosed
	}
	return nil
}

func (s *relaySession) send(msg *wcMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, msg.Marshal()); err != nil {
		return errors.Wrap(err, "write wallet connect message to server")
	}
	return nil
}

func (s *relaySession) subscribe() error {
	msg := &wcMessage{Topic: s.clientID, Type: "sub", Silent: true}
	log.Debugf("wallet connect - subscribe session:%s", msg.Marshal())
	return s.send(msg)
}

func (s *relaySession) ack() error {
	return s.send(&wcMessage{Topic: s.clientID, Type: "ack", Silent: true})
}

func (s *relaySession) publish(topic string, req *jsonRpcRequest) error {
	payload, err := wcutil.Encrypt(req.Marshal(), s.encryptionKey)
	if err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshal encrypted payload")
	}
	log.Debugf("wallet connect - publish %s to %s", req.Method, topic)
	return s.send(&wcMessage{
		Topic:   topic,
		Type:    "pub",
		Payload: string(data),
		Silent:  strings.HasPrefix(req.Method, "wc_"),
	})
}

// readPayload reads the next pub message and returns its decrypted json rpc
// payload. A zero deadline waits forever.
func (s *relaySession) readPayload(deadline time.Time) (gjson.Result, error) {
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return gjson.Result{}, errors.Wrap(err, "set websocket read timeout")
	}
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			return gjson.Result{}, errors.Wrap(err, "read session message")
		}
		switch msgType {
		case websocket.TextMessage:
		case websocket.CloseMessage:
			return gjson.Result{}, errSessionClosed
		default:
			log.Warnf("wallet connect - unsupported message type %d", msgType)
			continue
		}
		msg := gjson.ParseBytes(data)
		if msg.Get("type").String() != "pub" {
			continue
		}
		if err := s.ack(); err != nil {
			return gjson.Result{}, err
		}
		var encrypted wcutil.EncryptedPayload
		if err := json.Unmarshal([]byte(msg.Get("payload").String()), &encrypted); err != nil {
			log.Warnf("wallet connect - drop malformed payload:%v", err)
			continue
		}
		plain, err := wcutil.Decrypt(&encrypted, s.encryptionKey)
		if err != nil {
			log.Warnf("wallet connect - drop undecryptable payload:%v", err)
			continue
		}
		log.Debugf("wallet connect - receive:%s", plain)
		return gjson.ParseBytes(plain), nil
	}
}

func chainIDParam(chainID int) interface{} {
	if chainID == 0 {
		return nil
	}
	return chainID
}

func stringArray(r gjson.Result) []string {
	out := make([]string, 0)
	for _, v := range r.Array() {
		out = append(out, v.String())
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
