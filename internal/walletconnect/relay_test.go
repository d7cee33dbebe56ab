package walletconnect

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"moff.io/wallet-connector/internal/connector"
	"moff.io/wallet-connector/pkg/wcutil"
)

// fakeWallet plays both the bridge and the wallet: it reads the key from the
// pairing uri, approves the session and signs with signer.
type fakeWallet struct {
	t       *testing.T
	server  *httptest.Server
	keys    chan []byte
	signer  *ecdsa.PrivateKey
	address string
	approve bool

	mu      sync.Mutex
	conn    *websocket.Conn
	key     []byte
	dappID  string
	subs    []string
	updates chan gjson.Result
}

func newFakeWallet(t *testing.T, approve bool) *fakeWallet {
	signer, address := testKey(t)
	w := &fakeWallet{
		t:       t,
		keys:    make(chan []byte, 1),
		signer:  signer,
		address: address,
		approve: approve,
		updates: make(chan gjson.Result, 4),
	}
	upgrader := websocket.Upgrader{}
	w.server = httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "wc", r.URL.Query().Get("protocol"))
		conn, err := upgrader.Upgrade(rw, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		w.mu.Lock()
		w.conn = conn
		w.mu.Unlock()
		w.serve(conn)
	}))
	return w
}

// displayQR hands the key of the pairing uri to the wallet side.
func (w *fakeWallet) displayQR(uri string, png []byte) error {
	assert.NotEmpty(w.t, png)
	i := strings.LastIndex(uri, "key=")
	key, err := hex.DecodeString(uri[i+len("key="):])
	if err != nil {
		return err
	}
	w.keys <- key
	return nil
}

func (w *fakeWallet) serve(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg := gjson.ParseBytes(data)
		switch msg.Get("type").String() {
		case "sub":
			w.mu.Lock()
			w.subs = append(w.subs, msg.Get("topic").String())
			w.mu.Unlock()
			continue
		case "ack":
			continue
		}
		w.mu.Lock()
		if w.key == nil {
			w.mu.Unlock()
			key := <-w.keys
			w.mu.Lock()
			w.key = key
		}
		key := w.key
		w.mu.Unlock()

		var encrypted wcutil.EncryptedPayload
		require.NoError(w.t, json.Unmarshal([]byte(msg.Get("payload").String()), &encrypted))
		plain, err := wcutil.Decrypt(&encrypted, key)
		require.NoError(w.t, err)
		req := gjson.ParseBytes(plain)

		switch req.Get("method").String() {
		case "wc_sessionRequest":
			w.mu.Lock()
			w.dappID = req.Get("params.0.peerId").String()
			w.mu.Unlock()
			if !w.approve {
				w.reply(req.Get("id").Int(), `"error":{"code":-32000,"message":"Session Rejected"}`)
				continue
			}
			w.reply(req.Get("id").Int(), `"result":{"approved":true,"chainId":1,"networkId":0,"accounts":["`+w.address+
				`"],"peerId":"wallet-peer","peerMeta":{"name":"Fake Wallet"}}`)
		case "eth_sign":
			msgText := req.Get("params.1").String()
			w.reply(req.Get("id").Int(), `"result":"`+sign(w.t, w.signer, msgText)+`"`)
		case "wc_sessionUpdate":
			assert.Equal(w.t, "wallet-peer", msg.Get("topic").String())
			w.updates <- req.Get("params.0")
		}
	}
}

// reply publishes an encrypted json rpc response to the dapp.
func (w *fakeWallet) reply(id int64, body string) {
	w.publish(`{"id":` + jsonInt(id) + `,"jsonrpc":"2.0",` + body + `}`)
}

func (w *fakeWallet) publish(rpc string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	encrypted, err := wcutil.Encrypt([]byte(rpc), w.key)
	require.NoError(w.t, err)
	payload, err := json.Marshal(encrypted)
	require.NoError(w.t, err)
	msg := wcMessage{Topic: w.dappID, Type: "pub", Payload: string(payload), Silent: true}
	require.NoError(w.t, w.conn.WriteMessage(websocket.TextMessage, msg.Marshal()))
}

func jsonInt(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}

func (w *fakeWallet) options() connector.ProviderOptions {
	return connector.ProviderOptions{
		ProjectID:   "pid",
		BridgeURL:   w.server.URL,
		ChainID:     1,
		Metadata:    connector.ClientMeta{Name: "wallet connector test"},
		ReadTimeout: 5 * time.Second,
		DisplayQR:   w.displayQR,
	}
}

func TestRelaySessionLifecycle(t *testing.T) {
	wallet := newFakeWallet(t, true)
	defer wallet.server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	session, err := NewRelaySession(ctx, wallet.options())
	require.NoError(t, err)

	events := make(chan string, 8)
	session.On(EventConnect, func(args ...interface{}) {
		assert.Equal(t, 1, args[1])
		events <- EventConnect
	})
	session.On(EventAccountsChanged, func(args ...interface{}) {
		events <- EventAccountsChanged + ":" + args[0].([]string)[0]
	})
	session.On(EventChainChanged, func(args ...interface{}) {
		assert.Equal(t, 137, args[0])
		events <- EventChainChanged
	})
	disconnected := make(chan error, 1)
	session.On(EventDisconnect, func(args ...interface{}) {
		err, _ := args[0].(error)
		disconnected <- err
	})

	accounts, err := session.Enable(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{wallet.address}, accounts)
	assert.Equal(t, 1, session.ChainID())
	assert.Equal(t, EventConnect, <-events)

	// enabling again does not pair again
	again, err := session.Enable(ctx)
	require.NoError(t, err)
	assert.Equal(t, accounts, again)

	signature, err := session.Sign(ctx, wallet.address, "Sign in to moff")
	require.NoError(t, err)
	assert.True(t, VerifySignature(wallet.address, signature, []byte("Sign in to moff")))

	wallet.publish(`{"id":1,"jsonrpc":"2.0","method":"wc_sessionUpdate","params":[{"approved":true,"chainId":137,"accounts":["0xdef"]}]}`)
	assert.Equal(t, EventAccountsChanged+":0xdef", <-events)
	assert.Equal(t, EventChainChanged, <-events)
	assert.Equal(t, []string{"0xdef"}, session.Accounts())
	assert.Equal(t, 137, session.ChainID())

	require.NoError(t, session.Disconnect(ctx))
	select {
	case update := <-wallet.updates:
		assert.False(t, update.Get("approved").Bool())
	case <-ctx.Done():
		t.Fatal("session kill not received")
	}
	assert.NoError(t, <-disconnected)
	assert.NoError(t, session.Disconnect(ctx))

	_, err = session.Sign(ctx, wallet.address, "again")
	assert.Error(t, err)
}

func TestRelaySessionClosedByWallet(t *testing.T) {
	wallet := newFakeWallet(t, true)
	defer wallet.server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	session, err := NewRelaySession(ctx, wallet.options())
	require.NoError(t, err)
	disconnected := make(chan error, 1)
	session.On(EventDisconnect, func(args ...interface{}) {
		err, _ := args[0].(error)
		disconnected <- err
	})
	_, err = session.Enable(ctx)
	require.NoError(t, err)

	wallet.publish(`{"id":2,"jsonrpc":"2.0","method":"wc_sessionUpdate","params":[{"approved":false,"chainId":null,"accounts":null}]}`)
	select {
	case err := <-disconnected:
		assert.Error(t, err)
	case <-ctx.Done():
		t.Fatal("disconnect not emitted")
	}
}

func TestRelaySessionRejected(t *testing.T) {
	wallet := newFakeWallet(t, false)
	defer wallet.server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	session, err := NewRelaySession(ctx, wallet.options())
	require.NoError(t, err)

	_, err = session.Enable(ctx)
	assert.ErrorIs(t, err, errSessionRejected)
	assert.Empty(t, session.Accounts())

	wallet.mu.Lock()
	defer wallet.mu.Unlock()
	require.Len(t, wallet.subs, 1)
	assert.Equal(t, wallet.dappID, wallet.subs[0])
}

func TestRelayConnectorEndToEnd(t *testing.T) {
	wallet := newFakeWallet(t, true)
	defer wallet.server.Close()

	opts := wallet.options()
	opts.SignMessage = "Sign in to moff"
	c := New()
	res, err := c.Connect(context.Background(), &connector.Options{
		Providers:   map[string]connector.ProviderOptions{"walletconnect": opts},
		UseProvider: "walletconnect",
	})
	require.NoError(t, err)
	assert.True(t, res.Connected)

	account, err := c.GetAccounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, wallet.address, account.Address)
	assert.Equal(t, "eth", account.Network.Key)

	require.NoError(t, c.Unsubscribe(context.Background()))
}
