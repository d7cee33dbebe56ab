package wcutil

import (
	"encoding/hex"
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"time"
)

// 会话建立流程：
// 第一步：与bridge建立websocket链接，订阅clientID对应的topic
// 第二步：构建wc_sessionRequest的jsonrpc请求，加密后发布至handshake topic
// 第三步：展示二维码，等待钱包响应，之后监听wc_sessionUpdate

const (
	alphanumerical  = "abcdefghijklmnopqrstuvwxyz0123456789"
	bridgeURLFormat = "https://%v.bridge.walletconnect.org"
)

var bridgeRand = rand.New(rand.NewSource(time.Now().UnixNano()))

// RandomBridgeURL picks one of the public v1 bridges.
func RandomBridgeURL() string {
	n := bridgeRand.Intn(len(alphanumerical))
	return fmt.Sprintf(bridgeURLFormat, string(alphanumerical[n]))
}

// GetWebSocketUrl converts a bridge URL into the websocket endpoint.
func GetWebSocketUrl(bridgeURL, protocol, version string) string {
	switch {
	case strings.HasPrefix(bridgeURL, "https"):
		bridgeURL = strings.Replace(bridgeURL, "https", "wss", 1)
	case strings.HasPrefix(bridgeURL, "http"):
		bridgeURL = strings.Replace(bridgeURL, "http", "ws", 1)
	}
	q := url.Values{}
	q.Set("protocol", protocol)
	q.Set("version", version)
	q.Set("env", "server")
	return bridgeURL + "?" + q.Encode()
}

// SessionURI builds the `wc:` uri scanned by the wallet.
func SessionURI(handshakeTopic, bridgeURL string, key []byte) string {
	return fmt.Sprintf("wc:%s@1?bridge=%s&key=%s",
		handshakeTopic, url.QueryEscape(bridgeURL), hex.EncodeToString(key))
}
