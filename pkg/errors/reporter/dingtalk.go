package reporter

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const msgTypeText = "text"

type textParams struct {
	Content string `json:"content"`
}

type atParams struct {
	AtMobiles []string `json:"atMobiles,omitempty"`
	IsAtAll   bool     `json:"isAtAll"`
}

type textMessage struct {
	MsgType string     `json:"msgtype"`
	Text    textParams `json:"text"`
	At      atParams   `json:"at"`
}

// DingTalkRobot 钉钉群自定义机器人，只用于发送错误文本
type DingTalkRobot interface {
	SendText(content string, atMobiles []string, isAtAll bool) error
	WithSecret(secret string) DingTalkRobot
}

type dingTalkRobot struct {
	webHook string
	secret  string
	client  *http.Client
	now     func() time.Time
}

// NewDingTalkRobot webHook 为带 access_token 的机器人地址
func NewDingTalkRobot(webHook string) DingTalkRobot {
	return &dingTalkRobot{
		webHook: webHook,
		client:  &http.Client{Timeout: time.Second * 10},
		now:     time.Now,
	}
}

// WithSecret 开启加签，请求地址附带 timestamp 与 sign
func (r *dingTalkRobot) WithSecret(secret string) DingTalkRobot {
	r.secret = secret
	return r
}

func (r *dingTalkRobot) SendText(content string, atMobiles []string, isAtAll bool) error {
	return r.send(&textMessage{
		MsgType: msgTypeText,
		Text:    textParams{Content: content},
		At: atParams{
			AtMobiles: atMobiles,
			IsAtAll:   isAtAll,
		},
	})
}

type dingResponse struct {
	Errcode int    `json:"errcode"`
	Errmsg  string `json:"errmsg"`
}

func (r *dingTalkRobot) send(msg interface{}) error {
	m, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	resp, err := r.client.Post(r.signedURL(), "application/json", bytes.NewReader(m))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("dingtalk robot status %d: %s", resp.StatusCode, data)
	}
	var dr dingResponse
	if err := json.Unmarshal(data, &dr); err != nil {
		return err
	}
	if dr.Errcode != 0 {
		return fmt.Errorf("dingtalk robot send failed: %v", dr.Errmsg)
	}
	return nil
}

func (r *dingTalkRobot) signedURL() string {
	if r.secret == "" {
		return r.webHook
	}
	timestamp := strconv.FormatInt(r.now().UnixNano()/1e6, 10)
	sep := "?"
	if strings.Contains(r.webHook, "?") {
		sep = "&"
	}
	sign := url.QueryEscape(calcHmacSha256(timestamp+"\n"+r.secret, r.secret))
	return r.webHook + sep + "timestamp=" + timestamp + "&sign=" + sign
}

func calcHmacSha256(message string, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
