package common

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// NewCutUUIDString returns uuid string that cut `-`.
func NewCutUUIDString() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

var (
	nodeOnce sync.Once
	node     *snowflake.Node
)

func idNode() *snowflake.Node {
	nodeOnce.Do(func() {
		n, err := snowflake.NewNode(1)
		if err != nil {
			log.Fatal(err)
		}
		node = n
	})
	return node
}

// NewSessionID returns a time ordered snowflake id in base58.
func NewSessionID() string {
	return idNode().Generate().Base58()
}

// DecodeTimeInSessionID returns when a NewSessionID id was generated.
func DecodeTimeInSessionID(id string) *time.Time {
	sid, err := snowflake.ParseBase58([]byte(id))
	if err != nil {
		log.Errorf("parse snowflake id %v:%v", id, err)
		return nil
	}
	t := time.Unix(0, sid.Time()*int64(time.Millisecond))
	return &t
}

func MustGetJSONString(m interface{}) string {
	if m == nil {
		return "{}"
	}
	data, err := json.Marshal(m)
	if err != nil {
		log.Error(err)
		return "{}"
	}
	return string(data)
}
