package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"moff.io/wallet-connector/internal/config"
	"moff.io/wallet-connector/internal/connector"
	"moff.io/wallet-connector/pkg/common"
	"moff.io/wallet-connector/pkg/errors"
	"moff.io/wallet-connector/pkg/log"
)

const (
	accountKeyPrefix = "wallet:session:"
	defaultChannel   = "wallet_events"
)

// Store keeps the latest account of every session and fans notifications out
// over redis pub/sub.
type Store struct {
	client  client
	ttl     time.Duration
	channel string
}

func NewStore(c client, ttl time.Duration) *Store {
	return &Store{client: c, ttl: ttl, channel: defaultChannel}
}

func (s *Store) Apply(c *config.Configuration) {
	s.ttl = c.Sessions.TTL
	if c.Kafka.Topic != "" {
		s.channel = c.Kafka.Topic
	}
}

// Start clears snapshots left over by a previous run, sessions do not survive restarts.
func (s *Store) Start(ctx context.Context) {
	if err := deleteFromPrefix(ctx, s.client, accountKeyPrefix); err != nil {
		log.Warnf("clear account snapshots:%v", err)
	}
}

func accountKey(sessionID string) string {
	return accountKeyPrefix + sessionID + ":account"
}

func (s *Store) SaveAccount(ctx context.Context, sessionID string, account *connector.Account) error {
	if err := s.client.Set(ctx, accountKey(sessionID), common.MustGetJSONString(account), s.ttl).Err(); err != nil {
		return errors.WrapAndReport(err, "save account snapshot")
	}
	return nil
}

// Account returns the snapshot of sessionID, nil when there is none.
func (s *Store) Account(ctx context.Context, sessionID string) (*connector.Account, error) {
	raw, err := s.client.Get(ctx, accountKey(sessionID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WrapAndReport(err, "get account snapshot")
	}
	var account connector.Account
	if err := json.Unmarshal([]byte(raw), &account); err != nil {
		return nil, errors.Wrap(err, "decode account snapshot")
	}
	return &account, nil
}

func (s *Store) DeleteAccount(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, accountKey(sessionID)).Err()
}

// Publish updates the snapshot on wallet events and publishes rec to the channel.
func (s *Store) Publish(ctx context.Context, rec *connector.Record) error {
	if rec.Event != nil && rec.Event.Address != "" {
		err := s.SaveAccount(ctx, rec.SessionID, &connector.Account{
			Address: rec.Event.Address,
			Network: rec.Event.Network,
		})
		if err != nil {
			return err
		}
	}
	if err := s.client.Publish(ctx, s.channel, common.MustGetJSONString(rec)).Err(); err != nil {
		return errors.WrapAndReport(err, "publish wallet event")
	}
	return nil
}
