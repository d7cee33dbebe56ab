package database

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"moff.io/wallet-connector/internal/connector"
	"moff.io/wallet-connector/pkg/errors"
)

// WalletSession 会话最近一次确认的账户
type WalletSession struct {
	ID        string `gorm:"primaryKey;type:varchar(32)"`
	Kind      string `gorm:"type:varchar(32);index"`
	Address   string `gorm:"type:varchar(64);index"`
	ChainID   int    `gorm:"type:int8"`
	LastEvent string `gorm:"type:varchar(32)"`
	CreatedAt int64  `gorm:"type:int8"`
	UpdatedAt int64  `gorm:"type:int8"`
}

// WalletEvent 会话通知流水
type WalletEvent struct {
	ID        int64    `gorm:"primaryKey"`
	SessionID string   `gorm:"type:varchar(32);index"`
	Name      string   `gorm:"type:varchar(32)"`
	Address   string   `gorm:"type:varchar(64)"`
	ChainID   int      `gorm:"type:int8"`
	ErrorCode int      `gorm:"type:int4"`
	Detail    JSONBMap `gorm:"type:jsonb"`
	CreatedAt int64    `gorm:"type:int8;index"`
}

func NewWalletEvent(rec *connector.Record) *WalletEvent {
	ev := &WalletEvent{
		SessionID: rec.SessionID,
		Name:      rec.Name(),
		CreatedAt: rec.Time.UnixMilli(),
		Detail:    JSONBMap{"kind": string(rec.Kind)},
	}
	if e := rec.Event; e != nil {
		ev.Address = e.Address
		if e.Network != nil {
			ev.ChainID = e.Network.ChainID
			ev.Detail["network"] = e.Network.Key
		}
	}
	if e := rec.Err; e != nil {
		ev.Address = e.Address
		ev.ErrorCode = e.Code
		ev.Detail["subtitle"] = e.Subtitle
		ev.Detail["message"] = e.Message
	}
	return ev
}

// NewWalletSession 仅对携带地址的事件返回快照
func NewWalletSession(rec *connector.Record) *WalletSession {
	if rec.Event == nil || rec.Event.Address == "" {
		return nil
	}
	s := &WalletSession{
		ID:        rec.SessionID,
		Kind:      string(rec.Kind),
		Address:   rec.Event.Address,
		LastEvent: string(rec.Event.Name),
		CreatedAt: rec.Time.UnixMilli(),
		UpdatedAt: rec.Time.UnixMilli(),
	}
	if rec.Event.Network != nil {
		s.ChainID = rec.Event.Network.ChainID
	}
	return s
}

// Sink 将会话通知写入 postgres
type Sink struct {
	db *gorm.DB
}

func NewSink(db *gorm.DB) *Sink {
	return &Sink{db: db}
}

func (s *Sink) Publish(ctx context.Context, rec *connector.Record) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(NewWalletEvent(rec)).Error; err != nil {
			return errors.WrapAndReport(err, "create wallet event")
		}
		session := NewWalletSession(rec)
		if session == nil {
			return nil
		}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"address", "chain_id", "last_event", "updated_at"}),
		}).Create(session).Error
		return errors.WrapAndReport(err, "upsert wallet session")
	})
}
