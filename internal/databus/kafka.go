package databus

import (
	"context"
	"strings"

	"gopkg.in/Shopify/sarama.v1"
	"moff.io/wallet-connector/internal/config"
	"moff.io/wallet-connector/internal/connector"
	"moff.io/wallet-connector/pkg/common"
	"moff.io/wallet-connector/pkg/errors"
	"moff.io/wallet-connector/pkg/log"
)

type Event interface {
	Serialize() []byte
	Topic() string
	// Key keeps the events of one session in one partition.
	Key() string
}

type DataBus struct {
	producer sarama.SyncProducer
}

func NewDataBus(producer sarama.SyncProducer) *DataBus {
	return &DataBus{producer: producer}
}

// Dial creates a sync producer to the comma separated brokers in host.
func Dial(host string) (*DataBus, error) {
	hosts := strings.Split(host, ",")
	conf := sarama.NewConfig()
	conf.Producer.Return.Successes = true
	p, err := sarama.NewSyncProducer(hosts, conf)
	if err != nil {
		return nil, errors.WrapAndReport(err, "create kafka producer")
	}
	log.Info("Kafka producer initialized...")
	return &DataBus{producer: p}, nil
}

func (db *DataBus) PublishRaw(topic, key string, raw []byte) error {
	if len(raw) == 0 {
		return nil
	}
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(raw),
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}
	partition, offset, err := db.producer.SendMessage(msg)
	if err != nil {
		return errors.WrapAndReport(err, "produce message")
	}
	log.Debugf("produce message success-partition: %d, offset: %d", partition, offset)
	return nil
}

func (db *DataBus) Publish(e Event) error {
	return db.PublishRaw(e.Topic(), e.Key(), e.Serialize())
}

func (db *DataBus) Close() error {
	return db.producer.Close()
}

type walletEvent struct {
	topic  string
	record *connector.Record
}

func (e walletEvent) Serialize() []byte {
	return []byte(common.MustGetJSONString(e.record))
}

func (e walletEvent) Topic() string {
	return e.topic
}

func (e walletEvent) Key() string {
	return e.record.SessionID
}

// Sink publishes every session notification to a kafka topic.
type Sink struct {
	topic string
	bus   *DataBus
}

func NewSink(bus *DataBus, topic string) *Sink {
	return &Sink{bus: bus, topic: topic}
}

// Apply picks the topic from the configuration.
func (s *Sink) Apply(c *config.Configuration) {
	if c.Kafka.Topic != "" {
		s.topic = c.Kafka.Topic
	}
}

func (s *Sink) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		if err := s.bus.Close(); err != nil {
			log.Warnf("close kafka producer:%v", err)
		}
	}()
}

func (s *Sink) Publish(_ context.Context, rec *connector.Record) error {
	return s.bus.Publish(walletEvent{topic: s.topic, record: rec})
}
