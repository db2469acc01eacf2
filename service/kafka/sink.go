package kafka

import (
	"context"
	"strconv"

	"github.com/Shopify/sarama"

	"ChatHub/service/chat"
	"ChatHub/tools/errs"
)

// Sink 同步生产者，按会话 ID 做 key，保证同一会话内事件有序
type Sink struct {
	client sarama.Client // nil when built from a bare producer
	prod   sarama.SyncProducer
	topic  string
}

// NewSink connects to the brokers, optionally ensures the topic and starts a sync producer.
func NewSink(c Config) (*Sink, error) {
	if len(c.Brokers) == 0 {
		return nil, errs.ErrArgs.WrapMsg("kafka brokers missing")
	}
	c.norm()
	client, err := sarama.NewClient(c.Brokers, BuildBaseConfig(c))
	if err != nil {
		return nil, errs.WrapMsg(err, "kafka client", "brokers", c.Brokers)
	}
	if c.EnsureTopic {
		admin, err := sarama.NewClusterAdminFromClient(client)
		if err != nil {
			_ = client.Close()
			return nil, errs.WrapMsg(err, "kafka admin")
		}
		if err := EnsureTopic(admin, c.Topic, c.PartitionsPerTopic, c.ReplicationFactor); err != nil {
			_ = client.Close()
			return nil, err
		}
	}
	p, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, errs.WrapMsg(err, "kafka producer")
	}
	return &Sink{client: client, prod: p, topic: c.Topic}, nil
}

func NewSinkWithProducer(p sarama.SyncProducer, topic string) *Sink {
	return &Sink{prod: p, topic: topic}
}

func (s *Sink) Publish(ctx context.Context, ev chat.SinkEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, _, err := s.prod.SendMessage(Message(s.topic, ev))
	if err != nil {
		return errs.WrapMsg(err, "kafka send", "topic", s.topic, "kind", ev.Kind)
	}
	return nil
}

func (s *Sink) Close() error {
	err := s.prod.Close()
	if s.client != nil && !s.client.Closed() {
		if cerr := s.client.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func Message(topic string, ev chat.SinkEvent) *sarama.ProducerMessage {
	return &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(strconv.FormatInt(ev.RoomID, 10)),
		Value: sarama.ByteEncoder(ev.Payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("chat-event"), Value: []byte(ev.Kind)},
			{Key: []byte("chat-key"), Value: []byte(ev.Key)},
		},
	}
}
