package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/Shopify/sarama"
	"github.com/Shopify/sarama/mocks"

	"ChatHub/service/chat"
)

func TestSinkPublish(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != `{"type":"message"}` {
			return errors.New("unexpected payload " + string(val))
		}
		return nil
	})

	s := NewSinkWithProducer(sp, "chat_events")
	err := s.Publish(context.Background(), chat.SinkEvent{
		Kind: chat.EventMessage, RoomID: 7, Key: "55", Payload: []byte(`{"type":"message"}`),
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestSinkPublishError(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	s := NewSinkWithProducer(sp, "chat_events")
	if err := s.Publish(context.Background(), chat.SinkEvent{Kind: chat.EventSeen}); !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Fatalf("err = %v", err)
	}
	_ = s.Close()
}

func TestSinkPublishCancelled(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	s := NewSinkWithProducer(sp, "chat_events")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Publish(ctx, chat.SinkEvent{}); err == nil {
		t.Fatal("expected ctx error")
	}
	_ = s.Close()
}

func TestMessageKeyedByRoom(t *testing.T) {
	m := Message("t", chat.SinkEvent{Kind: chat.EventSeen, RoomID: 42, Key: "seen:2:55"})
	k, _ := m.Key.Encode()
	if m.Topic != "t" || string(k) != "42" {
		t.Fatalf("msg = %+v key=%s", m, k)
	}
	if len(m.Headers) != 2 || string(m.Headers[0].Value) != "seen" {
		t.Fatalf("headers = %+v", m.Headers)
	}
}

func TestBuildBaseConfig(t *testing.T) {
	c := Config{ProducerCompression: "lz4"}
	c.norm()
	cfg := BuildBaseConfig(c)
	if cfg.Producer.Compression != sarama.CompressionLZ4 || !cfg.Producer.Return.Successes {
		t.Fatalf("producer config = %+v", cfg.Producer)
	}
	if c.Topic != "chat_events" || c.ProducerRetries != 3 {
		t.Fatalf("norm = %+v", c)
	}
}
