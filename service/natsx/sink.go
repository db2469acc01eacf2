package natsx

import (
	"context"
	"strconv"
	"time"

	"ChatHub/service/chat"
)

// Sink publishes chat events on <subject>.<kind>, one route per event kind.
type Sink struct {
	pub *NatsxSyncPublisher
}

var sinkKinds = []chat.EventType{chat.EventMessage, chat.EventSeen}

func NewSink(c *NatsxClient, subject string, mode NatsxMode) (*Sink, error) {
	for _, k := range sinkKinds {
		if err := c.RegisterRoute(NatsxRoute{Biz: string(k), Subject: SubjectFor(subject, k), Mode: mode}); err != nil {
			return nil, err
		}
	}
	return &Sink{pub: &NatsxSyncPublisher{P: NewNatsxProducer(c), Retries: 2, Backoff: 200 * time.Millisecond}}, nil
}

func (s *Sink) Publish(ctx context.Context, ev chat.SinkEvent) error {
	return s.pub.PublishOnce(ctx, string(ev.Kind), ev.Payload, Headers(ev), MsgID(ev))
}

func SubjectFor(base string, kind chat.EventType) string {
	return base + "." + string(kind)
}

func Headers(ev chat.SinkEvent) map[string]string {
	return map[string]string{
		"Chat-Event": string(ev.Kind),
		"Chat-Room":  strconv.FormatInt(ev.RoomID, 10),
	}
}

// MsgID 同一事件重复导出时得到相同的 id
func MsgID(ev chat.SinkEvent) string {
	return string(ev.Kind) + ":" + ev.Key
}
