package natsx

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"ChatHub/tools/errs"
)

const MsgIDHeader = "Nats-Msg-Id"

// NatsxProducer 生产端
type NatsxProducer struct{ c *NatsxClient }

func NewNatsxProducer(c *NatsxClient) *NatsxProducer { return &NatsxProducer{c: c} }

// Publish 按 Biz 路由发送
func (p *NatsxProducer) Publish(ctx context.Context, biz string, data []byte, hdr map[string]string) error {
	r, ok := p.c.route(biz)
	if !ok {
		return errs.ErrArgs.WrapMsg("route not found", "biz", biz)
	}
	msg := buildMsg(r.Subject, data, hdr)
	switch r.Mode {
	case Core:
		if err := p.c.nc.PublishMsg(msg); err != nil {
			return errs.WrapMsg(err, "publish failed", "subject", r.Subject)
		}
		return nil
	case JetStream:
		ack, err := p.c.js.PublishMsg(msg, nats.Context(ctx))
		if err != nil {
			return errs.WrapMsg(err, "js publish failed", "subject", r.Subject)
		}
		p.c.log.Debug("published", zap.String("stream", ack.Stream), zap.Uint64("seq", ack.Sequence), zap.Bool("dup", ack.Duplicate))
		return nil
	default:
		return errs.ErrArgs.WrapMsg("unsupported mode", "mode", r.Mode)
	}
}

// PublishOnce：带 Nats-Msg-Id 的发布，JetStream 据此在去重窗口内丢弃重复
// - msgID 为空则自动生成
func (p *NatsxProducer) PublishOnce(ctx context.Context, biz string, data []byte, hdr map[string]string, msgID string) error {
	if hdr == nil {
		hdr = map[string]string{}
	}
	if msgID == "" {
		msgID = genMsgID()
	}
	hdr[MsgIDHeader] = msgID
	return p.Publish(ctx, biz, data, hdr)
}

// NatsxSyncPublisher 同步发布器（带重试）
type NatsxSyncPublisher struct {
	P       *NatsxProducer
	Retries int
	Backoff time.Duration
}

func (sp *NatsxSyncPublisher) PublishOnce(ctx context.Context, biz string, payload []byte, hdr map[string]string, msgID string) error {
	var err error
	for i := 0; i <= sp.Retries; i++ {
		err = sp.P.PublishOnce(ctx, biz, payload, hdr, msgID)
		if err == nil || errs.ErrArgs.Is(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sp.Backoff):
		}
	}
	return err
}

func buildMsg(subject string, data []byte, hdr map[string]string) *nats.Msg {
	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, v := range hdr {
		msg.Header.Set(k, v)
	}
	return msg
}

// 生成随机 msgID（16字节）
func genMsgID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
