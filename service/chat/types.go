package chat

import (
	"context"

	"ChatHub/module/chat/model"
)

// TokenValidator decodes a bearer token into the id of the user it was issued to.
type TokenValidator interface {
	Decode(ctx context.Context, token string) (int64, error)
}

// PersistenceGateway durably stores messages and seen-receipts.
// RecordSeen must be idempotent: recording the same pair twice keeps one record.
type PersistenceGateway interface {
	SaveMessage(ctx context.Context, msg model.NewMessage) (model.Message, error)
	RecordSeen(ctx context.Context, messageID, userID int64) error
}

// PresenceTracker mirrors room presence to an external store. Optional.
type PresenceTracker interface {
	Online(ctx context.Context, roomID, userID int64) error
	Offline(ctx context.Context, roomID, userID int64) error
}

// SinkEvent 已持久化并广播过的事件，导出给下游
type SinkEvent struct {
	Kind    EventType
	RoomID  int64
	Key     string // 去重 key
	Payload []byte
}

// EventSink exports events to downstream consumers. Optional.
type EventSink interface {
	Publish(ctx context.Context, ev SinkEvent) error
}

type Handler interface {
	Type() FrameType
	Handle(ctx context.Context, s *Session, f Frame) error
}
