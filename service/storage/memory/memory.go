// Package memory is a process-local PersistenceGateway for development and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"ChatHub/module/chat/model"
	"ChatHub/tools/errs"
	"ChatHub/tools/ids"
)

type seenKey struct{ message, user int64 }

type Gateway struct {
	mu       sync.RWMutex
	gen      *ids.Generator
	now      func() time.Time
	messages map[int64]model.Message
	order    []int64
	seen     map[seenKey]model.SeenReceipt
}

func New(nodeID int64) *Gateway {
	return &Gateway{
		gen:      ids.NewGenerator(nodeID),
		now:      time.Now,
		messages: make(map[int64]model.Message),
		seen:     make(map[seenKey]model.SeenReceipt),
	}
}

func (g *Gateway) SaveMessage(ctx context.Context, m model.NewMessage) (model.Message, error) {
	if err := ctx.Err(); err != nil {
		return model.Message{}, errs.Wrap(err)
	}
	msg := model.Message{
		ID:             g.gen.Next(),
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		FileURL:        m.FileURL,
		CreatedAt:      g.now().UTC(),
	}
	g.mu.Lock()
	g.messages[msg.ID] = msg
	g.order = append(g.order, msg.ID)
	g.mu.Unlock()
	return msg, nil
}

// RecordSeen keeps the first receipt for a (message, user) pair.
func (g *Gateway) RecordSeen(ctx context.Context, messageID, userID int64) error {
	if err := ctx.Err(); err != nil {
		return errs.Wrap(err)
	}
	k := seenKey{messageID, userID}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.seen[k]; ok {
		return nil
	}
	g.seen[k] = model.SeenReceipt{MessageID: messageID, UserID: userID, SeenAt: g.now().UTC()}
	return nil
}

// Messages returns the stored messages of a conversation in insertion order.
func (g *Gateway) Messages(conversationID int64) []model.Message {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []model.Message
	for _, id := range g.order {
		if m := g.messages[id]; m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	return out
}

func (g *Gateway) Seen(messageID, userID int64) (model.SeenReceipt, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.seen[seenKey{messageID, userID}]
	return r, ok
}

func (g *Gateway) SeenCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.seen)
}
