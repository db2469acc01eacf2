package handlers

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"ChatHub/module/chat/model"
	"ChatHub/service/chat"
	"ChatHub/service/chat/chattest"
	"ChatHub/service/storage/memory"
	"ChatHub/tools/errs"
)

type tokens map[string]int64

func (v tokens) Decode(_ context.Context, token string) (int64, error) {
	if id, ok := v[token]; ok {
		return id, nil
	}
	return 0, errs.ErrTokenInvalid.Wrap()
}

// flakyStore wraps the memory gateway with switchable failures.
type flakyStore struct {
	*memory.Gateway
	mu         sync.Mutex
	failSave   bool
	failSeenID map[int64]bool
	seenDelay  time.Duration
}

func (s *flakyStore) SaveMessage(ctx context.Context, m model.NewMessage) (model.Message, error) {
	s.mu.Lock()
	fail := s.failSave
	s.mu.Unlock()
	if fail {
		return model.Message{}, errors.New("db down")
	}
	return s.Gateway.SaveMessage(ctx, m)
}

func (s *flakyStore) RecordSeen(ctx context.Context, messageID, userID int64) error {
	s.mu.Lock()
	fail := s.failSeenID[messageID]
	delay := s.seenDelay
	s.mu.Unlock()
	if fail {
		return errors.New("db down")
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.Gateway.RecordSeen(ctx, messageID, userID)
}

type recordingSink struct {
	mu     sync.Mutex
	events []chat.SinkEvent
	got    chan struct{}
}

func (s *recordingSink) Publish(_ context.Context, ev chat.SinkEvent) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	s.got <- struct{}{}
	return nil
}

type room struct {
	t     *testing.T
	srv   *chat.Server
	store *flakyStore
	sink  *recordingSink
	done  map[int64]<-chan error
}

func newRoom(t *testing.T) *room { return newRoomWithTimeout(t, time.Second) }

func newRoomWithTimeout(t *testing.T, persist time.Duration) *room {
	store := &flakyStore{Gateway: memory.New(1), failSeenID: map[int64]bool{}}
	sink := &recordingSink{got: make(chan struct{}, 16)}
	srv := chat.NewServer(chat.Options{PersistTimeout: persist},
		tokens{"tok-1": 1, "tok-2": 2}, store, chat.WithEventSink(sink))
	RegisterDefaults(srv.Router())
	return &room{t: t, srv: srv, store: store, sink: sink, done: map[int64]<-chan error{}}
}

func (r *room) join(user int64, token string) *chattest.FakeConn {
	conn := chattest.NewFakeConn(token)
	ch := make(chan error, 1)
	go func() { ch <- r.srv.Serve(7, user, conn, token) }()
	r.done[user] = ch
	conn.WaitFor(r.t, chattest.Type("online_list"))
	return conn
}

func (r *room) leave(user int64, conn *chattest.FakeConn) {
	conn.Hangup()
	select {
	case <-r.done[user]:
	case <-time.After(2 * time.Second):
		r.t.Fatalf("session %d did not end", user)
	}
}

func isType(typ string, kv ...any) func(map[string]any) bool {
	return func(m map[string]any) bool {
		if m["type"] != typ {
			return false
		}
		for i := 0; i+1 < len(kv); i += 2 {
			if m[kv[i].(string)] != kv[i+1] {
				return false
			}
		}
		return true
	}
}

func TestMessageBroadcastToRoom(t *testing.T) {
	r := newRoom(t)
	a := r.join(1, "tok-1")
	b := r.join(2, "tok-2")
	a.WaitFor(t, isType("presence", "user_id", float64(2), "status", "online"))

	a.Push(`{"type":"message","content":"hi"}`)
	for _, c := range []*chattest.FakeConn{a, b} {
		env := c.WaitFor(t, chattest.Type("message"))
		msg := env["message"].(map[string]any)
		if msg["content"] != "hi" || msg["sender_id"] != float64(1) || msg["conversation_id"] != float64(7) {
			t.Fatalf("message = %v", msg)
		}
		if msg["id"] == nil || msg["created_at"] == nil || msg["file_url"] != nil {
			t.Fatalf("message identity missing: %v", msg)
		}
	}
	if got := r.store.Messages(7); len(got) != 1 {
		t.Fatalf("stored = %d", len(got))
	}

	select {
	case <-r.sink.got:
	case <-time.After(2 * time.Second):
		t.Fatal("message not exported")
	}
	r.sink.mu.Lock()
	ev := r.sink.events[0]
	r.sink.mu.Unlock()
	if ev.Kind != chat.EventMessage || ev.RoomID != 7 {
		t.Fatalf("exported = %+v", ev)
	}

	r.leave(1, a)
	r.leave(2, b)
}

func TestTypingExcludesSender(t *testing.T) {
	r := newRoom(t)
	a := r.join(1, "tok-1")
	b := r.join(2, "tok-2")

	b.Push(`{"type":"typing"}`)
	a.WaitFor(t, isType("typing", "user_id", float64(2), "status", true))

	b.Push(`{"type":"typing","status":false}`)
	a.WaitFor(t, isType("typing", "user_id", float64(2), "status", false))

	// frames are handled in order, so once b sees its own message any typing echo would already be there
	b.Push(`{"type":"message","content":"done"}`)
	b.WaitFor(t, chattest.Type("message"))
	if n := len(b.OfType(t, "typing")); n != 0 {
		t.Fatalf("sender received %d typing envelopes", n)
	}
	r.leave(1, a)
	r.leave(2, b)
}

func TestSeenRecordsAndBroadcasts(t *testing.T) {
	r := newRoom(t)
	a := r.join(1, "tok-1")
	b := r.join(2, "tok-2")

	a.Push(`{"type":"message","content":"hi"}`)
	id := b.WaitFor(t, chattest.Type("message"))["message"].(map[string]any)["id"].(float64)
	msgID := int64(id)

	b.Push(`{"type":"seen","message_ids":[` + itoa(msgID) + `,` + itoa(msgID) + `]}`)
	for _, c := range []*chattest.FakeConn{a, b} {
		env := c.WaitFor(t, isType("seen", "user_id", float64(2)))
		ids := env["message_ids"].([]any)
		if len(ids) != 1 || ids[0] != id {
			t.Fatalf("seen ids = %v", ids)
		}
	}

	b.Push(`{"type":"seen","message_ids":[` + itoa(msgID) + `]}`)
	waitCount(t, a, "seen", 2)
	if r.store.SeenCount() != 1 {
		t.Fatalf("receipts = %d, want 1", r.store.SeenCount())
	}
	r.leave(1, a)
	r.leave(2, b)
}

func TestDisconnectBroadcastsOffline(t *testing.T) {
	r := newRoom(t)
	a := r.join(1, "tok-1")
	b := r.join(2, "tok-2")

	r.leave(2, b)
	a.WaitFor(t, isType("presence", "user_id", float64(2), "status", "offline"))
	if got := r.srv.Reg().OnlineUsers(7); len(got) != 1 || got[0] != 1 {
		t.Fatalf("online = %v", got)
	}

	// 已离线用户收不到定向推送
	before := r.srv.Disp().Stats()
	r.srv.Disp().SendTo(7, 2, chat.TypingEvent{UserID: 1, Status: true})
	r.srv.Disp().SendTo(7, 1, chat.TypingEvent{UserID: 2, Status: true})
	a.WaitFor(t, isType("typing", "user_id", float64(2)))
	if after := r.srv.Disp().Stats(); after.Delivered != before.Delivered+1 {
		t.Fatalf("stats before %+v after %+v", before, after)
	}
	r.leave(1, a)
}

func TestMessagePersistenceFailure(t *testing.T) {
	r := newRoom(t)
	a := r.join(1, "tok-1")
	b := r.join(2, "tok-2")

	r.store.mu.Lock()
	r.store.failSave = true
	r.store.mu.Unlock()

	a.Push(`{"type":"message","content":"lost"}`)
	e := a.WaitFor(t, chattest.Type("error"))
	if e["code"] != float64(errs.PersistenceError) || e["ref"] != "message" {
		t.Fatalf("error = %v", e)
	}

	// b must not see the failed message; a later typing frame proves b's queue is caught up
	a.Push(`{"type":"typing"}`)
	b.WaitFor(t, chattest.Type("typing"))
	if len(b.OfType(t, "message")) != 0 || len(b.OfType(t, "error")) != 0 {
		t.Fatal("failed message leaked to room")
	}
	r.leave(1, a)
	r.leave(2, b)
}

func TestEmptyMessageRejected(t *testing.T) {
	r := newRoom(t)
	a := r.join(1, "tok-1")

	a.Push(`{"type":"message"}`)
	a.Push(`{"type":"message","content":"   "}`)
	waitCount(t, a, "error", 2)
	for _, e := range a.OfType(t, "error") {
		if e["code"] != float64(errs.EmptyMessageError) {
			t.Fatalf("error = %v", e)
		}
	}
	if len(r.store.Messages(7)) != 0 {
		t.Fatal("empty message stored")
	}

	a.Push(`{"type":"message","file_url":"https://cdn/x.png"}`)
	env := a.WaitFor(t, chattest.Type("message"))
	if env["message"].(map[string]any)["file_url"] != "https://cdn/x.png" {
		t.Fatalf("message = %v", env)
	}
	r.leave(1, a)
}

func TestSeenPartialFailure(t *testing.T) {
	r := newRoom(t)
	a := r.join(1, "tok-1")
	b := r.join(2, "tok-2")
	r.store.mu.Lock()
	r.store.failSeenID[11] = true
	r.store.failSeenID[12] = true
	r.store.mu.Unlock()

	b.Push(`{"type":"seen","message_ids":[10,11]}`)
	env := a.WaitFor(t, chattest.Type("seen"))
	if ids := env["message_ids"].([]any); len(ids) != 1 || ids[0] != float64(10) {
		t.Fatalf("seen ids = %v", ids)
	}

	b.Push(`{"type":"seen","message_ids":[11,12]}`)
	e := b.WaitFor(t, chattest.Type("error"))
	if e["code"] != float64(errs.PersistenceError) || e["ref"] != "seen" {
		t.Fatalf("error = %v", e)
	}

	b.Push(`{"type":"seen","message_ids":[]}`)
	b.Push(`{"type":"typing"}`)
	a.WaitFor(t, chattest.Type("typing"))
	if n := len(a.OfType(t, "seen")); n != 1 {
		t.Fatalf("a got %d seen envelopes, want 1", n)
	}
	r.leave(1, a)
	r.leave(2, b)
}

func TestSeenBatchTimeoutIsPerReceipt(t *testing.T) {
	r := newRoomWithTimeout(t, 150*time.Millisecond)
	a := r.join(1, "tok-1")
	r.store.mu.Lock()
	r.store.seenDelay = 60 * time.Millisecond
	r.store.mu.Unlock()

	// 四次写入合计超过单次超时，每次都在自己的超时内
	a.Push(`{"type":"seen","message_ids":[1,2,3,4]}`)
	env := a.WaitFor(t, chattest.Type("seen"))
	if ids := env["message_ids"].([]any); len(ids) != 4 {
		t.Fatalf("seen ids = %v", ids)
	}
	if n := r.store.SeenCount(); n != 4 {
		t.Fatalf("receipts = %d, want 4", n)
	}
	r.leave(1, a)
}

func waitCount(t *testing.T, c *chattest.FakeConn, typ string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for len(c.OfType(t, typ)) < n {
		if time.Now().After(deadline) {
			t.Fatalf("want %d %s envelopes, got %d", n, typ, len(c.OfType(t, typ)))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }
