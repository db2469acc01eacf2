package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"ChatHub/module/chat/model"
	"ChatHub/service/chat/chattest"
	"ChatHub/tools/errs"
)

// tokens are "tok-<id>"
type stubValidator map[string]int64

func (v stubValidator) Decode(_ context.Context, token string) (int64, error) {
	id, ok := v[token]
	if !ok {
		return 0, errs.ErrTokenInvalid.Wrap()
	}
	return id, nil
}

type nopStore struct{}

func (nopStore) SaveMessage(_ context.Context, m model.NewMessage) (model.Message, error) {
	return model.Message{ID: 1, ConversationID: m.ConversationID, SenderID: m.SenderID, Content: m.Content}, nil
}
func (nopStore) RecordSeen(context.Context, int64, int64) error { return nil }

type recordingHandler struct {
	typ    FrameType
	mu     sync.Mutex
	frames []Frame
	fn     func(s *Session, f Frame)
}

func (h *recordingHandler) Type() FrameType { return h.typ }
func (h *recordingHandler) Handle(_ context.Context, s *Session, f Frame) error {
	h.mu.Lock()
	h.frames = append(h.frames, f)
	h.mu.Unlock()
	if h.fn != nil {
		h.fn(s, f)
	}
	return nil
}
func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.frames)
}

type recordingTracker struct {
	mu     sync.Mutex
	events []string
}

func (t *recordingTracker) Online(_ context.Context, _, _ int64) error {
	t.mu.Lock()
	t.events = append(t.events, "online")
	t.mu.Unlock()
	return nil
}
func (t *recordingTracker) Offline(_ context.Context, _, _ int64) error {
	t.mu.Lock()
	t.events = append(t.events, "offline")
	t.mu.Unlock()
	return nil
}

func newTestServer(opts ...Option) *Server {
	v := stubValidator{"tok-1": 1, "tok-2": 2, "tok-3": 3}
	return NewServer(Options{PersistTimeout: time.Second}, v, nopStore{}, opts...)
}

func start(s *Server, room, user int64, conn Conn, token string) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- s.Serve(room, user, conn, token) }()
	return ch
}

func wait(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish")
		return nil
	}
}

func TestSessionRejectsBadAuth(t *testing.T) {
	cases := []struct {
		name  string
		token string
		want  *errs.CodeError
	}{
		{"missing", "", &errs.ErrTokenMissing},
		{"invalid", "bogus", &errs.ErrTokenInvalid},
		{"subject mismatch", "tok-2", &errs.ErrSubjectMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer()
			conn := chattest.NewFakeConn("c")
			sess := s.NewSession(7, 1, conn)

			err := sess.Run(context.Background(), tc.token)
			if !tc.want.Is(err) {
				t.Fatalf("err = %v, want code %d", err, tc.want.Code)
			}
			code, _, ok := conn.Closed()
			if !ok || code != ClosePolicyViolation {
				t.Fatalf("close = %d %v, want policy violation", code, ok)
			}
			if sess.State() != StateClosed {
				t.Fatalf("state = %s", sess.State())
			}
			if st := s.Reg().Stats(); st.Conns != 0 {
				t.Fatal("rejected session touched the registry")
			}
			if len(conn.Sent()) != 0 {
				t.Fatal("rejected session received envelopes")
			}
		})
	}
}

func TestSessionJoinAndLeave(t *testing.T) {
	tracker := &recordingTracker{}
	s := newTestServer(WithPresenceTracker(tracker))
	a, b := chattest.NewFakeConn("a"), chattest.NewFakeConn("b")

	doneA := start(s, 7, 1, a, "tok-1")
	a.WaitFor(t, chattest.Type("online_list"))

	doneB := start(s, 7, 2, b, "tok-2")
	list := b.WaitFor(t, chattest.Type("online_list"))
	if users := list["users"].([]any); len(users) != 2 || users[0] != float64(1) || users[1] != float64(2) {
		t.Fatalf("online list = %v", list)
	}
	a.WaitFor(t, func(m map[string]any) bool {
		return m["type"] == "presence" && m["user_id"] == float64(2) && m["status"] == "online"
	})

	b.Hangup()
	if err := wait(t, doneB); err != nil {
		t.Fatalf("b run: %v", err)
	}
	a.WaitFor(t, func(m map[string]any) bool {
		return m["type"] == "presence" && m["user_id"] == float64(2) && m["status"] == "offline"
	})
	if code, _, ok := b.Closed(); !ok || code != CloseNormal {
		t.Fatalf("b close code = %d", code)
	}
	if got := s.Reg().OnlineUsers(7); len(got) != 1 || got[0] != 1 {
		t.Fatalf("online = %v", got)
	}

	a.Hangup()
	wait(t, doneA)
	if st := s.Reg().Stats(); st.Rooms != 0 {
		t.Fatalf("room not cleaned: %+v", st)
	}

	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	if len(tracker.events) != 4 {
		t.Fatalf("tracker events = %v", tracker.events)
	}
}

func TestSessionSupersededConnection(t *testing.T) {
	s := newTestServer()
	old, cur, peer := chattest.NewFakeConn("old"), chattest.NewFakeConn("new"), chattest.NewFakeConn("peer")

	donePeer := start(s, 7, 2, peer, "tok-2")
	peer.WaitFor(t, chattest.Type("online_list"))

	doneOld := start(s, 7, 1, old, "tok-1")
	old.WaitFor(t, chattest.Type("online_list"))

	doneNew := start(s, 7, 1, cur, "tok-1")
	cur.WaitFor(t, chattest.Type("online_list"))

	if err := wait(t, doneOld); err != nil {
		t.Fatalf("old run: %v", err)
	}
	if code, _, _ := old.Closed(); code != CloseSuperseded {
		t.Fatalf("old close code = %d", code)
	}
	if c, _ := s.Reg().Lookup(7, 1); c != cur {
		t.Fatal("registry lost the newer connection")
	}
	for _, m := range peer.OfType(t, "presence") {
		if m["user_id"] == float64(1) && m["status"] == "offline" {
			t.Fatal("superseded session broadcast offline")
		}
	}

	cur.Hangup()
	wait(t, doneNew)
	peer.WaitFor(t, func(m map[string]any) bool {
		return m["type"] == "presence" && m["user_id"] == float64(1) && m["status"] == "offline"
	})
	peer.Hangup()
	wait(t, donePeer)
}

func TestSessionIgnoresMalformedAndUnknownFrames(t *testing.T) {
	s := newTestServer()
	h := &recordingHandler{typ: FrameTyping}
	s.Router().Register(h)
	conn := chattest.NewFakeConn("c")
	done := start(s, 7, 1, conn, "tok-1")

	conn.Push(`garbage`)
	conn.Push(`{"type":"wave"}`)
	conn.Push(`{"type":"typing","status":"yes"}`)
	conn.Push(`{"type":"typing"}`)
	conn.Hangup()

	if err := wait(t, done); err != nil {
		t.Fatalf("run: %v", err)
	}
	if h.count() != 1 {
		t.Fatalf("handler saw %d frames, want 1", h.count())
	}
	if len(conn.OfType(t, "error")) != 0 {
		t.Fatal("malformed frames should not produce error envelopes")
	}
}

func TestSessionHandlerPanicStillCleansUp(t *testing.T) {
	s := newTestServer()
	s.Router().Register(&recordingHandler{typ: FrameTyping, fn: func(*Session, Frame) { panic("boom") }})
	a, b := chattest.NewFakeConn("a"), chattest.NewFakeConn("b")

	doneB := start(s, 7, 2, b, "tok-2")
	b.WaitFor(t, chattest.Type("online_list"))
	doneA := start(s, 7, 1, a, "tok-1")
	a.WaitFor(t, chattest.Type("online_list"))

	a.Push(`{"type":"typing"}`)
	err := wait(t, doneA)
	if errs.Code(err) != errs.ServerInternalError {
		t.Fatalf("err = %v, want panic error", err)
	}
	b.WaitFor(t, func(m map[string]any) bool {
		return m["type"] == "presence" && m["user_id"] == float64(1) && m["status"] == "offline"
	})
	if _, ok := s.Reg().Lookup(7, 1); ok {
		t.Fatal("panicking session left registry entry")
	}
	b.Hangup()
	wait(t, doneB)
}

func TestSessionReplyGoesToOwnConnection(t *testing.T) {
	s := newTestServer()
	s.Router().Register(&recordingHandler{typ: FrameSeen, fn: func(sess *Session, _ Frame) {
		sess.ReplyError(FrameSeen, errs.ErrPersistence.WrapMsg("db down"))
	}})
	a, b := chattest.NewFakeConn("a"), chattest.NewFakeConn("b")
	doneA := start(s, 7, 1, a, "tok-1")
	a.WaitFor(t, chattest.Type("online_list"))
	doneB := start(s, 7, 2, b, "tok-2")
	b.WaitFor(t, chattest.Type("online_list"))

	a.Push(`{"type":"seen","message_ids":[1]}`)
	e := a.WaitFor(t, chattest.Type("error"))
	if e["code"] != float64(errs.PersistenceError) || e["ref"] != "seen" || e["message"] != "persistence failed" {
		t.Fatalf("error envelope = %v", e)
	}
	if len(b.OfType(t, "error")) != 0 {
		t.Fatal("error envelope leaked to another member")
	}
	a.Hangup()
	b.Hangup()
	wait(t, doneA)
	wait(t, doneB)
}

func TestServerShutdownClosesSessions(t *testing.T) {
	s := newTestServer()
	a := chattest.NewFakeConn("a")
	done := start(s, 7, 1, a, "tok-1")
	a.WaitFor(t, chattest.Type("online_list"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	wait(t, done)
	if code, _, _ := a.Closed(); code != CloseGoingAway {
		t.Fatalf("close code = %d", code)
	}
}

func TestServerRefusesSessionsAfterShutdown(t *testing.T) {
	s := newTestServer()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	late := chattest.NewFakeConn("late")
	err := wait(t, start(s, 7, 1, late, "tok-1"))
	if !errs.ErrShuttingDown.Is(err) {
		t.Fatalf("Serve err = %v, want shutting down", err)
	}
	if code, _, ok := late.Closed(); !ok || code != CloseGoingAway {
		t.Fatalf("late conn closed=%v code=%d", ok, code)
	}
	if st := s.Reg().Stats(); st.Conns != 0 {
		t.Fatalf("registry = %+v", st)
	}
	if n := len(late.Sent()); n != 0 {
		t.Fatalf("late conn got %d envelopes", n)
	}
}

// gateValidator blocks Decode until release is closed.
type gateValidator struct {
	entered chan struct{}
	release chan struct{}
}

func (v gateValidator) Decode(context.Context, string) (int64, error) {
	v.entered <- struct{}{}
	<-v.release
	return 1, nil
}

func TestServerShutdownWaitsForAuthenticatingSession(t *testing.T) {
	v := gateValidator{entered: make(chan struct{}, 1), release: make(chan struct{})}
	tracker := &recordingTracker{}
	s := NewServer(Options{PersistTimeout: time.Second}, v, nopStore{}, WithPresenceTracker(tracker))

	a := chattest.NewFakeConn("a")
	done := start(s, 7, 1, a, "tok")
	<-v.entered

	shut := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		shut <- s.Shutdown(ctx)
	}()
	// 等 Shutdown 取完快照再放行认证
	time.Sleep(20 * time.Millisecond)
	close(v.release)

	if err := wait(t, done); !errs.ErrShuttingDown.Is(err) {
		t.Fatalf("Serve err = %v, want shutting down", err)
	}
	if err := <-shut; err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if code, _, ok := a.Closed(); !ok || code != CloseGoingAway {
		t.Fatalf("closed=%v code=%d", ok, code)
	}
	if st := s.Reg().Stats(); st.Conns != 0 {
		t.Fatalf("registry = %+v", st)
	}
	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	if len(tracker.events) != 0 {
		t.Fatalf("tracker events = %v", tracker.events)
	}
}
