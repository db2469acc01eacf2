package chat

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"ChatHub/tools/errs"
	"ChatHub/tools/safe"
)

type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateRunning
	StateTerminating
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateRunning:
		return "running"
	case StateTerminating:
		return "terminating"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

const frameSampleBytes = 256

// Session drives one connection through
// Connecting -> Authenticated -> Running -> Terminating -> Closed.
// A failed authentication goes straight to Closed without touching the registry.
type Session struct {
	srv    *Server
	roomID int64
	userID int64
	conn   Conn
	log    *zap.Logger

	state   atomic.Int32
	cleanup sync.Once
}

func (s *Session) RoomID() int64 { return s.roomID }
func (s *Session) UserID() int64 { return s.userID }
func (s *Session) State() State  { return State(s.state.Load()) }

func (s *Session) Logger() *zap.Logger       { return s.log }
func (s *Session) Store() PersistenceGateway { return s.srv.store }
func (s *Session) setState(st State)         { s.state.Store(int32(st)) }

// Run authenticates, joins the room and processes frames until the transport
// fails or closes. Cleanup runs exactly once on every exit path after a
// successful authentication, including panics in handlers.
func (s *Session) Run(ctx context.Context, token string) (err error) {
	if err := s.authenticate(ctx, token); err != nil {
		s.log.Info("session rejected", zap.Error(err))
		_ = s.conn.Close(ClosePolicyViolation, errs.Msg(err))
		s.setState(StateClosed)
		return err
	}
	s.setState(StateAuthenticated)
	if ctx.Err() != nil {
		_ = s.conn.Close(CloseGoingAway, "server shutting down")
		s.setState(StateClosed)
		return errs.ErrShuttingDown.Wrap()
	}

	defer func() {
		if r := recover(); r != nil {
			err = errs.ErrPanic(r)
			s.log.Error("session panic", zap.Any("panic", r), zap.Stack("stack"))
		}
		code := CloseNormal
		if ctx.Err() != nil {
			code = CloseGoingAway
		}
		s.terminate(code)
	}()

	s.join(ctx)
	s.setState(StateRunning)
	return s.loop(ctx)
}

func (s *Session) authenticate(ctx context.Context, token string) error {
	if token == "" {
		return errs.ErrTokenMissing.Wrap()
	}
	sub, err := s.srv.validator.Decode(ctx, token)
	if err != nil {
		var ce *errs.CodeError
		if errors.As(err, &ce) {
			return err
		}
		return errs.ErrTokenInvalid.WrapMsg(err.Error())
	}
	if sub != s.userID {
		return errs.ErrSubjectMismatch.WrapMsg("", "sub", sub, "user", s.userID)
	}
	return nil
}

func (s *Session) join(ctx context.Context) {
	if prev := s.srv.reg.Connect(s.roomID, s.userID, s.conn); prev != nil {
		s.log.Info("superseding previous connection", zap.String("prev", prev.ID()))
		_ = prev.Close(CloseSuperseded, "superseded")
	}
	s.srv.disp.SendConn(s.roomID, s.userID, s.conn, OnlineListEvent{Users: s.srv.reg.OnlineUsers(s.roomID)})
	s.srv.disp.Broadcast(s.roomID, PresenceEvent{UserID: s.userID, Status: StatusOnline})
	s.track(ctx, StatusOnline)
	s.log.Info("session joined")
}

func (s *Session) loop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		raw, err := s.conn.Read()
		if err != nil {
			s.log.Debug("transport closed", zap.Error(err))
			return nil
		}
		s.handle(ctx, raw)
	}
}

func (s *Session) handle(ctx context.Context, raw []byte) {
	f, err := DecodeFrame(raw)
	if err != nil {
		s.log.Warn("malformed frame ignored", zap.Error(err), zap.ByteString("sample", sample(raw)))
		return
	}
	h := s.srv.router.GetHandler(f.Type())
	if h == nil {
		s.log.Debug("no handler for frame", zap.String("type", string(f.Type())))
		return
	}
	if err := h.Handle(ctx, s, f); err != nil {
		s.log.Warn("handle frame failed", zap.String("type", string(f.Type())), zap.Error(err))
	}
}

// terminate 只在当前连接仍在注册表中时广播下线；被新连接顶替的旧会话静默退出
func (s *Session) terminate(code int) {
	s.cleanup.Do(func() {
		s.setState(StateTerminating)
		if s.srv.reg.Release(s.roomID, s.userID, s.conn) {
			s.srv.disp.Broadcast(s.roomID, PresenceEvent{UserID: s.userID, Status: StatusOffline})
			s.track(context.Background(), StatusOffline)
		}
		_ = s.conn.Close(code, "")
		s.setState(StateClosed)
		s.log.Info("session closed")
	})
}

func (s *Session) track(ctx context.Context, st PresenceStatus) {
	t := s.srv.tracker
	if t == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.srv.opts.PersistTimeout)
	defer cancel()
	var err error
	if st == StatusOnline {
		err = t.Online(ctx, s.roomID, s.userID)
	} else {
		err = t.Offline(ctx, s.roomID, s.userID)
	}
	if err != nil {
		s.log.Warn("presence tracker failed", zap.String("status", string(st)), zap.Error(err))
	}
}

// Broadcast sends env to every member of the session's room, the sender included.
func (s *Session) Broadcast(env Envelope) {
	s.srv.disp.Broadcast(s.roomID, env)
}

// BroadcastOthers sends env to every member of the room except the sender.
func (s *Session) BroadcastOthers(env Envelope) {
	s.srv.disp.BroadcastExcept(s.roomID, env, s.userID)
}

// Reply sends env to this session's own connection only.
func (s *Session) Reply(env Envelope) {
	s.srv.disp.SendConn(s.roomID, s.userID, s.conn, env)
}

// ReplyError reports err to the sender as an error envelope.
func (s *Session) ReplyError(ref FrameType, err error) {
	s.Reply(ErrorEvent{Code: errs.Code(err), Message: errs.Msg(err), Ref: ref})
}

// PersistContext bounds one persistence call.
func (s *Session) PersistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.srv.opts.PersistTimeout)
}

// Export hands env to the EventSink in the background. Failures are logged only.
func (s *Session) Export(key string, env Envelope) {
	sink := s.srv.sink
	if sink == nil {
		return
	}
	payload, err := Encode(env)
	if err != nil {
		s.log.Error("encode export failed", zap.Error(err))
		return
	}
	ev := SinkEvent{Kind: env.Kind(), RoomID: s.roomID, Key: key, Payload: payload}
	timeout := s.srv.opts.ExportTimeout
	log := s.log
	safe.SafeGo("chat.export", func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := sink.Publish(ctx, ev); err != nil {
			log.Warn("export event failed", zap.String("kind", string(ev.Kind)), zap.String("key", key), zap.Error(err))
		}
	})
}

func sample(raw []byte) []byte {
	if len(raw) > frameSampleBytes {
		return raw[:frameSampleBytes]
	}
	return raw
}
