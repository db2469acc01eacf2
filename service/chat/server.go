package chat

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ChatHub/logger"
	"ChatHub/tools/errs"
	"ChatHub/tools/safe"
)

type Options struct {
	Conn           ConnOptions
	PersistTimeout time.Duration // 单次持久化调用的超时
	ExportTimeout  time.Duration // 单次 EventSink 发布的超时
}

// Server owns one hub: registry, dispatcher, frame router and the collaborators
// sessions need. Construct it once at startup and pass it down explicitly.
type Server struct {
	opts Options
	log  *zap.Logger

	reg    *Registry
	disp   *Dispatcher
	router *Router

	validator TokenValidator
	store     PersistenceGateway
	tracker   PresenceTracker
	sink      EventSink
	hook      FailureHook

	upgrader websocket.Upgrader

	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex // 保护 closing 与 sessions.Add
	closing  bool
	sessions sync.WaitGroup
}

type Option func(*Server)

func WithPresenceTracker(t PresenceTracker) Option {
	return func(s *Server) { s.tracker = t }
}

func WithEventSink(sink EventSink) Option {
	return func(s *Server) { s.sink = sink }
}

func WithFailureHook(h FailureHook) Option {
	return func(s *Server) { s.hook = h }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.log = l }
}

func NewServer(opts Options, validator TokenValidator, store PersistenceGateway, options ...Option) *Server {
	safe.MustNotNil(validator, "validator")
	safe.MustNotNil(store, "store")
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = 5 * time.Second
	}
	if opts.ExportTimeout <= 0 {
		opts.ExportTimeout = 5 * time.Second
	}

	s := &Server{
		opts:      opts,
		log:       logger.Named("chat"),
		reg:       NewRegistry(),
		router:    NewRouter(),
		validator: validator,
		store:     store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin 由 middleware.Origin 在路由上校验
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, o := range options {
		o(s)
	}
	s.disp = NewDispatcher(s.reg, s.log.Named("dispatch"), s.hook)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

func (s *Server) Reg() *Registry      { return s.reg }
func (s *Server) Disp() *Dispatcher   { return s.disp }
func (s *Server) Router() *Router     { return s.router }
func (s *Server) Options() Options    { return s.opts }
func (s *Server) Logger() *zap.Logger { return s.log }

type Stats struct {
	Registry RegistryStats `json:"registry"`
	Dispatch DispatchStats `json:"dispatch"`
}

func (s *Server) Stats() Stats {
	return Stats{Registry: s.reg.Stats(), Dispatch: s.disp.Stats()}
}

// NewSession binds conn to (roomID, userID). The session does nothing until Run.
func (s *Server) NewSession(roomID, userID int64, conn Conn) *Session {
	return &Session{
		srv:    s,
		roomID: roomID,
		userID: userID,
		conn:   conn,
		log: s.log.With(
			zap.Int64("room", roomID),
			zap.Int64("user", userID),
			zap.String("conn", conn.ID()),
		),
	}
}

// Serve runs a session for conn until it terminates and tracks it for Shutdown.
// After Shutdown has started, conn is closed with CloseGoingAway and ErrShuttingDown returned.
func (s *Server) Serve(roomID, userID int64, conn Conn, token string) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		_ = conn.Close(CloseGoingAway, "server shutting down")
		return errs.ErrShuttingDown.WrapMsg("", "room", roomID, "user", userID)
	}
	s.sessions.Add(1)
	s.mu.Unlock()
	defer s.sessions.Done()
	return s.NewSession(roomID, userID, conn).Run(s.ctx, token)
}

// Shutdown closes every live connection with CloseGoingAway and waits for the
// sessions to finish their cleanup, or for ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	// 先取消再取快照：快照之后才注册的会话会在进入读循环前看到取消
	s.cancel()

	var g errgroup.Group
	g.SetLimit(64)
	for _, c := range s.reg.All() {
		c := c
		g.Go(func() error {
			return c.Close(CloseGoingAway, "server shutdown")
		})
	}
	_ = g.Wait()

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
