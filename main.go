package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ChatHub/global/config"
	"ChatHub/logger"
	"ChatHub/service/chat"
	"ChatHub/service/chat/handlers"
	"ChatHub/tools/ids"
	"ChatHub/tools/security"
)

func main() {
	if err := run(); err != nil {
		logger.Error("chathub exited", zap.Error(err))
		_ = logger.Log.Sync()
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := logger.SetLevel(cfg.Log.Level); err != nil {
		logger.Warn("keep default log level", zap.Error(err))
	}
	ids.SetNodeID(cfg.NodeID)
	logger.Info("config loaded", zap.Stringer("config", cfg))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cl closers
	defer cl.run()

	store, err := buildStore(ctx, cfg, &cl)
	if err != nil {
		return err
	}
	presence, err := buildPresence(ctx, cfg, &cl)
	if err != nil {
		return err
	}
	sink, err := buildSink(cfg, &cl)
	if err != nil {
		return err
	}

	validator := security.NewValidator(security.Options{
		Secret: []byte(cfg.JWT.Secret),
		Alg:    cfg.JWT.Alg,
	})

	opts := []chat.Option{chat.WithLogger(logger.Named("chat"))}
	if presence != nil {
		opts = append(opts, chat.WithPresenceTracker(presence))
	}
	if sink != nil {
		opts = append(opts, chat.WithEventSink(sink))
	}
	failLog := logger.Named("dispatch")
	opts = append(opts, chat.WithFailureHook(func(roomID, userID int64, err error) {
		failLog.Warn("delivery failed", zap.Int64("room", roomID), zap.Int64("user", userID), zap.Error(err))
	}))

	srv := chat.NewServer(chat.Options{
		Conn: chat.ConnOptions{
			SendQueue:     cfg.Hub.SendQueue,
			WriteWait:     cfg.Hub.WriteWait,
			PingInterval:  cfg.Hub.PingInterval,
			MaxFrameBytes: cfg.Hub.MaxFrameBytes,
		},
		PersistTimeout: cfg.Hub.PersistTimeout,
	}, validator, store, opts...)
	handlers.RegisterDefaults(srv.Router())
	logger.Info("frame handlers registered", zap.Any("types", srv.Router().Types()))

	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           newRouter(cfg, srv, validator, presence),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("chathub listening", zap.String("addr", cfg.HTTP.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		// 先停止接收新连接；hijack 后的 websocket 不受 http.Server 管理，随后由 chat.Server 关闭
		herr := httpSrv.Shutdown(sctx)
		if err := srv.Shutdown(sctx); err != nil {
			logger.Warn("chat shutdown incomplete", zap.Error(err))
		}
		return herr
	})
	return g.Wait()
}
