package main

import (
	"context"
	"net/http"
	"sort"
	"strconv"

	"github.com/Shopify/sarama"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ChatHub/global/config"
	"ChatHub/logger"
	"ChatHub/middleware"
	"ChatHub/service/chat"
	"ChatHub/service/kafka"
	"ChatHub/service/natsx"
	"ChatHub/service/storage/memory"
	"ChatHub/service/storage/mgo"
	"ChatHub/service/storage/postgres"
	"ChatHub/service/storage/redis"
	"ChatHub/tools/errs"
	"ChatHub/tools/security"
)

// closers 关停时逆序执行
type closers []func()

func (c *closers) add(f func()) { *c = append(*c, f) }

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func buildStore(ctx context.Context, cfg config.AppConfig, cl *closers) (chat.PersistenceGateway, error) {
	switch cfg.Storage.Driver {
	case config.StoragePostgres:
		g, err := postgres.Open(ctx, cfg.Storage.PostgresURL)
		if err != nil {
			return nil, err
		}
		cl.add(g.Close)
		return g, nil
	case config.StorageMongo:
		g, err := mgo.Open(ctx, mgo.Config{
			Uri:         cfg.Storage.Mongo.URI,
			Database:    cfg.Storage.Mongo.Database,
			MaxPoolSize: cfg.Storage.Mongo.MaxPoolSize,
			MaxRetry:    cfg.Storage.Mongo.MaxRetry,
		}, cfg.NodeID)
		if err != nil {
			return nil, err
		}
		cl.add(func() { _ = g.Close(context.Background()) })
		return g, nil
	case config.StorageMemory:
		logger.Warn("using in-memory storage, messages are lost on restart")
		return memory.New(cfg.NodeID), nil
	}
	return nil, errs.ErrArgs.WrapMsg("unknown storage driver", "driver", cfg.Storage.Driver)
}

func buildPresence(ctx context.Context, cfg config.AppConfig, cl *closers) (*redis.Presence, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	rdb, err := redis.NewClient(ctx, redis.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err != nil {
		return nil, err
	}
	cl.add(func() { _ = rdb.Close() })
	return redis.NewPresence(rdb, 0), nil
}

func buildSink(cfg config.AppConfig, cl *closers) (chat.EventSink, error) {
	switch cfg.Sink.Driver {
	case config.SinkNATS:
		c, err := natsx.NewNatsxClient(natsx.NatsxConfig{
			Servers:  cfg.Sink.NATSServers,
			User:     cfg.Sink.NATSUser,
			Password: cfg.Sink.NATSPassword,
		})
		if err != nil {
			return nil, err
		}
		cl.add(func() { _ = c.Close() })
		mode := natsx.Core
		if cfg.Sink.JetStream {
			mode = natsx.JetStream
		}
		s, err := natsx.NewSink(c, cfg.Sink.NATSSubject, mode)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.SinkKafka:
		s, err := kafka.NewSink(kafka.Config{
			Brokers:             cfg.Sink.KafkaBrokers,
			Topic:               cfg.Sink.KafkaTopic,
			ProducerCompression: "snappy",
			KafkaVersion:        sarama.V2_1_0_0,
			EnsureTopic:         cfg.Sink.KafkaEnsure,
		})
		if err != nil {
			return nil, err
		}
		cl.add(func() { _ = s.Close() })
		return s, nil
	}
	return nil, nil
}

func newRouter(cfg config.AppConfig, srv *chat.Server, v *security.Validator, presence *redis.Presence) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	httpLog := logger.Named("http")
	mids := middleware.NewManager()
	mids.Add(middleware.Recovery(httpLog))
	mids.Add(middleware.AccessLog(httpLog))
	r.Use(mids.Use())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/stats", srv.HandleStats)
	r.GET("/ws/:conversation_id/:user_id", middleware.Origin(cfg.HTTP.AllowedOrigins), srv.HandleWS)

	auth := middleware.RouteOpt{IsAuth: true, Auth: v}
	middleware.GET(r, "/rooms/:conversation_id/online", srv.HandleOnline, auth)
	if presence != nil {
		// 跨节点视图，来自 redis
		middleware.GET(r, "/rooms/:conversation_id/presence", presenceHandler(presence), auth)
	}
	return r
}

func presenceHandler(p *redis.Presence) gin.HandlerFunc {
	return func(c *gin.Context) {
		roomID, ok := parseRoom(c)
		if !ok {
			return
		}
		users, err := p.Members(c.Request.Context(), roomID)
		if err != nil {
			logger.Warn("presence lookup failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusBadGateway, errs.ErrInternal)
			return
		}
		sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
		c.JSON(http.StatusOK, gin.H{"conversation_id": roomID, "users": users})
	}
}

func parseRoom(c *gin.Context) (int64, bool) {
	roomID, err := strconv.ParseInt(c.Param("conversation_id"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errs.ErrArgs.WithDetail("conversation_id="+c.Param("conversation_id")))
		return 0, false
	}
	return roomID, true
}
