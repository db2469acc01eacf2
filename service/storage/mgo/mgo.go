// Package mgo stores messages and seen-receipts in MongoDB.
package mgo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ChatHub/module/chat/model"
	"ChatHub/tools/errs"
	"ChatHub/tools/ids"
)

// Config represents the MongoDB configuration.
type Config struct {
	Uri         string
	Database    string
	MaxPoolSize int
	MaxRetry    int
}

func (c *Config) validateAndSetDefaults() error {
	if c.Uri == "" {
		return errs.ErrArgs.WrapMsg("mongo uri is required")
	}
	if c.Database == "" {
		c.Database = "chat"
	}
	if c.MaxPoolSize <= 0 {
		c.MaxPoolSize = 20
	}
	if c.MaxRetry <= 0 {
		c.MaxRetry = 3
	}
	return nil
}

type Gateway struct {
	cli      *mongo.Client
	messages *mongo.Collection
	seen     *mongo.Collection
	gen      *ids.Generator
}

// Open connects with retry, then creates the unique index that keeps seen-receipts idempotent.
func Open(ctx context.Context, cfg Config, nodeID int64) (*Gateway, error) {
	if err := cfg.validateAndSetDefaults(); err != nil {
		return nil, err
	}
	opts := options.Client().ApplyURI(cfg.Uri).SetMaxPoolSize(uint64(cfg.MaxPoolSize))

	var (
		cli *mongo.Client
		err error
	)
	for i := 0; i < cfg.MaxRetry; i++ {
		cli, err = connectMongo(ctx, opts)
		if err != nil && shouldRetry(ctx, err) {
			time.Sleep(time.Second / 2)
			continue
		}
		break
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "failed to connect to MongoDB", "URI", cfg.Uri)
	}

	db := cli.Database(cfg.Database)
	g := &Gateway{
		cli:      cli,
		messages: db.Collection(model.MessageTableName),
		seen:     db.Collection(model.SeenTableName),
		gen:      ids.NewGenerator(nodeID),
	}
	if err := g.ensureIndexes(ctx); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, err
	}
	return g, nil
}

func connectMongo(ctx context.Context, opts *options.ClientOptions) (*mongo.Client, error) {
	cli, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := cli.Ping(ctx, nil); err != nil {
		_ = cli.Disconnect(ctx)
		return nil, err
	}
	return cli, nil
}

// shouldRetry 认证类错误（13 Unauthorized / 18 AuthenticationFailed）不重试
func shouldRetry(ctx context.Context, err error) bool {
	select {
	case <-ctx.Done():
		return false
	default:
		if cmdErr, ok := err.(mongo.CommandError); ok {
			return cmdErr.Code != 13 && cmdErr.Code != 18
		}
		return true
	}
}

func (g *Gateway) ensureIndexes(ctx context.Context) error {
	_, err := g.seen.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "message_id", Value: 1}, {Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return errs.WrapMsg(err, "create seen index failed")
	}
	_, err = g.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "_id", Value: 1}},
	})
	if err != nil {
		return errs.WrapMsg(err, "create message index failed")
	}
	return nil
}

func (g *Gateway) SaveMessage(ctx context.Context, m model.NewMessage) (model.Message, error) {
	msg := model.Message{
		ID:             g.gen.Next(),
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		FileURL:        m.FileURL,
		CreatedAt:      time.Now().UTC().Truncate(time.Millisecond), // bson 日期精度为毫秒
	}
	if _, err := g.messages.InsertOne(ctx, msg); err != nil {
		return model.Message{}, errs.WrapMsg(err, "insert message failed", "conversation", m.ConversationID)
	}
	return msg, nil
}

// RecordSeen upserts on (message_id, user_id); an existing receipt keeps its seen_at.
func (g *Gateway) RecordSeen(ctx context.Context, messageID, userID int64) error {
	filter := bson.M{"message_id": messageID, "user_id": userID}
	update := bson.M{"$setOnInsert": bson.M{"seen_at": time.Now().UTC()}}
	_, err := g.seen.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return errs.WrapMsg(err, "upsert seen failed", "message", messageID, "user", userID)
	}
	return nil
}

func (g *Gateway) Close(ctx context.Context) error {
	return g.cli.Disconnect(ctx)
}
