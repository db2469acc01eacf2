// Package postgres stores messages and seen-receipts in PostgreSQL through pgxpool.
package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"ChatHub/module/chat/model"
	"ChatHub/tools/errs"
)

const schema = `
CREATE TABLE IF NOT EXISTS ` + model.MessageTableName + ` (
	id              BIGSERIAL PRIMARY KEY,
	conversation_id BIGINT      NOT NULL,
	sender_id       BIGINT      NOT NULL,
	content         TEXT,
	file_url        TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS messages_conversation_idx ON ` + model.MessageTableName + ` (conversation_id, id);
CREATE TABLE IF NOT EXISTS ` + model.SeenTableName + ` (
	message_id BIGINT      NOT NULL,
	user_id    BIGINT      NOT NULL,
	seen_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (message_id, user_id)
);`

const (
	insertMessageSQL = `INSERT INTO ` + model.MessageTableName + ` (conversation_id, sender_id, content, file_url)
VALUES ($1, $2, $3, $4) RETURNING id, created_at`

	// 主键冲突即已记录过，保持幂等
	insertSeenSQL = `INSERT INTO ` + model.SeenTableName + ` (message_id, user_id) VALUES ($1, $2)
ON CONFLICT (message_id, user_id) DO NOTHING`
)

type Gateway struct {
	pool *pgxpool.Pool
}

// Open connects, pings and makes sure the tables exist.
func Open(ctx context.Context, url string) (*Gateway, error) {
	if url == "" {
		return nil, errs.ErrArgs.WrapMsg("postgres url is required")
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, errs.WrapMsg(err, "pgxpool.New failed")
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, errs.WrapMsg(err, "postgres ping failed")
	}
	g := &Gateway{pool: pool}
	if err := g.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return g, nil
}

func (g *Gateway) EnsureSchema(ctx context.Context) error {
	if _, err := g.pool.Exec(ctx, schema); err != nil {
		return errs.WrapMsg(err, "ensure schema failed")
	}
	return nil
}

func (g *Gateway) SaveMessage(ctx context.Context, m model.NewMessage) (model.Message, error) {
	msg := model.Message{
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		FileURL:        m.FileURL,
	}
	err := g.pool.QueryRow(ctx, insertMessageSQL, m.ConversationID, m.SenderID, m.Content, m.FileURL).
		Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return model.Message{}, errs.WrapMsg(err, "insert message failed", "conversation", m.ConversationID)
	}
	msg.CreatedAt = msg.CreatedAt.UTC()
	return msg, nil
}

func (g *Gateway) RecordSeen(ctx context.Context, messageID, userID int64) error {
	if _, err := g.pool.Exec(ctx, insertSeenSQL, messageID, userID); err != nil {
		return errs.WrapMsg(err, "insert seen failed", "message", messageID, "user", userID)
	}
	return nil
}

func (g *Gateway) Close() {
	g.pool.Close()
}
