package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"ChatHub/tools/errs"
)

// presence key: chat:presence:<room>
// Value: set of user ids. TTL is renewed on every join so rooms orphaned by a
// crashed node expire on their own.
func presenceKey(roomID int64) string { return "chat:presence:" + strconv.FormatInt(roomID, 10) }

// Presence mirrors room membership into redis sets.
type Presence struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewPresence(rdb redis.Cmdable, ttl time.Duration) *Presence {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Presence{rdb: rdb, ttl: ttl}
}

// Online adds the user to the room set and renews the TTL
func (p *Presence) Online(ctx context.Context, roomID, userID int64) error {
	key := presenceKey(roomID)
	_, err := p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, key, userID)
		pipe.Expire(ctx, key, p.ttl)
		return nil
	})
	if err != nil {
		return errs.WrapMsg(err, "presence online failed", "room", roomID, "user", userID)
	}
	return nil
}

// Offline removes the user from the room set
func (p *Presence) Offline(ctx context.Context, roomID, userID int64) error {
	if err := p.rdb.SRem(ctx, presenceKey(roomID), userID).Err(); err != nil {
		return errs.WrapMsg(err, "presence offline failed", "room", roomID, "user", userID)
	}
	return nil
}

// Members lists the user ids recorded for a room.
func (p *Presence) Members(ctx context.Context, roomID int64) ([]int64, error) {
	vals, err := p.rdb.SMembers(ctx, presenceKey(roomID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "presence members failed", "room", roomID)
	}
	out := make([]int64, 0, len(vals))
	for _, v := range vals {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}
