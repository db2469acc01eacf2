package handlers

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"ChatHub/service/chat"
	"ChatHub/tools/errs"
)

// SeenHandler records a receipt per message id, then tells the room which ids
// were recorded. Ids whose receipt could not be stored are left out.
type SeenHandler struct{}

func NewSeenHandler() *SeenHandler { return &SeenHandler{} }

func (h *SeenHandler) Type() chat.FrameType { return chat.FrameSeen }

func (h *SeenHandler) Handle(ctx context.Context, s *chat.Session, f chat.Frame) error {
	sf, ok := f.(chat.SeenFrame)
	if !ok {
		return errs.ErrBadFrame.WrapMsg("unexpected frame", "type", f.Type())
	}
	ids := sf.IDs()
	if len(ids) == 0 {
		return nil
	}

	recorded := make([]int64, 0, len(ids))
	var lastErr error
	for _, id := range ids {
		if err := h.record(ctx, s, id); err != nil {
			s.Logger().Warn("record seen failed", zap.Int64("message", id), zap.Error(err))
			lastErr = err
			continue
		}
		recorded = append(recorded, id)
	}
	if len(recorded) == 0 {
		err := errs.ErrPersistence.WrapMsg("record seen", "err", lastErr)
		s.ReplyError(chat.FrameSeen, err)
		return err
	}

	ev := chat.SeenEvent{UserID: s.UserID(), MessageIDs: recorded}
	s.Broadcast(ev)
	s.Export(seenKey(s.UserID(), recorded), ev)
	return nil
}

// record 每个 id 单独计时，大批量时不会因为前面的调用耗尽超时而丢掉后面的 id
func (h *SeenHandler) record(ctx context.Context, s *chat.Session, id int64) error {
	pctx, cancel := s.PersistContext(ctx)
	defer cancel()
	return s.Store().RecordSeen(pctx, id, s.UserID())
}

func seenKey(userID int64, ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return fmt.Sprintf("seen:%d:%s", userID, strings.Join(parts, ","))
}
