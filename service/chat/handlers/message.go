package handlers

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"ChatHub/module/chat/model"
	"ChatHub/service/chat"
	"ChatHub/tools/errs"
)

// MessageHandler 持久化后再广播；存储失败时不广播，只给发送方回 error
type MessageHandler struct{}

func NewMessageHandler() *MessageHandler { return &MessageHandler{} }

func (h *MessageHandler) Type() chat.FrameType { return chat.FrameMessage }

func (h *MessageHandler) Handle(ctx context.Context, s *chat.Session, f chat.Frame) error {
	mf, ok := f.(chat.MessageFrame)
	if !ok {
		return errs.ErrBadFrame.WrapMsg("unexpected frame", "type", f.Type())
	}
	if mf.Empty() {
		err := errs.ErrEmptyMessage.Wrap()
		s.ReplyError(chat.FrameMessage, err)
		return err
	}

	pctx, cancel := s.PersistContext(ctx)
	defer cancel()
	stored, err := s.Store().SaveMessage(pctx, model.NewMessage{
		ConversationID: s.RoomID(),
		SenderID:       s.UserID(),
		Content:        mf.Content,
		FileURL:        mf.FileURL,
	})
	if err != nil {
		err = errs.ErrPersistence.WrapMsg("save message", "err", err)
		s.ReplyError(chat.FrameMessage, err)
		return err
	}

	ev := chat.MessageEvent{Message: stored}
	s.Broadcast(ev)
	s.Export(strconv.FormatInt(stored.ID, 10), ev)
	s.Logger().Debug("message stored", zap.Int64("id", stored.ID))
	return nil
}
