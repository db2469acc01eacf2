package handlers

import (
	"context"

	"ChatHub/service/chat"
	"ChatHub/tools/errs"
)

// TypingHandler relays typing indicators to everyone else in the room. Nothing is stored.
type TypingHandler struct{}

func NewTypingHandler() *TypingHandler { return &TypingHandler{} }

func (h *TypingHandler) Type() chat.FrameType { return chat.FrameTyping }

func (h *TypingHandler) Handle(_ context.Context, s *chat.Session, f chat.Frame) error {
	tf, ok := f.(chat.TypingFrame)
	if !ok {
		return errs.ErrBadFrame.WrapMsg("unexpected frame", "type", f.Type())
	}
	s.BroadcastOthers(chat.TypingEvent{UserID: s.UserID(), Status: tf.Active()})
	return nil
}
