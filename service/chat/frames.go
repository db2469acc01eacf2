package chat

import (
	"bytes"
	"encoding/json"
	"strings"

	"ChatHub/tools/errs"
)

type FrameType string

const (
	FrameMessage FrameType = "message"
	FrameTyping  FrameType = "typing"
	FrameSeen    FrameType = "seen"
)

// Frame is a decoded inbound client frame.
type Frame interface {
	Type() FrameType
	frame()
}

type MessageFrame struct {
	Content *string `json:"content"`
	FileURL *string `json:"file_url"`
}

// Empty reports whether the frame carries neither text nor an attachment.
func (f MessageFrame) Empty() bool {
	return blank(f.Content) && blank(f.FileURL)
}

type TypingFrame struct {
	Status *bool `json:"status"`
}

// Active 缺省视为正在输入
func (f TypingFrame) Active() bool {
	return f.Status == nil || *f.Status
}

type SeenFrame struct {
	MessageIDs []int64 `json:"message_ids"`
}

// IDs returns the message ids with duplicates removed, first occurrence wins.
func (f SeenFrame) IDs() []int64 {
	seen := make(map[int64]struct{}, len(f.MessageIDs))
	out := make([]int64, 0, len(f.MessageIDs))
	for _, id := range f.MessageIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// UnknownFrame is a well-formed object whose type no handler claims.
type UnknownFrame struct {
	Raw FrameType
}

func (MessageFrame) Type() FrameType   { return FrameMessage }
func (TypingFrame) Type() FrameType    { return FrameTyping }
func (SeenFrame) Type() FrameType      { return FrameSeen }
func (f UnknownFrame) Type() FrameType { return f.Raw }

func (MessageFrame) frame() {}
func (TypingFrame) frame()  {}
func (SeenFrame) frame()    {}
func (UnknownFrame) frame() {}

// DecodeFrame parses one text frame. Anything that is not a JSON object,
// or whose known type carries malformed fields, yields ErrBadFrame.
func DecodeFrame(raw []byte) (Frame, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, errs.ErrBadFrame.WrapMsg("frame is not a json object")
	}
	var head struct {
		Type FrameType `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, errs.ErrBadFrame.WrapMsg(err.Error())
	}

	var (
		f   Frame
		err error
	)
	switch head.Type {
	case FrameMessage:
		var m MessageFrame
		err = json.Unmarshal(raw, &m)
		f = m
	case FrameTyping:
		var t TypingFrame
		err = json.Unmarshal(raw, &t)
		f = t
	case FrameSeen:
		var s SeenFrame
		err = json.Unmarshal(raw, &s)
		f = s
	default:
		return UnknownFrame{Raw: head.Type}, nil
	}
	if err != nil {
		return nil, errs.ErrBadFrame.WrapMsg(err.Error(), "type", head.Type)
	}
	return f, nil
}

func blank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}
