package chat

import (
	"encoding/json"

	"ChatHub/module/chat/model"
)

type EventType string

const (
	EventPresence   EventType = "presence"
	EventOnlineList EventType = "online_list"
	EventMessage    EventType = "message"
	EventTyping     EventType = "typing"
	EventSeen       EventType = "seen"
	EventError      EventType = "error"
)

type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusOffline PresenceStatus = "offline"
)

// Envelope is an outbound event. The set is closed; values are immutable once built.
type Envelope interface {
	Kind() EventType
	envelope()
}

type PresenceEvent struct {
	UserID int64          `json:"user_id"`
	Status PresenceStatus `json:"status"`
}

type OnlineListEvent struct {
	Users []int64 `json:"users"`
}

type MessageEvent struct {
	Message model.Message `json:"message"`
}

type TypingEvent struct {
	UserID int64 `json:"user_id"`
	Status bool  `json:"status"`
}

type SeenEvent struct {
	UserID     int64   `json:"user_id"`
	MessageIDs []int64 `json:"message_ids"`
}

// ErrorEvent 只发给出错帧的发送方
type ErrorEvent struct {
	Code    int       `json:"code"`
	Message string    `json:"message"`
	Ref     FrameType `json:"ref,omitempty"`
}

func (PresenceEvent) Kind() EventType   { return EventPresence }
func (OnlineListEvent) Kind() EventType { return EventOnlineList }
func (MessageEvent) Kind() EventType    { return EventMessage }
func (TypingEvent) Kind() EventType     { return EventTyping }
func (SeenEvent) Kind() EventType       { return EventSeen }
func (ErrorEvent) Kind() EventType      { return EventError }

func (PresenceEvent) envelope()   {}
func (OnlineListEvent) envelope() {}
func (MessageEvent) envelope()    {}
func (TypingEvent) envelope()     {}
func (SeenEvent) envelope()       {}
func (ErrorEvent) envelope()      {}

func (e PresenceEvent) MarshalJSON() ([]byte, error) {
	type alias PresenceEvent
	return json.Marshal(struct {
		Type EventType `json:"type"`
		alias
	}{e.Kind(), alias(e)})
}

func (e OnlineListEvent) MarshalJSON() ([]byte, error) {
	type alias OnlineListEvent
	if e.Users == nil {
		e.Users = []int64{}
	}
	return json.Marshal(struct {
		Type EventType `json:"type"`
		alias
	}{e.Kind(), alias(e)})
}

func (e MessageEvent) MarshalJSON() ([]byte, error) {
	type alias MessageEvent
	return json.Marshal(struct {
		Type EventType `json:"type"`
		alias
	}{e.Kind(), alias(e)})
}

func (e TypingEvent) MarshalJSON() ([]byte, error) {
	type alias TypingEvent
	return json.Marshal(struct {
		Type EventType `json:"type"`
		alias
	}{e.Kind(), alias(e)})
}

func (e SeenEvent) MarshalJSON() ([]byte, error) {
	type alias SeenEvent
	if e.MessageIDs == nil {
		e.MessageIDs = []int64{}
	}
	return json.Marshal(struct {
		Type EventType `json:"type"`
		alias
	}{e.Kind(), alias(e)})
}

func (e ErrorEvent) MarshalJSON() ([]byte, error) {
	type alias ErrorEvent
	return json.Marshal(struct {
		Type EventType `json:"type"`
		alias
	}{e.Kind(), alias(e)})
}

// Encode serialises an envelope for the wire.
func Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}
