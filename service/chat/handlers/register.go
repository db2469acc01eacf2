package handlers

import "ChatHub/service/chat"

// RegisterDefaults 注册 message / typing / seen 三种帧的处理器
func RegisterDefaults(r *chat.Router) {
	r.Register(NewMessageHandler())
	r.Register(NewTypingHandler())
	r.Register(NewSeenHandler())
}
