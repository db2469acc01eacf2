package model

import "time"

const (
	MessageTableName = "messages"     // 集合名/表名
	SeenTableName    = "message_seen" // 已读回执
)

// Message 是持久化后的一条聊天消息；id 与 created_at 由存储层分配。
type Message struct {
	ID             int64     `json:"id" bson:"_id"`
	ConversationID int64     `json:"conversation_id" bson:"conversation_id"`
	SenderID       int64     `json:"sender_id" bson:"sender_id"`
	Content        *string   `json:"content" bson:"content,omitempty"`   // 可选文本
	FileURL        *string   `json:"file_url" bson:"file_url,omitempty"` // 可选附件地址
	CreatedAt      time.Time `json:"created_at" bson:"created_at"`
}

// NewMessage 是写入前的消息草稿
type NewMessage struct {
	ConversationID int64
	SenderID       int64
	Content        *string
	FileURL        *string
}

// SeenReceipt 记录某用户已看到某条消息；(message_id, user_id) 唯一。
type SeenReceipt struct {
	MessageID int64     `json:"message_id" bson:"message_id"`
	UserID    int64     `json:"user_id" bson:"user_id"`
	SeenAt    time.Time `json:"seen_at" bson:"seen_at"`
}
