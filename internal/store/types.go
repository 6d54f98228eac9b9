package store

import (
	"encoding/binary"

	"github.com/vmihailenco/msgpack/v5"

	"palaver/internal/models"
)

type DBMessage struct {
	ID             string         `msgpack:"id"`
	SenderID       string         `msgpack:"senderId"`
	SenderName     string         `msgpack:"senderName"`
	ReceiverID     string         `msgpack:"receiverId"`
	ConversationID string         `msgpack:"conversationId"`
	Content        string         `msgpack:"content"`
	Type           string         `msgpack:"type"`
	Timestamp      string         `msgpack:"timestamp"`
	Reactions      map[string]int `msgpack:"reactions,omitempty"`
}

// Key orders messages chronologically within a conversation bucket:
// 8 bytes of big-endian unix-nano followed by the id for uniqueness.
func (m *DBMessage) Key() []byte {
	ts := models.Message{Timestamp: m.Timestamp}.Time()
	key := make([]byte, 8, 8+len(m.ID))
	binary.BigEndian.PutUint64(key, uint64(ts.UnixNano()))
	return append(key, m.ID...)
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

func toDBMessage(msg models.Message) *DBMessage {
	return &DBMessage{
		ID:             msg.ID,
		SenderID:       msg.SenderID,
		SenderName:     msg.SenderName,
		ReceiverID:     msg.ReceiverID,
		ConversationID: msg.ConversationID,
		Content:        msg.Content,
		Type:           string(msg.Type),
		Timestamp:      msg.Timestamp,
		Reactions:      msg.Reactions,
	}
}

func (m *DBMessage) toModel() models.Message {
	return models.Message{
		ID:             m.ID,
		SenderID:       m.SenderID,
		SenderName:     m.SenderName,
		ReceiverID:     m.ReceiverID,
		ConversationID: m.ConversationID,
		Content:        m.Content,
		Type:           models.MessageType(m.Type),
		Timestamp:      m.Timestamp,
		Reactions:      m.Reactions,
	}
}
