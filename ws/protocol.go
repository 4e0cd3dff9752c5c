package ws

import (
	"encoding/json"

	"github.com/Syncre-App/Mobile-sub001/api"
	"github.com/Syncre-App/Mobile-sub001/e2ee"
)

// Inbound event types.
const (
	EventNewMessage         = "new_message"
	EventMessageEnvelope    = "message_envelope"
	EventEnvelopeSent       = "message_envelope_sent"
	EventMessageStatus      = "message_status"
	EventMessageEdited      = "message_edited"
	EventMessageDeleted     = "message_deleted"
	EventChatUpdated        = "chat_updated"
	EventChatMembersAdded   = "chat_members_added"
	EventChatMembersRemoved = "chat_members_removed"
	EventChatDeleted        = "chat_deleted"
	EventTyping             = "typing"
	EventStopTyping         = "stop_typing"

	// EventConnected is synthesized locally after every (re)connect.
	EventConnected = "connected"
)

// Outbound command types.
const (
	CmdMessageSend      = "message_send"
	CmdMessageEdit      = "message_edit"
	CmdMessageSeen      = "message_seen"
	CmdTyping           = "typing"
	CmdStopTyping       = "stop_typing"
	CmdRequestReencrypt = "request_reencrypt"
	CmdJoinChat         = "join_chat"
	CmdLeaveChat        = "leave_chat"
)

// Re-encryption reasons.
const (
	ReasonMissingHistory    = "missing_history"
	ReasonLiveDecryptFailed = "live_decrypt_failed"
)

// Frame is the unit of the websocket protocol in both directions.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type ReplyRef struct {
	MessageID   string `json:"messageId"`
	SenderID    string `json:"senderId"`
	SenderLabel string `json:"senderLabel,omitempty"`
	Preview     string `json:"preview,omitempty"`
}

type SendCommand struct {
	ChatID        string          `json:"chatId"`
	Envelopes     []e2ee.Envelope `json:"envelopes"`
	ReplyTo       *ReplyRef       `json:"replyTo,omitempty"`
	AttachmentIDs []string        `json:"attachmentIds,omitempty"`
	Preview       string          `json:"preview"`
}

type EditCommand struct {
	ChatID    string          `json:"chatId"`
	MessageID string          `json:"messageId"`
	Envelopes []e2ee.Envelope `json:"envelopes"`
	Preview   string          `json:"preview"`
}

type SeenCommand struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId,omitempty"`
}

type TypingCommand struct {
	ChatID string `json:"chatId"`
}

type ReencryptCommand struct {
	ChatID   string `json:"chatId"`
	DeviceID string `json:"deviceId"`
	Reason   string `json:"reason"`
}

type JoinCommand struct {
	ChatID   string `json:"chatId"`
	DeviceID string `json:"deviceId,omitempty"`
}

// EnvelopeSentEvent acknowledges one of our own sends. It does not carry the
// temporary id of the optimistic message.
type EnvelopeSentEvent struct {
	ChatID        api.ID   `json:"chatId"`
	MessageID     api.ID   `json:"messageId"`
	Preview       string   `json:"preview"`
	AttachmentIDs []api.ID `json:"attachmentIds"`
}

type StatusEvent struct {
	ChatID       api.ID   `json:"chatId"`
	MessageID    api.ID   `json:"messageId"`
	MessageIDs   []api.ID `json:"messageIds"`
	Status       string   `json:"status"`
	ViewerID     api.ID   `json:"viewerId"`
	ViewerName   string   `json:"viewerName"`
	ViewerAvatar string   `json:"viewerAvatar"`
}

type EditedEvent struct {
	ChatID    api.ID          `json:"chatId"`
	MessageID api.ID          `json:"messageId"`
	SenderID  api.ID          `json:"senderId"`
	Content   string          `json:"content"`
	Preview   string          `json:"preview"`
	Envelopes []e2ee.Envelope `json:"envelopes"`
	EditedAt  string          `json:"editedAt"`
}

type DeletedEvent struct {
	ChatID        api.ID `json:"chatId"`
	MessageID     api.ID `json:"messageId"`
	DeletedAt     string `json:"deletedAt"`
	DeletedByName string `json:"deletedByName"`
}

type ChatEvent struct {
	ChatID       api.ID   `json:"chatId"`
	Participants []api.ID `json:"participants"`
	Removed      []api.ID `json:"removed"`
}

type TypingEvent struct {
	ChatID api.ID `json:"chatId"`
	UserID api.ID `json:"userId"`
}

// ChatOf returns the chat id of any inbound frame, "" if it has none.
func ChatOf(f *Frame) string {
	var v struct {
		ChatID api.ID `json:"chatId"`
	}
	if err := json.Unmarshal(f.Data, &v); err != nil {
		return ""
	}
	return string(v.ChatID)
}
