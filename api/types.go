package api

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/Syncre-App/Mobile-sub001/e2ee"
)

// ID accepts both string and numeric ids from the server.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

func (id ID) Int() (int64, bool) {
	n, err := strconv.ParseInt(string(id), 10, 64)
	return n, err == nil
}

type Attachment struct {
	ID          ID     `json:"id"`
	Name        string `json:"name"`
	MimeType    string `json:"mimeType"`
	Size        int64  `json:"size"`
	Status      string `json:"status"`
	IsImage     bool   `json:"isImage"`
	IsVideo     bool   `json:"isVideo"`
	PreviewURL  string `json:"previewUrl"`
	DownloadURL string `json:"downloadUrl"`
}

type SeenRecord struct {
	UserID ID     `json:"userId"`
	Name   string `json:"username"`
	Avatar string `json:"avatarUrl"`
	SeenAt string `json:"seenAt"`
}

type ReplyRecord struct {
	MessageID   ID     `json:"messageId"`
	SenderID    ID     `json:"senderId"`
	SenderLabel string `json:"senderLabel"`
	Preview     string `json:"preview"`
}

// MessageRecord is a message as returned by the REST api and carried in
// websocket events. Raw keeps the original object for timestamp resolution.
type MessageRecord struct {
	ID            ID              `json:"id"`
	ChatID        ID              `json:"chatId"`
	SenderID      ID              `json:"senderId"`
	ReceiverID    ID              `json:"receiverId"`
	Content       string          `json:"content"`
	Preview       string          `json:"preview"`
	Envelopes     []e2ee.Envelope `json:"envelopes"`
	Status        string          `json:"status"`
	ReplyTo       *ReplyRecord    `json:"replyTo"`
	Attachments   []Attachment    `json:"attachments"`
	IsDeleted     bool            `json:"isDeleted"`
	DeletedAt     string          `json:"deletedAt"`
	DeletedByName string          `json:"deletedByName"`
	IsEdited      bool            `json:"isEdited"`
	EditedAt      string          `json:"editedAt"`
	SeenBy        []SeenRecord    `json:"seenBy"`
	Timezone      string          `json:"timezone"`

	Raw json.RawMessage `json:"-"`
}

func (r *MessageRecord) UnmarshalJSON(b []byte) error {
	type plain MessageRecord
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*r = MessageRecord(p)
	r.Raw = append(json.RawMessage(nil), b...)
	return nil
}

// Encrypted reports whether the content must go through the gateway.
func (r *MessageRecord) Encrypted() bool {
	return len(r.Envelopes) > 0
}

// AttachmentIDs returns the attachment ids of the record, in order.
func (r *MessageRecord) AttachmentIDs() []string {
	out := make([]string, 0, len(r.Attachments))
	for _, a := range r.Attachments {
		if a.ID != "" {
			out = append(out, string(a.ID))
		}
	}
	return out
}

// Page is one page of a conversation, newest messages last.
type Page struct {
	Messages   []MessageRecord `json:"messages"`
	HasMore    bool            `json:"hasMore"`
	NextCursor ID              `json:"nextCursor"`
	Timezone   string          `json:"timezone"`
}

type FetchRequest struct {
	ChatID   string
	Limit    int
	Before   string
	DeviceID string
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}
