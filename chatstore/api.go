package chatstore

import (
	"strings"
	"time"
)

type ChatKind string

const (
	ChatKind_Two   ChatKind = "two" // one-on-one, two-party
	ChatKind_Group ChatKind = "group"
)

// Status is the delivery state of the current user's own messages.
type Status string

const (
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusSeen      Status = "seen"
)

func (s Status) rank() int {
	switch s {
	case StatusSending:
		return 1
	case StatusSent:
		return 2
	case StatusDelivered:
		return 3
	case StatusSeen:
		return 4
	default:
		return 0
	}
}

// Advance returns the status after observing `next`. Status only moves forward,
// a message at `seen` stays there.
func (s Status) Advance(next Status) Status {
	if next.rank() > s.rank() {
		return next
	}
	return s
}

// ParseStatus maps a server status string, unknown values map to "".
func ParseStatus(s string) Status {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusSending, StatusSent, StatusDelivered, StatusSeen:
		return st
	case "read":
		return StatusSeen
	default:
		return ""
	}
}

type AttachmentStatus string

const (
	AttachmentPending AttachmentStatus = "pending"
	AttachmentActive  AttachmentStatus = "active"
	AttachmentExpired AttachmentStatus = "expired"
)

type Attachment struct {
	ID          string
	Name        string
	MimeType    string
	Size        int64
	Status      AttachmentStatus
	IsImage     bool
	IsVideo     bool
	PreviewURL  string
	DownloadURL string

	// LocalURI is set only while uploading.
	LocalURI string
}

// SeenReceipt records that a viewer has seen a message.
type SeenReceipt struct {
	ViewerID string
	Name     string
	Avatar   string
	SeenAt   time.Time
}

// MaxReplyPreview bounds ReplyMetadata.Preview, in runes.
const MaxReplyPreview = 140

// ReplyMetadata is a denormalized snapshot of the replied-to message.
type ReplyMetadata struct {
	MessageID string
	SenderID  string
	Label     string
	Preview   string
}

// NewReplyMetadata snapshots `target` for attaching to a reply.
func NewReplyMetadata(target *Message, label string) *ReplyMetadata {
	return &ReplyMetadata{
		MessageID: target.ID,
		SenderID:  target.SenderID,
		Label:     label,
		Preview:   TruncatePreview(target.Content, MaxReplyPreview),
	}
}

// TruncatePreview trims `s` and cuts it to at most n runes.
func TruncatePreview(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

type Message struct {
	ID         string
	SenderID   string
	ReceiverID string
	Content    string

	// Timestamp is the canonical time used for ordering and display.
	Timestamp    time.Time
	UTCTimestamp time.Time
	Timezone     string

	Status      Status
	ReplyTo     *ReplyMetadata
	Attachments []Attachment

	IsDeleted     bool
	DeletedAt     time.Time
	DeletedByName string

	IsEdited bool
	EditedAt time.Time

	// SeenBy is only populated on the current user's own messages.
	SeenBy []SeenReceipt

	// Optimistic marks a local message carrying a temporary id.
	Optimistic bool
	// Placeholder marks the synthesized empty-state seeds.
	Placeholder bool
	// Undecryptable marks content substituted after a decrypt failure.
	Undecryptable bool
}

// AttachmentIDs returns the server ids of the attachments of m. Attachments
// still uploading have no server id yet and are skipped.
func (m *Message) AttachmentIDs() []string {
	out := make([]string, 0, len(m.Attachments))
	for _, a := range m.Attachments {
		if a.ID != "" && a.LocalURI == "" {
			out = append(out, a.ID)
		}
	}
	return out
}

const DeletedLabel = "This message was deleted"

// MarkDeleted replaces content with the deletion label and expires attachments.
func (m *Message) MarkDeleted(at time.Time, byName string) {
	m.IsDeleted = true
	m.DeletedAt = at
	m.DeletedByName = byName
	m.Content = DeletedLabel
	m.ReplyTo = nil
	for i := range m.Attachments {
		m.Attachments[i].Status = AttachmentExpired
		m.Attachments[i].LocalURI = ""
	}
}

func (m *Message) clone() Message {
	out := *m
	if m.ReplyTo != nil {
		r := *m.ReplyTo
		out.ReplyTo = &r
	}
	if m.Attachments != nil {
		out.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	if m.SeenBy != nil {
		out.SeenBy = append([]SeenReceipt(nil), m.SeenBy...)
	}
	return out
}
