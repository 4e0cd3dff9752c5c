package reconcile

import (
	"strings"
	"time"

	"github.com/Syncre-App/Mobile-sub001/chatstore"
	"github.com/Syncre-App/Mobile-sub001/codec"
)

// Ack is the server confirmation of one of our sends. It does not carry the
// temporary id of the optimistic message.
type Ack struct {
	ServerID      string
	Preview       string
	AttachmentIDs []string
	CreatedAt     time.Time
}

type Result struct {
	// MessageID is the temporary id of the matched message, "" if none.
	MessageID string
	// Fallback is set when no preview matched and the oldest pending send was taken.
	Fallback bool
}

// Match picks the optimistic message an ack belongs to. Candidates are the
// current user's messages still in `sending`, in document order.
//
// A candidate matches when its normalized content is a prefix of the ack
// preview or the other way round, and its attachment ids cover the ack's.
// With no match the least recently sent candidate is taken.
func Match(msgs []chatstore.Message, currentUserID string, ack *Ack) Result {
	preview := codec.Preview(ack.Preview)

	var oldest *chatstore.Message
	for i := range msgs {
		m := &msgs[i]
		if m.SenderID != currentUserID || m.Status != chatstore.StatusSending {
			continue
		}
		if oldest == nil || m.Timestamp.Before(oldest.Timestamp) {
			oldest = m
		}
		if prefixEither(codec.Preview(m.Content), preview) && covers(m.AttachmentIDs(), ack.AttachmentIDs) {
			return Result{MessageID: m.ID}
		}
	}
	if oldest != nil {
		return Result{MessageID: oldest.ID, Fallback: true}
	}
	return Result{}
}

func prefixEither(a, b string) bool {
	return strings.HasPrefix(a, b) || strings.HasPrefix(b, a)
}

func covers(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	set := make(map[string]bool, len(have))
	for _, id := range have {
		set[id] = true
	}
	for _, id := range want {
		if !set[id] {
			return false
		}
	}
	return true
}

// Apply rewrites an optimistic message with its server identity.
func Apply(m chatstore.Message, ack *Ack) chatstore.Message {
	m.ID = ack.ServerID
	m.Status = chatstore.StatusSent
	m.Optimistic = false
	if !ack.CreatedAt.IsZero() {
		m.Timestamp = ack.CreatedAt
		m.UTCTimestamp = ack.CreatedAt.UTC()
	}
	return m
}
