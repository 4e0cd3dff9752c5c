package thread

import (
	"sort"

	"github.com/Syncre-App/Mobile-sub001/chatstore"
)

// Index counts the replies of every message that has at least one.
func Index(msgs []chatstore.Message) map[string]int {
	counts := make(map[string]int)
	for i := range msgs {
		if r := msgs[i].ReplyTo; r != nil && r.MessageID != "" && r.MessageID != msgs[i].ID {
			counts[r.MessageID]++
		}
	}
	return counts
}

// View returns the root followed by its direct replies in chronological order.
// If the root is not loaded only the replies are returned.
func View(msgs []chatstore.Message, rootID string) []chatstore.Message {
	var root []chatstore.Message
	var replies []chatstore.Message
	for i := range msgs {
		m := msgs[i]
		switch {
		case m.ID == rootID:
			root = append(root, m)
		case m.ReplyTo != nil && m.ReplyTo.MessageID == rootID:
			replies = append(replies, m)
		}
	}
	sort.SliceStable(replies, func(i, j int) bool {
		return replies[i].Timestamp.Before(replies[j].Timestamp)
	})
	return append(root, replies...)
}
