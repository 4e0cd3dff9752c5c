package receipt

import (
	"sort"

	"github.com/Syncre-App/Mobile-sub001/chatstore"
)

const (
	MaxDirectVisible = 1
	MaxGroupVisible  = 4
)

// Build maps message id to the receipts rendered under it. Each viewer appears
// once, under the latest of our own messages they have seen. Receipts of the
// current user are never shown.
func Build(msgs []chatstore.Message, currentUserID string) map[string][]chatstore.SeenReceipt {
	type placed struct {
		msgID string
		r     chatstore.SeenReceipt
	}
	latest := make(map[string]placed)
	for i := range msgs {
		m := &msgs[i]
		if m.SenderID != currentUserID || m.Placeholder {
			continue
		}
		for _, r := range m.SeenBy {
			if r.ViewerID == "" || r.ViewerID == currentUserID {
				continue
			}
			latest[r.ViewerID] = placed{msgID: m.ID, r: r}
		}
	}

	out := make(map[string][]chatstore.SeenReceipt)
	for _, p := range latest {
		out[p.msgID] = append(out[p.msgID], p.r)
	}
	for _, rs := range out {
		sortRecentFirst(rs)
	}
	return out
}

// Visible applies the display policy to the receipts of one message: a direct
// chat shows only the latest receipt, a group chat shows up to 4 and the count
// of the rest.
func Visible(receipts []chatstore.SeenReceipt, kind chatstore.ChatKind) (shown []chatstore.SeenReceipt, overflow int) {
	if len(receipts) == 0 {
		return nil, 0
	}
	rs := append([]chatstore.SeenReceipt(nil), receipts...)
	sortRecentFirst(rs)

	limit := MaxGroupVisible
	if kind != chatstore.ChatKind_Group {
		return rs[:MaxDirectVisible], 0
	}
	if len(rs) <= limit {
		return rs, 0
	}
	return rs[:limit], len(rs) - limit
}

// Record attaches a viewer's receipt to messageID and drops the viewer's
// receipts from earlier messages. A receipt never moves backward: if the viewer
// is already recorded on a later message nothing changes.
func Record(store *chatstore.MessageStore, messageID string, r chatstore.SeenReceipt) bool {
	target, ok := store.Get(messageID)
	if !ok || r.ViewerID == "" {
		return false
	}

	var stale []string
	for _, m := range store.Messages() {
		if m.ID == messageID || !hasViewer(&m, r.ViewerID) {
			continue
		}
		if m.Timestamp.After(target.Timestamp) {
			return false
		}
		stale = append(stale, m.ID)
	}

	for _, id := range stale {
		store.Mutate(id, func(m *chatstore.Message) {
			m.SeenBy = withoutViewer(m.SeenBy, r.ViewerID)
		})
	}
	store.Mutate(messageID, func(m *chatstore.Message) {
		m.SeenBy = append(withoutViewer(m.SeenBy, r.ViewerID), r)
		m.Status = chatstore.StatusSeen
	})
	return true
}

// SeenThrough advances every own message up to and including messageID to
// `seen`. Used for direct chats where reading a message implies reading the
// ones before it. Returns the number of messages changed.
func SeenThrough(store *chatstore.MessageStore, messageID, currentUserID string) int {
	target, ok := store.Get(messageID)
	if !ok {
		return 0
	}
	n := 0
	for _, m := range store.Messages() {
		if m.SenderID != currentUserID || m.Status == chatstore.StatusSeen ||
			m.Status == chatstore.StatusSending || m.Timestamp.After(target.Timestamp) {
			continue
		}
		store.Mutate(m.ID, func(m *chatstore.Message) {
			m.Status = chatstore.StatusSeen
		})
		n++
	}
	return n
}

func hasViewer(m *chatstore.Message, viewerID string) bool {
	for _, r := range m.SeenBy {
		if r.ViewerID == viewerID {
			return true
		}
	}
	return false
}

func withoutViewer(rs []chatstore.SeenReceipt, viewerID string) []chatstore.SeenReceipt {
	out := rs[:0:0]
	for _, r := range rs {
		if r.ViewerID != viewerID {
			out = append(out, r)
		}
	}
	return out
}

func sortRecentFirst(rs []chatstore.SeenReceipt) {
	sort.SliceStable(rs, func(i, j int) bool {
		if !rs[i].SeenAt.Equal(rs[j].SeenAt) {
			return rs[i].SeenAt.After(rs[j].SeenAt)
		}
		return rs[i].ViewerID < rs[j].ViewerID
	})
}
