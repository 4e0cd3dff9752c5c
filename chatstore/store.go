package chatstore

import (
	"sort"
	"time"

	"github.com/golang/glog"
)

const (
	placeholderGreetingID = "placeholder-greeting"
	placeholderPromptID   = "placeholder-prompt"

	PlaceholderGreeting = "No messages here yet."
	PlaceholderPrompt   = "Say hello to start the conversation!"
)

// MessageStore is the ordered, deduplicated message list of one conversation.
// It is not safe for concurrent use: the engine loop owns it.
type MessageStore struct {
	msgs  []Message
	index map[string]int

	now func() time.Time
}

func NewMessageStore() *MessageStore {
	return &MessageStore{
		index: make(map[string]int),
		now:   time.Now,
	}
}

// ReplaceAll drops the current contents. An empty input seeds the empty-state placeholders.
func (s *MessageStore) ReplaceAll(msgs []Message) {
	s.msgs = s.msgs[:0]
	seen := make(map[string]int, len(msgs))
	for i := range msgs {
		m := msgs[i].clone()
		if j, ok := seen[m.ID]; ok {
			s.msgs[j] = m
			continue
		}
		seen[m.ID] = len(s.msgs)
		s.msgs = append(s.msgs, m)
	}
	if len(s.msgs) == 0 {
		s.msgs = s.placeholders()
	}
	s.sort()
}

// MergeOlder prepends a page of older messages, skipping ids already present.
// Returns the number of messages added.
func (s *MessageStore) MergeOlder(msgs []Message) int {
	added := 0
	for i := range msgs {
		if _, ok := s.index[msgs[i].ID]; ok {
			continue
		}
		if added == 0 {
			s.dropPlaceholders()
		}
		s.msgs = append(s.msgs, msgs[i].clone())
		s.index[msgs[i].ID] = len(s.msgs) - 1
		added++
	}
	if added > 0 {
		s.sort()
	}
	return added
}

// MergeIncoming inserts `m`, or replaces the stored message with the same id.
// Returns true if it was an insert.
func (s *MessageStore) MergeIncoming(m Message) bool {
	m = m.clone()
	if !m.Placeholder {
		s.dropPlaceholders()
	}

	inserted := true
	if i, ok := s.index[m.ID]; ok {
		old := &s.msgs[i]
		m.Status = old.Status.Advance(m.Status)
		if len(m.SeenBy) == 0 && len(old.SeenBy) > 0 {
			m.SeenBy = old.SeenBy
		}
		s.msgs[i] = m
		inserted = false
	} else {
		s.msgs = append(s.msgs, m)
	}
	s.sort()
	return inserted
}

// Mutate applies `fn` to the message with the given id. Returns false if not found.
// Status never moves backward across a mutation.
func (s *MessageStore) Mutate(id string, fn func(m *Message)) bool {
	i, ok := s.index[id]
	if !ok {
		return false
	}
	m := &s.msgs[i]
	prev := m.Status
	fn(m)
	m.Status = prev.Advance(m.Status)
	if m.ID != id {
		glog.Errorf("Mutate(): id change %s -> %s is not allowed, use Replace", id, m.ID)
		m.ID = id
	}
	s.sort()
	return true
}

// Replace swaps the message `oldID` for `m`. Used when an optimistic message is
// reconciled with its server identity. If `m.ID` is already stored the two entries
// collapse into one.
func (s *MessageStore) Replace(oldID string, m Message) bool {
	if _, ok := s.index[oldID]; !ok {
		return false
	}
	s.remove(oldID)
	s.MergeIncoming(m)
	return true
}

// Remove physically removes a message, only for rolled back optimistic sends.
func (s *MessageStore) Remove(id string) bool {
	return s.remove(id)
}

func (s *MessageStore) remove(id string) bool {
	i, ok := s.index[id]
	if !ok {
		return false
	}
	s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
	delete(s.index, id)
	s.reindex()
	return true
}

func (s *MessageStore) Get(id string) (Message, bool) {
	i, ok := s.index[id]
	if !ok {
		return Message{}, false
	}
	return s.msgs[i].clone(), true
}

func (s *MessageStore) Has(id string) bool {
	_, ok := s.index[id]
	return ok
}

func (s *MessageStore) Len() int {
	return len(s.msgs)
}

// Messages returns a copy of the stored messages in display order.
func (s *MessageStore) Messages() []Message {
	out := make([]Message, len(s.msgs))
	for i := range s.msgs {
		out[i] = s.msgs[i].clone()
	}
	return out
}

// HasReal reports whether any non-placeholder message is stored.
func (s *MessageStore) HasReal() bool {
	for i := range s.msgs {
		if !s.msgs[i].Placeholder {
			return true
		}
	}
	return false
}

func (s *MessageStore) placeholders() []Message {
	now := s.now()
	return []Message{
		{
			ID:           placeholderGreetingID,
			Content:      PlaceholderGreeting,
			Timestamp:    now,
			UTCTimestamp: now.UTC(),
			Placeholder:  true,
		},
		{
			ID:           placeholderPromptID,
			Content:      PlaceholderPrompt,
			Timestamp:    now.Add(time.Millisecond),
			UTCTimestamp: now.Add(time.Millisecond).UTC(),
			Placeholder:  true,
		},
	}
}

func (s *MessageStore) dropPlaceholders() {
	n := 0
	for i := range s.msgs {
		if !s.msgs[i].Placeholder {
			s.msgs[n] = s.msgs[i]
			n++
		}
	}
	if n != len(s.msgs) {
		s.msgs = s.msgs[:n]
		s.reindex()
	}
}

// sort keeps arrival order for equal timestamps.
func (s *MessageStore) sort() {
	sort.SliceStable(s.msgs, func(i, j int) bool {
		return s.msgs[i].Timestamp.Before(s.msgs[j].Timestamp)
	})
	s.reindex()
}

func (s *MessageStore) reindex() {
	s.index = make(map[string]int, len(s.msgs))
	for i := range s.msgs {
		s.index[s.msgs[i].ID] = i
	}
}
