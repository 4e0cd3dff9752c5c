package engine

import "github.com/Syncre-App/Mobile-sub001/chatstore"

// ChatSession is the state of the active conversation. Open installs a copy;
// opening another chat starts from a fresh session.
type ChatSession struct {
	ChatID        string
	Kind          chatstore.ChatKind
	CurrentUserID string
	DeviceID      string

	// Participants are the members of the chat, the current user may be included.
	Participants []string

	// LastSeenID is the last message acknowledged as seen.
	LastSeenID string

	generation         uint64
	joined             bool
	closed             bool
	reencryptRequested bool
}

// Recipients returns the participants other than the current user.
func (s *ChatSession) Recipients() []string {
	out := make([]string, 0, len(s.Participants))
	for _, p := range s.Participants {
		if p != "" && p != s.CurrentUserID {
			out = append(out, p)
		}
	}
	return out
}

// latchReencrypt returns true only the first time it is called in a session.
func (s *ChatSession) latchReencrypt() bool {
	if s.reencryptRequested {
		return false
	}
	s.reencryptRequested = true
	return true
}

func (s *ChatSession) addParticipants(ids []string) {
	for _, id := range ids {
		if !contains(s.Participants, id) {
			s.Participants = append(s.Participants, id)
		}
	}
}

func (s *ChatSession) removeParticipants(ids []string) {
	out := s.Participants[:0:0]
	for _, p := range s.Participants {
		if !contains(ids, p) {
			out = append(out, p)
		}
	}
	s.Participants = out
}

// snapshot is what off-loop work needs to know about the session it started in.
type snapshot struct {
	gen        uint64
	chatID     string
	kind       chatstore.ChatKind
	me         string
	deviceID   string
	recipients []string
}

func (s *ChatSession) snapshot() snapshot {
	return snapshot{
		gen:        s.generation,
		chatID:     s.ChatID,
		kind:       s.Kind,
		me:         s.CurrentUserID,
		deviceID:   s.DeviceID,
		recipients: s.Recipients(),
	}
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
