package engine

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/golang/glog"

	"github.com/Syncre-App/Mobile-sub001/api"
	"github.com/Syncre-App/Mobile-sub001/chatstore"
	"github.com/Syncre-App/Mobile-sub001/codec"
	"github.com/Syncre-App/Mobile-sub001/receipt"
	"github.com/Syncre-App/Mobile-sub001/reconcile"
	"github.com/Syncre-App/Mobile-sub001/ws"
)

var errMissingID = errors.New("event without message id")

// handleFrame dispatches one inbound frame. Runs on the loop.
func (e *Engine) handleFrame(f *ws.Frame) {
	eventsTotal.WithLabelValues(f.Type).Inc()

	if f.Type == ws.EventConnected {
		e.rejoin()
		return
	}
	if e.session == nil || e.session.closed {
		glog.V(5).Infof("handleFrame(): no open chat, drop %s", f.Type)
		return
	}
	if chatID := ws.ChatOf(f); chatID != "" && chatID != e.session.ChatID {
		glog.V(5).Infof("handleFrame(): %s for chat %s, active is %s", f.Type, chatID, e.session.ChatID)
		return
	}

	var err error
	switch f.Type {
	case ws.EventNewMessage:
		err = e.onMessage(f, false)
	case ws.EventMessageEnvelope:
		err = e.onMessage(f, true)
	case ws.EventEnvelopeSent:
		err = e.onEnvelopeSent(f)
	case ws.EventMessageStatus:
		err = e.onStatus(f)
	case ws.EventMessageEdited:
		err = e.onEdited(f)
	case ws.EventMessageDeleted:
		err = e.onDeleted(f)
	case ws.EventChatUpdated, ws.EventChatMembersAdded, ws.EventChatMembersRemoved:
		err = e.onMembers(f)
	case ws.EventChatDeleted:
		e.onChatDeleted()
	case ws.EventTyping, ws.EventStopTyping:
		err = e.onTyping(f)
	default:
		glog.V(5).Infof("handleFrame(): ignore %s", f.Type)
	}
	if err != nil {
		glog.Errorf("handleFrame(): %s error: %v", f.Type, err)
	}
}

// rejoin restores the chat subscription after a reconnect and catches up on
// whatever was missed while disconnected.
func (e *Engine) rejoin() {
	if e.session == nil || e.session.closed || !e.session.joined {
		return
	}
	snap := e.session.snapshot()
	e.async(func(ctx context.Context) {
		if err := e.transport.Send(ctx, ws.CmdJoinChat, &ws.JoinCommand{ChatID: snap.chatID, DeviceID: snap.deviceID}); err != nil {
			glog.Errorf("rejoin(): join chat %s: %v", snap.chatID, err)
			return
		}
		if err := e.Refresh(ctx); err != nil {
			glog.Errorf("rejoin(): refresh chat %s: %v", snap.chatID, err)
		}
	})
}

// onMessage decrypts off the loop and merges the result. An envelope event also
// schedules a coalesced refresh of the newest page.
func (e *Engine) onMessage(f *ws.Frame, envelope bool) error {
	var rec api.MessageRecord
	if err := json.Unmarshal(f.Data, &rec); err != nil {
		return err
	}
	if rec.ID == "" {
		return errMissingID
	}
	snap := e.session.snapshot()
	if envelope {
		if e.refresher.Trigger(snap.chatID) {
			refreshTriggers.WithLabelValues("armed").Inc()
		} else {
			refreshTriggers.WithLabelValues("absorbed").Inc()
		}
	}

	e.async(func(ctx context.Context) {
		token, err := e.tokens.Token(ctx)
		if err != nil {
			glog.Errorf("onMessage(): %v", err)
			return
		}
		o := e.open(ctx, snap, token, &rec, ws.ReasonLiveDecryptFailed)
		e.post(func() {
			if !e.current(snap) {
				staleResults.Inc()
				return
			}
			e.mergeServer(snap, e.toMessage(o, snap.me, e.timezone))
			if o.undecryptable {
				e.requestReencrypt(snap, ws.ReasonLiveDecryptFailed)
			}
			e.emit(Change{Kind: ChangeMessages, ChatID: snap.chatID})
		})
	})
	return nil
}

// mergeServer merges a server message. An own message with an unknown id is
// first matched against the optimistic sends; only a content match counts, the
// oldest-pending fallback is reserved for explicit acks. An undecryptable echo
// matches on its clear preview.
func (e *Engine) mergeServer(snap snapshot, m chatstore.Message) {
	if !e.store.Has(m.ID) && m.SenderID == snap.me && m.Content != UndecryptableText {
		res := reconcile.Match(e.store.Messages(), snap.me, &reconcile.Ack{
			ServerID:      m.ID,
			Preview:       m.Content,
			AttachmentIDs: m.AttachmentIDs(),
		})
		if res.MessageID != "" && !res.Fallback {
			pending, _ := e.store.Get(res.MessageID)
			e.outbox.Claim(reconcile.PendingID(res.MessageID), m.ID)
			e.store.Replace(res.MessageID, adopt(m, pending))
			pendingSends.Set(float64(e.outbox.Len()))
			reconcileOutcomes.WithLabelValues("echo").Inc()
			return
		}
	}
	e.store.MergeIncoming(m)
}

// adopt completes the server copy of one of our sends with the local draft.
func adopt(m, pending chatstore.Message) chatstore.Message {
	m.Status = m.Status.Advance(chatstore.StatusSent)
	if m.Undecryptable && !m.IsDeleted {
		m.Content = pending.Content
		m.Undecryptable = false
		if m.ReplyTo == nil {
			m.ReplyTo = pending.ReplyTo
		}
	}
	if len(m.Attachments) == 0 {
		m.Attachments = pending.Attachments
	}
	return m
}

func (e *Engine) onEnvelopeSent(f *ws.Frame) error {
	var ev ws.EnvelopeSentEvent
	if err := json.Unmarshal(f.Data, &ev); err != nil {
		return err
	}
	if ev.MessageID == "" {
		return errMissingID
	}
	serverID := string(ev.MessageID)
	ack := &reconcile.Ack{ServerID: serverID, Preview: ev.Preview}
	for _, id := range ev.AttachmentIDs {
		ack.AttachmentIDs = append(ack.AttachmentIDs, string(id))
	}
	if ts, ok := e.resolver.ResolveCreated(f.Data, e.timezone); ok {
		ack.CreatedAt = ts.Local
	}
	defer func() { pendingSends.Set(float64(e.outbox.Len())) }()

	if e.store.Has(serverID) {
		e.onLateAck(ack)
		return nil
	}

	out := e.outbox.Reconcile(e.store.Messages(), e.session.CurrentUserID, ack)
	if !out.Matched {
		reconcileOutcomes.WithLabelValues("unmatched").Inc()
		return nil
	}
	m, ok := e.store.Get(string(out.PendingID))
	if !ok {
		reconcileOutcomes.WithLabelValues("unmatched").Inc()
		return nil
	}
	e.store.Replace(string(out.PendingID), reconcile.Apply(m, ack))
	if out.Fallback {
		reconcileOutcomes.WithLabelValues("fallback").Inc()
	} else {
		reconcileOutcomes.WithLabelValues("matched").Inc()
	}
	e.emit(Change{Kind: ChangeMessages, ChatID: e.session.ChatID})
	return nil
}

// onLateAck handles an ack whose server copy is already stored. If that copy
// resolved a pending send on arrival the ack only confirms it; otherwise the
// ack still owns one optimistic message, which collapses into the copy.
func (e *Engine) onLateAck(ack *reconcile.Ack) {
	sent := func(m *chatstore.Message) { m.Status = m.Status.Advance(chatstore.StatusSent) }

	if e.outbox.Claimed(ack.ServerID) {
		e.outbox.Release(ack.ServerID)
		e.store.Mutate(ack.ServerID, sent)
		reconcileOutcomes.WithLabelValues("duplicate").Inc()
		e.emit(Change{Kind: ChangeMessages, ChatID: e.session.ChatID})
		return
	}

	out := e.outbox.Reconcile(e.store.Messages(), e.session.CurrentUserID, ack)
	server, _ := e.store.Get(ack.ServerID)
	pending, ok := e.store.Get(string(out.PendingID))
	if !out.Matched || !ok {
		e.store.Mutate(ack.ServerID, sent)
		reconcileOutcomes.WithLabelValues("duplicate").Inc()
		e.emit(Change{Kind: ChangeMessages, ChatID: e.session.ChatID})
		return
	}
	e.store.Replace(string(out.PendingID), adopt(server, pending))
	if out.Fallback {
		reconcileOutcomes.WithLabelValues("fallback").Inc()
	} else {
		reconcileOutcomes.WithLabelValues("matched").Inc()
	}
	e.emit(Change{Kind: ChangeMessages, ChatID: e.session.ChatID})
}

func (e *Engine) onStatus(f *ws.Frame) error {
	var ev ws.StatusEvent
	if err := json.Unmarshal(f.Data, &ev); err != nil {
		return err
	}
	me := e.session.CurrentUserID
	ids := make([]string, 0, len(ev.MessageIDs)+1)
	for _, id := range append(ev.MessageIDs, ev.MessageID) {
		if id != "" {
			ids = append(ids, string(id))
		}
	}

	// latest own message named by the event
	var latest chatstore.Message
	var own []string
	for _, id := range ids {
		m, ok := e.store.Get(id)
		if !ok || m.SenderID != me {
			continue
		}
		own = append(own, id)
		if latest.ID == "" || m.Timestamp.After(latest.Timestamp) {
			latest = m
		}
	}
	if latest.ID == "" {
		return nil
	}

	switch st := chatstore.ParseStatus(ev.Status); st {
	case chatstore.StatusSent, chatstore.StatusDelivered:
		for _, id := range own {
			e.store.Mutate(id, func(m *chatstore.Message) { m.Status = m.Status.Advance(st) })
		}
	case chatstore.StatusSeen:
		if ev.ViewerID == "" || string(ev.ViewerID) == me {
			for _, id := range own {
				e.store.Mutate(id, func(m *chatstore.Message) { m.Status = chatstore.StatusSeen })
			}
			break
		}
		seenAt, ok := e.resolver.ResolveSeen(f.Data)
		if !ok {
			seenAt = e.resolver.Now()
		}
		receipt.Record(e.store, latest.ID, chatstore.SeenReceipt{
			ViewerID: string(ev.ViewerID),
			Name:     ev.ViewerName,
			Avatar:   ev.ViewerAvatar,
			SeenAt:   seenAt,
		})
		if e.session.Kind != chatstore.ChatKind_Group {
			receipt.SeenThrough(e.store, latest.ID, me)
		}
	default:
		glog.V(5).Infof("onStatus(): ignore status %q", ev.Status)
		return nil
	}
	e.emit(Change{Kind: ChangeMessages, ChatID: e.session.ChatID})
	return nil
}

func (e *Engine) onEdited(f *ws.Frame) error {
	var ev ws.EditedEvent
	if err := json.Unmarshal(f.Data, &ev); err != nil {
		return err
	}
	id := string(ev.MessageID)
	if !e.store.Has(id) {
		glog.V(5).Infof("onEdited(): unknown message %s", id)
		return nil
	}
	editedAt, ok := codec.ParseTime(ev.EditedAt)
	if !ok {
		editedAt = e.resolver.Now()
	}
	rec := &api.MessageRecord{
		ID:        ev.MessageID,
		SenderID:  ev.SenderID,
		Content:   ev.Content,
		Preview:   ev.Preview,
		Envelopes: ev.Envelopes,
	}
	snap := e.session.snapshot()

	e.async(func(ctx context.Context) {
		token, err := e.tokens.Token(ctx)
		if err != nil {
			glog.Errorf("onEdited(): %v", err)
			return
		}
		o := e.open(ctx, snap, token, rec, ws.ReasonLiveDecryptFailed)
		e.post(func() {
			if !e.current(snap) {
				staleResults.Inc()
				return
			}
			e.store.Mutate(id, func(m *chatstore.Message) {
				if m.IsDeleted {
					return
				}
				applyEdit(m, o, editedAt)
			})
			if o.undecryptable {
				e.requestReencrypt(snap, ws.ReasonLiveDecryptFailed)
			}
			e.emit(Change{Kind: ChangeMessages, ChatID: snap.chatID})
		})
	})
	return nil
}

func applyEdit(m *chatstore.Message, o *opened, at time.Time) {
	m.IsEdited = true
	m.EditedAt = at
	m.Undecryptable = o.undecryptable
	if o.undecryptable {
		m.Content = o.text
		return
	}
	p := codec.Decode(o.text)
	m.Content = codec.ResolveContentText(p.Text, o.rec.Preview, len(m.Attachments) > 0)
	if p.ReplyTo != nil {
		m.ReplyTo = &chatstore.ReplyMetadata{
			MessageID: p.ReplyTo.MessageID,
			SenderID:  p.ReplyTo.SenderID,
			Label:     p.ReplyTo.SenderLabel,
			Preview:   chatstore.TruncatePreview(p.ReplyTo.Preview, chatstore.MaxReplyPreview),
		}
	}
}

func (e *Engine) onDeleted(f *ws.Frame) error {
	var ev ws.DeletedEvent
	if err := json.Unmarshal(f.Data, &ev); err != nil {
		return err
	}
	at, ok := codec.ParseTime(ev.DeletedAt)
	if !ok {
		at = e.resolver.Now()
	}
	if e.store.Mutate(string(ev.MessageID), func(m *chatstore.Message) {
		m.MarkDeleted(at, ev.DeletedByName)
	}) {
		e.emit(Change{Kind: ChangeMessages, ChatID: e.session.ChatID})
	}
	return nil
}

func (e *Engine) onMembers(f *ws.Frame) error {
	var ev ws.ChatEvent
	if err := json.Unmarshal(f.Data, &ev); err != nil {
		return err
	}
	ids := func(in []api.ID) []string {
		out := make([]string, 0, len(in))
		for _, id := range in {
			if id != "" {
				out = append(out, string(id))
			}
		}
		return out
	}

	switch f.Type {
	case ws.EventChatUpdated:
		if len(ev.Participants) == 0 {
			return nil
		}
		e.session.Participants = ids(ev.Participants)
	case ws.EventChatMembersAdded:
		e.session.addParticipants(ids(ev.Participants))
	case ws.EventChatMembersRemoved:
		removed := ids(ev.Removed)
		if len(removed) == 0 {
			removed = ids(ev.Participants)
		}
		e.session.removeParticipants(removed)
		for _, id := range removed {
			e.remote.Clear(id)
		}
	}
	e.emit(Change{Kind: ChangeParticipants, ChatID: e.session.ChatID})
	return nil
}

// onChatDeleted empties the store and closes the session. No further events or
// calls apply to it.
func (e *Engine) onChatDeleted() {
	chatID := e.session.ChatID
	e.leaveLocked()
	e.session.closed = true
	e.store = chatstore.NewMessageStore()
	e.cursor.Exhaust()
	e.emit(Change{Kind: ChangeChatDeleted, ChatID: chatID})
}

func (e *Engine) onTyping(f *ws.Frame) error {
	var ev ws.TypingEvent
	if err := json.Unmarshal(f.Data, &ev); err != nil {
		return err
	}
	userID := string(ev.UserID)
	if userID == "" || userID == e.session.CurrentUserID {
		return nil
	}
	if f.Type == ws.EventTyping {
		e.remote.Observe(userID)
	} else {
		e.remote.Clear(userID)
	}
	return nil
}
