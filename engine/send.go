package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang/glog"

	"github.com/Syncre-App/Mobile-sub001/chatstore"
	"github.com/Syncre-App/Mobile-sub001/codec"
	"github.com/Syncre-App/Mobile-sub001/e2ee"
	"github.com/Syncre-App/Mobile-sub001/reconcile"
	"github.com/Syncre-App/Mobile-sub001/ws"
)

var (
	ErrEmptyDraft  = errors.New("engine: empty draft")
	ErrNotEditable = errors.New("engine: message cannot be changed")
)

// Draft is the composer content of one send.
type Draft = reconcile.Draft

// SendError is returned by a failed send after the optimistic message has been
// rolled back. Draft is what the composer should be restored to.
type SendError struct {
	Draft *Draft
	Err   error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send failed: %v", e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// Send inserts an optimistic message and sends it. The returned id is the
// temporary message id, replaced once the server acknowledges the send.
func (e *Engine) Send(ctx context.Context, d *Draft) (reconcile.PendingID, error) {
	if strings.TrimSpace(d.Text) == "" && len(d.Attachments) == 0 {
		return "", ErrEmptyDraft
	}
	token, err := e.tokens.Token(ctx)
	if err != nil {
		return "", err
	}
	snap, err := e.snapshotSession(ctx)
	if err != nil {
		return "", err
	}
	e.local.Stop()

	id := e.outbox.Track(d)
	pendingSends.Set(float64(e.outbox.Len()))
	now := e.resolver.Now()
	m := chatstore.Message{
		ID:           string(id),
		SenderID:     snap.me,
		Content:      d.Text,
		Timestamp:    now,
		UTCTimestamp: now.UTC(),
		Status:       chatstore.StatusSending,
		Attachments:  append([]chatstore.Attachment(nil), d.Attachments...),
		Optimistic:   true,
	}
	if d.ReplyTo != nil {
		r := *d.ReplyTo
		m.ReplyTo = &r
	}
	if err := e.apply(ctx, snap, func() {
		e.store.MergeIncoming(m)
		e.emit(Change{Kind: ChangeMessages, ChatID: snap.chatID})
	}); err != nil {
		e.outbox.Forget(id)
		pendingSends.Set(float64(e.outbox.Len()))
		return "", err
	}

	if err := e.deliver(ctx, snap, token, d, &m); err != nil {
		return "", &SendError{Draft: e.rollback(snap, id, d, err), Err: err}
	}
	return id, nil
}

func (e *Engine) deliver(ctx context.Context, snap snapshot, token string, d *Draft, m *chatstore.Message) error {
	var wireReply *codec.ReplyTo
	var ref *ws.ReplyRef
	if r := d.ReplyTo; r != nil {
		wireReply = &codec.ReplyTo{MessageID: r.MessageID, SenderID: r.SenderID, SenderLabel: r.Label, Preview: r.Preview}
		ref = &ws.ReplyRef{MessageID: r.MessageID, SenderID: r.SenderID, SenderLabel: r.Label, Preview: r.Preview}
	}

	envs, err := e.gateway.Encrypt(ctx, &e2ee.EncryptRequest{
		ChatID:     snap.chatID,
		Plaintext:  codec.Encode(d.Text, wireReply),
		SenderID:   snap.me,
		Recipients: snap.recipients,
		AuthToken:  token,
	})
	if err != nil {
		return fmt.Errorf("encrypt: %w", err)
	}

	return e.transport.Send(ctx, ws.CmdMessageSend, &ws.SendCommand{
		ChatID:        snap.chatID,
		Envelopes:     envs,
		ReplyTo:       ref,
		AttachmentIDs: m.AttachmentIDs(),
		Preview:       codec.Preview(d.Text),
	})
}

// rollback removes the optimistic message of a failed send and returns the
// draft to restore. The tracked draft wins over `d` while it is still pending.
func (e *Engine) rollback(snap snapshot, id reconcile.PendingID, d *Draft, cause error) *Draft {
	sendFailures.Inc()
	if tracked, ok := e.outbox.Resolve(id); ok {
		d = tracked
	}
	e.outbox.Forget(id)
	pendingSends.Set(float64(e.outbox.Len()))
	glog.Errorf("rollback(): send %s in chat %s: %v", id, snap.chatID, cause)

	ctx, cancel := context.WithTimeout(e.baseContext(), commandTimeout)
	defer cancel()
	_ = e.do(ctx, func() {
		if e.current(snap) {
			e.store.Remove(string(id))
		}
		e.emit(Change{Kind: ChangeSendFailed, ChatID: snap.chatID, Draft: d, Err: cause})
	})
	return d
}

// editable returns the message if the current user may change it.
func (e *Engine) editable(ctx context.Context, id string) (snapshot, chatstore.Message, error) {
	var snap snapshot
	var m chatstore.Message
	var serr error
	if err := e.do(ctx, func() {
		if e.session == nil || e.session.closed {
			serr = ErrNoSession
			return
		}
		snap = e.session.snapshot()
		var ok bool
		m, ok = e.store.Get(id)
		if !ok || m.SenderID != snap.me || m.IsDeleted || m.Optimistic || m.Placeholder {
			serr = ErrNotEditable
		}
	}); err != nil {
		return snap, m, err
	}
	return snap, m, serr
}

// Edit replaces the text of one of the current user's messages.
func (e *Engine) Edit(ctx context.Context, id, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyDraft
	}
	token, err := e.tokens.Token(ctx)
	if err != nil {
		return err
	}
	snap, m, err := e.editable(ctx, id)
	if err != nil {
		return err
	}

	var wireReply *codec.ReplyTo
	if r := m.ReplyTo; r != nil {
		wireReply = &codec.ReplyTo{MessageID: r.MessageID, SenderID: r.SenderID, SenderLabel: r.Label, Preview: r.Preview}
	}
	envs, err := e.gateway.Encrypt(ctx, &e2ee.EncryptRequest{
		ChatID:     snap.chatID,
		Plaintext:  codec.Encode(text, wireReply),
		SenderID:   snap.me,
		Recipients: snap.recipients,
		AuthToken:  token,
	})
	if err != nil {
		return fmt.Errorf("encrypt: %w", err)
	}
	if err := e.transport.Send(ctx, ws.CmdMessageEdit, &ws.EditCommand{
		ChatID:    snap.chatID,
		MessageID: id,
		Envelopes: envs,
		Preview:   codec.Preview(text),
	}); err != nil {
		return err
	}

	now := e.resolver.Now()
	return e.apply(ctx, snap, func() {
		e.store.Mutate(id, func(m *chatstore.Message) {
			m.Content = text
			m.IsEdited = true
			m.EditedAt = now
			m.Undecryptable = false
		})
		e.emit(Change{Kind: ChangeMessages, ChatID: snap.chatID})
	})
}

// Delete soft-deletes one of the current user's messages.
func (e *Engine) Delete(ctx context.Context, id string) error {
	if _, err := e.tokens.Token(ctx); err != nil {
		return err
	}
	snap, _, err := e.editable(ctx, id)
	if err != nil {
		return err
	}
	if err := e.api.DeleteMessage(ctx, snap.chatID, id); err != nil {
		return err
	}

	now := e.resolver.Now()
	return e.apply(ctx, snap, func() {
		e.store.Mutate(id, func(m *chatstore.Message) { m.MarkDeleted(now, "") })
		e.emit(Change{Kind: ChangeMessages, ChatID: snap.chatID})
	})
}

// MarkSeen acknowledges the newest message from another participant.
func (e *Engine) MarkSeen(ctx context.Context) error {
	if _, err := e.tokens.Token(ctx); err != nil {
		return err
	}
	var snap snapshot
	var latest string
	var serr error
	if err := e.do(ctx, func() {
		if e.session == nil || e.session.closed {
			serr = ErrNoSession
			return
		}
		snap = e.session.snapshot()
		msgs := e.store.Messages()
		for i := len(msgs) - 1; i >= 0; i-- {
			if m := msgs[i]; !m.Placeholder && !m.Optimistic && m.SenderID != snap.me {
				latest = m.ID
				break
			}
		}
		if latest == e.session.LastSeenID {
			latest = ""
		}
	}); err != nil {
		return err
	}
	if serr != nil || latest == "" {
		return serr
	}

	if err := e.api.MarkSeen(ctx, snap.chatID); err != nil {
		return err
	}
	if err := e.transport.Send(ctx, ws.CmdMessageSeen, &ws.SeenCommand{ChatID: snap.chatID, MessageID: latest}); err != nil {
		return err
	}
	if e.marks != nil {
		if err := e.marks.SetLastSeen(snap.chatID, latest); err != nil {
			glog.Errorf("MarkSeen(): store last seen of %s: %v", snap.chatID, err)
		}
	}
	return e.apply(ctx, snap, func() {
		e.session.LastSeenID = latest
	})
}
