package engine

import (
	"github.com/Syncre-App/Mobile-sub001/api"
	"github.com/Syncre-App/Mobile-sub001/chatstore"
	"github.com/Syncre-App/Mobile-sub001/codec"
)

// opened is a server record with its content already decrypted.
type opened struct {
	rec           *api.MessageRecord
	text          string
	undecryptable bool
}

// toMessage builds the store form of a record. Own messages get a delivery
// status, never lower than `sent`; seen receipts are kept on own messages only.
func (e *Engine) toMessage(o *opened, me, fallbackTZ string) chatstore.Message {
	rec := o.rec
	if rec.Timezone != "" {
		fallbackTZ = rec.Timezone
	}
	ts := e.resolver.Resolve(rec.Raw, fallbackTZ)

	m := chatstore.Message{
		ID:            string(rec.ID),
		SenderID:      string(rec.SenderID),
		ReceiverID:    string(rec.ReceiverID),
		Timestamp:     ts.Local,
		UTCTimestamp:  ts.UTC,
		Timezone:      ts.Timezone,
		Undecryptable: o.undecryptable,
	}
	m.Attachments = e.attachments(rec.Attachments)

	if o.undecryptable {
		m.Content = o.text
	} else {
		p := codec.Decode(o.text)
		m.Content = codec.ResolveContentText(p.Text, rec.Preview, len(m.Attachments) > 0)
		if p.ReplyTo != nil {
			m.ReplyTo = &chatstore.ReplyMetadata{
				MessageID: p.ReplyTo.MessageID,
				SenderID:  p.ReplyTo.SenderID,
				Label:     p.ReplyTo.SenderLabel,
				Preview:   chatstore.TruncatePreview(p.ReplyTo.Preview, chatstore.MaxReplyPreview),
			}
		}
	}
	if m.ReplyTo == nil && rec.ReplyTo != nil && rec.ReplyTo.MessageID != "" {
		m.ReplyTo = &chatstore.ReplyMetadata{
			MessageID: string(rec.ReplyTo.MessageID),
			SenderID:  string(rec.ReplyTo.SenderID),
			Label:     rec.ReplyTo.SenderLabel,
			Preview:   chatstore.TruncatePreview(rec.ReplyTo.Preview, chatstore.MaxReplyPreview),
		}
	}

	if rec.IsEdited {
		m.IsEdited = true
		m.EditedAt, _ = codec.ParseTime(rec.EditedAt)
	}

	if m.SenderID == me {
		m.Status = chatstore.StatusSent.Advance(chatstore.ParseStatus(rec.Status))
		if _, ok := e.resolver.ResolveDelivered(rec.Raw); ok {
			m.Status = m.Status.Advance(chatstore.StatusDelivered)
		}
		if _, ok := e.resolver.ResolveSeen(rec.Raw); ok {
			m.Status = m.Status.Advance(chatstore.StatusSeen)
		}
		for _, s := range rec.SeenBy {
			if s.UserID == "" || string(s.UserID) == me {
				continue
			}
			at, _ := codec.ParseTime(s.SeenAt)
			m.SeenBy = append(m.SeenBy, chatstore.SeenReceipt{
				ViewerID: string(s.UserID),
				Name:     s.Name,
				Avatar:   s.Avatar,
				SeenAt:   at,
			})
		}
		if len(m.SeenBy) > 0 {
			m.Status = m.Status.Advance(chatstore.StatusSeen)
		}
	}

	if rec.IsDeleted {
		at, _ := codec.ParseTime(rec.DeletedAt)
		m.MarkDeleted(at, rec.DeletedByName)
	}
	return m
}

func (e *Engine) attachments(in []api.Attachment) []chatstore.Attachment {
	if len(in) == 0 {
		return nil
	}
	out := make([]chatstore.Attachment, 0, len(in))
	for _, a := range in {
		isImage, isVideo := chatstore.Classify(a.MimeType)
		out = append(out, chatstore.Attachment{
			ID:          string(a.ID),
			Name:        a.Name,
			MimeType:    a.MimeType,
			Size:        a.Size,
			Status:      chatstore.ParseAttachmentStatus(a.Status),
			IsImage:     isImage || a.IsImage,
			IsVideo:     isVideo || a.IsVideo,
			PreviewURL:  chatstore.ResolveURL(e.baseURL, a.PreviewURL),
			DownloadURL: chatstore.ResolveURL(e.baseURL, a.DownloadURL),
		})
	}
	return out
}
