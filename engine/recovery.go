package engine

import (
	"context"
	"strings"

	"github.com/golang/glog"

	"github.com/Syncre-App/Mobile-sub001/api"
	"github.com/Syncre-App/Mobile-sub001/e2ee"
	"github.com/Syncre-App/Mobile-sub001/ws"
)

const UndecryptableText = "Unable to decrypt this message"

// open decrypts one record. A failure is not an error: the content becomes the
// server preview, or UndecryptableText, and the record is flagged.
func (e *Engine) open(ctx context.Context, snap snapshot, token string, rec *api.MessageRecord, reason string) *opened {
	if !rec.Encrypted() {
		return &opened{rec: rec, text: rec.Content}
	}

	text, err := e.gateway.Decrypt(ctx, &e2ee.DecryptRequest{
		ChatID:        snap.chatID,
		Envelopes:     rec.Envelopes,
		SenderID:      string(rec.SenderID),
		CurrentUserID: snap.me,
		AuthToken:     token,
	})
	if err == nil {
		return &opened{rec: rec, text: text}
	}

	glog.V(5).Infof("open(): decrypt %s in chat %s failed: %v", rec.ID, snap.chatID, err)
	decryptFailures.WithLabelValues(reason).Inc()
	placeholder := strings.TrimSpace(rec.Preview)
	if placeholder == "" {
		placeholder = UndecryptableText
	}
	return &opened{rec: rec, text: placeholder, undecryptable: true}
}

// openAll decrypts records in order and reports whether any failed.
func (e *Engine) openAll(ctx context.Context, snap snapshot, token string, recs []api.MessageRecord, reason string) ([]*opened, bool) {
	out := make([]*opened, 0, len(recs))
	failed := false
	for i := range recs {
		o := e.open(ctx, snap, token, &recs[i], reason)
		failed = failed || o.undecryptable
		out = append(out, o)
	}
	return out, failed
}

// requestReencrypt asks the server to re-wrap history for this device, at most
// once per chat session. Runs on the loop.
func (e *Engine) requestReencrypt(snap snapshot, reason string) {
	if !e.current(snap) || !e.session.latchReencrypt() {
		return
	}
	reencryptRequests.Inc()
	glog.V(5).Infof("requestReencrypt(): chat %s device %s reason %s", snap.chatID, snap.deviceID, reason)
	cmd := &ws.ReencryptCommand{ChatID: snap.chatID, DeviceID: snap.deviceID, Reason: reason}
	e.async(func(ctx context.Context) {
		e.sendCommand(ctx, ws.CmdRequestReencrypt, cmd)
	})
}
