package engine

import (
	"context"

	"github.com/golang/glog"

	"github.com/Syncre-App/Mobile-sub001/api"
	"github.com/Syncre-App/Mobile-sub001/chatstore"
	"github.com/Syncre-App/Mobile-sub001/ws"
)

// fetch loads and decrypts one page off the loop.
func (e *Engine) fetch(ctx context.Context, snap snapshot, before string) (*api.Page, []*opened, bool, error) {
	token, err := e.tokens.Token(ctx)
	if err != nil {
		return nil, nil, false, err
	}
	page, err := e.api.FetchMessages(ctx, &api.FetchRequest{
		ChatID:   snap.chatID,
		Limit:    e.pageSize,
		Before:   before,
		DeviceID: snap.deviceID,
	})
	if err != nil {
		return nil, nil, false, err
	}
	recs, failed := e.openAll(ctx, snap, token, page.Messages, ws.ReasonMissingHistory)
	return page, recs, failed, nil
}

// toMessages runs on the loop, after the page timezone is known.
func (e *Engine) toMessages(recs []*opened, me string) []chatstore.Message {
	out := make([]chatstore.Message, 0, len(recs))
	for _, o := range recs {
		if o.rec.ID == "" {
			glog.Errorf("toMessages(): drop record without id")
			continue
		}
		out = append(out, e.toMessage(o, me, e.timezone))
	}
	return out
}

// LoadInitial replaces the store with the newest page. Messages merged while
// the page was in flight, live events and optimistic sends, survive the reload.
func (e *Engine) LoadInitial(ctx context.Context) error {
	snap, err := e.snapshotSession(ctx)
	if err != nil {
		return err
	}
	page, recs, failed, err := e.fetch(ctx, snap, "")
	if err != nil {
		return err
	}

	return e.apply(ctx, snap, func() {
		if page.Timezone != "" {
			e.timezone = page.Timezone
		}
		var live []chatstore.Message
		if e.store.HasReal() {
			for _, m := range e.store.Messages() {
				if !m.Placeholder {
					live = append(live, m)
				}
			}
		}
		e.store.ReplaceAll(e.toMessages(recs, snap.me))
		for _, m := range live {
			if !e.store.Has(m.ID) {
				e.store.MergeIncoming(m)
			}
		}
		e.cursor.Set(string(page.NextCursor), page.HasMore, len(page.Messages))
		if failed {
			e.requestReencrypt(snap, ws.ReasonMissingHistory)
		}
		e.emit(Change{Kind: ChangeMessages, ChatID: snap.chatID})
	})
}

// LoadOlder fetches the page before the cursor and returns the number of
// messages added. It is a no-op while another backward fetch runs or once the
// cursor is exhausted. A failed fetch leaves the cursor as it was.
func (e *Engine) LoadOlder(ctx context.Context) (int, error) {
	var snap snapshot
	var before string
	var run bool
	var serr error
	if err := e.do(ctx, func() {
		if e.session == nil || e.session.closed {
			serr = ErrNoSession
			return
		}
		if e.loadingOlder || !e.cursor.CanLoadOlder() {
			return
		}
		e.loadingOlder = true
		run = true
		snap = e.session.snapshot()
		before = e.cursor.Before
	}); err != nil {
		return 0, err
	}
	if serr != nil || !run {
		return 0, serr
	}
	defer func() {
		_ = e.do(context.Background(), func() {
			if e.current(snap) {
				e.loadingOlder = false
			}
		})
	}()

	page, recs, failed, err := e.fetch(ctx, snap, before)
	if err != nil {
		glog.V(5).Infof("LoadOlder(): chat %s before %s: %v", snap.chatID, before, err)
		return 0, err
	}

	added := 0
	err = e.apply(ctx, snap, func() {
		added = e.store.MergeOlder(e.toMessages(recs, snap.me))
		e.cursor.Set(string(page.NextCursor), page.HasMore, len(page.Messages))
		if failed {
			e.requestReencrypt(snap, ws.ReasonMissingHistory)
		}
		if added > 0 {
			e.emit(Change{Kind: ChangeMessages, ChatID: snap.chatID})
		}
	})
	return added, err
}

// Refresh merges the newest page into the store and resets the cursor to it.
func (e *Engine) Refresh(ctx context.Context) error {
	snap, err := e.snapshotSession(ctx)
	if err != nil {
		return err
	}
	refreshes.Inc()
	page, recs, failed, err := e.fetch(ctx, snap, "")
	if err != nil {
		return err
	}

	return e.apply(ctx, snap, func() {
		if page.Timezone != "" {
			e.timezone = page.Timezone
		}
		for _, m := range e.toMessages(recs, snap.me) {
			e.mergeServer(snap, m)
		}
		e.cursor.Set(string(page.NextCursor), page.HasMore, len(page.Messages))
		if failed {
			e.requestReencrypt(snap, ws.ReasonMissingHistory)
		}
		e.emit(Change{Kind: ChangeMessages, ChatID: snap.chatID})
	})
}

// coalescedRefresh is the refresher callback, keyed by chat id.
func (e *Engine) coalescedRefresh(chatID string) {
	if chatID != e.activeChat.Load().(string) {
		return
	}
	e.async(func(ctx context.Context) {
		if err := e.Refresh(ctx); err != nil {
			glog.Errorf("coalescedRefresh(): chat %s: %v", chatID, err)
		}
	})
}

// apply runs fn on the loop if the session that started the work is still
// active, else drops the result.
func (e *Engine) apply(ctx context.Context, snap snapshot, fn func()) error {
	var stale bool
	if err := e.do(ctx, func() {
		if !e.current(snap) {
			stale = true
			return
		}
		fn()
	}); err != nil {
		return err
	}
	if stale {
		staleResults.Inc()
		glog.V(5).Infof("apply(): drop result for chat %s", snap.chatID)
		return ErrStale
	}
	return nil
}
