package reconcile

import (
	"sync"

	"github.com/golang/glog"
	"github.com/pborman/uuid"

	"github.com/Syncre-App/Mobile-sub001/chatstore"
)

// PendingID identifies an optimistic send until the server acknowledges it.
// It is also the temporary message id.
type PendingID string

// Draft is the composer state of one send, kept so a failed send can be restored.
type Draft struct {
	Text        string
	ReplyTo     *chatstore.ReplyMetadata
	Attachments []chatstore.Attachment
}

type Outcome struct {
	PendingID PendingID
	ServerID  string
	Matched   bool
	Fallback  bool
}

// Outbox tracks in-flight sends, and the server ids that already resolved one.
type Outbox struct {
	sync.Mutex

	pending map[PendingID]*Draft
	claimed map[string]PendingID
}

func NewOutbox() *Outbox {
	return &Outbox{
		pending: make(map[PendingID]*Draft),
		claimed: make(map[string]PendingID),
	}
}

// Track registers a draft and returns the temporary id for its optimistic message.
func (o *Outbox) Track(d *Draft) PendingID {
	o.Lock()
	defer o.Unlock()
	id := PendingID("tmp-" + uuid.New())
	o.pending[id] = d
	return id
}

// Resolve returns the draft of a pending send.
func (o *Outbox) Resolve(id PendingID) (*Draft, bool) {
	o.Lock()
	defer o.Unlock()
	d, ok := o.pending[id]
	return d, ok
}

func (o *Outbox) Forget(id PendingID) {
	o.Lock()
	defer o.Unlock()
	delete(o.pending, id)
}

// Claim resolves the pending send id with serverID.
func (o *Outbox) Claim(id PendingID, serverID string) {
	o.Lock()
	defer o.Unlock()
	delete(o.pending, id)
	o.claimed[serverID] = id
}

// Claimed reports whether serverID already resolved a pending send.
func (o *Outbox) Claimed(serverID string) bool {
	o.Lock()
	defer o.Unlock()
	_, ok := o.claimed[serverID]
	return ok
}

// Release drops the claim of serverID once its ack has been seen.
func (o *Outbox) Release(serverID string) {
	o.Lock()
	defer o.Unlock()
	delete(o.claimed, serverID)
}

// ReleaseAll drops every claim, pending sends stay tracked.
func (o *Outbox) ReleaseAll() {
	o.Lock()
	defer o.Unlock()
	o.claimed = make(map[string]PendingID)
}

func (o *Outbox) Len() int {
	o.Lock()
	defer o.Unlock()
	return len(o.pending)
}

// Reconcile matches an ack against the store contents. A matched pending send
// is forgotten, so a second ack can never resolve to the same draft.
func (o *Outbox) Reconcile(msgs []chatstore.Message, currentUserID string, ack *Ack) Outcome {
	res := Match(msgs, currentUserID, ack)
	if res.MessageID == "" {
		glog.V(5).Infof("Reconcile(): no pending send for ack %s", ack.ServerID)
		return Outcome{ServerID: ack.ServerID}
	}
	id := PendingID(res.MessageID)
	o.Forget(id)
	if res.Fallback {
		glog.V(5).Infof("Reconcile(): ack %s fell back to oldest pending %s", ack.ServerID, id)
	}
	return Outcome{PendingID: id, ServerID: ack.ServerID, Matched: true, Fallback: res.Fallback}
}
