package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"github.com/Syncre-App/Mobile-sub001/api"
	"github.com/Syncre-App/Mobile-sub001/auth"
	"github.com/Syncre-App/Mobile-sub001/chatstore"
	"github.com/Syncre-App/Mobile-sub001/coalesce"
	"github.com/Syncre-App/Mobile-sub001/codec"
	"github.com/Syncre-App/Mobile-sub001/e2ee"
	"github.com/Syncre-App/Mobile-sub001/receipt"
	"github.com/Syncre-App/Mobile-sub001/reconcile"
	"github.com/Syncre-App/Mobile-sub001/store"
	"github.com/Syncre-App/Mobile-sub001/thread"
	"github.com/Syncre-App/Mobile-sub001/typing"
	"github.com/Syncre-App/Mobile-sub001/ws"
)

const (
	commandTimeout = 10 * time.Second
	changeBuffer   = 64
)

var (
	ErrNoSession = errors.New("engine: no open chat")
	ErrStopped   = errors.New("engine: stopped")
	ErrStale     = errors.New("engine: chat switched")
)

type Options struct {
	API       api.IClient
	Transport ws.ITransport
	Gateway   e2ee.IGateway
	Tokens    auth.TokenSource

	// Marks is optional.
	Marks store.IMarkStore

	// BaseURL resolves relative attachment urls.
	BaseURL string

	PageSize      int
	RefreshWindow time.Duration
	TypingIdle    time.Duration
	TypingTTL     time.Duration
	MaxSkew       time.Duration
}

// Engine keeps the message list of one open conversation in sync.
//
// Run owns all conversation state: public methods hop onto its loop, network
// and crypto I/O run on the caller's goroutine (or a spawned one) and post the
// results back. A result whose session generation is no longer current is
// dropped.
type Engine struct {
	api       api.IClient
	transport ws.ITransport
	gateway   e2ee.IGateway
	tokens    auth.TokenSource
	marks     store.IMarkStore
	resolver  *codec.TimestampResolver
	baseURL   string
	pageSize  int

	execC   chan func()
	stopped chan struct{}
	changes chan Change
	runCtx  context.Context

	// workers tracks async goroutines, Run returns after they finish.
	workersMu sync.Mutex
	workers   sync.WaitGroup
	draining  bool

	// activeChat is readable off-loop, for the typing callbacks.
	activeChat atomic.Value

	outbox    *reconcile.Outbox
	refresher *coalesce.Coalescer
	local     *typing.Local
	remote    *typing.Remote

	// loop state
	session      *ChatSession
	generation   uint64
	store        *chatstore.MessageStore
	cursor       chatstore.Cursor
	timezone     string
	loadingOlder bool
}

func New(opts *Options) *Engine {
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = api.DefaultPageSize
	}
	resolver := codec.NewTimestampResolver()
	if opts.MaxSkew > 0 {
		resolver.MaxSkew = opts.MaxSkew
	}

	e := &Engine{
		api:       opts.API,
		transport: opts.Transport,
		gateway:   opts.Gateway,
		tokens:    opts.Tokens,
		marks:     opts.Marks,
		resolver:  resolver,
		baseURL:   opts.BaseURL,
		pageSize:  pageSize,
		execC:     make(chan func()),
		stopped:   make(chan struct{}),
		changes:   make(chan Change, changeBuffer),
		runCtx:    context.Background(),
		outbox:    reconcile.NewOutbox(),
		store:     chatstore.NewMessageStore(),
	}
	e.activeChat.Store("")
	e.refresher = coalesce.New(opts.RefreshWindow, e.coalescedRefresh)
	e.local = typing.NewLocal(opts.TypingIdle, e.emitTyping)
	e.remote = typing.NewRemote(opts.TypingTTL, func(active []string) {
		e.emit(Change{Kind: ChangeTyping, ChatID: e.activeChat.Load().(string)})
	})
	return e
}

// Run processes transport events and engine calls until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	e.workersMu.Lock()
	e.runCtx = ctx
	e.workersMu.Unlock()
	events := e.transport.Events()
	defer func() {
		e.refresher.Stop()
		e.workersMu.Lock()
		e.draining = true
		e.workersMu.Unlock()
		close(e.stopped)
		e.workers.Wait()
		glog.V(5).Infof("Run(): exited")
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-e.execC:
			fn()
		case f, ok := <-events:
			if !ok {
				glog.Errorf("Run(): transport events closed")
				events = nil
				continue
			}
			e.handleFrame(f)
		}
	}
}

// Changes notifies about state changes. Slow readers lose notifications, never
// state: every read method returns the current state.
func (e *Engine) Changes() <-chan Change {
	return e.changes
}

// do runs fn on the loop and waits for it.
func (e *Engine) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case e.execC <- func() { fn(); close(done) }:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopped:
		return ErrStopped
	}
	<-done
	return nil
}

// post queues fn on the loop without waiting. Must not be called from the loop.
func (e *Engine) post(fn func()) {
	select {
	case e.execC <- fn:
	case <-e.stopped:
	}
}

// async runs fn off the loop with a bounded context. It is a no-op once Run
// is returning.
func (e *Engine) async(fn func(ctx context.Context)) {
	e.workersMu.Lock()
	defer e.workersMu.Unlock()
	if e.draining {
		return
	}
	e.workers.Add(1)
	parent := e.runCtx
	go func() {
		defer e.workers.Done()
		ctx, cancel := context.WithTimeout(parent, commandTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (e *Engine) baseContext() context.Context {
	e.workersMu.Lock()
	defer e.workersMu.Unlock()
	return e.runCtx
}

func (e *Engine) current(snap snapshot) bool {
	return e.session != nil && !e.session.closed && e.session.generation == snap.gen
}

// snapshotSession reads the active session from the loop.
func (e *Engine) snapshotSession(ctx context.Context) (snapshot, error) {
	var snap snapshot
	var err error
	if derr := e.do(ctx, func() {
		if e.session == nil || e.session.closed {
			err = ErrNoSession
			return
		}
		snap = e.session.snapshot()
	}); derr != nil {
		return snap, derr
	}
	return snap, err
}

// Open makes chat the active conversation: it resets all state, joins the chat
// over the transport and loads the newest page.
func (e *Engine) Open(ctx context.Context, s ChatSession) error {
	if s.ChatID == "" {
		return fmt.Errorf("open: empty chat id")
	}
	if s.CurrentUserID == "" {
		token, err := e.tokens.Token(ctx)
		if err != nil {
			return err
		}
		if s.CurrentUserID, err = auth.Subject(token); err != nil {
			return fmt.Errorf("open: resolve current user: %w", err)
		}
	}
	s.Participants = append([]string(nil), s.Participants...)
	if s.LastSeenID == "" && e.marks != nil {
		if id, err := e.marks.LastSeen(s.ChatID); err == nil {
			s.LastSeenID = id
		} else {
			glog.Errorf("Open(): read last seen of %s: %v", s.ChatID, err)
		}
	}

	var prev string
	var snap snapshot
	if err := e.do(ctx, func() {
		if e.session != nil && !e.session.closed {
			prev = e.session.ChatID
			e.leaveLocked()
		}
		e.generation++
		s.generation = e.generation
		s.joined, s.closed, s.reencryptRequested = false, false, false
		e.session = &s
		e.store = chatstore.NewMessageStore()
		e.cursor.Reset()
		e.timezone = ""
		e.loadingOlder = false
		e.activeChat.Store(s.ChatID)
		snap = s.snapshot()
	}); err != nil {
		return err
	}
	if prev != "" {
		e.sendCommand(ctx, ws.CmdLeaveChat, &ws.JoinCommand{ChatID: prev, DeviceID: snap.deviceID})
	}

	if err := e.transport.WaitConnected(ctx); err != nil {
		return fmt.Errorf("open: wait connected: %w", err)
	}
	if err := e.transport.Send(ctx, ws.CmdJoinChat, &ws.JoinCommand{ChatID: snap.chatID, DeviceID: snap.deviceID}); err != nil {
		return fmt.Errorf("open: join chat: %w", err)
	}
	_ = e.do(ctx, func() {
		if e.current(snap) {
			e.session.joined = true
		}
	})

	return e.LoadInitial(ctx)
}

// Close leaves the active chat, flushing a pending typing stop first.
func (e *Engine) Close(ctx context.Context) error {
	var chatID, deviceID string
	if err := e.do(ctx, func() {
		if e.session == nil || e.session.closed {
			return
		}
		chatID, deviceID = e.session.ChatID, e.session.DeviceID
		e.leaveLocked()
		e.session = nil
		e.generation++
	}); err != nil {
		return err
	}
	if chatID == "" {
		return nil
	}
	return e.transport.Send(ctx, ws.CmdLeaveChat, &ws.JoinCommand{ChatID: chatID, DeviceID: deviceID})
}

// leaveLocked tears down per-chat helpers. Runs on the loop.
func (e *Engine) leaveLocked() {
	e.local.Stop()
	e.remote.Reset()
	e.refresher.Cancel(e.session.ChatID)
	e.outbox.ReleaseAll()
	e.activeChat.Store("")
}

// Messages returns the current message list, oldest first.
func (e *Engine) Messages(ctx context.Context) ([]chatstore.Message, error) {
	var out []chatstore.Message
	err := e.do(ctx, func() { out = e.store.Messages() })
	return out, err
}

// Session returns a copy of the active session.
func (e *Engine) Session(ctx context.Context) (ChatSession, error) {
	var s ChatSession
	var err error
	if derr := e.do(ctx, func() {
		if e.session == nil {
			err = ErrNoSession
			return
		}
		s = *e.session
		s.Participants = append([]string(nil), e.session.Participants...)
	}); derr != nil {
		return s, derr
	}
	return s, err
}

// CanLoadOlder reports whether a backward fetch would hit the server.
func (e *Engine) CanLoadOlder(ctx context.Context) (bool, error) {
	var ok bool
	err := e.do(ctx, func() { ok = e.session != nil && e.cursor.CanLoadOlder() })
	return ok, err
}

type ReceiptView struct {
	Shown    []chatstore.SeenReceipt
	Overflow int
}

// Receipts returns the receipts to render, keyed by message id.
func (e *Engine) Receipts(ctx context.Context) (map[string]ReceiptView, error) {
	out := make(map[string]ReceiptView)
	err := e.do(ctx, func() {
		if e.session == nil {
			return
		}
		for id, rs := range receipt.Build(e.store.Messages(), e.session.CurrentUserID) {
			shown, overflow := receipt.Visible(rs, e.session.Kind)
			out[id] = ReceiptView{Shown: shown, Overflow: overflow}
		}
	})
	return out, err
}

// Threads returns reply counts keyed by root message id.
func (e *Engine) Threads(ctx context.Context) (map[string]int, error) {
	var out map[string]int
	err := e.do(ctx, func() { out = thread.Index(e.store.Messages()) })
	return out, err
}

// Thread returns the root message followed by its replies.
func (e *Engine) Thread(ctx context.Context, rootID string) ([]chatstore.Message, error) {
	var out []chatstore.Message
	err := e.do(ctx, func() { out = thread.View(e.store.Messages(), rootID) })
	return out, err
}

// TypingUsers returns the other participants currently typing.
func (e *Engine) TypingUsers() []string {
	return e.remote.Active()
}

// Typing records a composer keystroke.
func (e *Engine) Typing() {
	e.local.Keystroke()
}

func (e *Engine) StopTyping() {
	e.local.Stop()
}

func (e *Engine) emitTyping(typing bool) {
	chatID := e.activeChat.Load().(string)
	if chatID == "" {
		return
	}
	cmd := ws.CmdStopTyping
	if typing {
		cmd = ws.CmdTyping
	}
	e.async(func(ctx context.Context) {
		e.sendCommand(ctx, cmd, &ws.TypingCommand{ChatID: chatID})
	})
}

// sendCommand sends a best-effort command, logging failures.
func (e *Engine) sendCommand(ctx context.Context, cmd string, data interface{}) {
	if err := e.transport.Send(ctx, cmd, data); err != nil {
		glog.Errorf("sendCommand(): %s error: %v", cmd, err)
	}
}

func (e *Engine) emit(c Change) {
	select {
	case e.changes <- c:
	default:
		glog.V(5).Infof("emit(): change buffer full, drop %s", c.Kind)
	}
}
