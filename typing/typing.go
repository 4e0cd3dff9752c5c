package typing

import (
	"sort"
	"sync"
	"time"
)

const (
	DefaultIdle = 1500 * time.Millisecond
	DefaultTTL  = 2500 * time.Millisecond
)

// Local debounces the typing state of the current user. emit(true) is called
// once when typing starts, emit(false) exactly once when it stops, either on
// Stop or after `idle` without a keystroke.
type Local struct {
	mu     sync.Mutex
	idle   time.Duration
	emit   func(typing bool)
	typing bool
	gen    uint64
	timer  *time.Timer
}

func NewLocal(idle time.Duration, emit func(typing bool)) *Local {
	if idle <= 0 {
		idle = DefaultIdle
	}
	return &Local{idle: idle, emit: emit}
}

func (l *Local) Keystroke() {
	l.mu.Lock()
	started := !l.typing
	l.typing = true
	l.gen++
	gen := l.gen
	if l.timer != nil {
		l.timer.Stop()
	}
	l.timer = time.AfterFunc(l.idle, func() { l.expire(gen) })
	l.mu.Unlock()

	if started {
		l.emit(true)
	}
}

// Stop ends typing, e.g. on send or when leaving the chat.
func (l *Local) Stop() {
	l.expire(0)
}

func (l *Local) Typing() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.typing
}

// expire stops typing. gen 0 forces, otherwise only the timer armed by the
// latest keystroke may stop it.
func (l *Local) expire(gen uint64) {
	l.mu.Lock()
	if !l.typing || (gen != 0 && gen != l.gen) {
		l.mu.Unlock()
		return
	}
	l.typing = false
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.mu.Unlock()

	l.emit(false)
}

// Remote tracks which other participants are typing. An entry clears itself
// after `ttl` in case the stop event is lost.
type Remote struct {
	mu       sync.Mutex
	ttl      time.Duration
	onChange func(active []string)
	users    map[string]*remoteEntry
}

type remoteEntry struct {
	gen   uint64
	timer *time.Timer
}

func NewRemote(ttl time.Duration, onChange func(active []string)) *Remote {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if onChange == nil {
		onChange = func([]string) {}
	}
	return &Remote{ttl: ttl, onChange: onChange, users: make(map[string]*remoteEntry)}
}

// Observe marks userID as typing and re-arms its auto-clear timer.
func (r *Remote) Observe(userID string) {
	r.mu.Lock()
	e, ok := r.users[userID]
	if !ok {
		e = &remoteEntry{}
		r.users[userID] = e
	}
	e.gen++
	gen := e.gen
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(r.ttl, func() { r.clear(userID, gen) })
	active := r.activeLocked()
	r.mu.Unlock()

	if !ok {
		r.onChange(active)
	}
}

func (r *Remote) Clear(userID string) {
	r.clear(userID, 0)
}

// Reset drops every entry without notifying.
func (r *Remote) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.users {
		e.timer.Stop()
		delete(r.users, id)
	}
}

// Active returns the typing users, sorted.
func (r *Remote) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeLocked()
}

func (r *Remote) clear(userID string, gen uint64) {
	r.mu.Lock()
	e, ok := r.users[userID]
	if !ok || (gen != 0 && gen != e.gen) {
		r.mu.Unlock()
		return
	}
	e.timer.Stop()
	delete(r.users, userID)
	active := r.activeLocked()
	r.mu.Unlock()

	r.onChange(active)
}

func (r *Remote) activeLocked() []string {
	out := make([]string, 0, len(r.users))
	for id := range r.users {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
