package ws

//go:generate mockgen -destination=mock/transport.go . ITransport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/Syncre-App/Mobile-sub001/auth"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 3 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = 20 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 25 * time.Second

	// websocket max message size to read; pages of envelopes are large.
	readLimit = 1 << 20

	dialTimeout = 10 * time.Second

	eventBuffer = 64
)

const (
	BackoffMinInterval = 1 * time.Second
	BackoffMaxInterval = 60 * time.Second
	BackoffMultiplier  = 1.5
)

var ErrNotConnected = errors.New("ws: not connected")

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ITransport is a duplex channel of typed frames with observable state.
type ITransport interface {
	Send(ctx context.Context, cmd string, data interface{}) error
	Events() <-chan *Frame
	State() State
	WaitConnected(ctx context.Context) error
}

type outbound struct {
	frame []byte
	errc  chan error
}

// Conn is a reconnecting websocket client. Events survives reconnects and is
// closed once Run returns.
type Conn struct {
	url    string
	tokens auth.TokenSource
	dialer *websocket.Dialer

	events chan *Frame
	sendC  chan *outbound

	mu        sync.Mutex
	state     State
	connected chan struct{} // closed while connected
}

func NewConn(url string, tokens auth.TokenSource) *Conn {
	return &Conn{
		url:    url,
		tokens: tokens,
		dialer: &websocket.Dialer{
			HandshakeTimeout: dialTimeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  1024,
		},
		events:    make(chan *Frame, eventBuffer),
		sendC:     make(chan *outbound),
		connected: make(chan struct{}),
	}
}

func (c *Conn) Events() <-chan *Frame {
	return c.events
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// WaitConnected blocks until the connection is up, ctx is done or the conn is closed.
func (c *Conn) WaitConnected(ctx context.Context) error {
	for {
		c.mu.Lock()
		state, ch := c.state, c.connected
		c.mu.Unlock()

		switch state {
		case StateConnected:
			return nil
		case StateClosed:
			return ErrNotConnected
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == s {
		return
	}
	glog.V(5).Infof("setState(): %s -> %s", c.state, s)
	prev := c.state
	c.state = s
	switch {
	case s == StateConnected:
		close(c.connected)
	case s == StateClosed:
		// release waiters
		if prev != StateConnected {
			close(c.connected)
		}
	case prev == StateConnected:
		c.connected = make(chan struct{})
	}
}

// Send writes one command frame. It fails fast when the connection is down.
func (c *Conn) Send(ctx context.Context, cmd string, data interface{}) error {
	if c.State() != StateConnected {
		return ErrNotConnected
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", cmd, err)
	}
	frame, err := json.Marshal(&Frame{Type: cmd, Data: raw})
	if err != nil {
		return err
	}

	out := &outbound{frame: frame, errc: make(chan error, 1)}
	select {
	case c.sendC <- out:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-out.errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run keeps the connection up until ctx is done.
func (c *Conn) Run(ctx context.Context) {
	defer func() {
		c.setState(StateClosed)
		close(c.events)
		glog.V(5).Infof("Run(): exited, url: %s", c.url)
	}()

	var delay time.Duration
	for {
		c.setState(StateConnecting)
		start := time.Now()
		err := c.session(ctx)
		if ctx.Err() != nil {
			return
		}
		c.setState(StateDisconnected)
		reconnects.Inc()

		if time.Since(start) > BackoffMaxInterval {
			delay = 0
		}
		backoff(&delay)
		glog.Errorf("Run(): connection lost: %v, reconnect in %v", err, delay)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (c *Conn) session(ctx context.Context) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	conn, _, err := c.dialer.DialContext(dctx, c.url, header)
	cancel()
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	c.setState(StateConnected)
	select {
	case c.events <- &Frame{Type: EventConnected}:
	case <-ctx.Done():
		conn.Close()
		return ctx.Err()
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	recvErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		recvErr <- c.recvLoop(conn, stop)
	}()
	err = c.sendLoop(ctx, conn, recvErr)

	// recvLoop must be gone before Run may close the events channel.
	close(stop)
	conn.Close()
	wg.Wait()
	return err
}

func (c *Conn) recvLoop(conn *websocket.Conn, stop <-chan struct{}) error {
	defer glog.V(5).Infof("recvLoop(): exited")

	conn.SetReadLimit(readLimit)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		// any server traffic proves liveness
		conn.SetReadDeadline(time.Now().Add(pongWait))

		if msgType != websocket.TextMessage {
			glog.Errorf("recvLoop(): unexpected message type: %d", msgType)
			continue
		}

		f := &Frame{}
		if err := json.Unmarshal(msg, f); err != nil || f.Type == "" {
			glog.Errorf("recvLoop(): malformed frame: %.100s, err: %v", msg, err)
			continue
		}
		glog.V(5).Infof("recvLoop(): incoming %s: %.100s", f.Type, f.Data)

		select {
		case c.events <- f:
		case <-stop:
			return nil
		}
	}
}

func (c *Conn) sendLoop(ctx context.Context, conn *websocket.Conn, recvErr <-chan error) error {
	pingTicker := time.NewTicker(pingPeriod)
	defer func() {
		pingTicker.Stop()
		glog.V(5).Infof("sendLoop(): exited")
	}()

	for {
		select {
		case <-ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return ctx.Err()
		case err := <-recvErr:
			return err
		case out := <-c.sendC:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.TextMessage, out.frame)
			out.errc <- err
			if err != nil {
				return fmt.Errorf("write: %w", err)
			}
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

// backoff grows d from BackoffMinInterval by BackoffMultiplier, wrapping back
// to the minimum once it passes BackoffMaxInterval.
func backoff(d *time.Duration) {
	if *d == 0 {
		*d = BackoffMinInterval
	} else {
		*d = time.Duration(float64(*d) * BackoffMultiplier)
		if *d < BackoffMaxInterval {
			*d = d.Truncate(time.Millisecond)
		} else {
			*d = BackoffMinInterval
		}
	}
}
