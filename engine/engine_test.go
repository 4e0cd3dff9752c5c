package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Syncre-App/Mobile-sub001/api"
	api_mock "github.com/Syncre-App/Mobile-sub001/api/mock"
	"github.com/Syncre-App/Mobile-sub001/auth"
	"github.com/Syncre-App/Mobile-sub001/chatstore"
	"github.com/Syncre-App/Mobile-sub001/e2ee"
	e2ee_mock "github.com/Syncre-App/Mobile-sub001/e2ee/mock"
	"github.com/Syncre-App/Mobile-sub001/ws"
	ws_mock "github.com/Syncre-App/Mobile-sub001/ws/mock"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var base = time.Now().Add(-time.Hour).Truncate(time.Second)

type sentCmd struct {
	cmd  string
	data interface{}
}

type harness struct {
	api     *api_mock.MockIClient
	tr      *ws_mock.MockITransport
	gw      *e2ee_mock.MockIGateway
	tokens  *auth.Holder
	events  chan *ws.Frame
	eng     *Engine
	mu      sync.Mutex
	sent    []sentCmd
	failCmd map[string]error
}

func newHarness(t *testing.T, tweaks ...func(*Options)) *harness {
	ctrl := gomock.NewController(t)
	h := &harness{
		api:     api_mock.NewMockIClient(ctrl),
		tr:      ws_mock.NewMockITransport(ctrl),
		gw:      e2ee_mock.NewMockIGateway(ctrl),
		tokens:  &auth.Holder{},
		events:  make(chan *ws.Frame, 16),
		failCmd: make(map[string]error),
	}
	h.tokens.Set("token")

	h.tr.EXPECT().Events().Return((<-chan *ws.Frame)(h.events)).AnyTimes()
	h.tr.EXPECT().WaitConnected(gomock.Any()).Return(nil).AnyTimes()
	h.tr.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, cmd string, data interface{}) error {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.sent = append(h.sent, sentCmd{cmd: cmd, data: data})
			return h.failCmd[cmd]
		}).AnyTimes()

	opts := &Options{
		API:           h.api,
		Transport:     h.tr,
		Gateway:       h.gw,
		Tokens:        h.tokens,
		BaseURL:       "https://chat.example.com/",
		RefreshWindow: 20 * time.Millisecond,
		TypingIdle:    40 * time.Millisecond,
		TypingTTL:     150 * time.Millisecond,
	}
	for _, tweak := range tweaks {
		tweak(opts)
	}
	h.eng = New(opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.eng.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func (h *harness) failOn(cmd string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failCmd[cmd] = err
}

func (h *harness) sentOf(cmd string) []interface{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []interface{}
	for _, s := range h.sent {
		if s.cmd == cmd {
			out = append(out, s.data)
		}
	}
	return out
}

func (h *harness) push(typ, data string) {
	h.events <- &ws.Frame{Type: typ, Data: json.RawMessage(data)}
}

func (h *harness) open(t *testing.T, kind chatstore.ChatKind, page *api.Page) {
	h.api.EXPECT().FetchMessages(gomock.Any(), &api.FetchRequest{ChatID: "c1", Limit: 20, DeviceID: "d1"}).Return(page, nil)
	require.NoError(t, h.eng.Open(context.Background(), ChatSession{
		ChatID:        "c1",
		Kind:          kind,
		CurrentUserID: "me",
		DeviceID:      "d1",
		Participants:  []string{"me", "u2", "u3"},
	}))
}

func (h *harness) messages(t *testing.T) []chatstore.Message {
	msgs, err := h.eng.Messages(context.Background())
	require.NoError(t, err)
	return msgs
}

func (h *harness) message(t *testing.T, id string) (chatstore.Message, bool) {
	for _, m := range h.messages(t) {
		if m.ID == id {
			return m, true
		}
	}
	return chatstore.Message{}, false
}

func (h *harness) waitChange(t *testing.T, kind ChangeKind) Change {
	timeout := time.After(waitFor)
	for {
		select {
		case c := <-h.eng.Changes():
			if c.Kind == kind {
				return c
			}
		case <-timeout:
			t.Fatalf("no %s change", kind)
			return Change{}
		}
	}
}

func msgJSON(id, sender, content string, at time.Duration, extra string) string {
	return fmt.Sprintf(`{"id":%q,"chatId":"c1","senderId":%q,"content":%q,"createdAt":%q%s}`,
		id, sender, content, base.Add(at).Format(time.RFC3339), extra)
}

func record(t *testing.T, id, sender, content string, at time.Duration, extra string) api.MessageRecord {
	var r api.MessageRecord
	require.NoError(t, json.Unmarshal([]byte(msgJSON(id, sender, content, at, extra)), &r))
	return r
}

const envelopes = `,"envelopes":[{"recipientId":"me","deviceId":"d1","ciphertext":"eA==","nonce":"bg=="}]`

func ids(msgs []chatstore.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func TestOpenLoadsNewestPageSorted(t *testing.T) {
	h := newHarness(t)
	h.open(t, chatstore.ChatKind_Two, &api.Page{
		Messages: []api.MessageRecord{
			record(t, "m3", "u2", "third", 3*time.Second, ""),
			record(t, "m1", "me", "first", time.Second, `,"attachments":[{"id":"a1","mimeType":"image/png","previewUrl":"/files/a1"}]`),
			record(t, "m2", "u2", `{"v":1,"text":"second","replyTo":{"messageId":"m1","senderId":"me"}}`, 2*time.Second, ""),
		},
		HasMore:    true,
		NextCursor: "cur-1",
	})

	msgs := h.messages(t)
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids(msgs))
	assert.Equal(t, chatstore.StatusSent, msgs[0].Status)
	assert.Equal(t, "https://chat.example.com/files/a1", msgs[0].Attachments[0].PreviewURL)
	assert.True(t, msgs[0].Attachments[0].IsImage)
	assert.Equal(t, "second", msgs[1].Content)
	require.NotNil(t, msgs[1].ReplyTo)
	assert.Equal(t, "m1", msgs[1].ReplyTo.MessageID)
	assert.Empty(t, msgs[1].Status)

	joins := h.sentOf(ws.CmdJoinChat)
	require.Len(t, joins, 1)
	assert.Equal(t, &ws.JoinCommand{ChatID: "c1", DeviceID: "d1"}, joins[0])

	ok, err := h.eng.CanLoadOlder(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOpenEmptyChatSeedsPlaceholders(t *testing.T) {
	h := newHarness(t)
	h.open(t, chatstore.ChatKind_Two, &api.Page{})

	msgs := h.messages(t)
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		assert.True(t, m.Placeholder)
	}

	h.push(ws.EventNewMessage, msgJSON("m1", "u2", "hey", 0, ""))
	require.Eventually(t, func() bool {
		msgs := h.messages(t)
		return len(msgs) == 1 && msgs[0].ID == "m1"
	}, waitFor, tick)
}

func TestOpenDerivesUserFromToken(t *testing.T) {
	h := newHarness(t)
	issuer := &auth.MockClient{Secret: []byte("s")}
	token, err := issuer.Issue("u42", time.Hour)
	require.NoError(t, err)
	h.tokens.Set(token)

	h.api.EXPECT().FetchMessages(gomock.Any(), gomock.Any()).Return(&api.Page{}, nil)
	require.NoError(t, h.eng.Open(context.Background(), ChatSession{ChatID: "c1", DeviceID: "d1"}))

	s, err := h.eng.Session(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u42", s.CurrentUserID)
}

func TestUndecryptableEnvelopeRequestsReencryptOnce(t *testing.T) {
	h := newHarness(t)
	h.open(t, chatstore.ChatKind_Two, &api.Page{})

	h.gw.EXPECT().Decrypt(gomock.Any(), gomock.Any()).Return("", e2ee.ErrUndecryptable).AnyTimes()
	h.api.EXPECT().FetchMessages(gomock.Any(), gomock.Any()).Return(&api.Page{
		Messages: []api.MessageRecord{
			record(t, "m0", "u2", "plain", 0, ""),
			record(t, "m1", "u2", "", time.Second, envelopes),
		},
	}, nil).MinTimes(1)

	h.push(ws.EventMessageEnvelope, msgJSON("m1", "u2", "", time.Second, envelopes))

	// the coalesced refresh brings m0 and the same undecryptable m1
	require.Eventually(t, func() bool {
		_, ok := h.message(t, "m0")
		return ok
	}, waitFor, tick)

	msgs := h.messages(t)
	require.Equal(t, []string{"m0", "m1"}, ids(msgs))
	assert.Equal(t, UndecryptableText, msgs[1].Content)
	assert.True(t, msgs[1].Undecryptable)
	assert.False(t, msgs[1].Optimistic)

	require.Eventually(t, func() bool { return len(h.sentOf(ws.CmdRequestReencrypt)) > 0 }, waitFor, tick)
	time.Sleep(50 * time.Millisecond)
	reqs := h.sentOf(ws.CmdRequestReencrypt)
	require.Len(t, reqs, 1)
	assert.Equal(t, &ws.ReencryptCommand{ChatID: "c1", DeviceID: "d1", Reason: ws.ReasonLiveDecryptFailed}, reqs[0])
}

func TestUndecryptableUsesPreview(t *testing.T) {
	h := newHarness(t)
	h.gw.EXPECT().Decrypt(gomock.Any(), gomock.Any()).Return("", e2ee.ErrUndecryptable)
	h.open(t, chatstore.ChatKind_Two, &api.Page{
		Messages: []api.MessageRecord{record(t, "m1", "u2", "", 0, envelopes+`,"preview":"see you"`)},
	})

	m, ok := h.message(t, "m1")
	require.True(t, ok)
	assert.Equal(t, "see you", m.Content)
	require.Eventually(t, func() bool { return len(h.sentOf(ws.CmdRequestReencrypt)) == 1 }, waitFor, tick)
	assert.Equal(t, ws.ReasonMissingHistory, h.sentOf(ws.CmdRequestReencrypt)[0].(*ws.ReencryptCommand).Reason)
}

func TestSendHelloAck(t *testing.T) {
	h := newHarness(t)
	h.open(t, chatstore.ChatKind_Two, &api.Page{})

	envs := []e2ee.Envelope{{RecipientID: "u2", DeviceID: "x", Ciphertext: "c", Nonce: "n"}}
	h.gw.EXPECT().Encrypt(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req *e2ee.EncryptRequest) ([]e2ee.Envelope, error) {
			assert.Equal(t, `{"v":1,"text":"Hello"}`, req.Plaintext)
			assert.Equal(t, []string{"u2", "u3"}, req.Recipients)
			assert.Equal(t, "token", req.AuthToken)
			return envs, nil
		})

	id, err := h.eng.Send(context.Background(), &Draft{Text: "Hello"})
	require.NoError(t, err)

	msgs := h.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, string(id), msgs[0].ID)
	assert.Equal(t, chatstore.StatusSending, msgs[0].Status)
	assert.True(t, msgs[0].Optimistic)

	sends := h.sentOf(ws.CmdMessageSend)
	require.Len(t, sends, 1)
	assert.Equal(t, &ws.SendCommand{ChatID: "c1", Envelopes: envs, AttachmentIDs: []string{}, Preview: "Hello"}, sends[0])

	h.push(ws.EventEnvelopeSent, `{"chatId":"c1","messageId":"srv-1","preview":"Hello"}`)
	require.Eventually(t, func() bool {
		msgs := h.messages(t)
		return len(msgs) == 1 && msgs[0].ID == "srv-1"
	}, waitFor, tick)
	m, _ := h.message(t, "srv-1")
	assert.Equal(t, chatstore.StatusSent, m.Status)
	assert.False(t, m.Optimistic)

	// a late echo of the same message does not duplicate it
	h.push(ws.EventNewMessage, msgJSON("srv-1", "me", "Hello", 0, ""))
	h.push(ws.EventMessageStatus, `{"chatId":"c1","messageId":"srv-1","status":"delivered"}`)
	require.Eventually(t, func() bool {
		m, _ := h.message(t, "srv-1")
		return m.Status == chatstore.StatusDelivered
	}, waitFor, tick)
	assert.Len(t, h.messages(t), 1)
}

func TestEchoBeforeAck(t *testing.T) {
	h := newHarness(t)
	h.open(t, chatstore.ChatKind_Two, &api.Page{})
	h.gw.EXPECT().Encrypt(gomock.Any(), gomock.Any()).Return(nil, nil).Times(2)

	first, err := h.eng.Send(context.Background(), &Draft{Text: "Hi there"})
	require.NoError(t, err)
	_, err = h.eng.Send(context.Background(), &Draft{Text: "second one"})
	require.NoError(t, err)

	h.push(ws.EventNewMessage, msgJSON("srv-9", "me", "second one", 0, ""))
	require.Eventually(t, func() bool {
		_, ok := h.message(t, "srv-9")
		return ok
	}, waitFor, tick)

	// the ack for srv-9 arrives after the echo, the first send stays pending
	h.push(ws.EventEnvelopeSent, `{"chatId":"c1","messageId":"srv-9","preview":"second one"}`)
	time.Sleep(30 * time.Millisecond)

	msgs := h.messages(t)
	require.Len(t, msgs, 2)
	m, ok := h.message(t, string(first))
	require.True(t, ok)
	assert.Equal(t, chatstore.StatusSending, m.Status)
	m, _ = h.message(t, "srv-9")
	assert.Equal(t, chatstore.StatusSent, m.Status)
	assert.Equal(t, "second one", m.Content)
}

func TestUndecryptableEchoMatchesOnPreview(t *testing.T) {
	h := newHarness(t)
	h.open(t, chatstore.ChatKind_Two, &api.Page{})
	h.gw.EXPECT().Encrypt(gomock.Any(), gomock.Any()).Return(nil, nil)
	h.gw.EXPECT().Decrypt(gomock.Any(), gomock.Any()).Return("", e2ee.ErrUndecryptable)

	_, err := h.eng.Send(context.Background(), &Draft{Text: "Hello"})
	require.NoError(t, err)

	h.push(ws.EventNewMessage, msgJSON("srv-1", "me", "", 0, envelopes+`,"preview":"Hello"`))
	require.Eventually(t, func() bool {
		_, ok := h.message(t, "srv-1")
		return ok
	}, waitFor, tick)
	require.Len(t, h.messages(t), 1)

	h.push(ws.EventEnvelopeSent, `{"chatId":"c1","messageId":"srv-1","preview":"Hello"}`)
	time.Sleep(30 * time.Millisecond)

	msgs := h.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, "srv-1", msgs[0].ID)
	assert.Equal(t, "Hello", msgs[0].Content)
	assert.Equal(t, chatstore.StatusSent, msgs[0].Status)
	assert.False(t, msgs[0].Optimistic)
	assert.False(t, msgs[0].Undecryptable)
	assert.Equal(t, 0, h.eng.outbox.Len())
}

func TestUnmatchedEchoCollapsesOnAck(t *testing.T) {
	h := newHarness(t)
	h.open(t, chatstore.ChatKind_Two, &api.Page{})
	h.gw.EXPECT().Encrypt(gomock.Any(), gomock.Any()).Return(nil, nil)
	h.gw.EXPECT().Decrypt(gomock.Any(), gomock.Any()).Return("", e2ee.ErrUndecryptable)

	id, err := h.eng.Send(context.Background(), &Draft{Text: "Hello"})
	require.NoError(t, err)

	// no clear preview, nothing to match the echo with
	h.push(ws.EventNewMessage, msgJSON("srv-1", "me", "", 0, envelopes))
	require.Eventually(t, func() bool { return len(h.messages(t)) == 2 }, waitFor, tick)

	h.push(ws.EventEnvelopeSent, `{"chatId":"c1","messageId":"srv-1","preview":"Hello"}`)
	require.Eventually(t, func() bool { return len(h.messages(t)) == 1 }, waitFor, tick)

	_, ok := h.message(t, string(id))
	assert.False(t, ok)
	m, ok := h.message(t, "srv-1")
	require.True(t, ok)
	assert.Equal(t, "Hello", m.Content)
	assert.Equal(t, chatstore.StatusSent, m.Status)
	assert.False(t, m.Optimistic)
}

func TestAckTimestampGoesThroughResolver(t *testing.T) {
	h := newHarness(t)
	h.open(t, chatstore.ChatKind_Two, &api.Page{})
	h.gw.EXPECT().Encrypt(gomock.Any(), gomock.Any()).Return(nil, nil).Times(2)

	_, err := h.eng.Send(context.Background(), &Draft{Text: "early"})
	require.NoError(t, err)
	_, err = h.eng.Send(context.Background(), &Draft{Text: "skewed"})
	require.NoError(t, err)

	confirmed := base.Add(10 * time.Second)
	h.push(ws.EventEnvelopeSent, fmt.Sprintf(`{"chatId":"c1","messageId":"srv-1","preview":"early","createdAt":%q}`,
		confirmed.Format(time.RFC3339)))
	h.push(ws.EventEnvelopeSent, fmt.Sprintf(`{"chatId":"c1","messageId":"srv-2","preview":"skewed","createdAt":%q}`,
		time.Now().Add(time.Hour).Format(time.RFC3339)))
	require.Eventually(t, func() bool {
		_, ok1 := h.message(t, "srv-1")
		_, ok2 := h.message(t, "srv-2")
		return ok1 && ok2
	}, waitFor, tick)

	m, _ := h.message(t, "srv-1")
	assert.True(t, m.Timestamp.Equal(confirmed), "got %v", m.Timestamp)
	m, _ = h.message(t, "srv-2")
	assert.True(t, m.Timestamp.Before(time.Now().Add(time.Minute)), "future ack time kept: %v", m.Timestamp)
	assert.Equal(t, []string{"srv-1", "srv-2"}, ids(h.messages(t)))
}

func TestLiveMessageSurvivesInitialLoad(t *testing.T) {
	h := newHarness(t)
	fetching := make(chan struct{})
	release := make(chan struct{})
	h.api.EXPECT().FetchMessages(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, *api.FetchRequest) (*api.Page, error) {
			close(fetching)
			<-release
			return &api.Page{Messages: []api.MessageRecord{record(t, "m1", "u2", "one", time.Second, "")}}, nil
		})

	opened := make(chan error, 1)
	go func() {
		opened <- h.eng.Open(context.Background(), ChatSession{
			ChatID:        "c1",
			Kind:          chatstore.ChatKind_Two,
			CurrentUserID: "me",
			DeviceID:      "d1",
			Participants:  []string{"me", "u2"},
		})
	}()
	<-fetching

	h.push(ws.EventNewMessage, msgJSON("m2", "u2", "two", 2*time.Second, ""))
	require.Eventually(t, func() bool {
		_, ok := h.message(t, "m2")
		return ok
	}, waitFor, tick)

	close(release)
	require.NoError(t, <-opened)
	assert.Equal(t, []string{"m1", "m2"}, ids(h.messages(t)))
}

func TestEnvelopeBurstRefreshesOnce(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.RefreshWindow = 200 * time.Millisecond })
	h.open(t, chatstore.ChatKind_Group, &api.Page{})

	var mu sync.Mutex
	fetches := 0
	h.api.EXPECT().FetchMessages(gomock.Any(), &api.FetchRequest{ChatID: "c1", Limit: 20, DeviceID: "d1"}).DoAndReturn(
		func(context.Context, *api.FetchRequest) (*api.Page, error) {
			mu.Lock()
			fetches++
			mu.Unlock()
			return &api.Page{}, nil
		}).Times(1)

	for i := 0; i < 5; i++ {
		h.push(ws.EventMessageEnvelope, msgJSON(fmt.Sprintf("m%d", i), "u2", "x", time.Duration(i)*time.Second, ""))
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fetches == 1
	}, waitFor, tick)
	require.Eventually(t, func() bool { return len(h.messages(t)) == 5 }, waitFor, tick)

	time.Sleep(250 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 1, fetches)
	mu.Unlock()
}

func TestSendLocalAttachment(t *testing.T) {
	h := newHarness(t)
	h.open(t, chatstore.ChatKind_Two, &api.Page{})
	h.gw.EXPECT().Encrypt(gomock.Any(), gomock.Any()).Return(nil, nil)

	a := chatstore.Attachment{ID: "local-1", Name: "x.png", Status: chatstore.AttachmentPending, LocalURI: "file:///tmp/x.png"}
	id, err := h.eng.Send(context.Background(), &Draft{Attachments: []chatstore.Attachment{a}})
	require.NoError(t, err)

	m, ok := h.message(t, string(id))
	require.True(t, ok)
	require.Len(t, m.Attachments, 1)
	assert.Equal(t, "file:///tmp/x.png", m.Attachments[0].LocalURI)

	sends := h.sentOf(ws.CmdMessageSend)
	require.Len(t, sends, 1)
	assert.Empty(t, sends[0].(*ws.SendCommand).AttachmentIDs)
}

func TestSendFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	h.open(t, chatstore.ChatKind_Two, &api.Page{})
	h.gw.EXPECT().Encrypt(gomock.Any(), gomock.Any()).Return(nil, nil)
	cause := errors.New("socket closed")
	h.failOn(ws.CmdMessageSend, cause)

	draft := &Draft{
		Text:    "lost",
		ReplyTo: &chatstore.ReplyMetadata{MessageID: "m0", SenderID: "u2", Label: "U2", Preview: "earlier"},
	}
	_, err := h.eng.Send(context.Background(), draft)
	var se *SendError
	require.True(t, errors.As(err, &se))
	assert.Same(t, draft, se.Draft)
	assert.ErrorIs(t, err, cause)

	c := h.waitChange(t, ChangeSendFailed)
	assert.Same(t, draft, c.Draft)

	for _, m := range h.messages(t) {
		assert.True(t, m.Placeholder, "unexpected message %s", m.ID)
	}
	assert.Equal(t, 0, h.eng.outbox.Len())
}

func TestSendEncryptFailure(t *testing.T) {
	h := newHarness(t)
	h.open(t, chatstore.ChatKind_Two, &api.Page{})
	h.gw.EXPECT().Encrypt(gomock.Any(), gomock.Any()).Return(nil, errors.New("no keys"))

	_, err := h.eng.Send(context.Background(), &Draft{Text: "x"})
	var se *SendError
	require.True(t, errors.As(err, &se))
	assert.Empty(t, h.sentOf(ws.CmdMessageSend))
}

func TestSendMissingToken(t *testing.T) {
	h := newHarness(t)
	h.open(t, chatstore.ChatKind_Two, &api.Page{})
	h.tokens.Set("")

	_, err := h.eng.Send(context.Background(), &Draft{Text: "Hello"})
	assert.ErrorIs(t, err, auth.ErrMissingToken)
	assert.Len(t, h.messages(t), 2)

	_, err = h.eng.Send(context.Background(), &Draft{Text: "  "})
	assert.ErrorIs(t, err, ErrEmptyDraft)
}

func TestLoadOlderExhaustionAndRetry(t *testing.T) {
	h := newHarness(t)
	h.open(t, chatstore.ChatKind_Two, &api.Page{
		Messages:   []api.MessageRecord{record(t, "m5", "u2", "five", 5*time.Second, "")},
		HasMore:    true,
		NextCursor: "cur-5",
	})

	older := &api.FetchRequest{ChatID: "c1", Limit: 20, Before: "cur-5", DeviceID: "d1"}
	gomock.InOrder(
		h.api.EXPECT().FetchMessages(gomock.Any(), older).Return(nil, errors.New("timeout")),
		h.api.EXPECT().FetchMessages(gomock.Any(), older).Return(&api.Page{
			Messages: []api.MessageRecord{
				record(t, "m4", "u2", "four", 4*time.Second, ""),
				record(t, "m5", "u2", "five", 5*time.Second, ""),
			},
			HasMore: false,
		}, nil),
	)

	ctx := context.Background()
	n, err := h.eng.LoadOlder(ctx)
	assert.Error(t, err)
	assert.Zero(t, n)
	ok, _ := h.eng.CanLoadOlder(ctx)
	assert.True(t, ok, "a failed fetch keeps the cursor")

	n, err = h.eng.LoadOlder(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"m4", "m5"}, ids(h.messages(t)))

	ok, _ = h.eng.CanLoadOlder(ctx)
	assert.False(t, ok)
	n, err = h.eng.LoadOlder(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	h.api.EXPECT().FetchMessages(gomock.Any(), &api.FetchRequest{ChatID: "c1", Limit: 20, DeviceID: "d1"}).Return(&api.Page{
		Messages:   []api.MessageRecord{record(t, "m6", "u2", "six", 6*time.Second, "")},
		HasMore:    true,
		NextCursor: "cur-6",
	}, nil)
	require.NoError(t, h.eng.Refresh(ctx))
	assert.Equal(t, []string{"m4", "m5", "m6"}, ids(h.messages(t)))
	ok, _ = h.eng.CanLoadOlder(ctx)
	assert.True(t, ok)
}

func TestLoadOlderSingleFlight(t *testing.T) {
	h := newHarness(t)
	h.open(t, chatstore.ChatKind_Two, &api.Page{
		Messages:   []api.MessageRecord{record(t, "m5", "u2", "five", 5*time.Second, "")},
		HasMore:    true,
		NextCursor: "cur-5",
	})

	release := make(chan struct{})
	entered := make(chan struct{})
	h.api.EXPECT().FetchMessages(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, *api.FetchRequest) (*api.Page, error) {
			close(entered)
			<-release
			return &api.Page{Messages: []api.MessageRecord{record(t, "m1", "u2", "one", time.Second, "")}}, nil
		}).Times(1)

	errc := make(chan error, 1)
	go func() {
		_, err := h.eng.LoadOlder(context.Background())
		errc <- err
	}()
	<-entered

	n, err := h.eng.LoadOlder(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	close(release)
	require.NoError(t, <-errc)
	assert.Equal(t, []string{"m1", "m5"}, ids(h.messages(t)))
}

func TestChatSwitchDropsStaleResults(t *testing.T) {
	h := newHarness(t)
	h.open(t, chatstore.ChatKind_Two, &api.Page{
		Messages:   []api.MessageRecord{record(t, "m5", "u2", "five", 5*time.Second, "")},
		HasMore:    true,
		NextCursor: "cur-5",
	})

	release := make(chan struct{})
	entered := make(chan struct{})
	h.api.EXPECT().FetchMessages(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req *api.FetchRequest) (*api.Page, error) {
			if req.ChatID == "c2" {
				return &api.Page{Messages: []api.MessageRecord{record(t, "x1", "u9", "other chat", 0, "")}}, nil
			}
			close(entered)
			<-release
			return &api.Page{Messages: []api.MessageRecord{record(t, "m1", "u2", "stale", time.Second, "")}}, nil
		}).Times(2)

	errc := make(chan error, 1)
	go func() {
		_, err := h.eng.LoadOlder(context.Background())
		errc <- err
	}()
	<-entered

	require.NoError(t, h.eng.Open(context.Background(), ChatSession{ChatID: "c2", CurrentUserID: "me", DeviceID: "d1"}))
	close(release)
	assert.ErrorIs(t, <-errc, ErrStale)

	assert.Equal(t, []string{"x1"}, ids(h.messages(t)))
	require.Len(t, h.sentOf(ws.CmdLeaveChat), 1)
	assert.Equal(t, &ws.JoinCommand{ChatID: "c1", DeviceID: "d1"}, h.sentOf(ws.CmdLeaveChat)[0])

	// events of the previous chat are ignored
	h.push(ws.EventMessageDeleted, `{"chatId":"c1","messageId":"x1"}`)
	h.push(ws.EventMessageDeleted, `{"chatId":"c2","messageId":"x1"}`)
	require.Eventually(t, func() bool {
		m, _ := h.message(t, "x1")
		return m.IsDeleted
	}, waitFor, tick)
}

func TestSeenReceiptsGroup(t *testing.T) {
	h := newHarness(t)
	h.open(t, chatstore.ChatKind_Group, &api.Page{
		Messages: []api.MessageRecord{
			record(t, "m1", "me", "one", time.Second, ""),
			record(t, "m2", "me", "two", 2*time.Second, ""),
		},
	})

	h.push(ws.EventMessageStatus, `{"chatId":"c1","messageId":"m1","status":"seen","viewerId":"u2","viewerName":"Ann"}`)
	h.push(ws.EventMessageStatus, `{"chatId":"c1","messageIds":["m2"],"status":"seen","viewerId":"u2","viewerName":"Ann"}`)
	h.push(ws.EventMessageStatus, `{"chatId":"c1","messageId":"m1","status":"seen","viewerId":"u3","viewerName":"Bob"}`)
	h.push(ws.EventMessageStatus, `{"chatId":"c1","messageId":"m2","status":"delivered"}`)

	require.Eventually(t, func() bool {
		r, err := h.eng.Receipts(context.Background())
		return err == nil && len(r["m1"].Shown) == 1 && len(r["m2"].Shown) == 1
	}, waitFor, tick)

	r, err := h.eng.Receipts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u3", r["m1"].Shown[0].ViewerID)
	assert.Equal(t, "u2", r["m2"].Shown[0].ViewerID)
	assert.Equal(t, "Ann", r["m2"].Shown[0].Name)

	m, _ := h.message(t, "m2")
	assert.Equal(t, chatstore.StatusSeen, m.Status)
}

func TestSeenThroughDirect(t *testing.T) {
	h := newHarness(t)
	h.open(t, chatstore.ChatKind_Two, &api.Page{
		Messages: []api.MessageRecord{
			record(t, "m1", "me", "one", time.Second, ""),
			record(t, "m2", "u2", "reply", 2*time.Second, ""),
			record(t, "m3", "me", "three", 3*time.Second, ""),
		},
	})

	h.push(ws.EventMessageStatus, `{"chatId":"c1","messageId":"m3","status":"seen","viewerId":"u2"}`)
	require.Eventually(t, func() bool {
		m, _ := h.message(t, "m1")
		return m.Status == chatstore.StatusSeen
	}, waitFor, tick)
	m, _ := h.message(t, "m3")
	assert.Equal(t, chatstore.StatusSeen, m.Status)
}

func TestEditedAndDeletedEvents(t *testing.T) {
	h := newHarness(t)
	h.open(t, chatstore.ChatKind_Two, &api.Page{
		Messages: []api.MessageRecord{record(t, "m1", "u2", "typo", time.Second, `,"attachments":[{"id":"a1"}]`)},
	})

	h.push(ws.EventMessageEdited, `{"chatId":"c1","messageId":"m1","senderId":"u2","content":"{\"v\":1,\"text\":\"fixed\"}"}`)
	require.Eventually(t, func() bool {
		m, _ := h.message(t, "m1")
		return m.IsEdited && m.Content == "fixed"
	}, waitFor, tick)

	h.push(ws.EventMessageDeleted, `{"chatId":"c1","messageId":"m1","deletedByName":"U2"}`)
	require.Eventually(t, func() bool {
		m, _ := h.message(t, "m1")
		return m.IsDeleted
	}, waitFor, tick)

	m, _ := h.message(t, "m1")
	assert.Equal(t, chatstore.DeletedLabel, m.Content)
	assert.Equal(t, "U2", m.DeletedByName)
	assert.Equal(t, chatstore.AttachmentExpired, m.Attachments[0].Status)
	assert.Len(t, h.messages(t), 1)
}

func TestEditAndDeleteOwn(t *testing.T) {
	h := newHarness(t)
	h.open(t, chatstore.ChatKind_Two, &api.Page{
		Messages: []api.MessageRecord{
			record(t, "m1", "me", "mine", time.Second, ""),
			record(t, "m2", "u2", "theirs", 2*time.Second, ""),
		},
	})
	ctx := context.Background()

	h.gw.EXPECT().Encrypt(gomock.Any(), gomock.Any()).Return(nil, nil)
	require.NoError(t, h.eng.Edit(ctx, "m1", "mine, edited"))
	m, _ := h.message(t, "m1")
	assert.Equal(t, "mine, edited", m.Content)
	assert.True(t, m.IsEdited)
	require.Len(t, h.sentOf(ws.CmdMessageEdit), 1)

	assert.ErrorIs(t, h.eng.Edit(ctx, "m2", "nope"), ErrNotEditable)

	h.api.EXPECT().DeleteMessage(gomock.Any(), "c1", "m1").Return(nil)
	require.NoError(t, h.eng.Delete(ctx, "m1"))
	m, _ = h.message(t, "m1")
	assert.True(t, m.IsDeleted)
	assert.ErrorIs(t, h.eng.Delete(ctx, "m1"), ErrNotEditable)
}

func TestMarkSeen(t *testing.T) {
	h := newHarness(t)
	h.open(t, chatstore.ChatKind_Two, &api.Page{
		Messages: []api.MessageRecord{
			record(t, "m1", "u2", "one", time.Second, ""),
			record(t, "m2", "me", "two", 2*time.Second, ""),
		},
	})
	ctx := context.Background()

	h.api.EXPECT().MarkSeen(gomock.Any(), "c1").Return(nil).Times(1)
	require.NoError(t, h.eng.MarkSeen(ctx))
	require.NoError(t, h.eng.MarkSeen(ctx))

	seen := h.sentOf(ws.CmdMessageSeen)
	require.Len(t, seen, 1)
	assert.Equal(t, &ws.SeenCommand{ChatID: "c1", MessageID: "m1"}, seen[0])

	s, err := h.eng.Session(ctx)
	require.NoError(t, err)
	assert.Equal(t, "m1", s.LastSeenID)
}

func TestRemoteTyping(t *testing.T) {
	h := newHarness(t)
	h.open(t, chatstore.ChatKind_Group, &api.Page{})

	h.push(ws.EventTyping, `{"chatId":"c1","userId":"me"}`)
	h.push(ws.EventTyping, `{"chatId":"c1","userId":"u2"}`)
	require.Eventually(t, func() bool {
		users := h.eng.TypingUsers()
		return len(users) == 1 && users[0] == "u2"
	}, waitFor, tick)

	// no stop event, the indicator expires on its own
	require.Eventually(t, func() bool { return len(h.eng.TypingUsers()) == 0 }, waitFor, tick)
}

func TestLocalTypingStartStop(t *testing.T) {
	h := newHarness(t)
	h.open(t, chatstore.ChatKind_Two, &api.Page{})

	h.eng.Typing()
	h.eng.Typing()
	h.eng.Typing()
	require.Eventually(t, func() bool { return len(h.sentOf(ws.CmdStopTyping)) == 1 }, waitFor, tick)
	assert.Len(t, h.sentOf(ws.CmdTyping), 1)
	assert.Equal(t, &ws.TypingCommand{ChatID: "c1"}, h.sentOf(ws.CmdTyping)[0])
}

func TestMembersAndChatDeleted(t *testing.T) {
	h := newHarness(t)
	h.open(t, chatstore.ChatKind_Group, &api.Page{
		Messages: []api.MessageRecord{record(t, "m1", "u2", "one", time.Second, "")},
	})
	ctx := context.Background()

	h.push(ws.EventChatMembersAdded, `{"chatId":"c1","participants":["u4"]}`)
	h.push(ws.EventChatMembersRemoved, `{"chatId":"c1","removed":["u3"]}`)
	require.Eventually(t, func() bool {
		s, err := h.eng.Session(ctx)
		return err == nil && assert.ObjectsAreEqual([]string{"me", "u2", "u4"}, s.Participants)
	}, waitFor, tick)

	h.push(ws.EventChatDeleted, `{"chatId":"c1"}`)
	h.waitChange(t, ChangeChatDeleted)
	assert.Empty(t, h.messages(t))

	_, err := h.eng.Send(ctx, &Draft{Text: "anyone?"})
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestReconnectRejoinsAndRefreshes(t *testing.T) {
	h := newHarness(t)
	h.open(t, chatstore.ChatKind_Two, &api.Page{})

	h.api.EXPECT().FetchMessages(gomock.Any(), gomock.Any()).Return(&api.Page{
		Messages: []api.MessageRecord{record(t, "m1", "u2", "missed", time.Second, "")},
	}, nil)
	h.push(ws.EventConnected, ``)

	require.Eventually(t, func() bool {
		_, ok := h.message(t, "m1")
		return ok
	}, waitFor, tick)
	assert.Len(t, h.sentOf(ws.CmdJoinChat), 2)
}

func TestThreads(t *testing.T) {
	h := newHarness(t)
	h.open(t, chatstore.ChatKind_Two, &api.Page{
		Messages: []api.MessageRecord{
			record(t, "m1", "u2", "root", time.Second, ""),
			record(t, "m2", "me", `{"v":1,"text":"a","replyTo":{"messageId":"m1","senderId":"u2"}}`, 2*time.Second, ""),
			record(t, "m3", "u2", "b", 3*time.Second, `,"replyTo":{"messageId":"m1","senderId":"u2"}`),
		},
	})
	ctx := context.Background()

	counts, err := h.eng.Threads(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"m1": 2}, counts)

	view, err := h.eng.Thread(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids(view))
}
