package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/golang/glog"

	"github.com/Syncre-App/Mobile-sub001/chatstore"
	"github.com/Syncre-App/Mobile-sub001/engine"
)

const consoleHelp = `commands:
  <text>              send a message
  /reply <id> <text>  reply to a message
  /attach <path> [text]  send a file with an optional caption
  /edit <id> <text>   edit one of your messages
  /delete <id>        delete one of your messages
  /older              load older messages
  /refresh            refresh the newest page
  /seen               mark the chat as read
  /thread <id>        show a thread
  /quit               leave`

// console is a line based chat client over an engine.
type console struct {
	eng *engine.Engine
	in  io.Reader
	out io.Writer

	// printed is the last rendered line per message id.
	printed map[string]string
}

func newConsole(eng *engine.Engine, in io.Reader, out io.Writer) *console {
	return &console{eng: eng, in: in, out: out, printed: make(map[string]string)}
}

func (c *console) loop(ctx context.Context) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	fmt.Fprintln(c.out, consoleHelp)
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := c.exec(ctx, strings.TrimSpace(line)); quit {
				return
			}
		}
	}
}

// exec runs one command line and reports whether the client should quit.
func (c *console) exec(ctx context.Context, line string) bool {
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		c.send(ctx, &engine.Draft{Text: line})
		return false
	}

	cmd, arg := splitArg(line)
	var err error
	switch cmd {
	case "/quit":
		return true
	case "/reply":
		id, text := splitArg(arg)
		var target chatstore.Message
		if target, err = c.find(ctx, id); err == nil {
			c.send(ctx, &engine.Draft{Text: text, ReplyTo: chatstore.NewReplyMetadata(&target, target.SenderID)})
		}
	case "/attach":
		path, text := splitArg(arg)
		var a chatstore.Attachment
		if a, err = chatstore.NewLocalAttachment(path); err == nil {
			c.send(ctx, &engine.Draft{Text: text, Attachments: []chatstore.Attachment{a}})
		}
	case "/edit":
		id, text := splitArg(arg)
		err = c.eng.Edit(ctx, id, text)
	case "/delete":
		err = c.eng.Delete(ctx, arg)
	case "/older":
		var n int
		if n, err = c.eng.LoadOlder(ctx); err == nil {
			fmt.Fprintf(c.out, "-- %d older messages\n", n)
		}
	case "/refresh":
		err = c.eng.Refresh(ctx)
	case "/seen":
		err = c.eng.MarkSeen(ctx)
	case "/thread":
		var msgs []chatstore.Message
		if msgs, err = c.eng.Thread(ctx, arg); err == nil {
			for i := range msgs {
				fmt.Fprintln(c.out, "  "+formatMessage(&msgs[i]))
			}
		}
	default:
		fmt.Fprintln(c.out, consoleHelp)
	}
	if err != nil {
		fmt.Fprintf(c.out, "-- %s: %v\n", cmd, err)
	}
	return false
}

func (c *console) send(ctx context.Context, d *engine.Draft) {
	if _, err := c.eng.Send(ctx, d); err != nil {
		glog.V(5).Infof("send(): %v", err)
	}
}

func (c *console) find(ctx context.Context, id string) (chatstore.Message, error) {
	msgs, err := c.eng.Messages(ctx)
	if err != nil {
		return chatstore.Message{}, err
	}
	for _, m := range msgs {
		if m.ID == id {
			return m, nil
		}
	}
	return chatstore.Message{}, fmt.Errorf("no message %s", id)
}

// render prints messages as they change.
func (c *console) render(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ch := <-c.eng.Changes():
			switch ch.Kind {
			case engine.ChangeMessages:
				c.renderMessages(ctx)
			case engine.ChangeTyping:
				if users := c.eng.TypingUsers(); len(users) > 0 {
					fmt.Fprintf(c.out, "-- %s typing\n", strings.Join(users, ", "))
				}
			case engine.ChangeSendFailed:
				fmt.Fprintf(c.out, "-- send failed: %v, draft: %q\n", ch.Err, ch.Draft.Text)
			case engine.ChangeParticipants:
				fmt.Fprintln(c.out, "-- participants changed")
			case engine.ChangeChatDeleted:
				fmt.Fprintln(c.out, "-- chat deleted")
			}
		}
	}
}

func (c *console) renderMessages(ctx context.Context) {
	msgs, err := c.eng.Messages(ctx)
	if err != nil {
		return
	}
	receipts, _ := c.eng.Receipts(ctx)
	threads, _ := c.eng.Threads(ctx)

	for i := range msgs {
		m := &msgs[i]
		line := formatMessage(m)
		if n := threads[m.ID]; n > 0 {
			line += fmt.Sprintf(" [%d replies]", n)
		}
		if r, ok := receipts[m.ID]; ok {
			line += " seen by " + formatReceipts(r)
		}
		if c.printed[m.ID] == line {
			continue
		}
		c.printed[m.ID] = line
		fmt.Fprintln(c.out, line)
	}
}

func formatMessage(m *chatstore.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s <%s>", m.Timestamp.Format("15:04"), m.ID, m.SenderID)
	if m.ReplyTo != nil {
		fmt.Fprintf(&b, " re %s %q", m.ReplyTo.MessageID, m.ReplyTo.Preview)
	}
	b.WriteString(" " + m.Content)
	for _, a := range m.Attachments {
		fmt.Fprintf(&b, " [%s %s]", a.Name, a.Status)
	}
	if m.IsEdited && !m.IsDeleted {
		b.WriteString(" (edited)")
	}
	if m.Status != "" {
		fmt.Fprintf(&b, " (%s)", m.Status)
	}
	return b.String()
}

func formatReceipts(r engine.ReceiptView) string {
	names := make([]string, 0, len(r.Shown))
	for _, s := range r.Shown {
		if s.Name != "" {
			names = append(names, s.Name)
		} else {
			names = append(names, s.ViewerID)
		}
	}
	out := strings.Join(names, ", ")
	if r.Overflow > 0 {
		out += fmt.Sprintf(" +%d", r.Overflow)
	}
	return out
}

func splitArg(s string) (string, string) {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, ' '); i >= 0 {
		return s[:i], strings.TrimSpace(s[i+1:])
	}
	return s, ""
}
