package codec

import (
	"encoding/json"
	"strings"

	"github.com/golang/glog"
)

// PayloadVersion is the version of the plaintext envelope carried inside encrypted envelopes.
const PayloadVersion = 1

// previewLimit is the number of runes compared when matching send acks.
const previewLimit = 300

// ReplyTo is the wire form of reply metadata.
type ReplyTo struct {
	MessageID   string `json:"messageId"`
	SenderID    string `json:"senderId"`
	SenderLabel string `json:"senderLabel,omitempty"`
	Preview     string `json:"preview,omitempty"`
}

// Payload is a decoded message body.
type Payload struct {
	Text    string
	ReplyTo *ReplyTo
}

type payloadV1 struct {
	V       int      `json:"v"`
	Text    string   `json:"text"`
	ReplyTo *ReplyTo `json:"replyTo,omitempty"`
}

// Encode serializes text and optional reply metadata. It never fails: on a
// marshal error the raw text is returned.
func Encode(text string, reply *ReplyTo) string {
	out, err := json.Marshal(&payloadV1{V: PayloadVersion, Text: text, ReplyTo: reply})
	if err != nil {
		glog.Errorf("Encode(): marshal payload error, falling back to raw text: %v", err)
		return text
	}
	return string(out)
}

// Decode parses a payload. Input that is not a JSON object with a string `text`
// field is legacy content and is returned whole as text.
func Decode(raw string) Payload {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return Payload{Text: raw}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &fields); err != nil {
		return Payload{Text: raw}
	}
	rawText, ok := fields["text"]
	if !ok {
		return Payload{Text: raw}
	}
	var text string
	if err := json.Unmarshal(rawText, &text); err != nil {
		return Payload{Text: raw}
	}

	out := Payload{Text: text}
	if rawReply, ok := fields["replyTo"]; ok {
		var reply ReplyTo
		if err := json.Unmarshal(rawReply, &reply); err == nil && reply.MessageID != "" {
			out.ReplyTo = &reply
		} else if err != nil {
			glog.V(5).Infof("Decode(): ignore malformed replyTo: %v", err)
		}
	}
	return out
}

// ResolveContentText picks the display text of a message. A server plaintext
// preview stands in when the decoded text is empty and there are no attachments.
func ResolveContentText(text, preview string, hasAttachments bool) string {
	if strings.TrimSpace(text) == "" && !hasAttachments && strings.TrimSpace(preview) != "" {
		return preview
	}
	return text
}

// Preview normalizes text for ack matching: trimmed, first 300 runes.
func Preview(text string) string {
	r := []rune(strings.TrimSpace(text))
	if len(r) > previewLimit {
		r = r[:previewLimit]
	}
	return strings.TrimSpace(string(r))
}
