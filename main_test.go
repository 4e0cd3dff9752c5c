package main

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Syncre-App/Mobile-sub001/chatstore"
	"github.com/Syncre-App/Mobile-sub001/engine"
)

func TestParsePeer(t *testing.T) {
	key := bytes.Repeat([]byte{7}, 32)
	k, err := parsePeer("u2:phone:" + base64.StdEncoding.EncodeToString(key))
	require.NoError(t, err)
	assert.Equal(t, "u2", k.UserID)
	assert.Equal(t, "phone", k.DeviceID)
	assert.Equal(t, key, k.PublicKey[:])

	for _, bad := range []string{"", "u2", "u2:phone", ":phone:AAAA", "u2:phone:%%%", "u2:phone:" + base64.StdEncoding.EncodeToString(key[:16])} {
		_, err := parsePeer(bad)
		assert.Error(t, err, bad)
	}
}

func TestSplitArg(t *testing.T) {
	cmd, arg := splitArg("/edit m1  new text ")
	assert.Equal(t, "/edit", cmd)
	assert.Equal(t, "m1  new text", arg)

	cmd, arg = splitArg("/older")
	assert.Equal(t, "/older", cmd)
	assert.Empty(t, arg)
}

func TestFormatMessage(t *testing.T) {
	m := chatstore.Message{
		ID:        "m1",
		SenderID:  "u2",
		Content:   "hello",
		Timestamp: time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC),
		Status:    chatstore.StatusSeen,
		IsEdited:  true,
		ReplyTo:   &chatstore.ReplyMetadata{MessageID: "m0", Preview: "hi"},
	}
	assert.Equal(t, `09:30 m1 <u2> re m0 "hi" hello (edited) (seen)`, formatMessage(&m))

	r := engine.ReceiptView{
		Shown:    []chatstore.SeenReceipt{{ViewerID: "u2", Name: "Ann"}, {ViewerID: "u3"}},
		Overflow: 2,
	}
	assert.Equal(t, "Ann, u3 +2", formatReceipts(r))
	assert.False(t, strings.Contains(formatReceipts(engine.ReceiptView{}), "+"))
}
