package e2ee

//go:generate mockgen -destination=mock/gateway.go . IGateway,KeyDirectory

import (
	"context"
	"errors"
)

// ErrUndecryptable is returned when no envelope addressed to this device can be opened.
var ErrUndecryptable = errors.New("e2ee: undecryptable message")

// Envelope is one per-device ciphertext of a message.
type Envelope struct {
	RecipientID string `json:"recipientId"`
	DeviceID    string `json:"deviceId"`
	Ciphertext  string `json:"ciphertext"`
	Nonce       string `json:"nonce"`
	SenderKey   string `json:"senderKey,omitempty"`
	Version     int    `json:"v,omitempty"`
}

type DecryptRequest struct {
	ChatID        string
	Envelopes     []Envelope
	SenderID      string
	CurrentUserID string
	AuthToken     string
}

type EncryptRequest struct {
	ChatID     string
	Plaintext  string
	SenderID   string
	Recipients []string
	AuthToken  string
}

// IGateway encrypts outbound and decrypts inbound message payloads.
// Decrypt returns an error wrapping ErrUndecryptable when the message cannot be read.
type IGateway interface {
	Decrypt(ctx context.Context, req *DecryptRequest) (string, error)
	Encrypt(ctx context.Context, req *EncryptRequest) ([]Envelope, error)
}
