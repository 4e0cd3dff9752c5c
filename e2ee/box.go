package e2ee

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/golang/glog"
	"golang.org/x/crypto/nacl/box"
)

const envelopeVersion = 1

// BoxGateway encrypts every message once per recipient device with NaCl box.
// The sender's own devices are always included so other sessions can read it.
type BoxGateway struct {
	deviceID string
	pub      *[32]byte
	priv     *[32]byte
	dir      KeyDirectory
}

func NewBoxGateway(deviceID string, pub, priv *[32]byte, dir KeyDirectory) *BoxGateway {
	return &BoxGateway{
		deviceID: deviceID,
		pub:      pub,
		priv:     priv,
		dir:      dir,
	}
}

// GenerateKeys returns a fresh box key pair.
func GenerateKeys() (pub, priv *[32]byte, err error) {
	return box.GenerateKey(rand.Reader)
}

func (g *BoxGateway) Encrypt(ctx context.Context, req *EncryptRequest) ([]Envelope, error) {
	users := make([]string, 0, len(req.Recipients)+1)
	seen := make(map[string]bool, len(req.Recipients)+1)
	for _, uid := range append([]string{req.SenderID}, req.Recipients...) {
		if uid == "" || seen[uid] {
			continue
		}
		seen[uid] = true
		users = append(users, uid)
	}

	senderKey := base64.StdEncoding.EncodeToString(g.pub[:])
	var out []Envelope
	for _, uid := range users {
		devices, err := g.dir.DeviceKeys(ctx, uid)
		if err != nil {
			if uid == req.SenderID {
				glog.V(5).Infof("Encrypt(): skip sender %s devices: %v", uid, err)
				continue
			}
			return nil, fmt.Errorf("lookup device keys of %s: %w", uid, err)
		}
		for _, d := range devices {
			var nonce [24]byte
			if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
				return nil, fmt.Errorf("generate nonce: %w", err)
			}
			peer := d.PublicKey
			sealed := box.Seal(nil, []byte(req.Plaintext), &nonce, &peer, g.priv)
			out = append(out, Envelope{
				RecipientID: uid,
				DeviceID:    d.DeviceID,
				Ciphertext:  base64.StdEncoding.EncodeToString(sealed),
				Nonce:       base64.StdEncoding.EncodeToString(nonce[:]),
				SenderKey:   senderKey,
				Version:     envelopeVersion,
			})
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("chat %s: no recipient devices", req.ChatID)
	}
	return out, nil
}

func (g *BoxGateway) Decrypt(_ context.Context, req *DecryptRequest) (string, error) {
	for _, env := range req.Envelopes {
		if env.RecipientID != req.CurrentUserID || env.DeviceID != g.deviceID {
			continue
		}
		text, err := g.open(&env)
		if err != nil {
			glog.Errorf("Decrypt(): chat %s device %s: %v", req.ChatID, g.deviceID, err)
			return "", fmt.Errorf("%w: %v", ErrUndecryptable, err)
		}
		return text, nil
	}
	return "", fmt.Errorf("%w: no envelope for device %s", ErrUndecryptable, g.deviceID)
}

func (g *BoxGateway) open(env *Envelope) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	rawNonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil || len(rawNonce) != 24 {
		return "", fmt.Errorf("invalid nonce")
	}
	rawKey, err := base64.StdEncoding.DecodeString(env.SenderKey)
	if err != nil || len(rawKey) != 32 {
		return "", fmt.Errorf("invalid sender key")
	}

	var nonce [24]byte
	var peer [32]byte
	copy(nonce[:], rawNonce)
	copy(peer[:], rawKey)

	plain, ok := box.Open(nil, sealed, &nonce, &peer, g.priv)
	if !ok {
		return "", fmt.Errorf("box open failed")
	}
	return string(plain), nil
}
