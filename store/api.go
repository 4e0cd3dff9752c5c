package store

// IDeviceStore persists the identity of this device.
type IDeviceStore interface {
	// DeviceID returns the device id, generating it on first use.
	DeviceID() (string, error)

	// BoxKeys returns the device's encryption key pair, generating it on first use.
	BoxKeys() (pub, priv *[32]byte, err error)

	Close() error
}

// IMarkStore remembers the last message acknowledged as seen per chat, so a
// restart does not re-send the same seen acknowledgement.
type IMarkStore interface {
	LastSeen(chatID string) (string, error)
	SetLastSeen(chatID, messageID string) error
}
