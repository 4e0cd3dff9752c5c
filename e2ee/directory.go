package e2ee

import (
	"context"
	"fmt"
	"sync"
)

// DeviceKey is the public box key of one device of a user.
type DeviceKey struct {
	UserID    string
	DeviceID  string
	PublicKey [32]byte
}

// KeyDirectory looks up the devices a message must be encrypted to.
type KeyDirectory interface {
	DeviceKeys(ctx context.Context, userID string) ([]DeviceKey, error)
}

// StaticDirectory is an in-memory KeyDirectory.
type StaticDirectory struct {
	mu   sync.RWMutex
	keys map[string][]DeviceKey
}

func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{keys: make(map[string][]DeviceKey)}
}

// Put registers or replaces a device key.
func (d *StaticDirectory) Put(k DeviceKey) {
	d.mu.Lock()
	defer d.mu.Unlock()

	devices := d.keys[k.UserID]
	for i := range devices {
		if devices[i].DeviceID == k.DeviceID {
			devices[i] = k
			return
		}
	}
	d.keys[k.UserID] = append(devices, k)
}

func (d *StaticDirectory) DeviceKeys(_ context.Context, userID string) ([]DeviceKey, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	devices := d.keys[userID]
	if len(devices) == 0 {
		return nil, fmt.Errorf("no device keys for user %s", userID)
	}
	return append([]DeviceKey(nil), devices...), nil
}
