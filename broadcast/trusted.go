package broadcast

import (
	"context"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/swiftbeam/swiftbeam/storage"
)

// TrustedDevices is the set of device ids pre-approved for auto-acceptance
// of inbound file offers. The set is persisted as a JSON list.
type TrustedDevices struct {
	store storage.Store

	mu  sync.Mutex
	ids map[string]struct{}
}

// NewTrustedDevices creates an empty trust set backed by store. A nil store
// keeps the set in memory only.
func NewTrustedDevices(store storage.Store) *TrustedDevices {
	return &TrustedDevices{
		store: store,
		ids:   make(map[string]struct{}),
	}
}

// Load reads the persisted trust list. An empty store is not an error.
func (t *TrustedDevices) Load(ctx context.Context) error {
	if t.store == nil {
		return nil
	}

	var ids []string
	found, err := t.store.Get(ctx, storage.KeyTrustedDevices, &ids)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.ids = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		t.ids[id] = struct{}{}
	}
	return nil
}

// Contains reports whether deviceID is trusted.
func (t *TrustedDevices) Contains(deviceID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.ids[deviceID]
	return ok
}

// Add trusts deviceID and persists the updated set.
func (t *TrustedDevices) Add(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return nil
	}

	t.mu.Lock()
	t.ids[deviceID] = struct{}{}
	t.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":  "Add",
		"device_id": deviceID,
	}).Info("Device trusted for auto-accept")

	return t.persist(ctx)
}

// Remove revokes trust for deviceID and persists the updated set.
func (t *TrustedDevices) Remove(ctx context.Context, deviceID string) error {
	t.mu.Lock()
	delete(t.ids, deviceID)
	t.mu.Unlock()
	return t.persist(ctx)
}

// List returns the trusted ids in stable order.
func (t *TrustedDevices) List() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.ids))
	for id := range t.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (t *TrustedDevices) persist(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	return t.store.Set(ctx, storage.KeyTrustedDevices, t.List())
}
