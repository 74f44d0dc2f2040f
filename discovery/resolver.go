package discovery

import "sync"

// Resolver is the component-owned correlation table from stable device ids
// to the transient peer handles the transport currently knows them by.
//
// A device may reappear under a new handle across sessions; Record always
// keeps the latest handle. Entries are evicted together with the peers they
// were learned from (see Registry's stale purge), never silently mutated by
// other components.
type Resolver struct {
	mu         sync.RWMutex
	byDeviceID map[string]string
	byPeerID   map[string]string
}

// NewResolver creates an empty correlation table.
func NewResolver() *Resolver {
	return &Resolver{
		byDeviceID: make(map[string]string),
		byPeerID:   make(map[string]string),
	}
}

// Record associates a device id with its current peer handle, replacing any
// previous association in either direction.
func (r *Resolver) Record(deviceID, peerID string) {
	if deviceID == "" || peerID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.byDeviceID[deviceID]; ok && old != peerID {
		delete(r.byPeerID, old)
	}
	if old, ok := r.byPeerID[peerID]; ok && old != deviceID {
		delete(r.byDeviceID, old)
	}
	r.byDeviceID[deviceID] = peerID
	r.byPeerID[peerID] = deviceID
}

// Resolve returns the current peer handle for a device id.
func (r *Resolver) Resolve(deviceID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	peerID, ok := r.byDeviceID[deviceID]
	return peerID, ok
}

// ForgetPeer drops the association learned from peerID, if any.
func (r *Resolver) ForgetPeer(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if deviceID, ok := r.byPeerID[peerID]; ok {
		delete(r.byDeviceID, deviceID)
		delete(r.byPeerID, peerID)
	}
}

// Len reports the number of live associations.
func (r *Resolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byDeviceID)
}
