// Package discovery maintains the registry of known peers, merging the
// transport's found/lost events with best-effort metadata enrichment into a
// consistent set of Device records.
package discovery

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/swiftbeam/swiftbeam/device"
	"github.com/swiftbeam/swiftbeam/notify"
	"github.com/swiftbeam/swiftbeam/transport"
)

const (
	// DefaultFreshnessWindow separates "active" devices from "recent" ones.
	DefaultFreshnessWindow = 40 * time.Second
	// DefaultStaleWindow is the age beyond which entries are purged when a
	// new scan starts.
	DefaultStaleWindow = 2 * time.Minute
	// DefaultAttachRetries bounds re-attach attempts per scan. The native
	// attach call is known to be flaky.
	DefaultAttachRetries = 3
	// DefaultRetryDelay is the backoff between attach attempts.
	DefaultRetryDelay = 500 * time.Millisecond
	// DefaultSettleDelay gives the transport time to tear down the previous
	// subscription before a new one starts.
	DefaultSettleDelay = 300 * time.Millisecond
	// DefaultScanDuration is how long a scan listens when the caller does
	// not say.
	DefaultScanDuration = 8 * time.Second
)

// Config tunes registry behavior. Zero fields take the package defaults.
type Config struct {
	FreshnessWindow time.Duration
	StaleWindow     time.Duration
	AttachRetries   int
	RetryDelay      time.Duration
	SettleDelay     time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.FreshnessWindow <= 0 {
		out.FreshnessWindow = DefaultFreshnessWindow
	}
	if out.StaleWindow <= 0 {
		out.StaleWindow = DefaultStaleWindow
	}
	if out.AttachRetries <= 0 {
		out.AttachRetries = DefaultAttachRetries
	}
	if out.RetryDelay <= 0 {
		out.RetryDelay = DefaultRetryDelay
	}
	if out.SettleDelay < 0 {
		out.SettleDelay = DefaultSettleDelay
	}
	return out
}

// Stats summarizes the registry for dashboard-style consumers.
type Stats struct {
	Total        int        `json:"total"`
	Online       int        `json:"online"`
	Offline      int        `json:"offline"`
	LastScanTime *time.Time `json:"lastScanTime,omitempty"`
}

type peerEntry struct {
	peerID    string
	updatedAt time.Time
	dev       device.Device
}

// Registry turns found/lost transport events into a consistent peer map and
// owns the scan lifecycle. External readers always receive copies.
type Registry struct {
	adapter  *transport.Adapter
	resolver *Resolver
	cfg      Config
	tp       TimeProvider

	mu        sync.Mutex
	peers     map[string]peerEntry
	scanning  bool
	scanGen   uint64
	disposers []*notify.Subscription
	lastScan  time.Time

	statusHub *notify.Hub[bool]
}

// NewRegistry creates a registry over the given adapter. The resolver
// receives device-to-handle correlations learned during discovery; callers
// may share it with the send path.
func NewRegistry(adapter *transport.Adapter, resolver *Resolver, cfg Config) *Registry {
	logrus.WithFields(logrus.Fields{
		"function": "NewRegistry",
	}).Info("Creating peer registry")

	if resolver == nil {
		resolver = NewResolver()
	}

	return &Registry{
		adapter:   adapter,
		resolver:  resolver,
		cfg:       cfg.withDefaults(),
		tp:        defaultTimeProvider,
		peers:     make(map[string]peerEntry),
		statusHub: notify.NewHub[bool](),
	}
}

// SetTimeProvider sets a custom time provider for deterministic testing.
func (r *Registry) SetTimeProvider(tp TimeProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tp = tp
}

// Resolver returns the device-to-handle correlation table.
func (r *Registry) Resolver() *Resolver { return r.resolver }

// OnScanStatusChange registers a callback fired when the scanning flag flips
// or the peer set changes. It returns the unsubscribe handle.
func (r *Registry) OnScanStatusChange(cb func(scanning bool)) *notify.Subscription {
	return r.statusHub.Subscribe(cb)
}

// IsScanning reports whether a scan is currently in progress.
func (r *Registry) IsScanning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scanning
}

// All returns every known device sorted by last seen, newest first.
func (r *Registry) All() []device.Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(func(peerEntry) bool { return true })
}

// Active returns devices seen within the freshness window, newest first.
func (r *Registry) Active() []device.Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.tp.Now()
	return r.snapshotLocked(func(e peerEntry) bool {
		return now.Sub(e.updatedAt) < r.cfg.FreshnessWindow
	})
}

// Recent returns devices last seen beyond the freshness window, newest first.
func (r *Registry) Recent() []device.Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.tp.Now()
	return r.snapshotLocked(func(e peerEntry) bool {
		return now.Sub(e.updatedAt) >= r.cfg.FreshnessWindow
	})
}

// ByPeer returns the device currently associated with a transport handle.
func (r *Registry) ByPeer(peerID string) (device.Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.peers[peerID]
	return e.dev, ok
}

func (r *Registry) snapshotLocked(keep func(peerEntry) bool) []device.Device {
	out := make([]device.Device, 0, len(r.peers))
	for _, e := range r.peers {
		if keep(e) {
			out = append(out, e.dev)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastSeen.After(out[j].LastSeen)
	})
	return out
}

// Filter returns the devices whose name contains search, case-insensitive.
// A blank search returns devices unchanged. When devices is nil the current
// registry contents are filtered.
func (r *Registry) Filter(search string, devices []device.Device) []device.Device {
	if devices == nil {
		devices = r.All()
	}
	if strings.TrimSpace(search) == "" {
		return devices
	}

	needle := strings.ToLower(search)
	out := make([]device.Device, 0, len(devices))
	for _, d := range devices {
		if strings.Contains(strings.ToLower(d.Name), needle) {
			out = append(out, d)
		}
	}
	return out
}

// DeviceStats summarizes the registry contents.
func (r *Registry) DeviceStats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.tp.Now()
	stats := Stats{Total: len(r.peers)}
	for _, e := range r.peers {
		if now.Sub(e.updatedAt) < r.cfg.FreshnessWindow {
			stats.Online++
		}
	}
	stats.Offline = stats.Total - stats.Online

	if !r.scanning && !r.lastScan.IsZero() {
		t := r.lastScan
		stats.LastScanTime = &t
	}
	return stats
}

// StartScan runs one discovery window. It is idempotent while a scan is in
// progress (the current active set is returned without starting a second
// subscription). Attach failures are retried a bounded number of times;
// exhausting the retries leaves prior registry state intact and returns
// whatever is already known.
func (r *Registry) StartScan(ctx context.Context, duration time.Duration) []device.Device {
	if !r.adapter.IsAvailable() {
		logrus.WithFields(logrus.Fields{
			"function": "StartScan",
		}).Warn("Transport unavailable, scan skipped")
		return r.Active()
	}
	if duration <= 0 {
		duration = DefaultScanDuration
	}

	r.mu.Lock()
	if r.scanning {
		r.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "StartScan",
		}).Debug("Scan already in progress, returning active set")
		return r.Active()
	}
	r.scanning = true
	r.scanGen++
	gen := r.scanGen
	r.cleanupDisposersLocked()
	r.purgeStaleLocked()
	r.mu.Unlock()

	r.statusHub.Emit(true)

	logrus.WithFields(logrus.Fields{
		"function": "StartScan",
		"duration": duration,
	}).Info("Starting discovery scan")

	if r.establishSubscription(ctx, gen) {
		sleepCtx(ctx, duration)
	}

	r.mu.Lock()
	r.scanning = false
	r.lastScan = r.tp.Now()
	r.mu.Unlock()
	r.statusHub.Emit(false)

	return r.Active()
}

// establishSubscription attaches with bounded retries and installs fresh
// event handlers. It reports whether discovery actually started.
func (r *Registry) establishSubscription(ctx context.Context, gen uint64) bool {
	for attempt := 1; attempt <= r.cfg.AttachRetries; attempt++ {
		logrus.WithFields(logrus.Fields{
			"function":     "establishSubscription",
			"attempt":      attempt,
			"max_attempts": r.cfg.AttachRetries,
		}).Debug("Discovery attach attempt")

		res := r.adapter.EnsureReady(ctx)
		if !res.Available {
			logrus.WithFields(logrus.Fields{
				"function": "establishSubscription",
				"attempt":  attempt,
				"reason":   res.Reason,
			}).Warn("Transport attach failed, retrying")
			if !sleepCtx(ctx, r.cfg.RetryDelay) {
				return false
			}
			continue
		}

		// Stop any previous subscription for a clean state before
		// subscribing again.
		r.adapter.StopAll(ctx)
		sleepCtx(ctx, r.cfg.SettleDelay)

		if err := r.adapter.Discover(ctx); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "establishSubscription",
				"attempt":  attempt,
				"error":    err.Error(),
			}).Warn("Discovery subscribe failed, retrying")
			if !sleepCtx(ctx, r.cfg.RetryDelay) {
				return false
			}
			continue
		}

		r.installHandlers(ctx, gen)
		return true
	}

	logrus.WithFields(logrus.Fields{
		"function": "establishSubscription",
		"attempts": r.cfg.AttachRetries,
	}).Error("Could not attach transport for discovery")
	return false
}

func (r *Registry) installHandlers(ctx context.Context, gen uint64) {
	events := r.adapter.Events()

	found := events.ServiceFound.Subscribe(func(ev transport.ServiceFoundEvent) {
		r.handleFound(ctx, gen, ev)
	})
	lost := events.ServiceLost.Subscribe(func(ev transport.ServiceLostEvent) {
		r.handleLost(gen, ev)
	})

	r.mu.Lock()
	r.disposers = append(r.disposers, found, lost)
	r.mu.Unlock()
}

// handleFound merges a discovery event into the registry. Enrichment order:
// transport device-info query, then inline service-info payload, then
// defaults.
func (r *Registry) handleFound(ctx context.Context, gen uint64, ev transport.ServiceFoundEvent) {
	if !r.isLive(gen) {
		return
	}

	peerID := ev.PeerID
	dev := device.Device{
		ID:         peerID,
		Type:       device.TypeUnknown,
		Platform:   device.PlatformAndroid,
		DistanceMm: ev.DistanceMm,
	}

	info := ev.DeviceInfo
	if info == nil {
		if queried, err := r.adapter.DeviceInfo(ctx, peerID); err == nil {
			info = &queried
		} else {
			logrus.WithFields(logrus.Fields{
				"function": "handleFound",
				"peer_id":  peerID,
				"error":    err.Error(),
			}).Debug("Device info query failed, falling back to service info")
		}
	}
	if info != nil {
		dev.Name = info.DeviceName
		if info.DeviceType != "" {
			dev.Type = device.TypeFromString(info.DeviceType)
			dev.Platform = device.PlatformFromDeviceType(info.DeviceType)
		}
		dev.ModelName = info.ModelName
		dev.OSVersion = info.OSVersion
		if info.Platform != "" {
			dev.Platform = device.NormalizePlatform(info.Platform)
		}
	}

	if ev.ServiceInfoB64 != "" {
		if si, err := device.DecodeServiceInfo(ev.ServiceInfoB64); err == nil {
			if si.Name != "" {
				dev.Name = si.Name
			}
			if si.Platform != "" {
				dev.Platform = si.Platform
			}
			if si.DeviceID != "" {
				dev.ID = si.DeviceID
			}
		}
	}

	now := r.tp.Now()
	dev.IsOnline = true
	dev.LastSeen = now
	dev = device.Complete(dev)

	r.mu.Lock()
	if !r.liveLocked(gen) {
		r.mu.Unlock()
		return
	}
	r.peers[peerID] = peerEntry{peerID: peerID, updatedAt: now, dev: dev}
	r.mu.Unlock()

	r.resolver.Record(dev.ID, peerID)

	logrus.WithFields(logrus.Fields{
		"function":  "handleFound",
		"peer_id":   peerID,
		"device_id": dev.ID,
		"name":      dev.Name,
		"platform":  dev.Platform,
	}).Info("Peer discovered")

	r.notifyChange()
}

// handleLost marks a known peer offline. Unknown handles are ignored.
func (r *Registry) handleLost(gen uint64, ev transport.ServiceLostEvent) {
	if !r.isLive(gen) {
		return
	}

	r.mu.Lock()
	entry, ok := r.peers[ev.PeerID]
	if !ok || !r.liveLocked(gen) {
		r.mu.Unlock()
		return
	}
	now := r.tp.Now()
	entry.updatedAt = now
	entry.dev.IsOnline = false
	entry.dev.LastSeen = now
	r.peers[ev.PeerID] = entry
	r.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "handleLost",
		"peer_id":  ev.PeerID,
	}).Info("Peer lost")

	r.notifyChange()
}

// isLive guards event callbacks against mutating state owned by a newer
// scan: a disposed subscription can still see an event that was already in
// flight when teardown ran.
func (r *Registry) isLive(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.liveLocked(gen)
}

func (r *Registry) liveLocked(gen uint64) bool { return gen == r.scanGen }

func (r *Registry) purgeStaleLocked() {
	now := r.tp.Now()
	for key, e := range r.peers {
		if now.Sub(e.updatedAt) > r.cfg.StaleWindow {
			delete(r.peers, key)
			r.resolver.ForgetPeer(e.peerID)
		}
	}
}

func (r *Registry) cleanupDisposersLocked() {
	for _, d := range r.disposers {
		d.Remove()
	}
	r.disposers = nil
}

func (r *Registry) notifyChange() {
	r.mu.Lock()
	scanning := r.scanning
	r.mu.Unlock()
	r.statusHub.Emit(scanning)
}

// sleepCtx waits for d unless ctx is cancelled first. It reports whether the
// full wait elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
