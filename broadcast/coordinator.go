// Package broadcast owns the local sharing policy: whether this device
// advertises presence, who may see it, and how unsolicited inbound file
// offers are queued, auto-accepted, and answered.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/swiftbeam/swiftbeam/device"
	"github.com/swiftbeam/swiftbeam/notify"
	"github.com/swiftbeam/swiftbeam/storage"
	"github.com/swiftbeam/swiftbeam/transport"
)

// ErrBroadcastDisabled indicates a start attempt while the persisted policy
// has sharing switched off.
var ErrBroadcastDisabled = errors.New("broadcasting is disabled in settings")

// Identity names the local device in advertisements and outbound payloads.
type Identity struct {
	DeviceID string
	Platform device.Platform
}

// Coordinator is the single authority over broadcast policy and the live
// advertising session. Enabled is persisted intent; IsBroadcasting reports
// the operational result, which can lag or fail independently.
type Coordinator struct {
	adapter *transport.Adapter
	store   storage.Store
	self    Identity

	mu       sync.Mutex
	settings Settings
	active   bool

	statusHub *notify.Hub[bool]
}

// NewCoordinator creates a coordinator with default settings. Call Load to
// pick up the persisted policy before first use.
func NewCoordinator(adapter *transport.Adapter, store storage.Store, self Identity) *Coordinator {
	logrus.WithFields(logrus.Fields{
		"function":  "NewCoordinator",
		"device_id": self.DeviceID,
	}).Info("Creating broadcast coordinator")

	return &Coordinator{
		adapter:   adapter,
		store:     store,
		self:      self,
		settings:  DefaultSettings(),
		statusHub: notify.NewHub[bool](),
	}
}

// Load reads persisted settings, seeding defaults on first run.
func (c *Coordinator) Load(ctx context.Context) {
	settings := loadSettings(ctx, c.store)
	c.mu.Lock()
	c.settings = settings
	c.mu.Unlock()
}

// Settings returns a snapshot of the current policy.
func (c *Coordinator) Settings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// IsBroadcasting reports whether an advertising session is live.
func (c *Coordinator) IsBroadcasting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// CanReceiveFiles reports whether inbound offers are currently admissible.
func (c *Coordinator) CanReceiveFiles() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings.Enabled && c.settings.Visibility != VisibilityOff
}

// OnStatusChange registers a callback fired when the operational
// broadcasting flag flips. It returns the unsubscribe handle.
func (c *Coordinator) OnStatusChange(cb func(active bool)) *notify.Subscription {
	return c.statusHub.Subscribe(cb)
}

// VisibilityStatus projects the policy into the label the original UI shows.
func (c *Coordinator) VisibilityStatus() string {
	c.mu.Lock()
	settings := c.settings
	active := c.active
	c.mu.Unlock()

	switch {
	case !settings.Enabled || settings.Visibility == VisibilityOff:
		return "Hidden"
	case !active:
		return "Available (Not Broadcasting)"
	case settings.Visibility == VisibilityContacts:
		return "Visible to Contacts Only"
	default:
		return "Visible to Everyone"
	}
}

// StartBroadcasting begins advertising presence with the current settings.
// It is idempotent while a session is live. Starting with Enabled=false
// fails with ErrBroadcastDisabled; transport attach failures surface as
// transport errors.
func (c *Coordinator) StartBroadcasting(ctx context.Context) error {
	c.mu.Lock()
	if !c.settings.Enabled {
		c.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "StartBroadcasting",
		}).Warn("Start requested while disabled")
		return ErrBroadcastDisabled
	}
	if c.active {
		c.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "StartBroadcasting",
		}).Debug("Already broadcasting")
		return nil
	}
	settings := c.settings
	c.mu.Unlock()

	res := c.adapter.EnsureReady(ctx)
	if !res.Available {
		return fmt.Errorf("start broadcasting: %w: %s", transport.ErrNotAttached, res.Reason)
	}

	encoded, err := c.serviceInfo(settings).Encode()
	if err != nil {
		return fmt.Errorf("start broadcasting: %w", err)
	}
	if err := c.adapter.Advertise(ctx, encoded); err != nil {
		return fmt.Errorf("start broadcasting: %w", err)
	}

	c.mu.Lock()
	c.active = true
	c.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":    "StartBroadcasting",
		"device_name": settings.DeviceName,
		"visibility":  settings.Visibility,
	}).Info("Broadcasting started")

	c.statusHub.Emit(true)
	return nil
}

// StopBroadcasting tears down the advertising session. Idempotent; teardown
// is best-effort and never fails.
func (c *Coordinator) StopBroadcasting(ctx context.Context) {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.active = false
	c.mu.Unlock()

	c.adapter.StopAll(ctx)

	logrus.WithFields(logrus.Fields{
		"function": "StopBroadcasting",
	}).Info("Broadcasting stopped")

	c.statusHub.Emit(false)
}

// UpdateSettings merges patch into the policy, persists it, and reconciles
// the advertising session: an Enabled transition starts or stops, and a live
// session republishes with the new parameters through a full stop and start
// cycle. The transport has no update primitive.
func (c *Coordinator) UpdateSettings(ctx context.Context, patch SettingsPatch) (Settings, error) {
	c.mu.Lock()
	before := c.settings
	updated := patch.apply(before)
	c.settings = updated
	wasActive := c.active
	c.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":   "UpdateSettings",
		"enabled":    updated.Enabled,
		"visibility": updated.Visibility,
	}).Info("Broadcast settings updated")

	if c.store != nil {
		if err := c.store.Set(ctx, storage.KeyBroadcastSettings, updated); err != nil {
			return updated, fmt.Errorf("persist settings: %w", err)
		}
	}

	switch {
	case before.Enabled && !updated.Enabled:
		c.StopBroadcasting(ctx)
	case !before.Enabled && updated.Enabled:
		if err := c.StartBroadcasting(ctx); err != nil {
			return updated, err
		}
	case wasActive:
		c.StopBroadcasting(ctx)
		if err := c.StartBroadcasting(ctx); err != nil {
			return updated, err
		}
	}

	return updated, nil
}

// SenderRef returns the local identity block stamped on outbound payloads.
func (c *Coordinator) SenderRef() transport.SenderRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	return transport.SenderRef{
		DeviceID: c.self.DeviceID,
		Name:     c.settings.DeviceName,
		Platform: c.self.Platform,
	}
}

func (c *Coordinator) serviceInfo(settings Settings) device.ServiceInfo {
	info := device.NewServiceInfo(c.self.DeviceID, settings.DeviceName, c.self.Platform)
	info.Visibility = string(settings.Visibility)
	info.AllowPreview = settings.AllowPreview
	return info
}
