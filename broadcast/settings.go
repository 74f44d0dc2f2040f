package broadcast

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/swiftbeam/swiftbeam/storage"
)

// Visibility controls who may discover this device while broadcasting.
type Visibility string

const (
	VisibilityEveryone Visibility = "everyone"
	VisibilityContacts Visibility = "contacts"
	VisibilityOff      Visibility = "off"
)

const (
	// DefaultDeviceName is advertised until the user picks a name.
	DefaultDeviceName = "My Device"
	// DefaultMaxFileSize caps accepted inbound files at 100 MiB.
	DefaultMaxFileSize = 100 << 20
)

// Settings is the persisted broadcast policy. Enabled records user intent;
// whether advertising is actually live is the Coordinator's operational flag.
type Settings struct {
	Enabled                      bool       `json:"enabled"`
	DeviceName                   string     `json:"deviceName"`
	Visibility                   Visibility `json:"visibility"`
	AutoAcceptFromTrustedDevices bool       `json:"autoAcceptFromTrustedDevices"`
	AllowPreview                 bool       `json:"allowPreview"`
	MaxFileSize                  int64      `json:"maxFileSize"`
}

// DefaultSettings returns the first-run policy.
func DefaultSettings() Settings {
	return Settings{
		Enabled:                      false,
		DeviceName:                   DefaultDeviceName,
		Visibility:                   VisibilityEveryone,
		AutoAcceptFromTrustedDevices: false,
		AllowPreview:                 true,
		MaxFileSize:                  DefaultMaxFileSize,
	}
}

// normalized fills blanks left by older persisted documents.
func (s Settings) normalized() Settings {
	if s.DeviceName == "" {
		s.DeviceName = DefaultDeviceName
	}
	if s.Visibility == "" {
		s.Visibility = VisibilityEveryone
	}
	if s.MaxFileSize <= 0 {
		s.MaxFileSize = DefaultMaxFileSize
	}
	return s
}

// SettingsPatch is a partial settings update. Nil fields keep their current
// value.
type SettingsPatch struct {
	Enabled                      *bool
	DeviceName                   *string
	Visibility                   *Visibility
	AutoAcceptFromTrustedDevices *bool
	AllowPreview                 *bool
	MaxFileSize                  *int64
}

func (p SettingsPatch) apply(s Settings) Settings {
	if p.Enabled != nil {
		s.Enabled = *p.Enabled
	}
	if p.DeviceName != nil {
		s.DeviceName = *p.DeviceName
	}
	if p.Visibility != nil {
		s.Visibility = *p.Visibility
	}
	if p.AutoAcceptFromTrustedDevices != nil {
		s.AutoAcceptFromTrustedDevices = *p.AutoAcceptFromTrustedDevices
	}
	if p.AllowPreview != nil {
		s.AllowPreview = *p.AllowPreview
	}
	if p.MaxFileSize != nil {
		s.MaxFileSize = *p.MaxFileSize
	}
	return s.normalized()
}

// loadSettings reads the persisted policy, tolerating an empty store on
// first run by seeding defaults.
func loadSettings(ctx context.Context, store storage.Store) Settings {
	settings := DefaultSettings()
	if store == nil {
		return settings
	}

	found, err := store.Get(ctx, storage.KeyBroadcastSettings, &settings)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "loadSettings",
			"error":    err.Error(),
		}).Warn("Could not load broadcast settings, using defaults")
		return DefaultSettings()
	}
	if !found {
		logrus.WithFields(logrus.Fields{
			"function": "loadSettings",
		}).Debug("No persisted broadcast settings, seeding defaults")
		return DefaultSettings()
	}
	return settings.normalized()
}
