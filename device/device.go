// Package device defines the application-level identity record for peers
// and the normalization helpers that turn free-form transport metadata into
// stable Device values.
//
// A Device is the stable identity used for UI selection and history
// attribution. It is distinct from the transport's session-scoped peer
// handle: a device may reappear under a new handle, but at any instant the
// handle-to-device mapping is one-to-one.
package device

import (
	"strings"
	"time"
)

// Type classifies the physical form factor of a device.
type Type string

const (
	TypePhone   Type = "phone"
	TypeTablet  Type = "tablet"
	TypeLaptop  Type = "laptop"
	TypeDesktop Type = "desktop"
	TypeUnknown Type = "unknown"
)

// Platform identifies the operating system family of a device.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformWindows Platform = "windows"
	PlatformMacOS   Platform = "macos"
	PlatformLinux   Platform = "linux"
	PlatformWeb     Platform = "web"
)

// ConnectionStatus describes the current reachability of a device.
type ConnectionStatus string

const (
	StatusConnected    ConnectionStatus = "connected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusAvailable    ConnectionStatus = "available"
)

// Device is the application-level identity record for a peer or self.
type Device struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	Type             Type             `json:"type"`
	Platform         Platform         `json:"platform"`
	IsOnline         bool             `json:"is_online"`
	LastSeen         time.Time        `json:"last_seen"`
	ConnectionStatus ConnectionStatus `json:"connection_status"`
	CreatedDate      time.Time        `json:"created_date"`
	ModelName        string           `json:"model_name,omitempty"`
	OSVersion        string           `json:"os_version,omitempty"`
	DistanceMm       int              `json:"distance_mm,omitempty"`
}

// Complete fills zero-valued classification fields with defaults so callers
// can build a Device from partial transport metadata.
func Complete(d Device) Device {
	if d.Type == "" {
		d.Type = TypeUnknown
	}
	if d.Platform == "" {
		d.Platform = PlatformAndroid
	}
	if d.ConnectionStatus == "" {
		d.ConnectionStatus = StatusAvailable
	}
	if d.CreatedDate.IsZero() {
		d.CreatedDate = time.Now()
	}
	if d.Name == "" {
		d.Name = "Unknown"
	}
	return d
}

// TypeFromString maps a free-form device-type description reported by the
// transport to a Type.
func TypeFromString(deviceType string) Type {
	if deviceType == "" {
		return TypeUnknown
	}

	t := strings.ToLower(deviceType)
	switch {
	case strings.Contains(t, "phone") || strings.Contains(t, "iphone") || strings.Contains(t, "android"):
		return TypePhone
	case strings.Contains(t, "tablet") || strings.Contains(t, "ipad"):
		return TypeTablet
	case strings.Contains(t, "laptop"):
		return TypeLaptop
	case strings.Contains(t, "computer") || strings.Contains(t, "desktop"):
		return TypeDesktop
	default:
		return TypeUnknown
	}
}

// PlatformFromDeviceType infers an operating system family from a free-form
// device-type description. Android is the fallback because that is the only
// platform whose transport binding omits the field.
func PlatformFromDeviceType(deviceType string) Platform {
	if deviceType == "" {
		return PlatformAndroid
	}

	t := strings.ToLower(deviceType)
	switch {
	case strings.Contains(t, "iphone") || strings.Contains(t, "ipad") || strings.Contains(t, "ipod") || strings.Contains(t, "ios"):
		return PlatformIOS
	case strings.Contains(t, "android"):
		return PlatformAndroid
	case strings.Contains(t, "windows"):
		return PlatformWindows
	case strings.Contains(t, "mac") || strings.Contains(t, "osx"):
		return PlatformMacOS
	case strings.Contains(t, "linux"):
		return PlatformLinux
	default:
		return PlatformAndroid
	}
}

// NormalizePlatform canonicalizes a platform string reported directly by a
// peer. Unrecognized non-empty values pass through unchanged so newer peers
// are not misclassified.
func NormalizePlatform(platform string) Platform {
	if platform == "" {
		return PlatformAndroid
	}

	p := strings.ToLower(platform)
	switch {
	case strings.Contains(p, "ios"):
		return PlatformIOS
	case strings.Contains(p, "android"):
		return PlatformAndroid
	case strings.Contains(p, "windows"):
		return PlatformWindows
	case strings.Contains(p, "mac") || strings.Contains(p, "osx"):
		return PlatformMacOS
	case strings.Contains(p, "linux"):
		return PlatformLinux
	default:
		return Platform(p)
	}
}
