package device

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// ServiceInfoVersion is the current presence payload version.
const ServiceInfoVersion = 1

// ServiceInfo is the presence payload a broadcasting device attaches to its
// advertisement. It travels base64-encoded inside the transport's
// service-info field.
type ServiceInfo struct {
	DeviceID     string   `json:"deviceId"`
	Name         string   `json:"name"`
	Platform     Platform `json:"platform"`
	Visibility   string   `json:"visibility,omitempty"`
	AllowPreview bool     `json:"allowPreview,omitempty"`
	Version      int      `json:"v"`
	TimestampMs  int64    `json:"ts"`
}

// NewServiceInfo builds a versioned, timestamped presence payload.
func NewServiceInfo(deviceID, name string, platform Platform) ServiceInfo {
	return ServiceInfo{
		DeviceID:    deviceID,
		Name:        name,
		Platform:    platform,
		Version:     ServiceInfoVersion,
		TimestampMs: time.Now().UnixMilli(),
	}
}

// Encode serializes the payload as base64-wrapped JSON.
func (s ServiceInfo) Encode() (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encode service info: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeServiceInfo parses a base64-wrapped JSON presence payload.
func DecodeServiceInfo(encoded string) (ServiceInfo, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return ServiceInfo{}, fmt.Errorf("decode service info: %w", err)
	}

	var info ServiceInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return ServiceInfo{}, fmt.Errorf("parse service info: %w", err)
	}
	return info, nil
}
