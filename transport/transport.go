// Package transport normalizes the native proximity-wireless plugin surface
// into a typed event-subscription interface plus request/response wrapper
// methods.
//
// The native layer itself (neighbor discovery, sockets, raw file movement)
// is consumed as an opaque capability through the Binding interface. The
// Adapter wraps a Binding, fans raw events out to typed subscribers in
// arrival order, and performs no retries of its own: retry policy belongs to
// callers.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// ServiceName is the advertised/discovered proximity service identifier.
const ServiceName = "swiftbeam"

// Sentinel errors for the transport error taxonomy.
var (
	// ErrTransportUnavailable indicates the platform cannot provide the
	// capability at all. Never retried automatically.
	ErrTransportUnavailable = errors.New("transport unavailable")

	// ErrNotAttached indicates the transport is present but no session is
	// established.
	ErrNotAttached = errors.New("transport session not attached")

	// ErrCapabilityUnavailable indicates the active binding does not
	// implement the requested operation. Features degrade, they do not crash.
	ErrCapabilityUnavailable = errors.New("capability not available on this binding")
)

// OperationError wraps a failed transport call together with the operation
// name for per-item error reporting in batches.
type OperationError struct {
	Op     string
	Reason error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("transport operation %s failed: %v", e.Op, e.Reason)
}

func (e *OperationError) Unwrap() error { return e.Reason }

// NewOperationError builds an OperationError for op.
func NewOperationError(op string, reason error) *OperationError {
	return &OperationError{Op: op, Reason: reason}
}

// AttachResult reports the outcome of attaching to the native transport.
type AttachResult struct {
	Available  bool   `json:"available"`
	Reason     string `json:"reason,omitempty"`
	DeviceID   string `json:"deviceId,omitempty"`
	DeviceName string `json:"deviceName,omitempty"`
}

// DeviceInfo is the metadata the transport can report about a peer.
type DeviceInfo struct {
	DeviceName string `json:"deviceName,omitempty"`
	DeviceType string `json:"deviceType,omitempty"`
	ModelName  string `json:"modelName,omitempty"`
	OSVersion  string `json:"osVersion,omitempty"`
	Platform   string `json:"platform,omitempty"`
}

// PublishOptions configures presence advertising.
type PublishOptions struct {
	ServiceName      string
	ServiceInfoB64   string
	InstantMode      bool
	RangingEnabled   bool
	DeviceInfo       bool
	MulticastEnabled bool
}

// SubscribeOptions configures peer discovery.
type SubscribeOptions struct {
	ServiceName       string
	InstantMode       bool
	MinDistanceMm     int
	MaxDistanceMm     int
	RequestDeviceInfo bool
}

// MessageOptions configures a small-payload message send.
type MessageOptions struct {
	PeerID    string
	DataB64   string
	Multicast bool
	PeerIDs   []string
}

// FileTransferOptions configures a native file send.
type FileTransferOptions struct {
	PeerID    string
	FilePath  string
	FileB64   string
	FileName  string
	MimeType  string
	Multicast bool
	PeerIDs   []string
}

// Binding is the minimal contract the core relies on from a platform
// transport implementation. Every method may fail; absence of a capability
// must surface as ErrCapabilityUnavailable, not a crash.
type Binding interface {
	// Available reports whether this binding can function in the current
	// environment at all.
	Available() bool

	// Attach establishes (or re-establishes) the transport session.
	Attach(ctx context.Context) (AttachResult, error)

	Publish(ctx context.Context, opts PublishOptions) error
	Subscribe(ctx context.Context, opts SubscribeOptions) error

	// The stop calls are each independently best-effort.
	StopPublish(ctx context.Context) error
	StopSubscribe(ctx context.Context) error
	StopSocket(ctx context.Context) error

	SendMessage(ctx context.Context, opts MessageOptions) error

	// SendFileTransfer starts a native file transfer and returns its
	// transfer identifier.
	SendFileTransfer(ctx context.Context, opts FileTransferOptions) (string, error)
	CancelFileTransfer(ctx context.Context, transferID string) error

	GetDeviceInfo(ctx context.Context, peerID string) (DeviceInfo, error)

	// SetSink installs the receiver for raw transport events. The binding
	// must deliver events in arrival order.
	SetSink(sink EventSink)

	Close() error
}
