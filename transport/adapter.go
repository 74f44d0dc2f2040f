package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Adapter normalizes a Binding into the typed surface consumed by the
// coordination services. It owns the event fan-out and the attach state;
// it performs no retries and no policy of its own.
type Adapter struct {
	binding Binding
	events  *Events

	mu       sync.Mutex
	attached bool
	self     AttachResult
}

// NewAdapter wraps binding and installs the adapter as its event sink.
func NewAdapter(binding Binding) *Adapter {
	a := &Adapter{
		binding: binding,
		events:  newEvents(),
	}
	if binding != nil {
		binding.SetSink(a)
	}

	logrus.WithFields(logrus.Fields{
		"function":  "NewAdapter",
		"available": a.IsAvailable(),
	}).Info("Transport adapter created")

	return a
}

// Events returns the typed subscription surface.
func (a *Adapter) Events() *Events { return a.events }

// IsAvailable reports whether the underlying binding can function at all.
func (a *Adapter) IsAvailable() bool {
	return a.binding != nil && a.binding.Available()
}

// IsAttached reports whether a transport session is currently established.
func (a *Adapter) IsAttached() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.attached
}

// EnsureReady attaches to the transport if needed and returns the attach
// result. An unavailable environment is reported through the result shape,
// not an error, so callers can degrade gracefully.
func (a *Adapter) EnsureReady(ctx context.Context) AttachResult {
	if !a.IsAvailable() {
		return AttachResult{Available: false, Reason: "transport binding unavailable"}
	}

	a.mu.Lock()
	if a.attached {
		res := a.self
		a.mu.Unlock()
		return res
	}
	a.mu.Unlock()

	res, err := a.binding.Attach(ctx)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "EnsureReady",
			"error":    err.Error(),
		}).Warn("Transport attach failed")
		return AttachResult{Available: false, Reason: err.Error()}
	}

	a.mu.Lock()
	a.attached = res.Available
	a.self = res
	a.mu.Unlock()

	if res.Available {
		logrus.WithFields(logrus.Fields{
			"function":    "EnsureReady",
			"device_id":   res.DeviceID,
			"device_name": res.DeviceName,
		}).Info("Transport session attached")
	}

	return res
}

// Advertise publishes presence with the given encoded service-info payload.
func (a *Adapter) Advertise(ctx context.Context, serviceInfoB64 string) error {
	if err := a.requireAttached(); err != nil {
		return err
	}

	err := a.binding.Publish(ctx, PublishOptions{
		ServiceName:      ServiceName,
		ServiceInfoB64:   serviceInfoB64,
		InstantMode:      true,
		RangingEnabled:   true,
		DeviceInfo:       true,
		MulticastEnabled: true,
	})
	if err != nil {
		return NewOperationError("publish", err)
	}
	return nil
}

// Discover starts a discovery subscription for the service.
func (a *Adapter) Discover(ctx context.Context) error {
	if err := a.requireAttached(); err != nil {
		return err
	}

	err := a.binding.Subscribe(ctx, SubscribeOptions{
		ServiceName:       ServiceName,
		InstantMode:       true,
		MinDistanceMm:     0,
		MaxDistanceMm:     20000,
		RequestDeviceInfo: true,
	})
	if err != nil {
		return NewOperationError("subscribe", err)
	}
	return nil
}

// StopAll tears down publish, subscribe and socket state. Each stop is
// independently best-effort; individual failures are logged and swallowed
// so partial teardown cannot block the rest.
func (a *Adapter) StopAll(ctx context.Context) {
	if a.binding == nil {
		return
	}

	stops := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"stopPublish", a.binding.StopPublish},
		{"stopSubscribe", a.binding.StopSubscribe},
		{"stopSocket", a.binding.StopSocket},
	}

	for _, stop := range stops {
		if err := stop.fn(ctx); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":  "StopAll",
				"operation": stop.name,
				"error":     err.Error(),
			}).Debug("Best-effort stop failed")
		}
	}
}

// SendMessage delivers an encoded payload to a peer.
func (a *Adapter) SendMessage(ctx context.Context, peerID, dataB64 string) error {
	if err := a.requireAttached(); err != nil {
		return err
	}

	err := a.binding.SendMessage(ctx, MessageOptions{PeerID: peerID, DataB64: dataB64})
	if err != nil {
		return NewOperationError("sendMessage", err)
	}
	return nil
}

// SendFile starts a native file transfer and returns its transfer id.
func (a *Adapter) SendFile(ctx context.Context, opts FileTransferOptions) (string, error) {
	if err := a.requireAttached(); err != nil {
		return "", err
	}

	if opts.MimeType == "" {
		opts.MimeType = "application/octet-stream"
	}

	transferID, err := a.binding.SendFileTransfer(ctx, opts)
	if err != nil {
		return "", NewOperationError("sendFileTransfer", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "SendFile",
		"peer_id":     opts.PeerID,
		"file_name":   opts.FileName,
		"transfer_id": transferID,
	}).Info("Native file transfer started")

	return transferID, nil
}

// CancelTransfer signals the transport to stop a transfer. Cancellation is
// cooperative: the remote side may still move bytes for a while.
func (a *Adapter) CancelTransfer(ctx context.Context, transferID string) error {
	if a.binding == nil {
		return ErrTransportUnavailable
	}
	if err := a.binding.CancelFileTransfer(ctx, transferID); err != nil {
		return NewOperationError("cancelFileTransfer", err)
	}
	return nil
}

// DeviceInfo queries peer metadata for discovery enrichment.
func (a *Adapter) DeviceInfo(ctx context.Context, peerID string) (DeviceInfo, error) {
	if a.binding == nil {
		return DeviceInfo{}, ErrTransportUnavailable
	}
	info, err := a.binding.GetDeviceInfo(ctx, peerID)
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("get device info for %s: %w", peerID, err)
	}
	return info, nil
}

// UnsubscribeAll drops every registered event subscriber.
func (a *Adapter) UnsubscribeAll() {
	a.events.clear()
}

// Close releases the binding.
func (a *Adapter) Close() error {
	a.UnsubscribeAll()
	if a.binding == nil {
		return nil
	}
	return a.binding.Close()
}

func (a *Adapter) requireAttached() error {
	if !a.IsAvailable() {
		return ErrTransportUnavailable
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.attached {
		return ErrNotAttached
	}
	return nil
}

// EventSink implementation. Raw events are forwarded to typed hubs in the
// order the binding delivers them.

func (a *Adapter) ServiceFound(ev ServiceFoundEvent)      { a.events.ServiceFound.Emit(ev) }
func (a *Adapter) ServiceLost(ev ServiceLostEvent)        { a.events.ServiceLost.Emit(ev) }
func (a *Adapter) MessageReceived(ev MessageEvent)        { a.events.MessageReceived.Emit(ev) }
func (a *Adapter) FileTransferRequest(ev FileRequestEvent) { a.events.FileTransferRequest.Emit(ev) }
func (a *Adapter) FileTransferProgress(ev ProgressEvent)  { a.events.FileTransferProgress.Emit(ev) }
func (a *Adapter) FileTransferCompleted(ev CompletedEvent) { a.events.FileTransferCompleted.Emit(ev) }

// StateChanged also resets attach bookkeeping when the session drops.
func (a *Adapter) StateChanged(res AttachResult) {
	a.mu.Lock()
	a.attached = res.Available
	a.self = res
	a.mu.Unlock()
	a.events.StateChanged.Emit(res)
}
