// Package swiftbeam is the coordination layer for proximity file sharing:
// it turns raw discovery and messaging events from a platform transport into
// a consistent view of known peers, pending file offers, and active
// transfers, with broadcast-policy gating and a request/response lifecycle.
//
// App is the composition root. Every service instance is explicitly
// constructed and injected here; there is no ambient global state, so tests
// and embedders can run isolated instances side by side.
package swiftbeam

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/swiftbeam/swiftbeam/broadcast"
	"github.com/swiftbeam/swiftbeam/device"
	"github.com/swiftbeam/swiftbeam/discovery"
	"github.com/swiftbeam/swiftbeam/notify"
	"github.com/swiftbeam/swiftbeam/storage"
	"github.com/swiftbeam/swiftbeam/transfer"
	"github.com/swiftbeam/swiftbeam/transport"
)

// ErrNoBinding indicates New was called without a transport binding.
var ErrNoBinding = errors.New("swiftbeam: options carry no transport binding")

// Options configures an App instance.
type Options struct {
	// Binding is the platform transport. Required.
	Binding transport.Binding

	// Store persists settings, trust, and history. Nil keeps everything in
	// memory.
	Store storage.Store

	// DeviceID is the stable local identity. Empty generates one.
	DeviceID string

	// Platform overrides the detected local platform.
	Platform device.Platform

	// TransportLogging wraps the binding in the logging decorator.
	TransportLogging bool

	// Per-service tuning. Zero values take each package's defaults.
	Discovery discovery.Config
	Requests  broadcast.RequestConfig
	Tracker   transfer.TrackerConfig
}

// NewOptions returns options with sensible defaults for a desktop
// deployment.
func NewOptions() *Options {
	return &Options{
		DeviceID:         uuid.NewString(),
		Platform:         device.CurrentPlatform(),
		TransportLogging: true,
	}
}

// App wires the coordination services together and exposes the surface the
// UI consumes: snapshot accessors, command methods, and event subscriptions.
type App struct {
	ctx    context.Context
	cancel context.CancelFunc

	store        storage.Store
	adapter      *transport.Adapter
	registry     *discovery.Registry
	coordinator  *broadcast.Coordinator
	trusted      *broadcast.TrustedDevices
	requests     *broadcast.RequestManager
	tracker      *transfer.Tracker
	history      *transfer.History
	orchestrator *transfer.Orchestrator

	self broadcast.Identity
}

// New builds and starts an App from options. The returned App is live:
// event handlers for offers and transfers are installed, and persisted
// settings and trust are loaded.
func New(options *Options) (*App, error) {
	if options == nil {
		options = NewOptions()
	}
	if options.Binding == nil {
		return nil, ErrNoBinding
	}

	deviceID := options.DeviceID
	if deviceID == "" {
		deviceID = uuid.NewString()
	}
	platform := options.Platform
	if platform == "" {
		platform = device.CurrentPlatform()
	}

	logrus.WithFields(logrus.Fields{
		"function":  "New",
		"device_id": deviceID,
		"platform":  platform,
	}).Info("Creating swiftbeam app")

	binding := options.Binding
	if options.TransportLogging {
		binding = transport.WithLogging(binding)
	}

	store := options.Store
	if store == nil {
		store = storage.NewMemoryStore()
	}

	ctx, cancel := context.WithCancel(context.Background())

	adapter := transport.NewAdapter(binding)
	resolver := discovery.NewResolver()
	registry := discovery.NewRegistry(adapter, resolver, options.Discovery)

	self := broadcast.Identity{DeviceID: deviceID, Platform: platform}
	coordinator := broadcast.NewCoordinator(adapter, store, self)
	coordinator.Load(ctx)

	trusted := broadcast.NewTrustedDevices(store)
	if err := trusted.Load(ctx); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "New",
			"error":    err.Error(),
		}).Warn("Trusted device list unavailable, starting empty")
	}

	requests := broadcast.NewRequestManager(adapter, coordinator, trusted, registry, options.Requests)
	requests.Start(ctx)

	tracker := transfer.NewTracker(adapter, options.Tracker)
	tracker.Start(ctx)

	history := transfer.NewHistory(store)
	orchestrator := transfer.NewOrchestrator(adapter, tracker, history, resolver, coordinator.SenderRef)
	orchestrator.Start(ctx)

	return &App{
		ctx:          ctx,
		cancel:       cancel,
		store:        store,
		adapter:      adapter,
		registry:     registry,
		coordinator:  coordinator,
		trusted:      trusted,
		requests:     requests,
		tracker:      tracker,
		history:      history,
		orchestrator: orchestrator,
		self:         self,
	}, nil
}

// SelfID returns the stable local device id.
func (a *App) SelfID() string { return a.self.DeviceID }

// IsTransportAvailable reports whether the platform transport can function.
func (a *App) IsTransportAvailable() bool { return a.adapter.IsAvailable() }

// --- snapshot accessors ---

// GetAllDevices returns every known device, newest first.
func (a *App) GetAllDevices() []device.Device { return a.registry.All() }

// GetActiveDevices returns devices seen within the freshness window.
func (a *App) GetActiveDevices() []device.Device { return a.registry.Active() }

// GetRecentDevices returns known devices outside the freshness window.
func (a *App) GetRecentDevices() []device.Device { return a.registry.Recent() }

// FilterDevices returns known devices whose name contains search.
func (a *App) FilterDevices(search string) []device.Device {
	return a.registry.Filter(search, nil)
}

// GetDeviceStats summarizes the registry contents.
func (a *App) GetDeviceStats() discovery.Stats { return a.registry.DeviceStats() }

// GetPendingRequests returns pending incoming requests in arrival order.
func (a *App) GetPendingRequests() []broadcast.IncomingFileRequest {
	return a.requests.Pending()
}

// GetCurrentRequest returns the request presented for user attention.
func (a *App) GetCurrentRequest() (broadcast.IncomingFileRequest, bool) {
	return a.requests.Current()
}

// GetAllTransfers returns the tracked transfer set, including terminal
// entries still inside their grace period.
func (a *App) GetAllTransfers() []transfer.Progress { return a.tracker.All() }

// HasActiveTransfers reports whether any transfer is still moving.
func (a *App) HasActiveTransfers() bool { return a.tracker.HasActive() }

// GetSettings returns the current broadcast policy.
func (a *App) GetSettings() broadcast.Settings { return a.coordinator.Settings() }

// GetVisibilityStatus returns the human-readable visibility label.
func (a *App) GetVisibilityStatus() string { return a.coordinator.VisibilityStatus() }

// IsBroadcasting reports whether an advertising session is live.
func (a *App) IsBroadcasting() bool { return a.coordinator.IsBroadcasting() }

// IsScanning reports whether a discovery scan is in progress.
func (a *App) IsScanning() bool { return a.registry.IsScanning() }

// GetTransferHistory returns all history records, newest first.
func (a *App) GetTransferHistory() ([]transfer.Record, error) {
	return a.history.List(a.ctx)
}

// GetRecentTransfers returns the newest history records, capped at limit.
func (a *App) GetRecentTransfers(limit int) ([]transfer.Record, error) {
	return a.history.Recent(a.ctx, limit)
}

// GetTrustedDevices returns the trusted device ids.
func (a *App) GetTrustedDevices() []string { return a.trusted.List() }

// --- commands ---

// StartScan runs one discovery window and returns the active devices found.
func (a *App) StartScan(duration time.Duration) []device.Device {
	return a.registry.StartScan(a.ctx, duration)
}

// StartBroadcasting begins advertising presence with the current settings.
func (a *App) StartBroadcasting() error {
	return a.coordinator.StartBroadcasting(a.ctx)
}

// StopBroadcasting tears down the advertising session.
func (a *App) StopBroadcasting() {
	a.coordinator.StopBroadcasting(a.ctx)
}

// UpdateSettings merges patch into the broadcast policy and reconciles the
// advertising session.
func (a *App) UpdateSettings(patch broadcast.SettingsPatch) (broadcast.Settings, error) {
	return a.coordinator.UpdateSettings(a.ctx, patch)
}

// RespondToRequest resolves a pending incoming request. It reports false for
// unknown request ids.
func (a *App) RespondToRequest(requestID string, accept bool) bool {
	return a.requests.Respond(a.ctx, requestID, accept)
}

// ClearPendingRequests empties the pending request set.
func (a *App) ClearPendingRequests() { a.requests.ClearAll() }

// SendFiles sends every file to every target device and aggregates the
// outcome; partial failure is reported per item, not thrown.
func (a *App) SendFiles(files []transfer.SendFile, targets []device.Device, opts transfer.SendOptions) transfer.SendResult {
	return a.orchestrator.SendFiles(a.ctx, files, targets, opts)
}

// OfferStagedFiles announces staged-URL files to the target devices without
// moving bytes through the transport. One error message per failed target.
func (a *App) OfferStagedFiles(files []transfer.StagedFile, targets []device.Device) []string {
	return a.orchestrator.OfferStaged(a.ctx, files, targets)
}

// CancelTransfer cancels a transferring entry. It reports false when the
// transfer is unknown or already terminal.
func (a *App) CancelTransfer(transferID string) bool {
	return a.tracker.Cancel(a.ctx, transferID)
}

// TrustDevice adds deviceID to the auto-accept trust set.
func (a *App) TrustDevice(deviceID string) error {
	return a.trusted.Add(a.ctx, deviceID)
}

// UntrustDevice removes deviceID from the auto-accept trust set.
func (a *App) UntrustDevice(deviceID string) error {
	return a.trusted.Remove(a.ctx, deviceID)
}

// EstimateTransferTime predicts the batch duration in seconds for sending
// totalBytes to deviceCount peers.
func (a *App) EstimateTransferTime(totalBytes int64, deviceCount int) int {
	return transfer.EstimateSeconds(totalBytes, deviceCount)
}

// --- subscriptions ---

// OnScanStatusChange fires when the scanning flag flips or the peer set
// changes.
func (a *App) OnScanStatusChange(cb func(scanning bool)) *notify.Subscription {
	return a.registry.OnScanStatusChange(cb)
}

// OnBroadcastStatusChange fires when the advertising session starts or
// stops.
func (a *App) OnBroadcastStatusChange(cb func(active bool)) *notify.Subscription {
	return a.coordinator.OnStatusChange(cb)
}

// OnIncomingRequest fires when a new file offer arrives.
func (a *App) OnIncomingRequest(cb func(broadcast.IncomingFileRequest)) *notify.Subscription {
	return a.requests.OnRequest(cb)
}

// OnRequestResponse fires when an offer reaches a terminal decision.
func (a *App) OnRequestResponse(cb func(broadcast.RequestResponse)) *notify.Subscription {
	return a.requests.OnResponse(cb)
}

// OnTransferProgress fires on every tracked transfer state change.
func (a *App) OnTransferProgress(cb func(transfer.Progress)) *notify.Subscription {
	return a.tracker.OnProgress(cb)
}

// OnTransferCompleted fires when a transfer finishes.
func (a *App) OnTransferCompleted(cb func(transfer.Completion)) *notify.Subscription {
	return a.tracker.OnCompleted(cb)
}

// OnOfferAnswered fires when a peer accepts or declines an outbound offer.
func (a *App) OnOfferAnswered(cb func(transfer.OfferAnswer)) *notify.Subscription {
	return a.orchestrator.OnOfferAnswered(cb)
}

// Close stops broadcasting, removes every event handler, and releases the
// transport and store. The App must not be used afterwards.
func (a *App) Close() error {
	logrus.WithFields(logrus.Fields{
		"function": "Close",
	}).Info("Shutting down swiftbeam app")

	a.coordinator.StopBroadcasting(a.ctx)
	a.requests.Stop()
	a.tracker.Stop()
	a.orchestrator.Stop()
	a.cancel()

	err := a.adapter.Close()
	if a.store != nil {
		if cerr := a.store.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
