package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/swiftbeam/swiftbeam/device"
	"github.com/swiftbeam/swiftbeam/notify"
	"github.com/swiftbeam/swiftbeam/transport"
)

// RequestStatus is the lifecycle state of one inbound file offer.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestAccepted RequestStatus = "accepted"
	RequestDeclined RequestStatus = "declined"
)

const (
	// DefaultOfferThroughput is the assumed rate for advisory transfer-time
	// estimates on inbound offers, 20 MB per second.
	DefaultOfferThroughput int64 = 20 << 20
	// DefaultAdvanceDelay separates one user-facing request from the next.
	DefaultAdvanceDelay = 500 * time.Millisecond
)

// IncomingFileRequest is one unsolicited offer awaiting a decision. The id
// is locally generated and independent of any transport transfer id.
type IncomingFileRequest struct {
	ID               string               `json:"id"`
	PeerID           string               `json:"-"`
	Sender           device.Device        `json:"sender"`
	Files            []transport.FileMeta `json:"files"`
	Message          string               `json:"message,omitempty"`
	Timestamp        time.Time            `json:"timestamp"`
	EstimatedSeconds int                  `json:"estimatedTransferTime"`
	Status           RequestStatus        `json:"status"`

	// nativeTransferID correlates the offer with the transport's own
	// transfer record when the native request event echoed it.
	nativeTransferID string
}

// TotalBytes sums the offered file sizes.
func (r IncomingFileRequest) TotalBytes() int64 {
	var total int64
	for _, f := range r.Files {
		total += f.Size
	}
	return total
}

// RequestResponse is the terminal decision for one request.
type RequestResponse struct {
	RequestID string              `json:"requestId"`
	Accepted  bool                `json:"accepted"`
	Request   IncomingFileRequest `json:"request"`
}

// DeviceLookup resolves a transport handle to the registry's device record
// for sender snapshots.
type DeviceLookup interface {
	ByPeer(peerID string) (device.Device, bool)
}

// RequestConfig tunes the request manager. Zero fields take the package
// defaults.
type RequestConfig struct {
	Throughput   int64
	AdvanceDelay time.Duration
}

func (c RequestConfig) withDefaults() RequestConfig {
	out := c
	if out.Throughput <= 0 {
		out.Throughput = DefaultOfferThroughput
	}
	if out.AdvanceDelay <= 0 {
		out.AdvanceDelay = DefaultAdvanceDelay
	}
	return out
}

// RequestManager converts inbound offer events into queued, user-addressable
// requests with a pending to accepted-or-declined lifecycle. One request at
// a time is "current" for user attention; the next pending request becomes
// current a short delay after the current one resolves.
type RequestManager struct {
	adapter     *transport.Adapter
	coordinator *Coordinator
	trusted     *TrustedDevices
	lookup      DeviceLookup
	cfg         RequestConfig
	tp          TimeProvider

	mu             sync.Mutex
	pending        map[string]IncomingFileRequest
	order          []string
	current        string
	advancePending bool
	disposers      []*notify.Subscription

	requestHub  *notify.Hub[IncomingFileRequest]
	responseHub *notify.Hub[RequestResponse]
}

// NewRequestManager creates a request manager. lookup may be nil; sender
// snapshots then rely on the offer payload alone.
func NewRequestManager(adapter *transport.Adapter, coordinator *Coordinator, trusted *TrustedDevices, lookup DeviceLookup, cfg RequestConfig) *RequestManager {
	logrus.WithFields(logrus.Fields{
		"function": "NewRequestManager",
	}).Info("Creating incoming request manager")

	return &RequestManager{
		adapter:     adapter,
		coordinator: coordinator,
		trusted:     trusted,
		lookup:      lookup,
		cfg:         cfg.withDefaults(),
		tp:          defaultTimeProvider,
		pending:     make(map[string]IncomingFileRequest),
		requestHub:  notify.NewHub[IncomingFileRequest](),
		responseHub: notify.NewHub[RequestResponse](),
	}
}

// SetTimeProvider sets a custom time provider for deterministic testing.
func (m *RequestManager) SetTimeProvider(tp TimeProvider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tp = tp
}

// Start installs the offer event handlers.
func (m *RequestManager) Start(ctx context.Context) {
	events := m.adapter.Events()

	msg := events.MessageReceived.Subscribe(func(ev transport.MessageEvent) {
		m.handleMessage(ctx, ev)
	})
	native := events.FileTransferRequest.Subscribe(func(ev transport.FileRequestEvent) {
		m.handleNativeRequest(ctx, ev)
	})

	m.mu.Lock()
	m.disposers = append(m.disposers, msg, native)
	m.mu.Unlock()
}

// Stop removes the offer event handlers. Pending requests are kept.
func (m *RequestManager) Stop() {
	m.mu.Lock()
	disposers := m.disposers
	m.disposers = nil
	m.mu.Unlock()

	for _, d := range disposers {
		d.Remove()
	}
}

// OnRequest registers a callback fired when a new request is created.
func (m *RequestManager) OnRequest(cb func(IncomingFileRequest)) *notify.Subscription {
	return m.requestHub.Subscribe(cb)
}

// OnResponse registers a callback fired when a request reaches a terminal
// decision.
func (m *RequestManager) OnResponse(cb func(RequestResponse)) *notify.Subscription {
	return m.responseHub.Subscribe(cb)
}

// Pending returns the pending requests in arrival order.
func (m *RequestManager) Pending() []IncomingFileRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]IncomingFileRequest, 0, len(m.order))
	for _, id := range m.order {
		if req, ok := m.pending[id]; ok {
			out = append(out, req)
		}
	}
	return out
}

// Current returns the request currently presented for user attention.
func (m *RequestManager) Current() (IncomingFileRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.pending[m.current]
	return req, ok
}

// ClearAll empties the pending set without per-request notifications.
func (m *RequestManager) ClearAll() {
	m.mu.Lock()
	count := len(m.pending)
	m.pending = make(map[string]IncomingFileRequest)
	m.order = nil
	m.current = ""
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "ClearAll",
		"cleared":  count,
	}).Info("Pending requests cleared")
}

// Respond resolves a pending request. It reports false when the id is not in
// the pending set; the pending set is left untouched in that case. The
// transport-level acknowledgment is best-effort: its failure is logged, not
// surfaced.
func (m *RequestManager) Respond(ctx context.Context, requestID string, accept bool) bool {
	m.mu.Lock()
	req, ok := m.pending[requestID]
	if !ok {
		m.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function":   "Respond",
			"request_id": requestID,
		}).Warn("Response for unknown request id")
		return false
	}

	if accept {
		req.Status = RequestAccepted
	} else {
		req.Status = RequestDeclined
	}
	delete(m.pending, requestID)
	m.removeFromOrderLocked(requestID)
	wasCurrent := m.current == requestID
	if wasCurrent {
		m.current = ""
		m.advancePending = true
	}
	m.mu.Unlock()

	m.signalResponse(ctx, req, accept)

	logrus.WithFields(logrus.Fields{
		"function":   "Respond",
		"request_id": requestID,
		"accepted":   accept,
	}).Info("Incoming request resolved")

	m.responseHub.Emit(RequestResponse{RequestID: requestID, Accepted: accept, Request: req})

	if wasCurrent {
		time.AfterFunc(m.cfg.AdvanceDelay, m.advanceCurrent)
	}
	return true
}

func (m *RequestManager) handleMessage(ctx context.Context, ev transport.MessageEvent) {
	msg, err := transport.DecodeMessage(ev.DataB64)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleMessage",
			"peer_id":  ev.PeerID,
			"error":    err.Error(),
		}).Debug("Skipping undecodable message")
		return
	}
	switch msg.Kind {
	case transport.KindFileRequest:
		sender := m.senderSnapshot(ev.PeerID, msg.Sender)
		m.createRequest(ctx, IncomingFileRequest{
			PeerID:  ev.PeerID,
			Sender:  sender,
			Files:   msg.Files,
			Message: msg.Note,
		})
	case transport.KindTransferOffer:
		// Staged-URL offers carry no byte counts; the files are fetched
		// from their URLs after acceptance.
		files := make([]transport.FileMeta, 0, len(msg.OfferFiles))
		for _, f := range msg.OfferFiles {
			files = append(files, transport.FileMeta{
				ID:   f.ID,
				Name: f.Name,
				Type: f.Type,
				URL:  f.URL,
			})
		}
		sender := m.senderSnapshot(ev.PeerID, msg.Sender)
		m.createRequest(ctx, IncomingFileRequest{
			PeerID:  ev.PeerID,
			Sender:  sender,
			Files:   files,
			Message: msg.Note,
		})
	}
}

// handleNativeRequest normalizes the transport's own file-transfer-request
// event. When it echoes an offer already pending for the same peer and file,
// only the native transfer id is recorded; otherwise it becomes a request of
// its own.
func (m *RequestManager) handleNativeRequest(ctx context.Context, ev transport.FileRequestEvent) {
	m.mu.Lock()
	for id, req := range m.pending {
		if req.PeerID != ev.PeerID {
			continue
		}
		for _, f := range req.Files {
			if f.Name == ev.FileName && (f.Size == ev.FileSize || f.Size == 0) {
				req.nativeTransferID = ev.TransferID
				m.pending[id] = req
				m.mu.Unlock()
				logrus.WithFields(logrus.Fields{
					"function":    "handleNativeRequest",
					"request_id":  id,
					"transfer_id": ev.TransferID,
				}).Debug("Native request matched pending offer")
				return
			}
		}
	}
	m.mu.Unlock()

	sender := m.senderSnapshot(ev.PeerID, transport.SenderRef{})
	m.createRequest(ctx, IncomingFileRequest{
		PeerID: ev.PeerID,
		Sender: sender,
		Files: []transport.FileMeta{{
			ID:   uuid.NewString(),
			Name: ev.FileName,
			Size: ev.FileSize,
			Type: ev.MimeType,
		}},
		nativeTransferID: ev.TransferID,
	})
}

func (m *RequestManager) createRequest(ctx context.Context, req IncomingFileRequest) {
	if !m.coordinator.CanReceiveFiles() {
		logrus.WithFields(logrus.Fields{
			"function": "createRequest",
			"peer_id":  req.PeerID,
		}).Debug("Offer dropped, receiving disabled")
		return
	}

	settings := m.coordinator.Settings()
	total := req.TotalBytes()
	if total > settings.MaxFileSize {
		logrus.WithFields(logrus.Fields{
			"function":    "createRequest",
			"peer_id":     req.PeerID,
			"total_bytes": total,
			"max_bytes":   settings.MaxFileSize,
		}).Warn("Offer dropped, exceeds size limit")
		return
	}

	m.mu.Lock()
	req.ID = uuid.NewString()
	req.Status = RequestPending
	req.Timestamp = m.tp.Now()
	req.EstimatedSeconds = int((total + m.cfg.Throughput - 1) / m.cfg.Throughput)
	m.pending[req.ID] = req
	m.order = append(m.order, req.ID)
	if m.current == "" && !m.advancePending {
		m.current = req.ID
	}
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":   "createRequest",
		"request_id": req.ID,
		"sender":     req.Sender.Name,
		"files":      len(req.Files),
	}).Info("Incoming file request created")

	// Creation notification fires before any auto-accept resolution, so
	// observers may briefly see a pending request that is already resolving.
	m.requestHub.Emit(req)

	if settings.AutoAcceptFromTrustedDevices && m.trusted != nil && m.trusted.Contains(req.Sender.ID) {
		logrus.WithFields(logrus.Fields{
			"function":   "createRequest",
			"request_id": req.ID,
			"device_id":  req.Sender.ID,
		}).Info("Auto-accepting request from trusted device")
		m.Respond(ctx, req.ID, true)
	}
}

// senderSnapshot builds the sender's Device record, preferring the registry's
// enriched entry over the payload's self-description.
func (m *RequestManager) senderSnapshot(peerID string, ref transport.SenderRef) device.Device {
	if m.lookup != nil {
		if dev, ok := m.lookup.ByPeer(peerID); ok {
			return dev
		}
	}

	dev := device.Device{
		ID:       ref.DeviceID,
		Name:     ref.Name,
		Platform: ref.Platform,
		IsOnline: true,
		LastSeen: m.now(),
	}
	if dev.ID == "" {
		dev.ID = peerID
	}
	return device.Complete(dev)
}

func (m *RequestManager) now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tp.Now()
}

func (m *RequestManager) signalResponse(ctx context.Context, req IncomingFileRequest, accept bool) {
	payload, err := transport.EncodeFileResponse(m.coordinator.SenderRef(), req.ID, accept)
	if err == nil {
		err = m.adapter.SendMessage(ctx, req.PeerID, payload)
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "signalResponse",
			"request_id": req.ID,
			"error":      err.Error(),
		}).Warn("Response signal failed")
	}

	if !accept && req.nativeTransferID != "" {
		if err := m.adapter.CancelTransfer(ctx, req.nativeTransferID); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":    "signalResponse",
				"transfer_id": req.nativeTransferID,
				"error":       err.Error(),
			}).Warn("Native decline signal failed")
		}
	}
}

func (m *RequestManager) advanceCurrent() {
	m.mu.Lock()
	m.advancePending = false
	if m.current == "" && len(m.order) > 0 {
		m.current = m.order[0]
		logrus.WithFields(logrus.Fields{
			"function":   "advanceCurrent",
			"request_id": m.current,
		}).Debug("Next request presented")
	}
	m.mu.Unlock()
}

func (m *RequestManager) removeFromOrderLocked(requestID string) {
	for i, id := range m.order {
		if id == requestID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}
