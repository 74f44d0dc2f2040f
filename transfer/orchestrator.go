package transfer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/swiftbeam/swiftbeam/device"
	"github.com/swiftbeam/swiftbeam/notify"
	"github.com/swiftbeam/swiftbeam/transport"
)

// DefaultSimultaneousTransfers bounds how many sends are in flight at once.
const DefaultSimultaneousTransfers = 3

// SendFile describes one outbound file. Exactly one of Path or DataB64
// carries the content, depending on how the caller staged it.
type SendFile struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType,omitempty"`
	Path     string `json:"path,omitempty"`
	DataB64  string `json:"-"`
	Preview  string `json:"preview,omitempty"`
}

// SendOptions tunes one outbound batch.
type SendOptions struct {
	// SimultaneousTransfers bounds in-flight sends; excess pairs queue in
	// submission order. Zero takes the package default.
	SimultaneousTransfers int
	// Timeout bounds the whole batch. Zero means no bound.
	Timeout time.Duration
	// Note travels with the file-request signal.
	Note string
}

// SendResult aggregates the outcome of one batch. Transfers holds a record
// for every (device, file) pair that reached the send step, including pairs
// that failed afterwards; their status reflects the latest known state at
// call return, not necessarily a terminal one.
type SendResult struct {
	Success   bool     `json:"success"`
	Transfers []Record `json:"transfers"`
	Errors    []string `json:"errors"`
}

// PeerResolver maps stable device ids to live transport handles. The
// discovery package's correlation table satisfies it.
type PeerResolver interface {
	Resolve(deviceID string) (string, bool)
}

// StagedFile is one file already staged at a fetchable URL. No bytes move
// through the transport for these; the receiver pulls accepted files from
// their URLs.
type StagedFile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
	Type string `json:"type"`
}

// OfferAnswer is a peer's reply to an outbound offer signal.
type OfferAnswer struct {
	PeerID    string `json:"-"`
	RequestID string `json:"requestId"`
	Accepted  bool   `json:"accepted"`
}

// Orchestrator drives outbound sends: resolves targets to peer handles,
// signals the offer, invokes the transport send for every (device, file)
// pair, seeds the tracker, and persists history. Partial failure is expected
// and tolerated; one pair's failure never aborts its siblings.
type Orchestrator struct {
	adapter  *transport.Adapter
	tracker  *Tracker
	history  *History
	resolver PeerResolver
	sender   func() transport.SenderRef

	simultaneous int
	disposers    []*notify.Subscription
	mu           sync.Mutex

	// outstanding maps a peer handle to the transfer ids still owed to it,
	// so a declined offer can stop the sends already in flight.
	outstanding map[string][]string
	answerHub   *notify.Hub[OfferAnswer]
}

// NewOrchestrator creates a send orchestrator. sender supplies the local
// identity block stamped on offer signals.
func NewOrchestrator(adapter *transport.Adapter, tracker *Tracker, history *History, resolver PeerResolver, sender func() transport.SenderRef) *Orchestrator {
	logrus.WithFields(logrus.Fields{
		"function": "NewOrchestrator",
	}).Info("Creating send orchestrator")

	return &Orchestrator{
		adapter:      adapter,
		tracker:      tracker,
		history:      history,
		resolver:     resolver,
		sender:       sender,
		simultaneous: DefaultSimultaneousTransfers,
		outstanding:  make(map[string][]string),
		answerHub:    notify.NewHub[OfferAnswer](),
	}
}

// OnOfferAnswered registers a callback fired when a peer answers an
// outbound offer.
func (o *Orchestrator) OnOfferAnswered(cb func(OfferAnswer)) *notify.Subscription {
	return o.answerHub.Subscribe(cb)
}

// Start installs the tracker subscriptions that turn terminal transfer
// states into authoritative history writes, and the message subscription
// that consumes peers' offer answers.
func (o *Orchestrator) Start(ctx context.Context) {
	completed := o.tracker.OnCompleted(func(c Completion) {
		o.forget(c.TransferID)
		if err := o.history.Finalize(ctx, c.TransferID, StatusCompleted); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":    "Start",
				"transfer_id": c.TransferID,
				"error":       err.Error(),
			}).Warn("History finalize failed")
		}
	})
	terminal := o.tracker.OnProgress(func(p Progress) {
		if !p.Status.IsTerminal() || p.Status == StatusCompleted {
			return
		}
		o.forget(p.TransferID)
		if err := o.history.Finalize(ctx, p.TransferID, p.Status); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":    "Start",
				"transfer_id": p.TransferID,
				"error":       err.Error(),
			}).Warn("History finalize failed")
		}
	})
	answers := o.adapter.Events().MessageReceived.Subscribe(func(ev transport.MessageEvent) {
		o.handleAnswer(ctx, ev)
	})

	o.mu.Lock()
	o.disposers = append(o.disposers, completed, terminal, answers)
	o.mu.Unlock()
}

// handleAnswer consumes a peer's file-response payload. A decline cancels
// every transfer still owed to that peer; everything else is surfaced to
// observers and left alone.
func (o *Orchestrator) handleAnswer(ctx context.Context, ev transport.MessageEvent) {
	msg, err := transport.DecodeMessage(ev.DataB64)
	if err != nil || msg.Kind != transport.KindFileResponse {
		return
	}

	o.mu.Lock()
	ids := o.outstanding[ev.PeerID]
	delete(o.outstanding, ev.PeerID)
	o.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":   "handleAnswer",
		"peer_id":    ev.PeerID,
		"request_id": msg.RequestID,
		"accepted":   msg.Accepted,
	}).Info("Offer answered")

	if !msg.Accepted {
		for _, id := range ids {
			o.tracker.Cancel(ctx, id)
		}
	}

	o.answerHub.Emit(OfferAnswer{
		PeerID:    ev.PeerID,
		RequestID: msg.RequestID,
		Accepted:  msg.Accepted,
	})
}

func (o *Orchestrator) forget(transferID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for peer, ids := range o.outstanding {
		for i, id := range ids {
			if id != transferID {
				continue
			}
			ids = append(ids[:i], ids[i+1:]...)
			if len(ids) == 0 {
				delete(o.outstanding, peer)
			} else {
				o.outstanding[peer] = ids
			}
			return
		}
	}
}

// Stop removes the tracker subscriptions.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	disposers := o.disposers
	o.disposers = nil
	o.mu.Unlock()

	for _, d := range disposers {
		d.Remove()
	}
}

// SendFiles sends every file to every target device. Devices without a
// resolvable peer handle produce a per-device error and are skipped; the
// rest of the batch proceeds.
func (o *Orchestrator) SendFiles(ctx context.Context, files []SendFile, targets []device.Device, opts SendOptions) SendResult {
	if !o.adapter.IsAvailable() || !o.adapter.IsAttached() {
		return SendResult{Errors: []string{"Transport not available or not attached"}}
	}
	if len(files) == 0 {
		return SendResult{Errors: []string{"No files selected"}}
	}
	if len(targets) == 0 {
		return SendResult{Errors: []string{"No target devices selected"}}
	}

	if opts.SimultaneousTransfers <= 0 {
		opts.SimultaneousTransfers = o.simultaneous
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	logrus.WithFields(logrus.Fields{
		"function": "SendFiles",
		"files":    len(files),
		"targets":  len(targets),
	}).Info("Starting outbound batch")

	var (
		mu        sync.Mutex
		errs      []string
		transfers []Record
	)

	type resolvedTarget struct {
		dev    device.Device
		peerID string
	}
	resolved := make([]resolvedTarget, 0, len(targets))
	for _, target := range targets {
		peerID, ok := o.resolver.Resolve(target.ID)
		if !ok {
			errs = append(errs, fmt.Sprintf("Peer not discovered for %s", target.Name))
			logrus.WithFields(logrus.Fields{
				"function":  "SendFiles",
				"device_id": target.ID,
				"name":      target.Name,
			}).Warn("Target has no live peer handle")
			continue
		}
		resolved = append(resolved, resolvedTarget{dev: target, peerID: peerID})
	}

	sem := make(chan struct{}, opts.SimultaneousTransfers)
	var wg sync.WaitGroup

	for _, target := range resolved {
		o.signalOffer(ctx, target.peerID, files, opts.Note)

		for _, f := range files {
			wg.Add(1)
			go func(target resolvedTarget, f SendFile) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()

				rec, errMsg := o.sendOne(ctx, target.dev, target.peerID, f)
				mu.Lock()
				transfers = append(transfers, rec)
				if errMsg != "" {
					errs = append(errs, errMsg)
				}
				mu.Unlock()
			}(target, f)
		}
	}
	wg.Wait()

	return SendResult{
		Success:   len(errs) == 0,
		Transfers: transfers,
		Errors:    errs,
	}
}

// sendOne moves one file to one peer and returns the provisional history
// record plus an error message when the send call rejected.
func (o *Orchestrator) sendOne(ctx context.Context, target device.Device, peerID string, f SendFile) (Record, string) {
	provisional := uuid.NewString()
	o.tracker.Register(provisional, f.Name, f.Size)

	rec := Record{
		FileName:        f.Name,
		FileSize:        f.Size,
		FileType:        f.MimeType,
		SenderDevice:    o.sender().Name,
		RecipientDevice: target.Name,
		Status:          StatusTransferring,
		TransferID:      provisional,
	}

	transferID, err := o.adapter.SendFile(ctx, transport.FileTransferOptions{
		PeerID:   peerID,
		FilePath: f.Path,
		FileB64:  f.DataB64,
		FileName: f.Name,
		MimeType: f.MimeType,
	})
	if err != nil {
		o.tracker.MarkFailed(provisional, err.Error())
		rec.Status = StatusFailed
		stored, histErr := o.history.Append(ctx, rec)
		if histErr != nil {
			logrus.WithFields(logrus.Fields{
				"function": "sendOne",
				"error":    histErr.Error(),
			}).Warn("History write failed")
		}
		return stored, fmt.Sprintf("Failed to send %s to %s: %v", f.Name, target.Name, err)
	}

	o.tracker.Rebind(provisional, transferID)
	rec.TransferID = transferID

	o.mu.Lock()
	o.outstanding[peerID] = append(o.outstanding[peerID], transferID)
	o.mu.Unlock()

	stored, histErr := o.history.Append(ctx, rec)
	if histErr != nil {
		logrus.WithFields(logrus.Fields{
			"function": "sendOne",
			"error":    histErr.Error(),
		}).Warn("History write failed")
	}

	logrus.WithFields(logrus.Fields{
		"function":    "sendOne",
		"transfer_id": transferID,
		"file_name":   f.Name,
		"recipient":   target.Name,
	}).Info("Send initiated")

	return stored, ""
}

// OfferStaged announces staged-URL files to the target devices. The
// transport carries only the offer payload; receivers fetch accepted files
// from their URLs. The returned slice holds one message per failed target.
func (o *Orchestrator) OfferStaged(ctx context.Context, files []StagedFile, targets []device.Device) []string {
	if !o.adapter.IsAvailable() || !o.adapter.IsAttached() {
		return []string{"Transport not available or not attached"}
	}
	if len(files) == 0 {
		return []string{"No files selected"}
	}
	if len(targets) == 0 {
		return []string{"No target devices selected"}
	}

	offerFiles := make([]transport.OfferFile, 0, len(files))
	for _, f := range files {
		id := f.ID
		if id == "" {
			id = uuid.NewString()
		}
		offerFiles = append(offerFiles, transport.OfferFile{
			ID:   id,
			Name: f.Name,
			URL:  f.URL,
			Type: f.Type,
		})
	}

	payload, err := transport.EncodeTransferOffer(o.sender(), offerFiles)
	if err != nil {
		return []string{fmt.Sprintf("Failed to encode offer: %v", err)}
	}

	logrus.WithFields(logrus.Fields{
		"function": "OfferStaged",
		"files":    len(files),
		"targets":  len(targets),
	}).Info("Offering staged files")

	var errs []string
	for _, target := range targets {
		peerID, ok := o.resolver.Resolve(target.ID)
		if !ok {
			errs = append(errs, fmt.Sprintf("Peer not discovered for %s", target.Name))
			continue
		}
		if err := o.adapter.SendMessage(ctx, peerID, payload); err != nil {
			errs = append(errs, fmt.Sprintf("Failed to offer files to %s: %v", target.Name, err))
		}
	}
	return errs
}

// signalOffer sends the file-request payload announcing the batch to one
// peer. Best-effort: a signalling failure does not block the sends.
func (o *Orchestrator) signalOffer(ctx context.Context, peerID string, files []SendFile, note string) {
	metas := make([]transport.FileMeta, 0, len(files))
	for _, f := range files {
		metas = append(metas, transport.FileMeta{
			ID:      uuid.NewString(),
			Name:    f.Name,
			Size:    f.Size,
			Type:    f.MimeType,
			Preview: f.Preview,
		})
	}

	payload, err := transport.EncodeFileRequest(o.sender(), metas, note)
	if err == nil {
		err = o.adapter.SendMessage(ctx, peerID, payload)
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "signalOffer",
			"peer_id":  peerID,
			"error":    err.Error(),
		}).Warn("Offer signal failed")
	}
}
