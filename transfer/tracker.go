// Package transfer tracks active file transfers, drives outbound sends, and
// writes the transfer history.
package transfer

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/swiftbeam/swiftbeam/notify"
	"github.com/swiftbeam/swiftbeam/transport"
)

// Status is the lifecycle state of one tracked transfer.
type Status string

const (
	StatusQueued       Status = "queued"
	StatusTransferring Status = "transferring"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusCancelled    Status = "cancelled"
)

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

const (
	// DefaultCancelGrace keeps a cancelled or failed entry visible long
	// enough for subscribers to observe the terminal frame.
	DefaultCancelGrace = time.Second
	// DefaultCompleteGrace keeps completed entries visible a little longer
	// so a finishing batch can render its final state.
	DefaultCompleteGrace = 2500 * time.Millisecond
)

// Progress is the tracked state of one transfer. Progress is 0 to 100 and
// non-decreasing until a terminal status; cancellation resets it to 0 so the
// UI treats cancellation uniformly with failure.
type Progress struct {
	TransferID       string  `json:"transferId"`
	FileName         string  `json:"fileName"`
	Status           Status  `json:"status"`
	Progress         int     `json:"progress"`
	BytesTransferred int64   `json:"bytesTransferred"`
	TotalBytes       int64   `json:"totalBytes"`
	Speed            float64 `json:"speed,omitempty"`
	Error            string  `json:"error,omitempty"`
}

// Completion carries the final metadata of a finished transfer. Subscribers
// turn it into a history record; the tracker itself does not write history.
type Completion struct {
	TransferID string `json:"transferId"`
	FileName   string `json:"fileName"`
	FilePath   string `json:"filePath,omitempty"`
}

// TrackerConfig tunes eviction timing. Zero fields take package defaults.
type TrackerConfig struct {
	CancelGrace   time.Duration
	CompleteGrace time.Duration
}

func (c TrackerConfig) withDefaults() TrackerConfig {
	out := c
	if out.CancelGrace <= 0 {
		out.CancelGrace = DefaultCancelGrace
	}
	if out.CompleteGrace <= 0 {
		out.CompleteGrace = DefaultCompleteGrace
	}
	return out
}

type trackedEntry struct {
	progress   Progress
	terminalAt time.Time
}

// Tracker maintains the active-transfer set keyed by transfer id, merging
// progress events from the transport. Terminal entries linger for a grace
// period, then are evicted; no entry disappears without a terminal status
// write first.
type Tracker struct {
	adapter *transport.Adapter
	cfg     TrackerConfig
	tp      TimeProvider

	mu        sync.Mutex
	entries   map[string]trackedEntry
	disposers []*notify.Subscription

	progressHub   *notify.Hub[Progress]
	completionHub *notify.Hub[Completion]
}

// NewTracker creates a tracker over the given adapter.
func NewTracker(adapter *transport.Adapter, cfg TrackerConfig) *Tracker {
	logrus.WithFields(logrus.Fields{
		"function": "NewTracker",
	}).Info("Creating transfer tracker")

	return &Tracker{
		adapter:       adapter,
		cfg:           cfg.withDefaults(),
		tp:            defaultTimeProvider,
		entries:       make(map[string]trackedEntry),
		progressHub:   notify.NewHub[Progress](),
		completionHub: notify.NewHub[Completion](),
	}
}

// SetTimeProvider sets a custom time provider for deterministic testing.
func (t *Tracker) SetTimeProvider(tp TimeProvider) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tp = tp
}

// Start installs the transport event handlers.
func (t *Tracker) Start(ctx context.Context) {
	events := t.adapter.Events()

	progress := events.FileTransferProgress.Subscribe(t.handleProgress)
	completed := events.FileTransferCompleted.Subscribe(t.handleCompleted)

	t.mu.Lock()
	t.disposers = append(t.disposers, progress, completed)
	t.mu.Unlock()
}

// Stop removes the transport event handlers.
func (t *Tracker) Stop() {
	t.mu.Lock()
	disposers := t.disposers
	t.disposers = nil
	t.mu.Unlock()

	for _, d := range disposers {
		d.Remove()
	}
}

// OnProgress registers a callback fired on every tracked state change.
func (t *Tracker) OnProgress(cb func(Progress)) *notify.Subscription {
	return t.progressHub.Subscribe(cb)
}

// OnCompleted registers a callback fired when a transfer finishes.
func (t *Tracker) OnCompleted(cb func(Completion)) *notify.Subscription {
	return t.completionHub.Subscribe(cb)
}

// Register seeds a tracked entry before the first progress event, at 0%.
func (t *Tracker) Register(transferID, fileName string, totalBytes int64) {
	entry := Progress{
		TransferID: transferID,
		FileName:   fileName,
		Status:     StatusTransferring,
		TotalBytes: totalBytes,
	}

	t.mu.Lock()
	t.pruneLocked()
	t.entries[transferID] = trackedEntry{progress: entry}
	t.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":    "Register",
		"transfer_id": transferID,
		"file_name":   fileName,
	}).Info("Transfer registered")

	t.progressHub.Emit(entry)
}

// Rebind renames a provisionally registered entry to the transport's own
// transfer id once the send call returns it.
func (t *Tracker) Rebind(oldID, newID string) {
	if oldID == newID {
		return
	}

	t.mu.Lock()
	entry, ok := t.entries[oldID]
	if ok {
		delete(t.entries, oldID)
		entry.progress.TransferID = newID
		t.entries[newID] = entry
	}
	t.mu.Unlock()
}

// MarkFailed transitions an entry to failed with an error message. Used when
// the send call itself rejects, before any transport events exist.
func (t *Tracker) MarkFailed(transferID, errMsg string) {
	t.mu.Lock()
	entry, ok := t.entries[transferID]
	if !ok || entry.progress.Status.IsTerminal() {
		t.mu.Unlock()
		return
	}
	entry.progress.Status = StatusFailed
	entry.progress.Error = errMsg
	entry.terminalAt = t.tp.Now()
	t.entries[transferID] = entry
	frame := entry.progress
	t.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":    "MarkFailed",
		"transfer_id": transferID,
		"error":       errMsg,
	}).Warn("Transfer failed")

	t.progressHub.Emit(frame)
}

// Cancel cancels a transfer. Valid only while the status is transferring;
// anything else reports false. Progress resets to 0 and the entry stays
// visible for the grace period before eviction. The transport-level cancel
// is best-effort.
func (t *Tracker) Cancel(ctx context.Context, transferID string) bool {
	t.mu.Lock()
	entry, ok := t.entries[transferID]
	if !ok || entry.progress.Status != StatusTransferring {
		t.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function":    "Cancel",
			"transfer_id": transferID,
		}).Warn("Cancel for unknown or non-transferring transfer")
		return false
	}
	entry.progress.Status = StatusCancelled
	entry.progress.Progress = 0
	entry.progress.BytesTransferred = 0
	entry.terminalAt = t.tp.Now()
	t.entries[transferID] = entry
	frame := entry.progress
	t.mu.Unlock()

	if err := t.adapter.CancelTransfer(ctx, transferID); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "Cancel",
			"transfer_id": transferID,
			"error":       err.Error(),
		}).Warn("Transport cancel signal failed")
	}

	logrus.WithFields(logrus.Fields{
		"function":    "Cancel",
		"transfer_id": transferID,
	}).Info("Transfer cancelled")

	t.progressHub.Emit(frame)
	return true
}

// All returns a snapshot of tracked transfers, including terminal entries
// still inside their grace period.
func (t *Tracker) All() []Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pruneLocked()

	out := make([]Progress, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e.progress)
	}
	return out
}

// Get returns the tracked state for one transfer id.
func (t *Tracker) Get(transferID string) (Progress, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pruneLocked()
	e, ok := t.entries[transferID]
	return e.progress, ok
}

// HasActive reports whether any tracked entry is still transferring.
func (t *Tracker) HasActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.entries {
		if e.progress.Status == StatusTransferring {
			return true
		}
	}
	return false
}

func (t *Tracker) handleProgress(ev transport.ProgressEvent) {
	t.mu.Lock()
	entry, ok := t.entries[ev.TransferID]
	if ok && entry.progress.Status.IsTerminal() {
		// No transition out of a terminal state.
		t.mu.Unlock()
		return
	}
	if !ok {
		entry = trackedEntry{progress: Progress{
			TransferID: ev.TransferID,
			FileName:   ev.FileName,
			Status:     StatusTransferring,
		}}
	}

	p := &entry.progress
	if ev.FileName != "" {
		p.FileName = ev.FileName
	}
	if ev.TotalBytes > 0 {
		p.TotalBytes = ev.TotalBytes
	}
	if ev.BytesTransferred > p.BytesTransferred {
		p.BytesTransferred = ev.BytesTransferred
	}
	if pct := computePercent(p.BytesTransferred, p.TotalBytes); pct > p.Progress {
		p.Progress = pct
	}

	switch ev.Status {
	case transport.TransferCompleted:
		p.Status = StatusCompleted
		p.Progress = 100
		entry.terminalAt = t.tp.Now()
	case transport.TransferFailed:
		p.Status = StatusFailed
		entry.terminalAt = t.tp.Now()
	case transport.TransferCancelled:
		p.Status = StatusCancelled
		p.Progress = 0
		p.BytesTransferred = 0
		entry.terminalAt = t.tp.Now()
	default:
		p.Status = StatusTransferring
	}

	t.entries[ev.TransferID] = entry
	frame := entry.progress
	t.mu.Unlock()

	t.progressHub.Emit(frame)
}

func (t *Tracker) handleCompleted(ev transport.CompletedEvent) {
	t.mu.Lock()
	entry, ok := t.entries[ev.TransferID]
	if !ok {
		entry = trackedEntry{progress: Progress{
			TransferID: ev.TransferID,
			FileName:   ev.FileName,
		}}
	}
	alreadyTerminal := entry.progress.Status.IsTerminal()
	if !alreadyTerminal {
		entry.progress.Status = StatusCompleted
		entry.progress.Progress = 100
		entry.terminalAt = t.tp.Now()
		if ev.FileName != "" {
			entry.progress.FileName = ev.FileName
		}
		t.entries[ev.TransferID] = entry
	}
	frame := entry.progress
	t.mu.Unlock()

	if alreadyTerminal {
		return
	}

	logrus.WithFields(logrus.Fields{
		"function":    "handleCompleted",
		"transfer_id": ev.TransferID,
		"file_name":   frame.FileName,
	}).Info("Transfer completed")

	t.progressHub.Emit(frame)
	t.completionHub.Emit(Completion{
		TransferID: ev.TransferID,
		FileName:   frame.FileName,
		FilePath:   ev.FilePath,
	})
}

// pruneLocked evicts terminal entries whose grace period has elapsed.
func (t *Tracker) pruneLocked() {
	for id, e := range t.entries {
		if e.terminalAt.IsZero() {
			continue
		}
		grace := t.cfg.CancelGrace
		if e.progress.Status == StatusCompleted {
			grace = t.cfg.CompleteGrace
		}
		if t.tp.Since(e.terminalAt) >= grace {
			delete(t.entries, id)
		}
	}
}

// computePercent maps byte counts to a whole percent capped at 99. Only a
// terminal completion writes 100; an in-flight frame that claims every byte
// has moved still awaits the transport's final word.
func computePercent(transferred, total int64) int {
	if total <= 0 {
		return 0
	}
	pct := int(transferred * 100 / total)
	if pct < 0 {
		return 0
	}
	if pct > 99 {
		return 99
	}
	return pct
}
