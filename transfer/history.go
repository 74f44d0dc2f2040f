package transfer

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/swiftbeam/swiftbeam/storage"
)

// DefaultSendThroughput is the assumed outbound rate for advisory transfer
// time estimates, 10 MB per second.
const DefaultSendThroughput int64 = 10 << 20

// DefaultRecentLimit caps the recent-history query.
const DefaultRecentLimit = 10

// Record is one immutable-once-terminal history entry. Records are created
// provisionally when a send is initiated and finalized exactly once when the
// transfer reaches a terminal status.
type Record struct {
	ID              string     `json:"id"`
	FileName        string     `json:"file_name"`
	FileSize        int64      `json:"file_size"`
	FileType        string     `json:"file_type,omitempty"`
	SenderDevice    string     `json:"sender_device"`
	RecipientDevice string     `json:"recipient_device"`
	Status          Status     `json:"transfer_status"`
	Speed           float64    `json:"transfer_speed,omitempty"`
	FileURL         string     `json:"file_url,omitempty"`
	TransferID      string     `json:"transfer_id,omitempty"`
	CreatedDate     time.Time  `json:"created_date"`
	CompletionTime  *time.Time `json:"completion_time,omitempty"`
}

// History persists transfer records through the key-value store as a single
// JSON list under a well-known key.
type History struct {
	store storage.Store
	tp    TimeProvider

	mu sync.Mutex
}

// NewHistory creates a history writer over store. A nil store disables
// persistence; writes become no-ops and reads return empty.
func NewHistory(store storage.Store) *History {
	return &History{store: store, tp: defaultTimeProvider}
}

// SetTimeProvider sets a custom time provider for deterministic testing.
func (h *History) SetTimeProvider(tp TimeProvider) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tp = tp
}

// Append stores a new record, assigning id and creation time when absent,
// and returns the stored record.
func (h *History) Append(ctx context.Context, rec Record) (Record, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedDate.IsZero() {
		rec.CreatedDate = h.tp.Now()
	}

	if h.store == nil {
		return rec, nil
	}

	records, err := h.loadLocked(ctx)
	if err != nil {
		return rec, err
	}
	records = append(records, rec)
	if err := h.store.Set(ctx, storage.KeyTransferHistory, records); err != nil {
		return rec, fmt.Errorf("persist history: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Append",
		"record_id": rec.ID,
		"file_name": rec.FileName,
		"status":    rec.Status,
	}).Debug("History record written")

	return rec, nil
}

// Finalize writes the terminal status for the record tracking transferID.
// Unknown transfer ids are ignored: completions can arrive for inbound
// transfers this side never recorded.
func (h *History) Finalize(ctx context.Context, transferID string, status Status) error {
	if h.store == nil {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	records, err := h.loadLocked(ctx)
	if err != nil {
		return err
	}

	updated := false
	for i := range records {
		if records[i].TransferID != transferID || records[i].Status.IsTerminal() {
			continue
		}
		records[i].Status = status
		now := h.tp.Now()
		records[i].CompletionTime = &now
		updated = true
	}
	if !updated {
		return nil
	}

	logrus.WithFields(logrus.Fields{
		"function":    "Finalize",
		"transfer_id": transferID,
		"status":      status,
	}).Info("History record finalized")

	return h.store.Set(ctx, storage.KeyTransferHistory, records)
}

// List returns all records sorted by creation time, newest first.
func (h *History) List(ctx context.Context) ([]Record, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	records, err := h.loadLocked(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedDate.After(records[j].CreatedDate)
	})
	return records, nil
}

// Recent returns the newest records, capped at limit (default 10).
func (h *History) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	records, err := h.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (h *History) loadLocked(ctx context.Context) ([]Record, error) {
	if h.store == nil {
		return nil, nil
	}
	var records []Record
	if _, err := h.store.Get(ctx, storage.KeyTransferHistory, &records); err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return records, nil
}

// EstimateSeconds predicts how long sending totalBytes to deviceCount peers
// takes at the assumed outbound rate, with a logarithmic overhead factor for
// fanning out to multiple devices.
func EstimateSeconds(totalBytes int64, deviceCount int) int {
	if totalBytes <= 0 || deviceCount <= 0 {
		return 0
	}

	base := float64(totalBytes) / float64(DefaultSendThroughput)
	overhead := 1.0
	if deviceCount > 1 {
		overhead += math.Log2(float64(deviceCount)) * 0.5
	}
	return int(math.Ceil(base * overhead))
}
