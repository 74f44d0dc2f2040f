package transport

import (
	"github.com/swiftbeam/swiftbeam/notify"
)

// TransferStatus mirrors the status field carried by native progress events.
type TransferStatus string

const (
	TransferInProgress TransferStatus = "in-progress"
	TransferCompleted  TransferStatus = "completed"
	TransferFailed     TransferStatus = "failed"
	TransferCancelled  TransferStatus = "cancelled"
)

// ServiceFoundEvent reports a discovered peer.
type ServiceFoundEvent struct {
	PeerID         string
	ServiceName    string
	DistanceMm     int
	ServiceInfoB64 string
	DeviceInfo     *DeviceInfo
}

// ServiceLostEvent reports a peer that is no longer reachable.
type ServiceLostEvent struct {
	PeerID      string
	ServiceName string
}

// MessageEvent carries a small-payload message from a peer.
type MessageEvent struct {
	PeerID  string
	DataB64 string
}

// FileRequestEvent is the native file-transfer-request notification.
type FileRequestEvent struct {
	PeerID     string
	TransferID string
	FileName   string
	MimeType   string
	FileSize   int64
}

// ProgressEvent reports bytes moved for one transfer.
type ProgressEvent struct {
	PeerID           string
	TransferID       string
	FileName         string
	BytesTransferred int64
	TotalBytes       int64
	Status           TransferStatus
}

// CompletedEvent reports a finished native transfer.
type CompletedEvent struct {
	PeerID     string
	TransferID string
	FileName   string
	FilePath   string
}

// EventSink receives raw events from a Binding in arrival order.
type EventSink interface {
	ServiceFound(ev ServiceFoundEvent)
	ServiceLost(ev ServiceLostEvent)
	MessageReceived(ev MessageEvent)
	FileTransferRequest(ev FileRequestEvent)
	FileTransferProgress(ev ProgressEvent)
	FileTransferCompleted(ev CompletedEvent)
	StateChanged(res AttachResult)
}

// Events is the fan-out subscription surface of the Adapter. Multiple
// components may subscribe to the same stream; delivery order matches event
// arrival order from the transport.
type Events struct {
	ServiceFound          *notify.Hub[ServiceFoundEvent]
	ServiceLost           *notify.Hub[ServiceLostEvent]
	MessageReceived       *notify.Hub[MessageEvent]
	FileTransferRequest   *notify.Hub[FileRequestEvent]
	FileTransferProgress  *notify.Hub[ProgressEvent]
	FileTransferCompleted *notify.Hub[CompletedEvent]
	StateChanged          *notify.Hub[AttachResult]
}

func newEvents() *Events {
	return &Events{
		ServiceFound:          notify.NewHub[ServiceFoundEvent](),
		ServiceLost:           notify.NewHub[ServiceLostEvent](),
		MessageReceived:       notify.NewHub[MessageEvent](),
		FileTransferRequest:   notify.NewHub[FileRequestEvent](),
		FileTransferProgress:  notify.NewHub[ProgressEvent](),
		FileTransferCompleted: notify.NewHub[CompletedEvent](),
		StateChanged:          notify.NewHub[AttachResult](),
	}
}

func (e *Events) clear() {
	e.ServiceFound.Clear()
	e.ServiceLost.Clear()
	e.MessageReceived.Clear()
	e.FileTransferRequest.Clear()
	e.FileTransferProgress.Clear()
	e.FileTransferCompleted.Clear()
	e.StateChanged.Clear()
}
