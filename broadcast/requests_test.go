package broadcast

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/swiftbeam/swiftbeam/device"
	"github.com/swiftbeam/swiftbeam/storage"
	"github.com/swiftbeam/swiftbeam/transport"
)

type requestFixture struct {
	manager     *RequestManager
	coordinator *Coordinator
	trusted     *TrustedDevices
	binding     *mockBinding
}

func newRequestFixture(t *testing.T) *requestFixture {
	t.Helper()

	binding := newMockBinding()
	adapter := transport.NewAdapter(binding)
	if res := adapter.EnsureReady(context.Background()); !res.Available {
		t.Fatalf("Attach failed: %+v", res)
	}
	store := storage.NewMemoryStore()

	seeded := DefaultSettings()
	seeded.Enabled = true
	if err := store.Set(context.Background(), storage.KeyBroadcastSettings, seeded); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}

	coordinator := NewCoordinator(adapter, store, Identity{DeviceID: "self-id", Platform: device.PlatformLinux})
	coordinator.Load(context.Background())

	trusted := NewTrustedDevices(store)
	manager := NewRequestManager(adapter, coordinator, trusted, nil, fastRequestConfig())
	manager.SetTimeProvider(newMockTimeProvider())
	manager.Start(context.Background())
	t.Cleanup(manager.Stop)

	return &requestFixture{
		manager:     manager,
		coordinator: coordinator,
		trusted:     trusted,
		binding:     binding,
	}
}

func (f *requestFixture) sendOffer(t *testing.T, peerID string, files []transport.FileMeta, note string) {
	t.Helper()
	sender := transport.SenderRef{DeviceID: "dev-" + peerID, Name: "Peer " + peerID, Platform: device.PlatformAndroid}
	payload, err := transport.EncodeFileRequest(sender, files, note)
	if err != nil {
		t.Fatalf("EncodeFileRequest failed: %v", err)
	}
	f.binding.emitMessage(peerID, payload)
}

func singleFile(name string, size int64) []transport.FileMeta {
	return []transport.FileMeta{{ID: "f1", Name: name, Size: size, Type: "image/png"}}
}

func TestOfferMessageCreatesPendingRequest(t *testing.T) {
	f := newRequestFixture(t)

	f.sendOffer(t, "p1", singleFile("photo.png", 40<<20), "holiday pics")

	pending := f.manager.Pending()
	if len(pending) != 1 {
		t.Fatalf("Expected 1 pending request, got %d", len(pending))
	}
	req := pending[0]
	if req.Status != RequestPending {
		t.Errorf("Expected pending status, got %q", req.Status)
	}
	if req.Sender.ID != "dev-p1" || req.Sender.Name != "Peer p1" {
		t.Errorf("Sender snapshot wrong: %+v", req.Sender)
	}
	if req.Message != "holiday pics" {
		t.Errorf("Note lost: %q", req.Message)
	}
	if req.EstimatedSeconds != 2 {
		t.Errorf("Expected 2s estimate for 40MB at 20MB/s, got %d", req.EstimatedSeconds)
	}

	current, ok := f.manager.Current()
	if !ok || current.ID != req.ID {
		t.Error("First request should become current immediately")
	}
}

func TestOfferDroppedWhileReceivingDisabled(t *testing.T) {
	f := newRequestFixture(t)

	if _, err := f.coordinator.UpdateSettings(context.Background(), SettingsPatch{Visibility: visPtr(VisibilityOff)}); err != nil {
		t.Fatalf("Visibility change failed: %v", err)
	}

	f.sendOffer(t, "p1", singleFile("photo.png", 1<<20), "")

	if len(f.manager.Pending()) != 0 {
		t.Error("No request may be created while visibility is off")
	}
}

func TestOversizeOfferDropped(t *testing.T) {
	f := newRequestFixture(t)

	if _, err := f.coordinator.UpdateSettings(context.Background(), SettingsPatch{MaxFileSize: int64Ptr(1 << 20)}); err != nil {
		t.Fatalf("Limit change failed: %v", err)
	}

	f.sendOffer(t, "p1", singleFile("huge.bin", 2<<20), "")

	if len(f.manager.Pending()) != 0 {
		t.Error("Offer above the size limit must be dropped")
	}
}

func TestUnknownMessageKindIgnored(t *testing.T) {
	f := newRequestFixture(t)

	f.binding.emitMessage("p1", "not base64 at all!!!")

	if len(f.manager.Pending()) != 0 {
		t.Error("Undecodable payload must not create a request")
	}
}

func TestAutoAcceptFromTrustedDevice(t *testing.T) {
	f := newRequestFixture(t)
	ctx := context.Background()

	if err := f.trusted.Add(ctx, "dev-p1"); err != nil {
		t.Fatalf("Trust failed: %v", err)
	}
	if _, err := f.coordinator.UpdateSettings(ctx, SettingsPatch{AutoAcceptFromTrustedDevices: boolPtr(true)}); err != nil {
		t.Fatalf("Enable auto-accept failed: %v", err)
	}

	var mu sync.Mutex
	var sequence []string
	reqSub := f.manager.OnRequest(func(IncomingFileRequest) {
		mu.Lock()
		sequence = append(sequence, "created")
		mu.Unlock()
	})
	defer reqSub.Remove()
	var response RequestResponse
	respSub := f.manager.OnResponse(func(r RequestResponse) {
		mu.Lock()
		sequence = append(sequence, "resolved")
		response = r
		mu.Unlock()
	})
	defer respSub.Remove()

	f.sendOffer(t, "p1", singleFile("doc.pdf", 1<<20), "")

	if len(f.manager.Pending()) != 0 {
		t.Error("Auto-accepted request must not stay pending")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(sequence) != 2 || sequence[0] != "created" || sequence[1] != "resolved" {
		t.Errorf("Creation notification must precede resolution, got %v", sequence)
	}
	if !response.Accepted || response.Request.Status != RequestAccepted {
		t.Errorf("Expected accepted resolution, got %+v", response)
	}
}

func TestUntrustedSenderStaysPending(t *testing.T) {
	f := newRequestFixture(t)

	if _, err := f.coordinator.UpdateSettings(context.Background(), SettingsPatch{AutoAcceptFromTrustedDevices: boolPtr(true)}); err != nil {
		t.Fatalf("Enable auto-accept failed: %v", err)
	}

	f.sendOffer(t, "p1", singleFile("doc.pdf", 1<<20), "")

	if len(f.manager.Pending()) != 1 {
		t.Error("Untrusted sender must require a manual decision")
	}
}

func TestRespondUnknownIDFails(t *testing.T) {
	f := newRequestFixture(t)

	f.sendOffer(t, "p1", singleFile("doc.pdf", 1<<20), "")

	if f.manager.Respond(context.Background(), "nonexistent-id", true) {
		t.Error("Unknown id must fail")
	}
	if len(f.manager.Pending()) != 1 {
		t.Error("Failed response must not alter the pending set")
	}
}

func TestDeclineSignalsPeerAndRemoves(t *testing.T) {
	f := newRequestFixture(t)

	f.sendOffer(t, "p1", singleFile("doc.pdf", 1<<20), "")
	req := f.manager.Pending()[0]

	var response RequestResponse
	sub := f.manager.OnResponse(func(r RequestResponse) { response = r })
	defer sub.Remove()

	if !f.manager.Respond(context.Background(), req.ID, false) {
		t.Fatal("Respond failed")
	}

	if len(f.manager.Pending()) != 0 {
		t.Error("Declined request must leave the pending set")
	}
	if response.Accepted || response.Request.Status != RequestDeclined {
		t.Errorf("Expected declined resolution, got %+v", response)
	}

	messages := f.binding.sentMessages()
	if len(messages) != 1 || messages[0].peerID != "p1" {
		t.Fatalf("Expected one response signal to p1, got %+v", messages)
	}
	msg, err := transport.DecodeMessage(messages[0].dataB64)
	if err != nil {
		t.Fatalf("Response payload undecodable: %v", err)
	}
	if msg.Kind != transport.KindFileResponse || msg.RequestID != req.ID || msg.Accepted {
		t.Errorf("Response payload wrong: %+v", msg)
	}
}

func TestNativeEventEchoRecordsTransferID(t *testing.T) {
	f := newRequestFixture(t)

	f.sendOffer(t, "p1", singleFile("doc.pdf", 1<<20), "")
	f.binding.emitNativeRequest(transport.FileRequestEvent{
		PeerID:     "p1",
		TransferID: "native-7",
		FileName:   "doc.pdf",
		FileSize:   1 << 20,
	})

	pending := f.manager.Pending()
	if len(pending) != 1 {
		t.Fatalf("Echo must not create a second request, got %d", len(pending))
	}

	// Declining now signals the native layer with the echoed transfer id.
	if !f.manager.Respond(context.Background(), pending[0].ID, false) {
		t.Fatal("Respond failed")
	}
	f.binding.mu.Lock()
	cancelled := append([]string(nil), f.binding.cancelledIDs...)
	f.binding.mu.Unlock()
	if len(cancelled) != 1 || cancelled[0] != "native-7" {
		t.Errorf("Expected native cancel for native-7, got %v", cancelled)
	}
}

func TestNativeEventAloneCreatesRequest(t *testing.T) {
	f := newRequestFixture(t)

	f.binding.emitNativeRequest(transport.FileRequestEvent{
		PeerID:     "p2",
		TransferID: "native-9",
		FileName:   "song.mp3",
		MimeType:   "audio/mpeg",
		FileSize:   3 << 20,
	})

	pending := f.manager.Pending()
	if len(pending) != 1 {
		t.Fatalf("Expected 1 request, got %d", len(pending))
	}
	req := pending[0]
	if len(req.Files) != 1 || req.Files[0].Name != "song.mp3" || req.Files[0].Size != 3<<20 {
		t.Errorf("File list wrong: %+v", req.Files)
	}
	if req.Sender.ID != "p2" {
		t.Errorf("Sender should default to the peer handle, got %q", req.Sender.ID)
	}
}

func TestPresentationQueueAdvancesOneAtATime(t *testing.T) {
	f := newRequestFixture(t)

	f.sendOffer(t, "p1", singleFile("a.txt", 1<<10), "")
	f.sendOffer(t, "p2", singleFile("b.txt", 1<<10), "")

	pending := f.manager.Pending()
	if len(pending) != 2 {
		t.Fatalf("Expected 2 pending, got %d", len(pending))
	}
	first, second := pending[0], pending[1]

	current, ok := f.manager.Current()
	if !ok || current.ID != first.ID {
		t.Fatal("First arrival should be current")
	}

	if !f.manager.Respond(context.Background(), first.ID, true) {
		t.Fatal("Respond failed")
	}

	// Immediately after resolution nothing is current; the next request is
	// presented after the advance delay.
	advanced := waitUntil(time.Second, func() bool {
		c, ok := f.manager.Current()
		return ok && c.ID == second.ID
	})
	if !advanced {
		t.Error("Second request never became current")
	}
}

func TestClearAllEmptiesQueue(t *testing.T) {
	f := newRequestFixture(t)

	f.sendOffer(t, "p1", singleFile("a.txt", 1<<10), "")
	f.sendOffer(t, "p2", singleFile("b.txt", 1<<10), "")

	f.manager.ClearAll()

	if len(f.manager.Pending()) != 0 {
		t.Error("Pending set must be empty after ClearAll")
	}
	if _, ok := f.manager.Current(); ok {
		t.Error("No current request after ClearAll")
	}
}

func TestStopRemovesHandlers(t *testing.T) {
	f := newRequestFixture(t)

	f.manager.Stop()
	f.sendOffer(t, "p1", singleFile("a.txt", 1<<10), "")

	if len(f.manager.Pending()) != 0 {
		t.Error("Stopped manager must ignore offer events")
	}
}

func TestStagedOfferCreatesURLBackedRequest(t *testing.T) {
	f := newRequestFixture(t)

	sender := transport.SenderRef{DeviceID: "dev-p1", Name: "Peer p1", Platform: device.PlatformIOS}
	payload, err := transport.EncodeTransferOffer(sender, []transport.OfferFile{
		{ID: "s1", Name: "slides.pdf", URL: "https://share.local/s1", Type: "application/pdf"},
		{ID: "s2", Name: "cover.png", URL: "https://share.local/s2", Type: "image/png"},
	})
	if err != nil {
		t.Fatalf("EncodeTransferOffer failed: %v", err)
	}
	f.binding.emitMessage("p1", payload)

	pending := f.manager.Pending()
	if len(pending) != 1 {
		t.Fatalf("Expected 1 pending request, got %d", len(pending))
	}
	req := pending[0]
	if len(req.Files) != 2 {
		t.Fatalf("Expected 2 files, got %d", len(req.Files))
	}
	if req.Files[0].URL != "https://share.local/s1" || req.Files[1].URL != "https://share.local/s2" {
		t.Errorf("Staged URLs not carried: %+v", req.Files)
	}
	if req.Files[0].Name != "slides.pdf" || req.Files[0].Type != "application/pdf" {
		t.Errorf("File identity lost: %+v", req.Files[0])
	}
	if req.Sender.ID != "dev-p1" {
		t.Errorf("Sender snapshot wrong: %+v", req.Sender)
	}
	if req.TotalBytes() != 0 || req.EstimatedSeconds != 0 {
		t.Errorf("Staged offers carry no byte counts: total=%d est=%d", req.TotalBytes(), req.EstimatedSeconds)
	}
}
