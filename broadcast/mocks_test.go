package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/swiftbeam/swiftbeam/transport"
)

// mockTimeProvider provides deterministic time for testing.
type mockTimeProvider struct {
	mu          sync.Mutex
	currentTime time.Time
}

func newMockTimeProvider() *mockTimeProvider {
	return &mockTimeProvider{currentTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (m *mockTimeProvider) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTime
}

func (m *mockTimeProvider) Since(t time.Time) time.Duration {
	return m.Now().Sub(t)
}

func (m *mockTimeProvider) advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentTime = m.currentTime.Add(d)
}

// sentMessage records one SendMessage call for assertion.
type sentMessage struct {
	peerID  string
	dataB64 string
}

// mockBinding implements transport.Binding for coordinator and request
// manager tests.
type mockBinding struct {
	mu sync.Mutex

	available    bool
	attachResult transport.AttachResult

	publishCalls   int
	published      []transport.PublishOptions
	stopCalls      int
	messages       []sentMessage
	cancelledIDs   []string
	sendMessageErr error

	sink transport.EventSink
}

func newMockBinding() *mockBinding {
	return &mockBinding{
		available:    true,
		attachResult: transport.AttachResult{Available: true, DeviceID: "self"},
	}
}

func (m *mockBinding) Available() bool { return m.available }

func (m *mockBinding) Attach(context.Context) (transport.AttachResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attachResult, nil
}

func (m *mockBinding) Publish(_ context.Context, opts transport.PublishOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishCalls++
	m.published = append(m.published, opts)
	return nil
}

func (m *mockBinding) Subscribe(context.Context, transport.SubscribeOptions) error { return nil }

func (m *mockBinding) StopPublish(context.Context) error   { return m.countStop() }
func (m *mockBinding) StopSubscribe(context.Context) error { return m.countStop() }
func (m *mockBinding) StopSocket(context.Context) error    { return m.countStop() }

func (m *mockBinding) countStop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopCalls++
	return nil
}

func (m *mockBinding) SendMessage(_ context.Context, opts transport.MessageOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendMessageErr != nil {
		return m.sendMessageErr
	}
	m.messages = append(m.messages, sentMessage{peerID: opts.PeerID, dataB64: opts.DataB64})
	return nil
}

func (m *mockBinding) SendFileTransfer(context.Context, transport.FileTransferOptions) (string, error) {
	return "xfer-1", nil
}

func (m *mockBinding) CancelFileTransfer(_ context.Context, transferID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelledIDs = append(m.cancelledIDs, transferID)
	return nil
}

func (m *mockBinding) GetDeviceInfo(context.Context, string) (transport.DeviceInfo, error) {
	return transport.DeviceInfo{}, transport.ErrCapabilityUnavailable
}

func (m *mockBinding) SetSink(sink transport.EventSink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sink = sink
}

func (m *mockBinding) Close() error { return nil }

func (m *mockBinding) lastPublished() (transport.PublishOptions, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.published) == 0 {
		return transport.PublishOptions{}, false
	}
	return m.published[len(m.published)-1], true
}

func (m *mockBinding) sentMessages() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]sentMessage, len(m.messages))
	copy(out, m.messages)
	return out
}

func (m *mockBinding) emitMessage(peerID, dataB64 string) {
	m.sink.MessageReceived(transport.MessageEvent{PeerID: peerID, DataB64: dataB64})
}

func (m *mockBinding) emitNativeRequest(ev transport.FileRequestEvent) {
	m.sink.FileTransferRequest(ev)
}

// fastRequestConfig removes the real presentation delay from tests.
func fastRequestConfig() RequestConfig {
	return RequestConfig{AdvanceDelay: time.Millisecond}
}

// waitUntil polls cond until it holds or the deadline passes.
func waitUntil(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return cond()
}
