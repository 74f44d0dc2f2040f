package transfer

import (
	"context"
	"fmt"
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

// sentFile records one SendFileTransfer call.
type sentFile struct {
	peerID   string
	fileName string
}

// mockBinding implements transport.Binding for tracker and orchestrator
// tests.
type mockBinding struct {
	mu sync.Mutex

	nextTransfer int
	sentFiles    []sentFile
	sendFileErr  map[string]error
	messages     []string
	cancelledIDs []string

	sink transport.EventSink
}

func newMockBinding() *mockBinding {
	return &mockBinding{sendFileErr: make(map[string]error)}
}

func (m *mockBinding) Available() bool { return true }

func (m *mockBinding) Attach(context.Context) (transport.AttachResult, error) {
	return transport.AttachResult{Available: true, DeviceID: "self"}, nil
}

func (m *mockBinding) Publish(context.Context, transport.PublishOptions) error     { return nil }
func (m *mockBinding) Subscribe(context.Context, transport.SubscribeOptions) error { return nil }
func (m *mockBinding) StopPublish(context.Context) error                           { return nil }
func (m *mockBinding) StopSubscribe(context.Context) error                         { return nil }
func (m *mockBinding) StopSocket(context.Context) error                            { return nil }

func (m *mockBinding) SendMessage(_ context.Context, opts transport.MessageOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, opts.DataB64)
	return nil
}

func (m *mockBinding) SendFileTransfer(_ context.Context, opts transport.FileTransferOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.sendFileErr[opts.PeerID]; err != nil {
		return "", err
	}
	m.nextTransfer++
	m.sentFiles = append(m.sentFiles, sentFile{peerID: opts.PeerID, fileName: opts.FileName})
	return fmt.Sprintf("native-%d", m.nextTransfer), nil
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

func (m *mockBinding) SetSink(sink transport.EventSink) { m.sink = sink }

func (m *mockBinding) Close() error { return nil }

func (m *mockBinding) emitProgress(ev transport.ProgressEvent) {
	m.sink.FileTransferProgress(ev)
}

func (m *mockBinding) emitCompleted(ev transport.CompletedEvent) {
	m.sink.FileTransferCompleted(ev)
}

func (m *mockBinding) emitMessage(peerID, dataB64 string) {
	m.sink.MessageReceived(transport.MessageEvent{PeerID: peerID, DataB64: dataB64})
}

// mockResolver is a fixed device-id to peer-handle table.
type mockResolver map[string]string

func (m mockResolver) Resolve(deviceID string) (string, bool) {
	peerID, ok := m[deviceID]
	return peerID, ok
}
