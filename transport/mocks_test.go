package transport

import (
	"context"
	"errors"
	"sync"
)

// mockBinding implements Binding for testing.
type mockBinding struct {
	mu sync.Mutex

	available   bool
	attachRes   AttachResult
	attachErr   error
	attachCalls int

	publishCalls   []PublishOptions
	subscribeCalls []SubscribeOptions
	messages       []MessageOptions
	fileSends      []FileTransferOptions
	cancels        []string

	stopPublishErr   error
	stopSubscribeErr error
	stopSocketErr    error
	stopCalls        []string

	sendMessageErr error
	sendFileErr    error
	nextTransferID string

	deviceInfo    DeviceInfo
	deviceInfoErr error

	sink EventSink
}

func newMockBinding() *mockBinding {
	return &mockBinding{
		available:      true,
		attachRes:      AttachResult{Available: true, DeviceID: "self-1", DeviceName: "Test Device"},
		nextTransferID: "xfer-1",
	}
}

func (m *mockBinding) Available() bool { return m.available }

func (m *mockBinding) Attach(context.Context) (AttachResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attachCalls++
	return m.attachRes, m.attachErr
}

func (m *mockBinding) Publish(_ context.Context, opts PublishOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishCalls = append(m.publishCalls, opts)
	return nil
}

func (m *mockBinding) Subscribe(_ context.Context, opts SubscribeOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribeCalls = append(m.subscribeCalls, opts)
	return nil
}

func (m *mockBinding) StopPublish(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopCalls = append(m.stopCalls, "publish")
	return m.stopPublishErr
}

func (m *mockBinding) StopSubscribe(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopCalls = append(m.stopCalls, "subscribe")
	return m.stopSubscribeErr
}

func (m *mockBinding) StopSocket(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopCalls = append(m.stopCalls, "socket")
	return m.stopSocketErr
}

func (m *mockBinding) SendMessage(_ context.Context, opts MessageOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendMessageErr != nil {
		return m.sendMessageErr
	}
	m.messages = append(m.messages, opts)
	return nil
}

func (m *mockBinding) SendFileTransfer(_ context.Context, opts FileTransferOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendFileErr != nil {
		return "", m.sendFileErr
	}
	m.fileSends = append(m.fileSends, opts)
	return m.nextTransferID, nil
}

func (m *mockBinding) CancelFileTransfer(_ context.Context, transferID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancels = append(m.cancels, transferID)
	return nil
}

func (m *mockBinding) GetDeviceInfo(context.Context, string) (DeviceInfo, error) {
	return m.deviceInfo, m.deviceInfoErr
}

func (m *mockBinding) SetSink(sink EventSink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sink = sink
}

func (m *mockBinding) Close() error { return nil }

func (m *mockBinding) simulateFound(ev ServiceFoundEvent) {
	if m.sink != nil {
		m.sink.ServiceFound(ev)
	}
}

func (m *mockBinding) simulateLost(ev ServiceLostEvent) {
	if m.sink != nil {
		m.sink.ServiceLost(ev)
	}
}

func (m *mockBinding) simulateMessage(ev MessageEvent) {
	if m.sink != nil {
		m.sink.MessageReceived(ev)
	}
}

var errMockFailure = errors.New("mock failure")
