package discovery

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

// mockBinding implements transport.Binding for registry tests.
type mockBinding struct {
	mu sync.Mutex

	available      bool
	attachResults  []transport.AttachResult
	attachCalls    int
	subscribeCalls int
	stopCalls      int

	deviceInfo    map[string]transport.DeviceInfo
	deviceInfoErr error

	sink transport.EventSink
}

func newMockBinding() *mockBinding {
	return &mockBinding{
		available:  true,
		deviceInfo: make(map[string]transport.DeviceInfo),
	}
}

func (m *mockBinding) Available() bool { return m.available }

func (m *mockBinding) Attach(context.Context) (transport.AttachResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attachCalls++
	if len(m.attachResults) > 0 {
		res := m.attachResults[0]
		m.attachResults = m.attachResults[1:]
		return res, nil
	}
	return transport.AttachResult{Available: true, DeviceID: "self"}, nil
}

func (m *mockBinding) Publish(context.Context, transport.PublishOptions) error { return nil }

func (m *mockBinding) Subscribe(context.Context, transport.SubscribeOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribeCalls++
	return nil
}

func (m *mockBinding) StopPublish(context.Context) error   { return m.countStop() }
func (m *mockBinding) StopSubscribe(context.Context) error { return m.countStop() }
func (m *mockBinding) StopSocket(context.Context) error    { return m.countStop() }

func (m *mockBinding) countStop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopCalls++
	return nil
}

func (m *mockBinding) SendMessage(context.Context, transport.MessageOptions) error { return nil }

func (m *mockBinding) SendFileTransfer(context.Context, transport.FileTransferOptions) (string, error) {
	return "xfer-1", nil
}

func (m *mockBinding) CancelFileTransfer(context.Context, string) error { return nil }

func (m *mockBinding) GetDeviceInfo(_ context.Context, peerID string) (transport.DeviceInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deviceInfoErr != nil {
		return transport.DeviceInfo{}, m.deviceInfoErr
	}
	info, ok := m.deviceInfo[peerID]
	if !ok {
		return transport.DeviceInfo{}, m.missingInfoErr()
	}
	return info, nil
}

func (m *mockBinding) missingInfoErr() error { return transport.ErrCapabilityUnavailable }

func (m *mockBinding) SetSink(sink transport.EventSink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sink = sink
}

func (m *mockBinding) Close() error { return nil }

func (m *mockBinding) emitFound(ev transport.ServiceFoundEvent) {
	if m.sink != nil {
		m.sink.ServiceFound(ev)
	}
}

func (m *mockBinding) emitLost(peerID string) {
	if m.sink != nil {
		m.sink.ServiceLost(transport.ServiceLostEvent{PeerID: peerID})
	}
}

// fastConfig removes real-time delays from scan tests.
func fastConfig() Config {
	return Config{
		RetryDelay:  time.Millisecond,
		SettleDelay: 0,
	}
}
