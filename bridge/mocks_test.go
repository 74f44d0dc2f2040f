package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/swiftbeam/swiftbeam/transport"
)

// fakeBinding implements transport.Binding so bridge tests can drive the
// full stack without a native transport.
type fakeBinding struct {
	mu sync.Mutex

	nextTransfer int
	published    []transport.PublishOptions
	messages     []transport.MessageOptions
	sentFiles    []transport.FileTransferOptions
	cancelledIDs []string

	sink transport.EventSink
}

func newFakeBinding() *fakeBinding { return &fakeBinding{} }

func (f *fakeBinding) Available() bool { return true }

func (f *fakeBinding) Attach(context.Context) (transport.AttachResult, error) {
	return transport.AttachResult{Available: true, DeviceID: "self-handle", DeviceName: "Self"}, nil
}

func (f *fakeBinding) Publish(_ context.Context, opts transport.PublishOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, opts)
	return nil
}

func (f *fakeBinding) Subscribe(context.Context, transport.SubscribeOptions) error { return nil }
func (f *fakeBinding) StopPublish(context.Context) error                           { return nil }
func (f *fakeBinding) StopSubscribe(context.Context) error                         { return nil }
func (f *fakeBinding) StopSocket(context.Context) error                            { return nil }

func (f *fakeBinding) SendMessage(_ context.Context, opts transport.MessageOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, opts)
	return nil
}

func (f *fakeBinding) SendFileTransfer(_ context.Context, opts transport.FileTransferOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextTransfer++
	f.sentFiles = append(f.sentFiles, opts)
	return fmt.Sprintf("xfer-%d", f.nextTransfer), nil
}

func (f *fakeBinding) CancelFileTransfer(_ context.Context, transferID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelledIDs = append(f.cancelledIDs, transferID)
	return nil
}

func (f *fakeBinding) GetDeviceInfo(context.Context, string) (transport.DeviceInfo, error) {
	return transport.DeviceInfo{}, transport.ErrCapabilityUnavailable
}

func (f *fakeBinding) SetSink(sink transport.EventSink) { f.sink = sink }

func (f *fakeBinding) Close() error { return nil }
