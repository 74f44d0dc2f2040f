package transport

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LoggingBinding decorates a Binding with structured call logging. It is
// composed at construction time and implements the same interface, replacing
// the source pattern of patching instrumentation onto a live object.
type LoggingBinding struct {
	inner Binding
}

// WithLogging wraps binding in a LoggingBinding.
func WithLogging(binding Binding) *LoggingBinding {
	return &LoggingBinding{inner: binding}
}

func (l *LoggingBinding) Available() bool { return l.inner.Available() }

func (l *LoggingBinding) Attach(ctx context.Context) (AttachResult, error) {
	res, err := l.inner.Attach(ctx)
	l.log("attach", err, logrus.Fields{"available": res.Available, "reason": res.Reason})
	return res, err
}

func (l *LoggingBinding) Publish(ctx context.Context, opts PublishOptions) error {
	err := l.inner.Publish(ctx, opts)
	l.log("publish", err, logrus.Fields{"service": opts.ServiceName})
	return err
}

func (l *LoggingBinding) Subscribe(ctx context.Context, opts SubscribeOptions) error {
	err := l.inner.Subscribe(ctx, opts)
	l.log("subscribe", err, logrus.Fields{"service": opts.ServiceName})
	return err
}

func (l *LoggingBinding) StopPublish(ctx context.Context) error {
	err := l.inner.StopPublish(ctx)
	l.log("stopPublish", err, nil)
	return err
}

func (l *LoggingBinding) StopSubscribe(ctx context.Context) error {
	err := l.inner.StopSubscribe(ctx)
	l.log("stopSubscribe", err, nil)
	return err
}

func (l *LoggingBinding) StopSocket(ctx context.Context) error {
	err := l.inner.StopSocket(ctx)
	l.log("stopSocket", err, nil)
	return err
}

func (l *LoggingBinding) SendMessage(ctx context.Context, opts MessageOptions) error {
	err := l.inner.SendMessage(ctx, opts)
	l.log("sendMessage", err, logrus.Fields{"peer_id": opts.PeerID, "bytes": len(opts.DataB64)})
	return err
}

func (l *LoggingBinding) SendFileTransfer(ctx context.Context, opts FileTransferOptions) (string, error) {
	transferID, err := l.inner.SendFileTransfer(ctx, opts)
	l.log("sendFileTransfer", err, logrus.Fields{
		"peer_id":     opts.PeerID,
		"file_name":   opts.FileName,
		"transfer_id": transferID,
	})
	return transferID, err
}

func (l *LoggingBinding) CancelFileTransfer(ctx context.Context, transferID string) error {
	err := l.inner.CancelFileTransfer(ctx, transferID)
	l.log("cancelFileTransfer", err, logrus.Fields{"transfer_id": transferID})
	return err
}

func (l *LoggingBinding) GetDeviceInfo(ctx context.Context, peerID string) (DeviceInfo, error) {
	info, err := l.inner.GetDeviceInfo(ctx, peerID)
	l.log("getDeviceInfo", err, logrus.Fields{"peer_id": peerID, "device_name": info.DeviceName})
	return info, err
}

func (l *LoggingBinding) SetSink(sink EventSink) { l.inner.SetSink(sink) }

func (l *LoggingBinding) Close() error {
	err := l.inner.Close()
	l.log("close", err, nil)
	return err
}

func (l *LoggingBinding) log(op string, err error, fields logrus.Fields) {
	entry := logrus.WithField("function", op)
	if fields != nil {
		entry = entry.WithFields(fields)
	}
	if err != nil {
		entry.WithField("error", err.Error()).Warn("Transport call failed")
		return
	}
	entry.Debug("Transport call completed")
}
