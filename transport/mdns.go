package transport

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/sirupsen/logrus"
)

const (
	// mdnsService is the mDNS service type used by the fallback binding.
	mdnsService = "_swiftbeam._tcp"
	// mdnsDomain is the mDNS domain.
	mdnsDomain = "local."
	// mdnsPort is a nominal port carried in the registration; the fallback
	// binding advertises presence only and opens no listener.
	mdnsPort = 53317
	// mdnsScanInterval is the background browse cadence.
	mdnsScanInterval = 10 * time.Second
	// mdnsScanTimeout bounds each browse window.
	mdnsScanTimeout = 3 * time.Second
)

// MDNSBinding is a desktop fallback Binding that advertises and discovers
// presence over mDNS where no native neighbor-aware plugin exists. Only the
// discovery half of the contract is supported: messaging, file transfer and
// device-info queries report ErrCapabilityUnavailable and the rest of the
// system degrades accordingly.
type MDNSBinding struct {
	instance string

	mu       sync.Mutex
	sink     EventSink
	server   *zeroconf.Server
	resolver *zeroconf.Resolver
	seen     map[string]mdnsPeer
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	closed   bool
}

type mdnsPeer struct {
	infoB64  string
	lastSeen time.Time
}

// NewMDNSBinding creates the fallback binding. The instance name is used as
// the advertised mDNS instance; empty defaults to the host name.
func NewMDNSBinding(instance string) *MDNSBinding {
	if instance == "" {
		if host, err := os.Hostname(); err == nil {
			instance = host
		} else {
			instance = "swiftbeam"
		}
	}
	return &MDNSBinding{
		instance: instance,
		seen:     make(map[string]mdnsPeer),
	}
}

// Available implements Binding. mDNS works anywhere with a network stack.
func (m *MDNSBinding) Available() bool { return true }

// SetSink implements Binding.
func (m *MDNSBinding) SetSink(sink EventSink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sink = sink
}

// Attach implements Binding.
func (m *MDNSBinding) Attach(_ context.Context) (AttachResult, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return AttachResult{Available: false, Reason: err.Error()}, nil
	}

	m.mu.Lock()
	m.resolver = resolver
	m.mu.Unlock()

	return AttachResult{
		Available:  true,
		DeviceID:   "mdns-" + m.instance,
		DeviceName: m.instance,
	}, nil
}

// Publish implements Binding by registering an mDNS service whose TXT
// record carries the encoded presence payload.
func (m *MDNSBinding) Publish(_ context.Context, opts PublishOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.server != nil {
		m.server.Shutdown()
		m.server = nil
	}

	txt := []string{"info=" + opts.ServiceInfoB64, "service=" + opts.ServiceName}
	server, err := zeroconf.Register(m.instance, mdnsService, mdnsDomain, mdnsPort, txt, nil)
	if err != nil {
		return fmt.Errorf("register mDNS service: %w", err)
	}
	m.server = server

	logrus.WithFields(logrus.Fields{
		"function": "Publish",
		"instance": m.instance,
	}).Info("mDNS presence registered")

	return nil
}

// Subscribe implements Binding by starting a periodic browse loop that
// translates appearing and disappearing entries into serviceFound and
// serviceLost events.
func (m *MDNSBinding) Subscribe(_ context.Context, _ SubscribeOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.resolver == nil {
		return ErrNotAttached
	}
	if m.cancel != nil {
		// Browse loop already running.
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.wg.Add(1)
	go m.browseLoop(ctx)
	return nil
}

func (m *MDNSBinding) browseLoop(ctx context.Context) {
	defer m.wg.Done()

	m.runScan(ctx)
	ticker := time.NewTicker(mdnsScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.runScan(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (m *MDNSBinding) runScan(parent context.Context) {
	scanCtx, cancel := context.WithTimeout(parent, mdnsScanTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 32)
	collected := make(map[string]string)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for entry := range entries {
			if entry == nil {
				continue
			}
			peerID := strings.TrimSpace(entry.Instance)
			if peerID == "" || peerID == m.instance {
				continue
			}
			collected[peerID] = txtValue(entry.Text, "info")
		}
	}()

	m.mu.Lock()
	resolver := m.resolver
	m.mu.Unlock()
	if resolver == nil {
		return
	}

	if err := resolver.Browse(scanCtx, mdnsService, mdnsDomain, entries); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "runScan",
			"error":    err.Error(),
		}).Warn("mDNS browse failed")
		return
	}

	<-scanCtx.Done()
	<-done

	m.applySnapshot(collected)
}

func (m *MDNSBinding) applySnapshot(next map[string]string) {
	m.mu.Lock()
	sink := m.sink
	previous := m.seen

	now := time.Now()
	current := make(map[string]mdnsPeer, len(next))
	for id, info := range next {
		current[id] = mdnsPeer{infoB64: info, lastSeen: now}
	}
	m.seen = current
	m.mu.Unlock()

	if sink == nil {
		return
	}

	for id, peer := range current {
		if _, existed := previous[id]; !existed || previous[id].infoB64 != peer.infoB64 {
			sink.ServiceFound(ServiceFoundEvent{
				PeerID:         id,
				ServiceName:    ServiceName,
				ServiceInfoB64: peer.infoB64,
			})
		}
	}
	for id := range previous {
		if _, exists := current[id]; !exists {
			sink.ServiceLost(ServiceLostEvent{PeerID: id, ServiceName: ServiceName})
		}
	}
}

// StopPublish implements Binding.
func (m *MDNSBinding) StopPublish(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.server != nil {
		m.server.Shutdown()
		m.server = nil
	}
	return nil
}

// StopSubscribe implements Binding.
func (m *MDNSBinding) StopSubscribe(_ context.Context) error {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		m.wg.Wait()
	}
	return nil
}

// StopSocket implements Binding. The fallback binding opens no sockets.
func (m *MDNSBinding) StopSocket(_ context.Context) error { return nil }

// SendMessage implements Binding. Messaging is not supported over mDNS.
func (m *MDNSBinding) SendMessage(_ context.Context, _ MessageOptions) error {
	return ErrCapabilityUnavailable
}

// SendFileTransfer implements Binding. File movement is not supported over mDNS.
func (m *MDNSBinding) SendFileTransfer(_ context.Context, _ FileTransferOptions) (string, error) {
	return "", ErrCapabilityUnavailable
}

// CancelFileTransfer implements Binding.
func (m *MDNSBinding) CancelFileTransfer(_ context.Context, _ string) error {
	return ErrCapabilityUnavailable
}

// GetDeviceInfo implements Binding. Peer metadata beyond the TXT payload is
// not available over mDNS.
func (m *MDNSBinding) GetDeviceInfo(_ context.Context, _ string) (DeviceInfo, error) {
	return DeviceInfo{}, ErrCapabilityUnavailable
}

// Close implements Binding.
func (m *MDNSBinding) Close() error {
	_ = m.StopSubscribe(context.Background())
	_ = m.StopPublish(context.Background())

	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func txtValue(text []string, key string) string {
	prefix := key + "="
	for _, entry := range text {
		if strings.HasPrefix(entry, prefix) {
			return strings.TrimPrefix(entry, prefix)
		}
	}
	return ""
}
