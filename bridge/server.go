// Package bridge exposes the coordination layer to an external UI over
// WebSocket: state-change events are pushed to every connected client, and
// clients issue commands as JSON messages on the same connection.
package bridge

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/swiftbeam/swiftbeam"
	"github.com/swiftbeam/swiftbeam/broadcast"
	"github.com/swiftbeam/swiftbeam/device"
	"github.com/swiftbeam/swiftbeam/notify"
	"github.com/swiftbeam/swiftbeam/transfer"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server bridges one App to any number of WebSocket clients.
type Server struct {
	app  *swiftbeam.App
	addr string

	wsMu    sync.Mutex
	clients map[*websocket.Conn]bool

	subs []*notify.Subscription
	http *http.Server
}

// NewServer creates a bridge for app listening on addr.
func NewServer(app *swiftbeam.App, addr string) *Server {
	return &Server{
		app:     app,
		addr:    addr,
		clients: make(map[*websocket.Conn]bool),
	}
}

// Start installs the event forwarders and serves until the listener fails
// or Shutdown is called.
func (s *Server) Start() error {
	s.attachForwarders()

	s.http = &http.Server{Addr: s.addr, Handler: s.Handler()}

	logrus.WithFields(logrus.Fields{
		"function": "Start",
		"addr":     s.addr,
	}).Info("UI bridge listening")

	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Handler returns the HTTP routes served by the bridge.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func (s *Server) attachForwarders() {
	s.subs = append(s.subs,
		s.app.OnScanStatusChange(func(scanning bool) {
			s.broadcast("scan_status", map[string]interface{}{
				"scanning": scanning,
				"devices":  s.app.GetActiveDevices(),
			})
		}),
		s.app.OnBroadcastStatusChange(func(active bool) {
			s.broadcast("broadcast_status", map[string]interface{}{"active": active})
		}),
		s.app.OnIncomingRequest(func(req broadcast.IncomingFileRequest) {
			s.broadcast("incoming_request", req)
		}),
		s.app.OnRequestResponse(func(resp broadcast.RequestResponse) {
			s.broadcast("request_response", resp)
		}),
		s.app.OnTransferProgress(func(p transfer.Progress) {
			s.broadcast("transfer_progress", p)
		}),
		s.app.OnTransferCompleted(func(c transfer.Completion) {
			s.broadcast("transfer_completed", c)
		}),
		s.app.OnOfferAnswered(func(a transfer.OfferAnswer) {
			s.broadcast("offer_answered", a)
		}),
	)
}

// Shutdown stops the listener and removes the event forwarders.
func (s *Server) Shutdown(ctx context.Context) error {
	for _, sub := range s.subs {
		sub.Remove()
	}
	s.subs = nil

	s.wsMu.Lock()
	for conn := range s.clients {
		conn.Close()
		delete(s.clients, conn)
	}
	s.wsMu.Unlock()

	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// broadcast pushes one event envelope to every connected client. Clients
// whose write fails are dropped.
func (s *Server) broadcast(event string, payload interface{}) {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()

	msg := map[string]interface{}{"event": event, "payload": payload}
	for conn := range s.clients {
		if err := conn.WriteJSON(msg); err != nil {
			conn.Close()
			delete(s.clients, conn)
		}
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.wsMu.Lock()
	s.clients[conn] = true
	s.wsMu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "handleWS",
		"remote":   r.RemoteAddr,
	}).Info("UI client connected")

	go s.readPump(conn)
}

func (s *Server) readPump(conn *websocket.Conn) {
	defer func() {
		s.wsMu.Lock()
		delete(s.clients, conn)
		s.wsMu.Unlock()
		conn.Close()
	}()

	for {
		var cmd command
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		s.reply(conn, cmd.ID, s.dispatch(cmd))
	}
}

func (s *Server) reply(conn *websocket.Conn, id string, res result) {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()

	msg := map[string]interface{}{"id": id, "ok": res.err == ""}
	if res.data != nil {
		msg["data"] = res.data
	}
	if res.err != "" {
		msg["error"] = res.err
	}
	if err := conn.WriteJSON(msg); err != nil {
		conn.Close()
		delete(s.clients, conn)
	}
}

// command is one inbound UI message. Fields beyond Action are populated per
// action.
type command struct {
	ID     string `json:"id,omitempty"`
	Action string `json:"action"`

	DurationMs int            `json:"durationMs,omitempty"`
	Settings   *settingsPatch `json:"settings,omitempty"`
	RequestID  string         `json:"requestId,omitempty"`
	Accept     bool           `json:"accept,omitempty"`
	TransferID string         `json:"transferId,omitempty"`
	DeviceID   string         `json:"deviceId,omitempty"`
	Search     string         `json:"search,omitempty"`
	Limit      int            `json:"limit,omitempty"`

	Files        []transfer.SendFile   `json:"files,omitempty"`
	StagedFiles  []transfer.StagedFile `json:"stagedFiles,omitempty"`
	Targets      []device.Device       `json:"targets,omitempty"`
	Simultaneous int                   `json:"simultaneousTransfers,omitempty"`
	TimeoutMs    int                   `json:"timeoutMs,omitempty"`
	Note         string                `json:"note,omitempty"`
}

// settingsPatch is the wire shape of a partial settings update.
type settingsPatch struct {
	Enabled                      *bool   `json:"enabled,omitempty"`
	DeviceName                   *string `json:"deviceName,omitempty"`
	Visibility                   *string `json:"visibility,omitempty"`
	AutoAcceptFromTrustedDevices *bool   `json:"autoAcceptFromTrustedDevices,omitempty"`
	AllowPreview                 *bool   `json:"allowPreview,omitempty"`
	MaxFileSize                  *int64  `json:"maxFileSize,omitempty"`
}

func (p *settingsPatch) toPatch() broadcast.SettingsPatch {
	patch := broadcast.SettingsPatch{
		Enabled:                      p.Enabled,
		DeviceName:                   p.DeviceName,
		AutoAcceptFromTrustedDevices: p.AutoAcceptFromTrustedDevices,
		AllowPreview:                 p.AllowPreview,
		MaxFileSize:                  p.MaxFileSize,
	}
	if p.Visibility != nil {
		v := broadcast.Visibility(*p.Visibility)
		patch.Visibility = &v
	}
	return patch
}

type result struct {
	data interface{}
	err  string
}

func ok(data interface{}) result { return result{data: data} }
func fail(err error) result      { return result{err: err.Error()} }
func failMsg(msg string) result  { return result{err: msg} }

func (s *Server) dispatch(cmd command) result {
	logrus.WithFields(logrus.Fields{
		"function": "dispatch",
		"action":   cmd.Action,
	}).Debug("UI command")

	switch cmd.Action {
	case "get_state":
		return ok(s.stateSnapshot())

	case "start_scan":
		// Scans block for their duration; run detached and let the
		// scan-status events carry the outcome.
		go s.app.StartScan(time.Duration(cmd.DurationMs) * time.Millisecond)
		return ok(nil)

	case "start_broadcasting":
		if err := s.app.StartBroadcasting(); err != nil {
			return fail(err)
		}
		return ok(nil)

	case "stop_broadcasting":
		s.app.StopBroadcasting()
		return ok(nil)

	case "update_settings":
		if cmd.Settings == nil {
			return failMsg("missing settings")
		}
		settings, err := s.app.UpdateSettings(cmd.Settings.toPatch())
		if err != nil {
			return fail(err)
		}
		return ok(settings)

	case "respond_to_request":
		if !s.app.RespondToRequest(cmd.RequestID, cmd.Accept) {
			return failMsg("unknown request id")
		}
		return ok(nil)

	case "clear_requests":
		s.app.ClearPendingRequests()
		return ok(nil)

	case "send_files":
		res := s.app.SendFiles(cmd.Files, cmd.Targets, transfer.SendOptions{
			SimultaneousTransfers: cmd.Simultaneous,
			Timeout:               time.Duration(cmd.TimeoutMs) * time.Millisecond,
			Note:                  cmd.Note,
		})
		return ok(res)

	case "offer_staged":
		errs := s.app.OfferStagedFiles(cmd.StagedFiles, cmd.Targets)
		if len(errs) > 0 {
			return ok(map[string]interface{}{"errors": errs})
		}
		return ok(nil)

	case "cancel_transfer":
		if !s.app.CancelTransfer(cmd.TransferID) {
			return failMsg("transfer not cancellable")
		}
		return ok(nil)

	case "filter_devices":
		return ok(s.app.FilterDevices(cmd.Search))

	case "get_history":
		records, err := s.app.GetRecentTransfers(cmd.Limit)
		if err != nil {
			return fail(err)
		}
		return ok(records)

	case "trust_device":
		if err := s.app.TrustDevice(cmd.DeviceID); err != nil {
			return fail(err)
		}
		return ok(nil)

	case "untrust_device":
		if err := s.app.UntrustDevice(cmd.DeviceID); err != nil {
			return fail(err)
		}
		return ok(nil)

	default:
		return failMsg("unknown action: " + cmd.Action)
	}
}

// stateSnapshot bundles everything a freshly connected UI needs to render.
func (s *Server) stateSnapshot() map[string]interface{} {
	pending := s.app.GetPendingRequests()
	current, hasCurrent := s.app.GetCurrentRequest()

	snapshot := map[string]interface{}{
		"devices":          s.app.GetAllDevices(),
		"activeDevices":    s.app.GetActiveDevices(),
		"deviceStats":      s.app.GetDeviceStats(),
		"pendingRequests":  pending,
		"transfers":        s.app.GetAllTransfers(),
		"settings":         s.app.GetSettings(),
		"scanning":         s.app.IsScanning(),
		"broadcasting":     s.app.IsBroadcasting(),
		"visibilityStatus": s.app.GetVisibilityStatus(),
		"trustedDevices":   s.app.GetTrustedDevices(),
	}
	if hasCurrent {
		snapshot["currentRequest"] = current
	}
	return snapshot
}
