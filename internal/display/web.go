package display

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"netpulse/internal/activity"
	"netpulse/internal/gesture"
	"netpulse/internal/measure"
	logx "netpulse/pkg/logx"
)

//go:embed web/index.html
var indexHTML []byte

const (
	wsWriteWait  = 5 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsSendBuffer = 16
	wsReadLimit  = 1024
)

// StateSource is read by /api/state.
type StateSource interface {
	Snapshot() measure.Snapshot
}

// PointerSink accepts pointer events from web clients without blocking.
type PointerSink interface {
	Submit(gesture.Pointer) bool
}

type WebConfig struct {
	Addr string
	// Metrics is mounted on /metrics when set.
	Metrics http.Handler
	// Debug is mounted on /debug/pprof/ when set.
	Debug http.Handler
	// Health, when set, is embedded in /api/state and served on /healthz.
	Health func() any
}

// Gauge is one direction as rendered by the web UI.
type Gauge struct {
	KBps   float64 `json:"kbps"`
	Level  Level   `json:"level"`
	Height float64 `json:"height"`
}

func newGauge(kbps float64) Gauge {
	return Gauge{KBps: kbps, Level: SpeedLevel(kbps), Height: GaugeHeight(kbps)}
}

// wsMessage is every frame pushed to a websocket client.
type wsMessage struct {
	Type     string           `json:"type"`
	Mode     *Mode            `json:"mode,omitempty"`
	Download *Gauge           `json:"download,omitempty"`
	Upload   *Gauge           `json:"upload,omitempty"`
	Entries  []activity.Entry `json:"entries,omitempty"`
	Text     string           `json:"text,omitempty"`
}

// inbound is a client frame: {"type":"pointer","action":"down"}.
type inbound struct {
	Type   string `json:"type"`
	Action string `json:"action"`
}

// Web serves a small live UI over HTTP and pushes view updates to
// websocket clients. Clients can drive gestures by sending pointer frames.
type Web struct {
	cfg   WebConfig
	state StateSource
	sink  PointerSink
	log   logx.Logger

	upgrader websocket.Upgrader

	mu       sync.Mutex
	clients  map[uuid.UUID]*wsClient
	mode     Mode
	averages []byte
	logView  []byte
	addr     net.Addr
}

type wsClient struct {
	id   uuid.UUID
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.send) })
}

func NewWeb(cfg WebConfig, state StateSource, sink PointerSink, log logx.Logger) *Web {
	return &Web{
		cfg:     cfg,
		state:   state,
		sink:    sink,
		log:     log,
		clients: map[uuid.UUID]*wsClient{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

func (w *Web) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", w.handleIndex)
	mux.HandleFunc("/api/state", w.handleState)
	mux.HandleFunc("/api/pointer", w.handlePointer)
	mux.HandleFunc("/ws", w.handleWS)
	mux.HandleFunc("/healthz", w.handleHealth)
	if w.cfg.Metrics != nil {
		mux.Handle("/metrics", w.cfg.Metrics)
	}
	if w.cfg.Debug != nil {
		mux.Handle("/debug/pprof/", w.cfg.Debug)
	}
	return mux
}

// Run listens on cfg.Addr and serves until ctx is done.
func (w *Web) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", w.cfg.Addr)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.addr = ln.Addr()
	w.mu.Unlock()

	srv := &http.Server{Handler: w.Handler(), ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	w.log.Info("web display listening", logx.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		w.closeClients()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	// Hijacked websocket connections are not tracked by Shutdown.
	w.closeClients()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}

// Addr is the bound listen address (nil before Run).
func (w *Web) Addr() net.Addr {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.addr
}

func (w *Web) Clients() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.clients)
}

func (w *Web) SetMode(m Mode) {
	b := mustJSON(wsMessage{Type: "mode", Mode: &m})
	w.mu.Lock()
	w.mode = m
	w.mu.Unlock()
	w.broadcast(b)
}

func (w *Web) ShowAverages(down, up float64) {
	dg, ug := newGauge(down), newGauge(up)
	b := mustJSON(wsMessage{Type: "averages", Download: &dg, Upload: &ug, Text: AveragesText(down, up)})
	w.mu.Lock()
	w.averages = b
	w.mu.Unlock()
	w.broadcast(b)
}

func (w *Web) ShowLog(entries []activity.Entry) {
	b := mustJSON(wsMessage{Type: "log", Entries: entries, Text: LogText(entries)})
	w.mu.Lock()
	w.logView = b
	w.mu.Unlock()
	w.broadcast(b)
}

func (w *Web) broadcast(b []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, c := range w.clients {
		select {
		case c.send <- b:
		default:
			w.log.Debug("websocket client too slow, dropping frame", logx.String("client", id.String()))
		}
	}
}

func (w *Web) closeClients() {
	w.mu.Lock()
	clients := w.clients
	w.clients = map[uuid.UUID]*wsClient{}
	w.mu.Unlock()
	for _, c := range clients {
		c.close()
		_ = c.conn.Close()
	}
}

func (w *Web) handleIndex(rw http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(rw, r)
		return
	}
	rw.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = rw.Write(indexHTML)
}

type stateResponse struct {
	Mode      Mode             `json:"mode"`
	Download  Gauge            `json:"download"`
	Upload    Gauge            `json:"upload"`
	Snapshot  measure.Snapshot `json:"snapshot"`
	Clients   int              `json:"clients"`
	Health    any              `json:"health,omitempty"`
	Generated time.Time        `json:"generated"`
}

func (w *Web) handleState(rw http.ResponseWriter, r *http.Request) {
	var snap measure.Snapshot
	if w.state != nil {
		snap = w.state.Snapshot()
	}
	w.mu.Lock()
	mode := w.mode
	n := len(w.clients)
	w.mu.Unlock()
	resp := stateResponse{
		Mode:      mode,
		Download:  newGauge(snap.Download.Average),
		Upload:    newGauge(snap.Upload.Average),
		Snapshot:  snap,
		Clients:   n,
		Generated: time.Now(),
	}
	if w.cfg.Health != nil {
		resp.Health = w.cfg.Health()
	}
	writeJSON(rw, http.StatusOK, resp)
}

func (w *Web) handleHealth(rw http.ResponseWriter, r *http.Request) {
	var h any = map[string]string{"status": "ok"}
	if w.cfg.Health != nil {
		h = w.cfg.Health()
	}
	writeJSON(rw, http.StatusOK, h)
}

// handlePointer accepts POST {"action":"down"|"up"} for clients without websockets.
func (w *Web) handlePointer(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.Header().Set("Allow", http.MethodPost)
		http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var in inbound
	if err := json.NewDecoder(http.MaxBytesReader(rw, r.Body, wsReadLimit)).Decode(&in); err != nil {
		http.Error(rw, "bad request", http.StatusBadRequest)
		return
	}
	p, ok := pointerFrom(in.Action, "http:"+r.RemoteAddr)
	if !ok {
		http.Error(rw, "unknown action", http.StatusBadRequest)
		return
	}
	if w.sink == nil || !w.sink.Submit(p) {
		http.Error(rw, "input busy", http.StatusServiceUnavailable)
		return
	}
	rw.WriteHeader(http.StatusAccepted)
}

func (w *Web) handleWS(rw http.ResponseWriter, r *http.Request) {
	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.log.Debug("websocket upgrade failed", logx.Err(err))
		return
	}
	c := &wsClient{id: uuid.New(), conn: conn, send: make(chan []byte, wsSendBuffer)}

	w.mu.Lock()
	mode := w.mode
	initial := [][]byte{mustJSON(wsMessage{Type: "mode", Mode: &mode})}
	if w.averages != nil {
		initial = append(initial, w.averages)
	}
	if w.logView != nil {
		initial = append(initial, w.logView)
	}
	for _, b := range initial {
		c.send <- b
	}
	w.clients[c.id] = c
	w.mu.Unlock()

	w.log.Debug("websocket client connected", logx.String("client", c.id.String()), logx.String("remote", r.RemoteAddr))
	go w.writePump(c)
	w.readPump(c)
}

func (w *Web) removeClient(c *wsClient) {
	w.mu.Lock()
	if cur, ok := w.clients[c.id]; ok && cur == c {
		delete(w.clients, c.id)
	}
	w.mu.Unlock()
	c.close()
}

func (w *Web) readPump(c *wsClient) {
	defer func() {
		w.removeClient(c)
		_ = c.conn.Close()
		w.log.Debug("websocket client disconnected", logx.String("client", c.id.String()))
	}()
	c.conn.SetReadLimit(wsReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		var in inbound
		if err := c.conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				w.log.Debug("websocket read failed", logx.String("client", c.id.String()), logx.Err(err))
			}
			return
		}
		if in.Type != "pointer" {
			continue
		}
		p, ok := pointerFrom(in.Action, "ws:"+c.id.String())
		if !ok || w.sink == nil {
			continue
		}
		w.sink.Submit(p)
	}
}

func (w *Web) writePump(c *wsClient) {
	t := time.NewTicker(wsPingPeriod)
	defer func() {
		t.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case b, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-t.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func pointerFrom(action, source string) (gesture.Pointer, bool) {
	switch strings.ToLower(strings.TrimSpace(action)) {
	case "down":
		return gesture.Pointer{Action: gesture.Down, Source: source}, true
	case "up":
		return gesture.Pointer{Action: gesture.Up, Source: source}, true
	default:
		return gesture.Pointer{}, false
	}
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// Only plain data types are marshaled here.
		panic(err)
	}
	return b
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}
