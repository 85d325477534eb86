package probe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"sort"
	"sync"
	"time"

	st "github.com/showwin/speedtest-go/speedtest"
)

// SpeedtestConfig selects the single server a SpeedtestProbe measures against.
type SpeedtestConfig struct {
	// ServerID pins a speedtest.net server. Empty picks the nearest available
	// server on first use; the choice is then kept for the process lifetime.
	ServerID string

	SavingMode     bool
	MaxConnections int

	// Timeout bounds a single transfer. Zero means no watchdog.
	Timeout time.Duration
}

// SpeedtestProbe measures download/upload against one speedtest.net server.
//
// speedtest-go reports its own rate; the probe converts it to KB/s and
// times the call for Result.Elapsed.
type SpeedtestProbe struct {
	cfg    SpeedtestConfig
	client *http.Client
	now    func() time.Time

	mu     sync.Mutex
	stc    *st.Speedtest
	server *st.Server
}

// NewSpeedtest builds a speedtest-backed probe. The server is resolved lazily.
func NewSpeedtest(cfg SpeedtestConfig, client *http.Client) (*SpeedtestProbe, error) {
	if cfg.MaxConnections < 0 {
		return nil, fmt.Errorf("%w: max connections must be >= 0", ErrInvalidConfig)
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("%w: timeout must be >= 0", ErrInvalidConfig)
	}
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 4
	}
	if client == nil {
		client, _ = NewHTTPClient(ClientConfig{})
	}

	// Avoid package-level speedtest helpers; speedtest-go keeps package-level state.
	stc := st.New(st.WithUserConfig(&st.UserConfig{
		SavingMode:     cfg.SavingMode,
		MaxConnections: cfg.MaxConnections,
	}))
	applyHTTPClient(stc, client)
	stc.SetNThread(cfg.MaxConnections)

	return &SpeedtestProbe{cfg: cfg, client: client, now: time.Now, stc: stc}, nil
}

func (p *SpeedtestProbe) Measure(ctx context.Context, dir Direction) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	srv, err := p.resolveLocked(ctx)
	if err != nil {
		return Result{}, &TransferError{Direction: dir, Err: err}
	}

	start := p.now()
	var mbps float64
	switch dir {
	case Download:
		err = srv.DownloadTestContext(ctx)
		mbps = srv.DLSpeed.Mbps()
	case Upload:
		err = srv.UploadTestContext(ctx)
		mbps = srv.ULSpeed.Mbps()
	default:
		return Result{}, fmt.Errorf("measure: unknown direction %d", int(dir))
	}
	end := p.now()

	// Drop per-test snapshots/chunks early.
	p.stc.Snapshots().Clean()

	if err != nil {
		return Result{}, &TransferError{Direction: dir, URL: srv.URL, Err: err}
	}
	if mbps <= 0 {
		return Result{}, &TransferError{Direction: dir, URL: srv.URL, Err: errors.New("no throughput reported")}
	}

	// Mbit/s -> KB/s (1 KB = 1024 bytes).
	rate := mbps * 1e6 / 8 / 1024
	elapsed := end.Sub(start)
	return Result{
		Sample:  Sample{Direction: dir, KBps: rate, Timestamp: end},
		URL:     srv.URL,
		Bytes:   int64(rate * 1024 * elapsed.Seconds()),
		Elapsed: elapsed,
	}, nil
}

// Server returns the resolved server (nil before the first measurement).
func (p *SpeedtestProbe) Server() *st.Server {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.server
}

func (p *SpeedtestProbe) resolveLocked(ctx context.Context) (*st.Server, error) {
	if p.server != nil {
		return p.server, nil
	}
	if p.cfg.ServerID != "" {
		s, err := p.stc.FetchServerByIDContext(ctx, p.cfg.ServerID)
		if err != nil {
			return nil, fmt.Errorf("fetch server %s: %w", p.cfg.ServerID, err)
		}
		p.server = s
		return s, nil
	}

	servers, err := p.stc.FetchServerListContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch server list: %w", err)
	}
	if a := servers.Available(); a != nil {
		servers = *a
	}
	if len(servers) == 0 {
		return nil, errors.New("no servers available")
	}
	sort.Slice(servers, func(i, j int) bool { return servers[i].Distance < servers[j].Distance })
	p.server = servers[0]
	return p.server, nil
}

// applyHTTPClient best-effort config of a custom http.Client on the speedtest instance.
func applyHTTPClient(stc any, hc *http.Client) {
	if stc == nil || hc == nil {
		return
	}
	if s, ok := stc.(interface{ SetHTTPClient(*http.Client) }); ok {
		s.SetHTTPClient(hc)
		return
	}

	// Fall back to reflection for common exported fields.
	v := reflect.ValueOf(stc)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return
	}
	e := v.Elem()
	if !e.IsValid() || e.Kind() != reflect.Struct {
		return
	}
	for _, name := range []string{"HTTPClient", "HttpClient", "Client", "doer"} {
		f := e.FieldByName(name)
		if !f.IsValid() || !f.CanSet() {
			continue
		}
		if f.Type().AssignableTo(reflect.TypeOf((*http.Client)(nil))) {
			f.Set(reflect.ValueOf(hc))
			return
		}
	}
}
