package probe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultUploadBytes is the synthetic upload payload size (500 KiB).
const DefaultUploadBytes = 500 * 1024

// Transport performs one HTTP exchange. *http.Client satisfies it.
type Transport interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config describes the fixed endpoints and payload size of an HTTPProbe.
type Config struct {
	DownloadURL string
	UploadURL   string
	UploadBytes int

	// Timeout bounds a single transfer. Zero means no watchdog.
	Timeout time.Duration
}

func (c Config) validate() error {
	if err := checkURL("download url", c.DownloadURL); err != nil {
		return err
	}
	if err := checkURL("upload url", c.UploadURL); err != nil {
		return err
	}
	if c.UploadBytes <= 0 {
		return fmt.Errorf("%w: upload size must be > 0 (got %d)", ErrInvalidConfig, c.UploadBytes)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("%w: timeout must be >= 0", ErrInvalidConfig)
	}
	return nil
}

func checkURL(name, raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%w: %s is empty", ErrInvalidConfig, name)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, name, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: %s %q is not absolute", ErrInvalidConfig, name, raw)
	}
	return nil
}

// HTTPProbe measures throughput with plain HTTP transfers.
type HTTPProbe struct {
	cfg     Config
	tr      Transport
	now     func() time.Time
	payload []byte
}

// Option customizes an HTTPProbe.
type Option func(*HTTPProbe)

// WithTransport replaces the network transfer capability (default: a
// dedicated client from NewHTTPClient).
func WithTransport(t Transport) Option { return func(p *HTTPProbe) { p.tr = t } }

// WithClock replaces time.Now for elapsed-time measurement.
func WithClock(now func() time.Time) Option { return func(p *HTTPProbe) { p.now = now } }

// New validates cfg and builds a probe. The upload payload is allocated once.
func New(cfg Config, opts ...Option) (*HTTPProbe, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	p := &HTTPProbe{cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(p)
	}
	if p.tr == nil {
		hc, _ := NewHTTPClient(ClientConfig{})
		p.tr = hc
	}
	if p.now == nil {
		p.now = time.Now
	}
	p.payload = make([]byte, cfg.UploadBytes)
	return p, nil
}

// Config returns the probe configuration.
func (p *HTTPProbe) Config() Config { return p.cfg }

// Measure performs one timed transfer in the given direction.
func (p *HTTPProbe) Measure(ctx context.Context, dir Direction) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	switch dir {
	case Download:
		return p.download(ctx)
	case Upload:
		return p.upload(ctx)
	default:
		return Result{}, fmt.Errorf("measure: unknown direction %d", int(dir))
	}
}

func (p *HTTPProbe) download(ctx context.Context) (Result, error) {
	u := p.cfg.DownloadURL
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Result{}, &TransferError{Direction: Download, URL: u, Err: err}
	}

	start := p.now()
	resp, err := p.tr.Do(req)
	if err != nil {
		return Result{}, &TransferError{Direction: Download, URL: u, Err: err}
	}
	defer resp.Body.Close()

	hw := &headWriter{}
	n, err := io.Copy(hw, resp.Body)
	end := p.now()
	if err != nil {
		return Result{}, &TransferError{Direction: Download, URL: u, StatusCode: resp.StatusCode, Err: err}
	}
	if !success(resp.StatusCode) {
		return Result{}, &TransferError{Direction: Download, URL: u, StatusCode: resp.StatusCode}
	}

	elapsed := end.Sub(start)
	return Result{
		Sample:     Sample{Direction: Download, KBps: kbps(n, elapsed), Timestamp: end},
		URL:        u,
		StatusCode: resp.StatusCode,
		Bytes:      n,
		Elapsed:    elapsed,
		Head:       hw.head,
	}, nil
}

func (p *HTTPProbe) upload(ctx context.Context) (Result, error) {
	u := p.cfg.UploadURL
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(p.payload))
	if err != nil {
		return Result{}, &TransferError{Direction: Upload, URL: u, Err: err}
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	start := p.now()
	resp, err := p.tr.Do(req)
	if err != nil {
		return Result{}, &TransferError{Direction: Upload, URL: u, Err: err}
	}
	defer resp.Body.Close()

	// The exchange completes when the response has been read.
	_, err = io.Copy(io.Discard, resp.Body)
	end := p.now()
	if err != nil {
		return Result{}, &TransferError{Direction: Upload, URL: u, StatusCode: resp.StatusCode, Err: err}
	}
	if !success(resp.StatusCode) {
		return Result{}, &TransferError{Direction: Upload, URL: u, StatusCode: resp.StatusCode}
	}

	size := int64(len(p.payload))
	elapsed := end.Sub(start)
	return Result{
		Sample:     Sample{Direction: Upload, KBps: kbps(size, elapsed), Timestamp: end},
		URL:        u,
		StatusCode: resp.StatusCode,
		Bytes:      size,
		Elapsed:    elapsed,
		Head:       head(p.payload),
	}, nil
}

func success(code int) bool { return code >= 200 && code < 300 }

// headWriter counts nothing itself (io.Copy does) and keeps the leading
// HeadBytes bytes written to it.
type headWriter struct {
	head []byte
}

func (w *headWriter) Write(b []byte) (int, error) {
	if room := HeadBytes - len(w.head); room > 0 {
		if room > len(b) {
			room = len(b)
		}
		w.head = append(w.head, b[:room]...)
	}
	return len(b), nil
}
