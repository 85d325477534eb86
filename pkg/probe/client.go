package probe

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// ClientConfig tunes the dedicated HTTP client used for probe traffic.
type ClientConfig struct {
	// DialTimeout bounds connection setup (default 10s). It does not bound
	// the transfer itself; see Config.Timeout for that.
	DialTimeout time.Duration

	// DisableHTTP2 forces HTTP/1.1 (fewer persistent goroutines and buffers).
	DisableHTTP2 bool
	// DisableKeepAlives makes every transfer open a fresh connection, so each
	// sample includes connection setup like the first one did.
	DisableKeepAlives bool
}

// NewHTTPClient returns a client with its own transport so probe connections
// are isolated from any other HTTP traffic in the process.
func NewHTTPClient(cfg ClientConfig) (*http.Client, *http.Transport) {
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}

	keepAlive := 30 * time.Second
	if cfg.DisableKeepAlives {
		// A negative KeepAlive means "disable" for net.Dialer.
		keepAlive = -1
	}
	d := &net.Dialer{Timeout: dialTimeout, KeepAlive: keepAlive}

	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           d.DialContext,
		MaxIdleConns:          8,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       10 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		DisableKeepAlives:     cfg.DisableKeepAlives,
		ForceAttemptHTTP2:     !cfg.DisableHTTP2,
	}
	if cfg.DisableHTTP2 {
		tr.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}
	}
	if cfg.DisableKeepAlives {
		tr.MaxIdleConns = 0
		tr.MaxIdleConnsPerHost = 0
	}

	return &http.Client{Transport: tr}, tr
}
