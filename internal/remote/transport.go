package remote

import (
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

// DefaultTimeout bounds a single HTTP attempt. Retries get a fresh budget.
const DefaultTimeout = 60 * time.Second

// NewHTTPClient returns the HTTP client shared by the transcription and
// correction providers. Connections are pooled across utterances and the
// transport negotiates HTTP/2 when the server offers it.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          16,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if err := http2.ConfigureTransport(tr); err != nil {
		slog.Warn("remote: http2 unavailable, using HTTP/1.1", "err", err)
	}
	return &http.Client{
		Transport: tr,
		Timeout:   timeout,
	}
}
