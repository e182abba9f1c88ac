// Package transport builds the outbound HTTP clients used to reach the chat
// service and the action executor.
package transport

import (
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Timeouts bounds an outbound client. Read must be long enough to cover an
// entire streamed body, not only the first byte.
type Timeouts struct {
	Connect time.Duration
	Read    time.Duration
}

// NewClient returns an instrumented client honouring the given timeouts.
func NewClient(t Timeouts) *http.Client {
	dialer := &net.Dialer{
		Timeout:   t.Connect,
		KeepAlive: 30 * time.Second,
	}

	base := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   t.Connect,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: time.Second,
	}

	return &http.Client{
		Transport: otelhttp.NewTransport(base),
		Timeout:   t.Read,
	}
}
