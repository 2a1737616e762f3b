package tracing

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// WrapHTTPClient returns a copy of client whose requests open client spans
// and carry the trace context to the remote side.
func WrapHTTPClient(client *http.Client, opts ...otelhttp.Option) *http.Client {
	if client == nil {
		client = &http.Client{}
	}
	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	wrapped := *client
	wrapped.Transport = otelhttp.NewTransport(base, opts...)
	return &wrapped
}
