// Package proxy provides a transparent streaming forwarder that relays an
// authorized request to an upstream service without buffering either body.
package proxy

import (
	"context"
	goerr "errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/gatekeeper-proxy/gatekeeper/pkg/errors"
	"github.com/gatekeeper-proxy/gatekeeper/pkg/logger"
)

// Forwarder relays requests to one upstream base URL. It preserves method,
// query, headers, and the body stream, rewriting only the path by dropping
// the configured prefix. Immutable after construction; shared across
// requests.
type Forwarder struct {
	target      *url.URL
	stripPrefix string
	reverse     *httputil.ReverseProxy
}

// NewForwarder creates a forwarder to the given upstream base URL. Requests
// passed to it have stripPrefix (the "/{slug}" route prefix) removed from
// their path before forwarding.
func NewForwarder(target *url.URL, stripPrefix string) *Forwarder {
	f := &Forwarder{
		target:      target,
		stripPrefix: stripPrefix,
	}

	reverse := &httputil.ReverseProxy{
		Director: f.direct,
		// Stream the response as it arrives; never buffer ahead of a slow
		// client. Backpressure propagates to the upstream read.
		FlushInterval: -1,
		ErrorHandler:  errorHandler,
	}

	f.reverse = reverse
	return f
}

// direct rewrites an inbound request for the upstream. ReverseProxy strips
// hop-by-hop headers and closes the upstream body on every exit path.
func (f *Forwarder) direct(req *http.Request) {
	req.URL.Scheme = f.target.Scheme
	req.URL.Host = f.target.Host
	req.URL.Path = singleJoiningSlash(f.target.Path, f.rewritePath(req.URL.Path))
	// The upstream may reject requests carrying the gateway's host.
	req.Host = f.target.Host

	if req.URL.RawQuery == "" || f.target.RawQuery == "" {
		req.URL.RawQuery = f.target.RawQuery + req.URL.RawQuery
	} else {
		req.URL.RawQuery = f.target.RawQuery + "&" + req.URL.RawQuery
	}
}

func (f *Forwarder) rewritePath(path string) string {
	if f.stripPrefix == "" {
		return path
	}
	rewritten := strings.TrimPrefix(path, f.stripPrefix)
	if rewritten == "" {
		return "/"
	}
	return rewritten
}

// errorHandler answers upstream failures with a generic 502. Upstream
// details are logged, never exposed in the response body. A cancelled
// inbound connection has already aborted the outbound request; nothing is
// written for it.
func errorHandler(w http.ResponseWriter, r *http.Request, err error) {
	if goerr.Is(err, context.Canceled) {
		return
	}

	logger.Errorw("failed to forward request",
		"method", r.Method,
		"path", r.URL.Path,
		"error", errors.NewUpstreamError("upstream request failed", err),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)
	_, _ = w.Write([]byte(`{"message": "Unable to process request."}`))
}

// ServeHTTP forwards the request and relays the upstream's status, headers,
// and body stream back to the caller.
func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.reverse.ServeHTTP(w, r)
}

// singleJoiningSlash joins two URL path segments with exactly one slash.
func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}
