package handlers

import (
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/ecodex/offline/internal/logging"
)

// NewProxy returns a reverse proxy to origin whose outbound requests go
// through transport, normally the offline interceptor.
func NewProxy(origin *url.URL, transport http.RoundTripper) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(origin)
			pr.SetXForwarded()
		},
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logging.Error("Proxy request failed", err, map[string]interface{}{
				"method": r.Method,
				"path":   r.URL.Path,
			})
			w.WriteHeader(http.StatusBadGateway)
		},
	}
}
