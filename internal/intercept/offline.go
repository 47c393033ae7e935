package intercept

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/ecodex/offline/internal/cache"
)

// OfflineSource is the SourceHeader value on synthesized responses.
const OfflineSource = "offline"

// OfflineError is the body of a synthesized API response.
type OfflineError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

var offlineAPIBody = mustJSON(OfflineError{
	Error:   "Offline",
	Message: "This feature requires an internet connection",
})

func mustJSON(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// offlineAPIResponse is returned for API requests that cannot reach the
// network and have no cached match.
func offlineAPIResponse(req *http.Request) *http.Response {
	return synthesize(req, "application/json", offlineAPIBody)
}

// offlinePlaceholder is the minimal response for everything else.
func offlinePlaceholder(req *http.Request) *http.Response {
	return synthesize(req, "text/plain; charset=utf-8", []byte("Offline"))
}

func synthesize(req *http.Request, contentType string, body []byte) *http.Response {
	header := make(http.Header)
	header.Set("Content-Type", contentType)
	header.Set("Content-Length", strconv.Itoa(len(body)))
	header.Set("Cache-Control", "no-store")
	header.Set(cache.SourceHeader, OfflineSource)

	return &http.Response{
		Status:        "503 Service Unavailable",
		StatusCode:    http.StatusServiceUnavailable,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}
