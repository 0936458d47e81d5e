// Package relay writes upstream responses and gateway errors back to the caller.
package relay

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/fabian4/booking-gateway/internal/cors"
	"github.com/fabian4/booking-gateway/internal/header"
)

const DefaultContentType = "application/json"

// Relay copies status, end-to-end headers and body from res to w, then applies
// the fixed CORS policy. The caller keeps ownership of res.Body. It returns the
// number of body bytes written.
func Relay(w http.ResponseWriter, res *http.Response) (int64, error) {
	dst := w.Header()
	src := header.Clone(res.Header)
	header.DropHopByHop(src)
	header.Copy(dst, src)
	if dst.Get("Content-Type") == "" {
		dst.Set("Content-Type", DefaultContentType)
	}
	cors.Apply(dst)

	w.WriteHeader(res.StatusCode)
	if res.Body == nil {
		return 0, nil
	}
	return io.Copy(w, res.Body)
}

type errorBody struct {
	Error string `json:"error"`
}

// WriteError writes a JSON error body with the CORS policy applied.
func WriteError(w http.ResponseWriter, status int, msg string) {
	b, _ := json.Marshal(errorBody{Error: msg})
	h := w.Header()
	cors.Apply(h)
	h.Set("Content-Type", DefaultContentType)
	h.Set("Content-Length", strconv.Itoa(len(b)))
	h.Del("Content-Encoding")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}
