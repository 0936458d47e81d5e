// Package ops serves the read-only health and metrics endpoints on a listener
// separate from the gateway, so they can never shadow a service name.
package ops

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
)

// NewHandler routes /healthz and /metrics. metrics may be nil.
func NewHandler(metrics http.Handler) http.Handler {
	router := httprouter.New()
	router.GET("/healthz", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	if metrics != nil {
		router.Handler(http.MethodGet, "/metrics", metrics)
	}
	return router
}
