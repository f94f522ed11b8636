package adminserver

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/corfudb-go/logunit/pkg/engine"
	"github.com/corfudb-go/logunit/util"
)

type healthResponse struct {
	Status     string `json:"status"`
	GlobalTail uint64 `json:"global_tail"`
}

// StartHealthCheck serves a /healthz endpoint reporting liveness and the
// current global tail, on its own port so it stays reachable even if the
// admin TCP surface is saturated.
func StartHealthCheck(port int, e *engine.Engine) {
	go func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			space := e.GetStreamsAddressSpace()
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(healthResponse{Status: "ok", GlobalTail: space.GlobalTail})
		})

		addr := fmt.Sprintf(":%d", port)
		util.Info("health check listening on %s", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			util.Error("health check server failed: %v", err)
		}
	}()
}
