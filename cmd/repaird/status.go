package main

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/xtaci/vqerepair/internal/runtime"
)

// serveStatus exposes ch's counters over HTTP as get_status's
// control-plane query (spec §6). cumulative=false is not offered here:
// the daemon has no counter_clear endpoint yet, so every response is
// the cumulative snapshot.
func serveStatus(addr string, ch *runtime.Channel) {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(ch.Counters()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	log.Println("control-plane listening on", addr)
	log.Println(http.ListenAndServe(addr, mux))
}
