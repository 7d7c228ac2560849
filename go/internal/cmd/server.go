package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mcdev12/tablesync/go/internal/table/state"
)

// statusSource is what the local status endpoints read from
type statusSource struct {
	snapshot func() state.GameSession
	stats    map[string]func() map[string]interface{}
}

func setupStatusServer(port string, src statusSource) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%s", port),
		Handler:      newStatusHandler(src),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

func newStatusHandler(src statusSource) http.Handler {
	mux := http.NewServeMux()

	// Setup CORS middleware so a local dashboard can poll the bot
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	setupHealthCheck(mux)

	mux.HandleFunc("GET /info", func(w http.ResponseWriter, r *http.Request) {
		info := make(map[string]interface{}, len(src.stats))
		for name, stats := range src.stats {
			info[name] = stats()
		}
		writeJSON(w, map[string]interface{}{
			"service":     "tablesync",
			"connections": info,
		})
	})

	mux.HandleFunc("GET /state", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, src.snapshot())
	})

	return h2c.NewHandler(c.Handler(mux), &http2.Server{})
}

func setupHealthCheck(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Warn().Err(err).Msg("failed to write health check response")
		}
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to write status response")
	}
}
