//go:build ignore

// Backend is a stand-in for the API service the gateway forwards to. It
// answers /api/v1/health and echoes every other request as JSON.
//
// Usage:
//
//	go run backend.go -port 8000 -health-status 503 -health-delay 6s
//
// -health-status and -health-delay let you watch the cascading health
// report degrade without touching a real backend.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Echo describes the request the backend received after rewriting.
type Echo struct {
	ID        string              `json:"id"`
	Method    string              `json:"method"`
	Path      string              `json:"path"`
	Query     string              `json:"query,omitempty"`
	Headers   map[string][]string `json:"headers"`
	BodyBytes int                 `json:"body_bytes"`
}

func main() {
	port := flag.Int("port", 8000, "port to listen on")
	healthStatus := flag.Int("health-status", http.StatusOK, "status code returned by /api/v1/health")
	healthDelay := flag.Duration("health-delay", 0, "delay before /api/v1/health answers")
	flag.Parse()

	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(*healthDelay):
		case <-r.Context().Done():
			log.Printf("health probe abandoned by caller after %s", *healthDelay)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(*healthStatus)
		fmt.Fprintf(w, `{"status":%q}`, http.StatusText(*healthStatus))
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		echo := Echo{
			ID:        uuid.NewString(),
			Method:    r.Method,
			Path:      r.URL.Path,
			Query:     r.URL.RawQuery,
			Headers:   r.Header,
			BodyBytes: len(body),
		}
		log.Printf("request: method=%s uri=%s from=%s", r.Method, r.URL.RequestURI(), r.RemoteAddr)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(echo)
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("starting backend on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
