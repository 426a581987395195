package main

import (
	"encoding/json"
	"log"
	"math/rand"
	"net/http"
	"sync"
	"time"
)

type agent struct {
	ID      string `json:"id"`
	Healthy bool   `json:"healthy"`
}

// mock agent directory for local development: serves a canned agent list and
// occasionally flips health flags so the engine has something to chase.
func main() {
	var mu sync.Mutex
	agents := []agent{
		{ID: "agent-a", Healthy: true},
		{ID: "agent-b", Healthy: true},
		{ID: "agent-c", Healthy: false},
	}

	go func() {
		for range time.Tick(45 * time.Second) {
			mu.Lock()
			i := rand.Intn(len(agents))
			agents[i].Healthy = !agents[i].Healthy
			mu.Unlock()
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/v1/agents", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		mu.Lock()
		snapshot := append([]agent(nil), agents...)
		mu.Unlock()
		writeJSON(w, map[string]any{"agents": snapshot})
	})

	logger := log.New(log.Writer(), "directory-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":8081",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :8081")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
