package server

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"crossjoin/internal/ledger"
	"crossjoin/internal/logging"
)

// StatusResponse is the JSON progress snapshot served at /status.
type StatusResponse struct {
	Mode   string `json:"mode"`
	Uptime string `json:"uptime"`

	ReadyLeft  int `json:"readyLeft"`
	ReadyRight int `json:"readyRight"`

	PairsQueued  int `json:"pairsQueued"`
	PairsRunning int `json:"pairsRunning"`
	PairsDone    int `json:"pairsDone"`
	PairsDead    int `json:"pairsDead"`

	DeadItems int `json:"deadItems"`

	GoVersion    string `json:"goVersion"`
	NumGoroutine int    `json:"numGoroutine"`
}

// Server serves health, status and metrics over HTTP.
type Server struct {
	led     *ledger.Ledger
	mode    string
	started time.Time
	srv     *http.Server
}

func New(addr string, led *ledger.Ledger, mode string) *Server {
	s := &Server{
		led:     led,
		mode:    mode,
		started: time.Now(),
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.healthz).Methods("GET")
	r.HandleFunc("/status", s.status).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start runs the listener in the background; serve errors other than a
// clean shutdown are logged, never fatal to the pipeline.
func (s *Server) Start() {
	go func() {
		logging.Info("Status server listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("Status server: %v", err)
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp := StatusResponse{
		Mode:         s.mode,
		Uptime:       time.Since(s.started).Round(time.Second).String(),
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
	}

	if left, err := s.led.ReadyItems(ctx, ledger.SideLeft); err == nil {
		resp.ReadyLeft = len(left)
	}
	if right, err := s.led.ReadyItems(ctx, ledger.SideRight); err == nil {
		resp.ReadyRight = len(right)
	}
	if counts, err := s.led.CountPairs(ctx); err == nil {
		resp.PairsQueued = counts[ledger.PairQueued]
		resp.PairsRunning = counts[ledger.PairRunning]
		resp.PairsDone = counts[ledger.PairDone]
		resp.PairsDead = counts[ledger.PairDead]
	}
	if dead, err := s.led.DeadLetteredItems(ctx); err == nil {
		resp.DeadItems = len(dead)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logging.Debug("Encoding status response: %v", err)
	}
}
