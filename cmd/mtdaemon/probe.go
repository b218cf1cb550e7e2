package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Sh00ty/mt-route-daemon/internal/daemon"
	"github.com/Sh00ty/mt-route-daemon/internal/decision"
	"github.com/Sh00ty/mt-route-daemon/internal/events"
	"github.com/Sh00ty/mt-route-daemon/internal/events/journal"
	"github.com/Sh00ty/mt-route-daemon/internal/verification"
	"github.com/Sh00ty/mt-route-daemon/pkg/routing"
)

type statusResponse struct {
	Ready               bool                            `json:"ready"`
	Cycles              uint64                          `json:"cycles"`
	ConsecutiveFailures int                             `json:"consecutive_failures"`
	AcceptedState       *routing.State                  `json:"accepted_state,omitempty"`
	AcceptedSince       *time.Time                      `json:"accepted_since,omitempty"`
	Verification        map[string]verification.Counter `json:"verification"`
	CircuitBreakers     map[string]string               `json:"circuit_breakers"`
	LastCycle           *events.CycleEvent              `json:"last_cycle,omitempty"`
}

type breaker interface {
	Name() string
	State() string
}

type eventHistory interface {
	Recent(ctx context.Context, limit uint64, kinds ...events.Kind) ([]journal.Entry, error)
}

func newProbeMux(d *daemon.Daemon, engine *decision.Engine, history eventHistory, breakers []breaker) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if _, ok := d.LastCycle(); !ok {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		resp := statusResponse{
			Cycles:              d.Cycles(),
			ConsecutiveFailures: d.ConsecutiveFailures(),
			Verification:        map[string]verification.Counter{},
			CircuitBreakers:     make(map[string]string, len(breakers)),
		}
		for _, b := range breakers {
			resp.CircuitBreakers[b.Name()] = b.State()
		}
		if last, ok := d.LastCycle(); ok {
			resp.Ready = true
			resp.LastCycle = &last
		}
		if state, since, ok := engine.Accepted(); ok {
			resp.AcceptedState = &state
			resp.AcceptedSince = &since
		}
		for state, c := range engine.VerificationSnapshot() {
			resp.Verification[strconv.Itoa(int(state))] = c
		}
		writeJSON(w, resp)
	})
	if history != nil {
		mux.HandleFunc("/history", func(w http.ResponseWriter, r *http.Request) {
			limit := uint64(50)
			if raw := r.URL.Query().Get("limit"); raw != "" {
				n, err := strconv.ParseUint(raw, 10, 64)
				if err != nil || n == 0 || n > 1000 {
					http.Error(w, "limit must be in [1, 1000]", http.StatusBadRequest)
					return
				}
				limit = n
			}
			var kinds []events.Kind
			if kind := r.URL.Query().Get("kind"); kind != "" {
				kinds = append(kinds, events.Kind(kind))
			}
			entries, err := history.Recent(r.Context(), limit, kinds...)
			if err != nil {
				log.Error().Err(err).Msg("failed to read event history")
				http.Error(w, "failed to read history", http.StatusInternalServerError)
				return
			}
			writeJSON(w, entries)
		})
	}
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to write probe response")
	}
}

func startProbeServer(addr string, d *daemon.Daemon, engine *decision.Engine, repo *journal.Repository, breakers []breaker) func() {
	var history eventHistory
	if repo != nil {
		history = repo
	}
	srv := http.Server{
		Handler:           newProbeMux(d, engine, history, breakers),
		Addr:              addr,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start http server")
		}
	}()
	return func() {
		_ = srv.Close()
	}
}
