// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/aiku/relaybridge/pkg/correlation"
)

// CorrelationLookup answers correlation queries for the admin API.
type CorrelationLookup interface {
	FindByTarget(ctx context.Context, messageID, bot, channelID string) ([]correlation.Record, error)
	FindBySource(ctx context.Context, messageID, bot, channelID string) ([]correlation.Record, error)
}

type adminAPI struct {
	lookup CorrelationLookup
	log    zerolog.Logger
}

// NewAdminHandler returns the admin API routes:
//
//	GET /metrics
//	GET /healthz
//	GET /api/correlations?direction=source|target&message_id=&bot=&channel_id=
func NewAdminHandler(lookup CorrelationLookup, log zerolog.Logger) http.Handler {
	api := &adminAPI{lookup: lookup, log: log.With().Str("component", "admin_api").Logger()}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", api.handleHealth)
	mux.HandleFunc("/api/correlations", api.handleCorrelations)
	return mux
}

// NewAdminServer wraps NewAdminHandler in a server listening on addr.
func NewAdminServer(addr string, lookup CorrelationLookup, log zerolog.Logger) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      NewAdminHandler(lookup, log),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func (api *adminAPI) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	api.writeJSON(w, map[string]string{"status": "ok"})
}

func (api *adminAPI) handleCorrelations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	messageID, bot, channelID := q.Get("message_id"), q.Get("bot"), q.Get("channel_id")
	if messageID == "" || bot == "" || channelID == "" {
		http.Error(w, "message_id, bot and channel_id are required", http.StatusBadRequest)
		return
	}

	var records []correlation.Record
	var err error
	switch q.Get("direction") {
	case "", "source":
		records, err = api.lookup.FindBySource(r.Context(), messageID, bot, channelID)
	case "target":
		records, err = api.lookup.FindByTarget(r.Context(), messageID, bot, channelID)
	default:
		http.Error(w, "direction must be source or target", http.StatusBadRequest)
		return
	}
	if err != nil {
		api.log.Err(err).Str("message_id", messageID).Msg("Correlation lookup failed")
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []correlation.Record{}
	}
	api.writeJSON(w, records)
}

func (api *adminAPI) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.log.Warn().Err(err).Msg("Failed to write admin API response")
	}
}
