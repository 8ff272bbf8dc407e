package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Tutortoise/depth-capture-service/catalog"
	"github.com/Tutortoise/depth-capture-service/command"
	"github.com/Tutortoise/depth-capture-service/inference"
	"github.com/Tutortoise/depth-capture-service/pipeline"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// frameCounter is the part of frames.Source the monitor reports.
type frameCounter interface {
	Delivered() uint64
	Skipped() uint64
}

// AppState is what the monitoring routes read. Every field is optional.
type AppState struct {
	Stats         *pipeline.Stats
	Frames        frameCounter
	Requests      *command.RequestState
	DetectorPool  *inference.Pool[inference.Runner]
	EmbeddingPool *inference.Pool[inference.Runner]
	Catalog       catalog.Catalog
	CPUFeatures   []string
	StartedAt     time.Time
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type poolReport struct {
	Size       int      `json:"pool_size"`
	LastErrors []string `json:"last_errors,omitempty"`
	inference.PoolMetrics
}

func reportPool(p *inference.Pool[inference.Runner]) poolReport {
	r := poolReport{Size: p.Size(), PoolMetrics: p.Metrics()}
	for _, err := range p.LastErrors() {
		r.LastErrors = append(r.LastErrors, err.Error())
	}
	return r
}

func (s *AppState) addMonitoringRoutes(r *mux.Router) {
	r.HandleFunc("/metrics", s.handleMetrics).Methods("GET")
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/captures", s.handleCaptures).Methods("GET")
}

func (s *AppState) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	response := map[string]interface{}{
		"uptime":       time.Since(s.StartedAt).Round(time.Second).String(),
		"cpu_features": s.CPUFeatures,
	}
	if s.Stats != nil {
		response["loop"] = s.Stats.Snapshot()
	}
	if s.Frames != nil {
		response["frames_delivered"] = s.Frames.Delivered()
		response["frames_skipped"] = s.Frames.Skipped()
	}
	if s.Requests != nil {
		response["capture_armed"] = s.Requests.Armed()
		response["requests_overwritten"] = s.Requests.Overwritten()
	}
	if s.DetectorPool != nil {
		response["detector_pool"] = reportPool(s.DetectorPool)
	}
	if s.EmbeddingPool != nil {
		response["embedding_pool"] = reportPool(s.EmbeddingPool)
	}

	writeJSON(w, http.StatusOK, response)
}

func (s *AppState) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.Stats == nil || !s.Stats.Running.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "stopped"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *AppState) handleCaptures(w http.ResponseWriter, r *http.Request) {
	if s.Catalog == nil {
		sendErrorResponse(w, "no_catalog", "capture catalog is not configured", http.StatusNotFound)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			sendErrorResponse(w, "invalid_request", "limit must be an integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	entries, err := s.Catalog.Recent(r.Context(), limit)
	if err != nil {
		sendErrorResponse(w, "catalog_error", err.Error(), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []catalog.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func sendErrorResponse(w http.ResponseWriter, code, message string, status int) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}

// serveMonitor runs the monitoring server until ctx is done.
func serveMonitor(ctx context.Context, addr string, state *AppState, logger *zap.Logger) error {
	r := mux.NewRouter()
	state.addMonitoringRoutes(r)

	srv := &http.Server{
		Handler:      r,
		Addr:         addr,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Monitoring server shutdown", zap.Error(err))
		}
	}()

	logger.Info("Starting monitoring server", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
