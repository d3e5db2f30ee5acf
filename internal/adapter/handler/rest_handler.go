package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"

	"github.com/hive-corporation/dfir-engine/internal/adapter/exporter"
	"github.com/hive-corporation/dfir-engine/internal/adapter/llm"
	"github.com/hive-corporation/dfir-engine/internal/core/domain"
	"github.com/hive-corporation/dfir-engine/internal/core/pipeline"
	"github.com/hive-corporation/dfir-engine/internal/core/ports"
)

// maxBodyBytes bounds uploaded scripts
const maxBodyBytes = 8 << 20

type RestHandler struct {
	engine       *pipeline.Orchestrator
	repo         ports.RunRepository
	providers    *llm.Registry
	cefExporter  *exporter.CEFExporter
	stixExporter *exporter.STIXExporter
	logger       *log.Logger
}

func NewRestHandler(engine *pipeline.Orchestrator, repo ports.RunRepository, providers *llm.Registry, logger *log.Logger) *RestHandler {
	if logger == nil {
		logger = log.Default()
	}
	return &RestHandler{
		engine:       engine,
		repo:         repo,
		providers:    providers,
		cefExporter:  exporter.NewCEFExporter(repo),
		stixExporter: exporter.NewSTIXExporter(repo),
		logger:       logger,
	}
}

// Register mounts the API routes on router
func (h *RestHandler) Register(router *mux.Router) {
	router.HandleFunc("/api/v1/health", h.Health).Methods("GET")

	// Run lifecycle
	router.HandleFunc("/api/v1/runs", h.StartRun).Methods("POST")
	router.HandleFunc("/api/v1/runs", h.ListRuns).Methods("GET")
	router.HandleFunc("/api/v1/runs/current", h.CurrentRun).Methods("GET")
	router.HandleFunc("/api/v1/runs/current", h.ResetRun).Methods("DELETE")
	router.HandleFunc("/api/v1/runs/current/refine", h.RefineRun).Methods("POST")
	router.HandleFunc("/api/v1/runs/{id}", h.GetRun).Methods("GET")
	router.HandleFunc("/api/v1/runs/{id}/iocs", h.GetRunIOCs).Methods("GET")

	// Stateless tools
	router.HandleFunc("/api/v1/scan", h.Scan).Methods("POST")
	router.HandleFunc("/api/v1/transform/{step}", h.Transform).Methods("POST")
	router.HandleFunc("/api/v1/providers", h.Providers).Methods("GET")
	router.HandleFunc("/api/v1/iocs/feed", h.GetIOCFeed).Methods("GET")
}

// Health check endpoint
func (h *RestHandler) Health(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "dfir-api",
	}
	writeJSON(w, http.StatusOK, response)
}

type startRunRequest struct {
	Input    string `json:"input"`
	Provider string `json:"provider"`
	Offline  bool   `json:"offline,omitempty"`
}

type runResponse struct {
	Run   domain.RunRecord `json:"run"`
	Error string           `json:"error,omitempty"`
}

// StartRun starts a pipeline run. The run continues in the background unless
// ?wait=true, in which case the finished run is returned.
func (h *RestHandler) StartRun(w http.ResponseWriter, r *http.Request) {
	var body startRunRequest
	if !decodeBody(w, r, &body) {
		return
	}

	req := pipeline.RunRequest{Input: body.Input, Provider: body.Provider}
	if body.Offline {
		req.Steps = domain.OfflineSteps()
	}

	// The run must outlive this request
	ctx := context.WithoutCancel(r.Context())

	if r.URL.Query().Get("wait") == "true" {
		rec, err := h.engine.Run(ctx, req)
		var stepErr *pipeline.StepError
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, runResponse{Run: rec})
		case errors.As(err, &stepErr):
			writeJSON(w, http.StatusOK, runResponse{Run: rec, Error: stepErr.Error()})
		default:
			h.writeEngineError(w, err)
		}
		return
	}

	initial, _, err := h.engine.Start(ctx, req)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	w.Header().Set("Location", "/api/v1/runs/current")
	writeJSON(w, http.StatusAccepted, runResponse{Run: initial})
}

func (h *RestHandler) CurrentRun(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, runResponse{Run: h.engine.Snapshot()})
}

func (h *RestHandler) ResetRun(w http.ResponseWriter, r *http.Request) {
	h.engine.Reset()
	w.WriteHeader(http.StatusNoContent)
}

func (h *RestHandler) RefineRun(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Provider string `json:"provider"`
	}
	if r.ContentLength > 0 && !decodeBody(w, r, &body) {
		return
	}

	rec, err := h.engine.Refine(context.WithoutCancel(r.Context()), body.Provider)
	var stepErr *pipeline.StepError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, runResponse{Run: rec})
	case errors.As(err, &stepErr):
		writeError(w, http.StatusBadGateway, stepErr.Error())
	default:
		h.writeEngineError(w, err)
	}
}

func (h *RestHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, http.StatusBadRequest, "invalid 'limit' parameter (1-500)")
			return
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	runs, err := h.repo.FindRecent(ctx, limit)
	if err != nil {
		h.logger.Error("❌ Failed to list runs", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to query runs")
		return
	}

	// Listings carry no sources
	for i := range runs {
		runs[i].Input = ""
		runs[i].Artifact = ""
		runs[i].History = nil
	}
	if runs == nil {
		runs = []domain.RunRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(runs),
		"runs":  runs,
	})
}

func (h *RestHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := h.findRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, runResponse{Run: *run})
}

// GetRunIOCs exports the merged indicators of one run as json, stix or cef
func (h *RestHandler) GetRunIOCs(w http.ResponseWriter, r *http.Request) {
	run, ok := h.findRun(w, r)
	if !ok {
		return
	}

	switch format := r.URL.Query().Get("format"); format {
	case "json", "":
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"run_id":     run.ID,
			"has_report": run.HasReport(),
			"count":      len(run.Indicators()),
			"iocs":       nonNilIndicators(run.Indicators()),
		})

	case "stix":
		data, err := h.stixExporter.ExportRun(*run)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to export STIX bundle")
			return
		}
		writeRaw(w, "application/json; charset=utf-8", data, h.logger)

	case "cef":
		writeRaw(w, "text/plain; charset=utf-8", h.cefExporter.ExportRun(*run), h.logger)

	default:
		writeError(w, http.StatusBadRequest, "unsupported format (use 'cef', 'stix', or 'json')")
	}
}

// GetIOCFeed exports indicators of all runs in a time window for SIEM ingestion
func (h *RestHandler) GetIOCFeed(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	since := r.URL.Query().Get("since") // e.g., "24h", "90m"

	var sinceTime time.Time
	if since != "" {
		duration, err := time.ParseDuration(since)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'since' parameter (use format like '24h', '90m')")
			return
		}
		sinceTime = time.Now().Add(-duration)
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	switch format {
	case "cef":
		data, err := h.cefExporter.Export(ctx, sinceTime)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to export CEF feed")
			return
		}
		writeRaw(w, "text/plain; charset=utf-8", data, h.logger)

	case "stix":
		data, err := h.stixExporter.Export(ctx, sinceTime)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to export STIX feed")
			return
		}
		writeRaw(w, "application/json; charset=utf-8", data, h.logger)

	case "json", "":
		if sinceTime.IsZero() {
			sinceTime = time.Now().Add(-24 * time.Hour)
		}
		iocs, err := h.repo.FindIndicatorsSince(ctx, sinceTime, 10000)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to export JSON feed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"since": sinceTime.UTC().Format(time.RFC3339),
			"count": len(iocs),
			"iocs":  nonNilIndicators(iocs),
		})

	default:
		writeError(w, http.StatusBadRequest, "unsupported format (use 'cef', 'stix', or 'json')")
	}
}

type codeRequest struct {
	Code string `json:"code"`
}

// Scan runs the static indicator scanner over the posted code
func (h *RestHandler) Scan(w http.ResponseWriter, r *http.Request) {
	var body codeRequest
	if !decodeBody(w, r, &body) {
		return
	}

	iocs := domain.ScanStaticIOCs(body.Code)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(iocs),
		"iocs":  iocs,
	})
}

// Transform applies one deterministic step to the posted code
func (h *RestHandler) Transform(w http.ResponseWriter, r *http.Request) {
	step := domain.Step(strings.ToUpper(mux.Vars(r)["step"]))
	if !step.IsDeterministic() {
		writeError(w, http.StatusBadRequest, "only STABILIZE, LITERAL_DECODE and ROTATION_RESOLVE can run standalone")
		return
	}

	var body codeRequest
	if !decodeBody(w, r, &body) {
		return
	}

	outcome, err := pipeline.NewDispatcher(nil).Execute(r.Context(), step, body.Code)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"step":        step,
		"content":     outcome.Content,
		"description": outcome.Description,
		"warning":     outcome.Warning,
	})
}

func (h *RestHandler) Providers(w http.ResponseWriter, r *http.Request) {
	list := []llm.ProviderInfo{}
	if h.providers != nil {
		list = h.providers.List()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"providers": list})
}

func (h *RestHandler) findRun(w http.ResponseWriter, r *http.Request) (*domain.RunRecord, bool) {
	id := mux.Vars(r)["id"]

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	run, err := h.repo.FindRun(ctx, id)
	if errors.Is(err, ports.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return nil, false
	}
	if err != nil {
		h.logger.Error("❌ Failed to load run", "run", id, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to query run")
		return nil, false
	}
	return run, true
}

// writeEngineError maps orchestrator errors to HTTP statuses
func (h *RestHandler) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pipeline.ErrEmptyInput),
		errors.Is(err, ports.ErrUnknownProvider),
		errors.Is(err, pipeline.ErrNoCollaborator),
		errors.Is(err, pipeline.ErrUnknownStep),
		errors.Is(err, pipeline.ErrInvalidStepOrder):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, pipeline.ErrRunSuperseded),
		errors.Is(err, pipeline.ErrRunInProgress),
		errors.Is(err, pipeline.ErrRunNotCompleted),
		errors.Is(err, pipeline.ErrNoArtifact):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("❌ Run request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// Helper functions

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error("Error encoding JSON response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeRaw(w http.ResponseWriter, contentType, data string, logger *log.Logger) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(data)); err != nil {
		logger.Error("Error writing response", "err", err)
	}
}

func nonNilIndicators(iocs []domain.Indicator) []domain.Indicator {
	if iocs == nil {
		return []domain.Indicator{}
	}
	return iocs
}
