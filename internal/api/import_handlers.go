package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/snanayakkara/operator-sub003/internal/importer"
	"github.com/snanayakkara/operator-sub003/pkg/logger"
)

// ImportHandlers is the import worker's control surface: pause and resume
// the inbox watcher, kick an immediate rescan and report the last scan.
type ImportHandlers struct {
	watcher *importer.Watcher
	logger  *logger.Logger
}

// NewImportHandlers creates import pipeline control handlers.
func NewImportHandlers(watcher *importer.Watcher, log *logger.Logger) *ImportHandlers {
	return &ImportHandlers{watcher: watcher, logger: log}
}

// RegisterRoutes registers the worker control routes.
func (h *ImportHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/importer/pause", h.Pause).Methods("POST")
	router.HandleFunc("/importer/resume", h.Resume).Methods("POST")
	router.HandleFunc("/importer/rescan", h.Rescan).Methods("POST")
	router.HandleFunc("/importer/status", h.Status).Methods("GET")
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
}

// Pause suspends scheduled inbox scans, typically while cards are being
// placed in the inbox.
func (h *ImportHandlers) Pause(w http.ResponseWriter, r *http.Request) {
	h.watcher.Pause()
	h.writeJSON(w, http.StatusOK, map[string]string{"state": "paused"})
}

// Resume re-enables scheduled inbox scans.
func (h *ImportHandlers) Resume(w http.ResponseWriter, r *http.Request) {
	h.watcher.Resume()
	h.writeJSON(w, http.StatusOK, map[string]string{"state": "running"})
}

// Rescan requests an immediate scan.
func (h *ImportHandlers) Rescan(w http.ResponseWriter, r *http.Request) {
	h.watcher.TriggerRescan()
	h.writeJSON(w, http.StatusAccepted, map[string]string{"state": "rescan_requested"})
}

// Status reports watcher state and the last scan's batch outcomes.
func (h *ImportHandlers) Status(w http.ResponseWriter, r *http.Request) {
	lastScan, outcomes := h.watcher.LastScan()

	state := "running"
	if h.watcher.Paused() {
		state = "paused"
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"state":     state,
		"last_scan": lastScan,
		"batches":   outcomes,
	})
}

// HealthCheck handles health check requests.
func (h *ImportHandlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   "import-worker",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (h *ImportHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.WithError(err).Error("Failed to encode JSON response")
	}
}
