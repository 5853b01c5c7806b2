package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/snanayakkara/operator-sub003/internal/session"
	"github.com/snanayakkara/operator-sub003/pkg/logger"
	"github.com/snanayakkara/operator-sub003/pkg/types"
)

// Handlers handles HTTP requests for the reconciliation service.
type Handlers struct {
	service  *Service
	sessions *session.Manager
	logger   *logger.Logger
}

// NewHandlers creates new HTTP handlers.
func NewHandlers(service *Service, sessions *session.Manager, log *logger.Logger) *Handlers {
	return &Handlers{
		service:  service,
		sessions: sessions,
		logger:   log,
	}
}

// RegisterRoutes registers HTTP routes.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	// Patient routes
	router.HandleFunc("/patients", h.CreatePatient).Methods("POST")
	router.HandleFunc("/patients", h.ListPatients).Methods("GET")
	router.HandleFunc("/patients/{patientID}", h.GetPatient).Methods("GET")
	router.HandleFunc("/patients/{patientID}/history", h.GetHistory).Methods("GET")
	router.HandleFunc("/patients/{patientID}/diff", h.ApplyDiff).Methods("POST")
	router.HandleFunc("/patients/{patientID}/reviews", h.ListPendingReviews).Methods("GET")

	// Review queue routes
	router.HandleFunc("/reviews/{reviewID}/resolve", h.ResolveReview).Methods("POST")

	// Dictation session routes
	router.HandleFunc("/sessions", h.StartSession).Methods("POST")
	router.HandleFunc("/sessions/{sessionID}", h.GetSession).Methods("GET")
	router.HandleFunc("/sessions/{sessionID}/turns", h.SessionTurn).Methods("POST")
	router.HandleFunc("/sessions/{sessionID}/commit", h.CommitSession).Methods("POST")
	router.HandleFunc("/sessions/{sessionID}/abandon", h.AbandonSession).Methods("POST")

	// Import batch outcomes (read side; pipeline controls live on the worker)
	router.HandleFunc("/imports", h.ListImportBatches).Methods("GET")
	router.HandleFunc("/imports/{batchID}", h.GetImportBatch).Methods("GET")

	// Health check
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
}

// CreatePatient handles bedside patient quick-add.
func (h *Handlers) CreatePatient(w http.ResponseWriter, r *http.Request) {
	var req CreatePatientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON payload")
		return
	}

	patient, err := h.service.CreatePatient(r.Context(), req)
	if err != nil {
		h.logger.WithError(err).Error("Failed to create patient")
		h.writeReconcileError(w, err, "creation_failed")
		return
	}

	h.writeJSON(w, http.StatusCreated, patient)
}

// ListPatients handles ward list retrieval.
func (h *Handlers) ListPatients(w http.ResponseWriter, r *http.Request) {
	patients, err := h.service.ListPatients(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to list patients")
		h.writeReconcileError(w, err, "retrieval_failed")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"patients": patients,
		"count":    len(patients),
	})
}

// GetPatient handles patient retrieval.
func (h *Handlers) GetPatient(w http.ResponseWriter, r *http.Request) {
	patientID := mux.Vars(r)["patientID"]

	patient, err := h.service.GetPatient(r.Context(), patientID)
	if err != nil {
		h.logger.WithPatientID(patientID).WithError(err).Error("Failed to get patient")
		h.writeReconcileError(w, err, "retrieval_failed")
		return
	}

	h.writeJSON(w, http.StatusOK, patient)
}

// GetHistory handles ward entry audit trail retrieval.
func (h *Handlers) GetHistory(w http.ResponseWriter, r *http.Request) {
	patientID := mux.Vars(r)["patientID"]

	entries, err := h.service.History(r.Context(), patientID)
	if err != nil {
		h.logger.WithPatientID(patientID).WithError(err).Error("Failed to get history")
		h.writeReconcileError(w, err, "retrieval_failed")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

type applyDiffRequest struct {
	Diff       types.Diff       `json:"diff"`
	Confidence types.Confidence `json:"confidence,omitempty"`
	Source     string           `json:"source,omitempty"`
}

// ApplyDiff handles direct diff application.
func (h *Handlers) ApplyDiff(w http.ResponseWriter, r *http.Request) {
	patientID := mux.Vars(r)["patientID"]

	var req applyDiffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON payload")
		return
	}

	result, err := h.service.ApplyDiff(r.Context(), patientID, req.Diff, req.Confidence, req.Source)
	if err != nil {
		h.logger.WithPatientID(patientID).WithError(err).Error("Failed to apply diff")
		h.writeReconcileError(w, err, "apply_failed")
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// ListPendingReviews handles review queue retrieval for a patient.
func (h *Handlers) ListPendingReviews(w http.ResponseWriter, r *http.Request) {
	patientID := mux.Vars(r)["patientID"]

	entries, err := h.service.ListPendingReviews(r.Context(), patientID)
	if err != nil {
		h.logger.WithPatientID(patientID).WithError(err).Error("Failed to list pending reviews")
		h.writeReconcileError(w, err, "retrieval_failed")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"reviews": entries,
		"count":   len(entries),
	})
}

type resolveReviewRequest struct {
	Resolution ReviewResolution `json:"resolution"`
}

// ResolveReview handles reviewer verdicts on held fragments.
func (h *Handlers) ResolveReview(w http.ResponseWriter, r *http.Request) {
	reviewID := mux.Vars(r)["reviewID"]

	var req resolveReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON payload")
		return
	}

	entry, err := h.service.ResolveReview(r.Context(), reviewID, req.Resolution)
	if err != nil {
		h.logger.WithError(err).WithField("review_id", reviewID).Error("Failed to resolve review")
		h.writeReconcileError(w, err, "resolution_failed")
		return
	}

	h.writeJSON(w, http.StatusOK, entry)
}

type startSessionRequest struct {
	PatientID string            `json:"patient_id"`
	Mode      types.SessionMode `json:"mode,omitempty"`
}

// StartSession handles dictation session creation.
func (h *Handlers) StartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON payload")
		return
	}

	if req.PatientID == "" {
		h.writeError(w, http.StatusBadRequest, "validation_error", "patient_id is required")
		return
	}

	sess, err := h.sessions.Start(r.Context(), req.PatientID, req.Mode)
	if err != nil {
		h.logger.WithPatientID(req.PatientID).WithError(err).Error("Failed to start session")
		h.writeReconcileError(w, err, "session_start_failed")
		return
	}

	h.writeJSON(w, http.StatusCreated, sess)
}

// GetSession handles session retrieval with the merged pending view.
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionID"]

	sess, err := h.sessions.Get(sessionID)
	if err != nil {
		h.writeReconcileError(w, err, "retrieval_failed")
		return
	}

	h.writeJSON(w, http.StatusOK, sess)
}

type sessionTurnRequest struct {
	Transcript string `json:"transcript"`
}

// SessionTurn handles one dictation turn.
func (h *Handlers) SessionTurn(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionID"]

	var req sessionTurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON payload")
		return
	}

	if req.Transcript == "" {
		h.writeError(w, http.StatusBadRequest, "validation_error", "transcript is required")
		return
	}

	sess, err := h.sessions.Turn(r.Context(), sessionID, req.Transcript)
	if err != nil {
		h.logger.WithError(err).WithField("session_id", sessionID).Error("Turn failed")
		h.writeReconcileError(w, err, "turn_failed")
		return
	}

	h.writeJSON(w, http.StatusOK, sess)
}

// CommitSession handles session commit.
func (h *Handlers) CommitSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionID"]

	result, err := h.sessions.Commit(r.Context(), sessionID)
	if err != nil {
		h.logger.WithError(err).WithField("session_id", sessionID).Error("Commit failed")
		h.writeReconcileError(w, err, "commit_failed")
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// AbandonSession handles session abandonment.
func (h *Handlers) AbandonSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionID"]

	sess, err := h.sessions.Abandon(sessionID)
	if err != nil {
		h.writeReconcileError(w, err, "abandon_failed")
		return
	}

	h.writeJSON(w, http.StatusOK, sess)
}

// ListImportBatches handles import outcome listing.
func (h *Handlers) ListImportBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := h.service.ListImportBatches(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to list import batches")
		h.writeReconcileError(w, err, "retrieval_failed")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"batches": batches,
		"count":   len(batches),
	})
}

// GetImportBatch handles single batch outcome retrieval.
func (h *Handlers) GetImportBatch(w http.ResponseWriter, r *http.Request) {
	batchID := mux.Vars(r)["batchID"]

	status, err := h.service.GetImportBatch(r.Context(), batchID)
	if err != nil {
		h.writeReconcileError(w, err, "retrieval_failed")
		return
	}

	h.writeJSON(w, http.StatusOK, status)
}

// HealthCheck handles health check requests.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   "rounds-service",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// writeReconcileError maps taxonomy errors to HTTP statuses; anything
// unclassified is a 500 with the fallback code.
func (h *Handlers) writeReconcileError(w http.ResponseWriter, err error, fallbackCode string) {
	var rerr *types.ReconcileError
	if errors.As(err, &rerr) {
		h.writeError(w, statusForKind(rerr.Kind), rerr.Code, rerr.Message)
		return
	}
	h.writeError(w, http.StatusInternalServerError, fallbackCode, err.Error())
}

func statusForKind(kind types.ErrorKind) int {
	switch kind {
	case types.ErrorKindValidation:
		return http.StatusBadRequest
	case types.ErrorKindNotFound:
		return http.StatusNotFound
	case types.ErrorKindExtraction, types.ErrorKindReasoning, types.ErrorKindTurn:
		return http.StatusBadGateway
	case types.ErrorKindPersistence:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes JSON response.
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

// writeError writes error response.
func (h *Handlers) writeError(w http.ResponseWriter, status int, code, message string) {
	errorResponse := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"timestamp": time.Now().Format(time.RFC3339),
	}

	h.writeJSON(w, status, errorResponse)
}
