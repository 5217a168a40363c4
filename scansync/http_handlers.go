// Copyright 2026 The draconis-eyes Authors
// SPDX-License-Identifier: Apache-2.0

package scansync

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/intronerd12/draconis-eyes/internal/auth"
)

// HTTPScanHandlers provides HTTP handlers for the reconciliation API
type HTTPScanHandlers struct {
	service *Service
	logger  *slog.Logger
}

// NewHTTPScanHandlers creates a new instance of scan handlers
func NewHTTPScanHandlers(service *Service, logger *slog.Logger) *HTTPScanHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPScanHandlers{
		service: service,
		logger:  logger,
	}
}

// HandleUpsert processes POST /scans. It answers 201 when a document was
// created and 200 when an existing one was updated.
func (h *HTTPScanHandlers) HandleUpsert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "Only POST method is allowed")
		return
	}

	var req UpsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Failed to parse scan payload")
		return
	}

	// Body fields win; the authenticated principal fills what the body omits.
	if req.UserID == "" {
		if uid, ok := auth.GetUserID(r.Context()); ok {
			req.UserID = uid
		}
	}
	if req.OperatorEmail == "" {
		if email, ok := auth.GetEmail(r.Context()); ok {
			req.OperatorEmail = email
		}
	}

	result, err := h.service.Upsert(r.Context(), &req)
	if errors.Is(err, ErrValidation) {
		h.writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("Failed to upsert scan", "error", err, "local_scan_id", req.LocalScanID)
		h.writeError(w, http.StatusInternalServerError, CodeUpsertFailed, "Failed to store scan")
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	h.writeJSON(w, status, result.Document)
}

// HandleDelete processes DELETE /scans/{localScanId}?operatorEmail=…|userId=…
func (h *HTTPScanHandlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		h.writeError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "Only DELETE method is allowed")
		return
	}

	localScanID := r.PathValue("localScanId")
	if localScanID == "" {
		localScanID = strings.TrimPrefix(r.URL.Path, "/scans/")
	}
	if localScanID == "" || strings.Contains(localScanID, "/") {
		h.writeError(w, http.StatusBadRequest, CodeInvalidRequest, "localScanId is required")
		return
	}

	hint := h.hintFromQuery(r)
	id, err := h.service.Delete(r.Context(), localScanID, hint)
	switch {
	case errors.Is(err, ErrNotFound):
		h.writeError(w, http.StatusNotFound, CodeNotFound, "Scan not found")
		return
	case errors.Is(err, ErrValidation):
		h.writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	case err != nil:
		h.logger.Error("Failed to delete scan", "error", err, "local_scan_id", localScanID)
		h.writeError(w, http.StatusInternalServerError, CodeDeleteFailed, "Failed to delete scan")
		return
	}

	h.writeJSON(w, http.StatusOK, DeleteResponse{Message: "Scan deleted", ID: id})
}

// HandleList processes GET /scans
func (h *HTTPScanHandlers) HandleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "Only GET method is allowed")
		return
	}

	limit := DefaultListLimit
	if ls := r.URL.Query().Get("limit"); ls != "" {
		v, err := strconv.Atoi(ls)
		if err != nil || v < 1 || v > MaxListLimit {
			h.writeError(w, http.StatusBadRequest, CodeInvalidRequest, "limit must be between 1 and 1000")
			return
		}
		limit = v
	}

	docs, err := h.service.List(r.Context(), ListFilter{Hint: h.hintFromQuery(r), Limit: limit})
	if err != nil {
		h.logger.Error("List scans error", "error", err)
		h.writeError(w, http.StatusInternalServerError, CodeListFailed, "Failed to list scans")
		return
	}
	h.writeJSON(w, http.StatusOK, docs)
}

// HandleStats processes GET /scans/stats
func (h *HTTPScanHandlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "Only GET method is allowed")
		return
	}
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		h.logger.Error("Scan stats error", "error", err)
		h.writeError(w, http.StatusInternalServerError, CodeStatsFailed, "Failed to compute stats")
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// hintFromQuery resolves the identity hint from query parameters. Missing
// fields are filled from the authenticated principal exactly as HandleUpsert
// fills the body, so a delete addresses the same key its upsert wrote.
func (h *HTTPScanHandlers) hintFromQuery(r *http.Request) IdentityHint {
	q := r.URL.Query()
	email := q.Get("operatorEmail")
	userID := q.Get("userId")
	if email == "" {
		email, _ = auth.GetEmail(r.Context())
	}
	if userID == "" {
		userID, _ = auth.GetUserID(r.Context())
	}
	return ResolveIdentityHint(email, userID)
}

func (h *HTTPScanHandlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

// writeError writes a standardized error response
func (h *HTTPScanHandlers) writeError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	writeJSONError(w, statusCode, errorCode, message)

	h.logger.Debug("HTTP error response",
		"status_code", statusCode,
		"error_code", errorCode,
		"message", message)
}

func writeJSONError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   errorCode,
		Message: message,
	})
}
