package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/custodia-labs/docsync-core/internal/core/domain"
	"github.com/custodia-labs/docsync-core/internal/core/ports/driving"
)

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusResponse represents a simple status response
type StatusResponse struct {
	Status string `json:"status"`
}

// Health endpoints

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]Pinger{
		"store": s.db,
		"queue": s.taskQueue,
	}
	if s.blobs != nil {
		checks["blobs"] = s.blobs
	}

	status := make(map[string]string, len(checks)+1)
	healthy := true
	for name, p := range checks {
		if p == nil {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			status[name] = err.Error()
			healthy = false
		} else {
			status[name] = "ok"
		}
	}

	if !healthy {
		status["status"] = "degraded"
		writeJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	status["status"] = "ready"
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

// Sync endpoints

type startSyncRequest struct {
	IntegrationID   string `json:"integrationId"`
	IntegrationName string `json:"integrationName"`
	IntegrationLogo string `json:"integrationLogo,omitempty"`
}

func (s *Server) handleStartSync(w http.ResponseWriter, r *http.Request) {
	authCtx := GetAuthContext(r.Context())
	if authCtx == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req startSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := s.syncOrchestrator.StartSync(r.Context(), driving.StartSyncRequest{
		ConnectionID:    r.PathValue("id"),
		UserID:          authCtx.UserID,
		IntegrationID:   req.IntegrationID,
		IntegrationName: req.IntegrationName,
		IntegrationLogo: req.IntegrationLogo,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrSyncInProgress):
			writeError(w, http.StatusConflict, "sync already in progress")
		case errors.Is(err, domain.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, "connection id and integration id are required")
		default:
			s.logger.Error("start sync failed", "connection_id", r.PathValue("id"), "error", err)
			writeError(w, http.StatusInternalServerError, "failed to start sync")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	record, err := s.syncOrchestrator.SyncStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, domain.ErrSyncRecordNotFound) {
			writeError(w, http.StatusNotFound, "no sync record for connection")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load sync status")
		return
	}

	writeJSON(w, http.StatusOK, record)
}

// Document endpoints

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	connectionID := r.PathValue("id")
	parentID := r.URL.Query().Get("parentId")

	docs, err := s.documents.ListChildren(r.Context(), connectionID, parentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list documents")
		return
	}
	if docs == nil {
		docs = []*domain.Document{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"documents": docs})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.documents.Get(r.Context(), r.PathValue("id"), r.PathValue("docId"))
	if err != nil {
		if errors.Is(err, domain.ErrDocumentNotFound) {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load document")
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleListSubscribed(w http.ResponseWriter, r *http.Request) {
	authCtx := GetAuthContext(r.Context())
	if authCtx == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	docs, err := s.documents.ListSubscribed(r.Context(), authCtx.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list subscribed documents")
		return
	}
	if docs == nil {
		docs = []*domain.Document{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"documents": docs})
}

// Subscription endpoint

type setSubscriptionRequest struct {
	DocumentIDs  []string `json:"documentIds"`
	IsSubscribed bool     `json:"isSubscribed"`
}

func (s *Server) handleSetSubscription(w http.ResponseWriter, r *http.Request) {
	authCtx := GetAuthContext(r.Context())
	if authCtx == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req setSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.DocumentIDs) == 0 {
		writeError(w, http.StatusBadRequest, "documentIds is required")
		return
	}

	// Downloads triggered by the cascade authenticate with the caller's
	// provider token.
	token, err := s.tokens.Token(r.Context(), authCtx.UserID)
	if err != nil {
		s.logger.Error("token mint failed", "user_id", authCtx.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to authorize provider calls")
		return
	}

	result, err := s.subscriptions.SetSubscription(r.Context(),
		r.PathValue("id"), req.DocumentIDs, req.IsSubscribed, token)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update subscription")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Connection teardown

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.subscriptions.Disconnect(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to disconnect")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
