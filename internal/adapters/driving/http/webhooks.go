package http

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/custodia-labs/docsync-core/internal/core/domain"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Compiled webhook schemas. Validation happens before any payload field
// is trusted; a payload that fails its schema is rejected with 400.
var (
	documentCreatedSchema  = mustCompileSchema("schemas/document-created.json")
	documentUpdatedSchema  = mustCompileSchema("schemas/document-updated.json")
	documentDeletedSchema  = mustCompileSchema("schemas/document-deleted.json")
	flowNotificationSchema = mustCompileSchema("schemas/flow-notification.json")
)

func mustCompileSchema(name string) *jsonschema.Schema {
	raw, err := schemaFS.ReadFile(name)
	if err != nil {
		panic(fmt.Sprintf("read embedded schema %s: %v", name, err))
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse embedded schema %s: %v", name, err))
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, doc); err != nil {
		panic(fmt.Sprintf("add schema resource %s: %v", name, err))
	}
	return compiler.MustCompile(name)
}

// readValidated reads the body and validates it against the schema.
// Returns the raw bytes for struct decoding after validation passes.
func readValidated(r *http.Request, schema *jsonschema.Schema) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse body: %w", err)
	}
	if err := schema.Validate(inst); err != nil {
		return nil, err
	}
	return body, nil
}

// handleDocumentCreated mirrors a document the source just created.
// A record that cannot be placed (unknown connection) is logged and
// acked so the source does not retry forever.
func (s *Server) handleDocumentCreated(w http.ResponseWriter, r *http.Request) {
	body, err := readValidated(r, documentCreatedSchema)
	if err != nil {
		s.logger.Warn("invalid on-create payload", "error", err)
		writeError(w, http.StatusBadRequest, "invalid webhook payload")
		return
	}

	var event domain.DocumentCreatedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook payload")
		return
	}

	token, err := s.tokens.Token(r.Context(), "")
	if err != nil {
		s.logger.Error("token mint failed for webhook", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	event.Token = token

	if err := s.subscriptions.HandleDocumentCreated(r.Context(), event); err != nil {
		if errors.Is(err, domain.ErrConnectionNotFound) {
			s.logger.Warn("on-create for unknown connection",
				"connection_id", event.ConnectionID, "document_id", event.Fields.ID)
			writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}
		s.logger.Error("on-create handling failed",
			"connection_id", event.ConnectionID, "document_id", event.Fields.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to process webhook")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleDocumentUpdated applies the new metadata to a mirrored document.
// Updates never touch pipeline state, so no token is minted here.
func (s *Server) handleDocumentUpdated(w http.ResponseWriter, r *http.Request) {
	body, err := readValidated(r, documentUpdatedSchema)
	if err != nil {
		s.logger.Warn("invalid on-update payload", "error", err)
		writeError(w, http.StatusBadRequest, "invalid webhook payload")
		return
	}

	var event domain.DocumentUpdatedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook payload")
		return
	}

	if err := s.subscriptions.HandleDocumentUpdated(r.Context(), event); err != nil {
		s.logger.Error("on-update handling failed",
			"connection_id", event.ConnectionID, "document_id", event.Fields.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to process webhook")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleDocumentDeleted removes the deleted node and its local subtree.
func (s *Server) handleDocumentDeleted(w http.ResponseWriter, r *http.Request) {
	body, err := readValidated(r, documentDeletedSchema)
	if err != nil {
		s.logger.Warn("invalid on-delete payload", "error", err)
		writeError(w, http.StatusBadRequest, "invalid webhook payload")
		return
	}

	var event domain.DocumentDeletedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook payload")
		return
	}

	if err := s.subscriptions.HandleDocumentDeleted(r.Context(), event); err != nil {
		s.logger.Error("on-delete handling failed",
			"connection_id", event.ConnectionID, "document_id", event.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to process webhook")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// flowNotification is the raw notification envelope sent by the platform.
type flowNotification struct {
	EventType string `json:"eventType"`
	Data      struct {
		FlowRun struct {
			FlowKey      string `json:"flowKey"`
			ConnectionID string `json:"connectionId"`
			Input        []struct {
				DocumentID string `json:"documentId"`
			} `json:"input"`
		} `json:"flowRun"`
	} `json:"data"`
}

// handleFlowNotification marks documents failed after terminal flow
// failures. Notifications for other events or flows are acked untouched.
func (s *Server) handleFlowNotification(w http.ResponseWriter, r *http.Request) {
	body, err := readValidated(r, flowNotificationSchema)
	if err != nil {
		s.logger.Warn("invalid notification payload", "error", err)
		writeError(w, http.StatusBadRequest, "invalid webhook payload")
		return
	}

	var notif flowNotification
	if err := json.Unmarshal(body, &notif); err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook payload")
		return
	}

	event := domain.FlowFailureEvent{
		EventType:    notif.EventType,
		FlowKey:      notif.Data.FlowRun.FlowKey,
		ConnectionID: notif.Data.FlowRun.ConnectionID,
	}
	for _, in := range notif.Data.FlowRun.Input {
		if in.DocumentID != "" {
			event.DocumentIDs = append(event.DocumentIDs, in.DocumentID)
		}
	}

	if err := s.subscriptions.HandleFlowFailure(r.Context(), event); err != nil {
		s.logger.Error("notification handling failed",
			"connection_id", event.ConnectionID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to process webhook")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
