package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/custodia-labs/docsync-core/internal/core/domain"
)

func TestHandleDocumentCreated(t *testing.T) {
	var captured domain.DocumentCreatedEvent
	server := newTestServer()
	server.subscriptions = &mockSubscriptionManager{
		createdFn: func(ctx context.Context, event domain.DocumentCreatedEvent) error {
			captured = event
			return nil
		},
	}

	payload := `{
		"connectionId": "conn-1",
		"fields": {
			"id": "doc-1",
			"title": "Quarterly Report",
			"parentId": "folder-1",
			"canHaveChildren": false,
			"resourceURI": "gdrive://doc-1",
			"createdAt": "2025-01-01T00:00:00Z",
			"updatedAt": "2025-01-02T00:00:00Z"
		}
	}`
	req := httptest.NewRequest("POST", "/api/v1/webhooks/on-create", bytes.NewBufferString(payload))
	rr := httptest.NewRecorder()

	server.handleDocumentCreated(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.ConnectionID != "conn-1" {
		t.Errorf("expected connection conn-1, got %s", captured.ConnectionID)
	}
	if captured.Fields.ID != "doc-1" || captured.Fields.ParentID != "folder-1" {
		t.Errorf("unexpected fields: %+v", captured.Fields)
	}
	if captured.Token != "test-token" {
		t.Errorf("expected a minted token on the event, got %q", captured.Token)
	}
}

func TestHandleDocumentCreated_SchemaViolation(t *testing.T) {
	server := newTestServer()

	// Missing the required fields object entirely.
	payload := `{"connectionId": "conn-1"}`
	req := httptest.NewRequest("POST", "/api/v1/webhooks/on-create", bytes.NewBufferString(payload))
	rr := httptest.NewRecorder()

	server.handleDocumentCreated(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rr.Code)
	}
}

func TestHandleDocumentCreated_InvalidJSON(t *testing.T) {
	server := newTestServer()

	req := httptest.NewRequest("POST", "/api/v1/webhooks/on-create", bytes.NewBufferString("not json"))
	rr := httptest.NewRecorder()

	server.handleDocumentCreated(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rr.Code)
	}
}

func TestHandleDocumentCreated_UnknownConnection(t *testing.T) {
	server := newTestServer()
	server.subscriptions = &mockSubscriptionManager{
		createdFn: func(ctx context.Context, event domain.DocumentCreatedEvent) error {
			return domain.ErrConnectionNotFound
		},
	}

	payload := `{
		"connectionId": "conn-gone",
		"fields": {
			"id": "doc-1",
			"title": "t",
			"parentId": "",
			"canHaveChildren": false,
			"resourceURI": "",
			"createdAt": "2025-01-01T00:00:00Z",
			"updatedAt": "2025-01-01T00:00:00Z"
		}
	}`
	req := httptest.NewRequest("POST", "/api/v1/webhooks/on-create", bytes.NewBufferString(payload))
	rr := httptest.NewRecorder()

	server.handleDocumentCreated(rr, req)

	// Acked, not errored, so the source stops retrying.
	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}

	var response map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response["status"] != "ignored" {
		t.Errorf("expected status 'ignored', got %s", response["status"])
	}
}

func TestHandleDocumentUpdated(t *testing.T) {
	var captured domain.DocumentUpdatedEvent
	server := newTestServer()
	server.subscriptions = &mockSubscriptionManager{
		updatedFn: func(ctx context.Context, event domain.DocumentUpdatedEvent) error {
			captured = event
			return nil
		},
	}

	payload := `{
		"connectionId": "conn-1",
		"fields": {
			"id": "doc-1",
			"title": "Quarterly Report v2",
			"parentId": "folder-1",
			"canHaveChildren": false,
			"resourceURI": "gdrive://doc-1?rev=2",
			"createdAt": "2025-01-01T00:00:00Z",
			"updatedAt": "2025-01-03T00:00:00Z"
		}
	}`
	req := httptest.NewRequest("POST", "/api/v1/webhooks/on-update", bytes.NewBufferString(payload))
	rr := httptest.NewRecorder()

	server.handleDocumentUpdated(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.ConnectionID != "conn-1" || captured.Fields.ID != "doc-1" {
		t.Errorf("unexpected event: %+v", captured)
	}
	if captured.Fields.Title != "Quarterly Report v2" {
		t.Errorf("expected updated title, got %q", captured.Fields.Title)
	}
	if captured.Fields.ResourceURI != "gdrive://doc-1?rev=2" {
		t.Errorf("expected updated resource URI, got %q", captured.Fields.ResourceURI)
	}
}

func TestHandleDocumentUpdated_SchemaViolation(t *testing.T) {
	server := newTestServer()

	payload := `{"connectionId": "conn-1"}`
	req := httptest.NewRequest("POST", "/api/v1/webhooks/on-update", bytes.NewBufferString(payload))
	rr := httptest.NewRecorder()

	server.handleDocumentUpdated(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rr.Code)
	}
}

func TestHandleDocumentDeleted(t *testing.T) {
	var captured domain.DocumentDeletedEvent
	server := newTestServer()
	server.subscriptions = &mockSubscriptionManager{
		deletedFn: func(ctx context.Context, event domain.DocumentDeletedEvent) error {
			captured = event
			return nil
		},
	}

	payload := `{"source": "google-drive", "connectionId": "conn-1", "id": "doc-1"}`
	req := httptest.NewRequest("POST", "/api/v1/webhooks/on-delete", bytes.NewBufferString(payload))
	rr := httptest.NewRecorder()

	server.handleDocumentDeleted(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
	if captured.ConnectionID != "conn-1" || captured.ID != "doc-1" {
		t.Errorf("unexpected event: %+v", captured)
	}
}

func TestHandleDocumentDeleted_MissingID(t *testing.T) {
	server := newTestServer()

	payload := `{"connectionId": "conn-1"}`
	req := httptest.NewRequest("POST", "/api/v1/webhooks/on-delete", bytes.NewBufferString(payload))
	rr := httptest.NewRecorder()

	server.handleDocumentDeleted(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rr.Code)
	}
}

func TestHandleFlowNotification(t *testing.T) {
	var captured domain.FlowFailureEvent
	server := newTestServer()
	server.subscriptions = &mockSubscriptionManager{
		flowFailureFn: func(ctx context.Context, event domain.FlowFailureEvent) error {
			captured = event
			return nil
		},
	}

	payload := `{
		"eventType": "flowRun.failed",
		"data": {
			"flowRun": {
				"flowKey": "download-document",
				"connectionId": "conn-1",
				"input": [
					{"documentId": "doc-1"},
					{"documentId": "doc-2"},
					{}
				]
			}
		}
	}`
	req := httptest.NewRequest("POST", "/api/v1/webhooks/notification", bytes.NewBufferString(payload))
	rr := httptest.NewRecorder()

	server.handleFlowNotification(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
	if captured.EventType != domain.EventTypeFlowRunFailed {
		t.Errorf("expected event type flowRun.failed, got %s", captured.EventType)
	}
	if captured.FlowKey != domain.FlowKeyDownloadDocument {
		t.Errorf("expected flow key download-document, got %s", captured.FlowKey)
	}
	if len(captured.DocumentIDs) != 2 {
		t.Errorf("expected empty document ids to be dropped, got %v", captured.DocumentIDs)
	}

	var response map[string]bool
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !response["success"] {
		t.Error("expected success=true")
	}
}

func TestHandleFlowNotification_MissingConnection(t *testing.T) {
	server := newTestServer()

	payload := `{"eventType": "flowRun.failed", "data": {"flowRun": {"flowKey": "download-document"}}}`
	req := httptest.NewRequest("POST", "/api/v1/webhooks/notification", bytes.NewBufferString(payload))
	rr := httptest.NewRecorder()

	server.handleFlowNotification(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rr.Code)
	}
}
