package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/custodia-labs/docsync-core/internal/core/domain"
	"github.com/custodia-labs/docsync-core/internal/core/ports/driven"
	"github.com/custodia-labs/docsync-core/internal/core/ports/driven/mocks"
	"github.com/custodia-labs/docsync-core/internal/core/ports/driving"
)

// Test helper to create SyncOrchestrator with mocks
func createTestSyncOrchestrator(t *testing.T) (
	*SyncOrchestrator,
	*mocks.MockDocumentStore,
	*mocks.MockSyncRecordStore,
	*mocks.MockRemoteProvider,
	*mocks.MockTaskQueue,
	*mocks.MockDistributedLock,
) {
	t.Helper()

	documentStore := mocks.NewMockDocumentStore()
	syncStore := mocks.NewMockSyncRecordStore()
	provider := mocks.NewMockRemoteProvider()
	taskQueue := mocks.NewMockTaskQueue()
	lock := mocks.NewMockDistributedLock()

	orchestrator := NewSyncOrchestrator(SyncOrchestratorConfig{
		DocumentStore: documentStore,
		SyncStore:     syncStore,
		Provider:      provider,
		TaskQueue:     taskQueue,
		Lock:          lock,
	})

	return orchestrator, documentStore, syncStore, provider, taskQueue, lock
}

func providerPage(cursor string, n int, offset int) *driven.DocumentPage {
	page := &driven.DocumentPage{Cursor: cursor}
	for i := 0; i < n; i++ {
		page.Records = append(page.Records, driven.ProviderRecord{
			ID:    fmt.Sprintf("doc-%d", offset+i),
			Title: fmt.Sprintf("Document %d", offset+i),
		})
	}
	return page
}

// TestStartSync tests the accept path: lock, record, clear, enqueue
func TestStartSync(t *testing.T) {
	orchestrator, documentStore, syncStore, _, taskQueue, lock := createTestSyncOrchestrator(t)
	ctx := context.Background()

	documentStore.Seed(&domain.Document{ID: "stale", ConnectionID: "conn-1"})

	err := orchestrator.StartSync(ctx, driving.StartSyncRequest{
		ConnectionID:    "conn-1",
		UserID:          "user-1",
		IntegrationName: "notion",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	record, err := syncStore.Get(ctx, "conn-1")
	if err != nil {
		t.Fatalf("expected sync record: %v", err)
	}
	if record.SyncStatus != domain.SyncStatusInProgress {
		t.Errorf("expected in_progress, got %s", record.SyncStatus)
	}
	if n, _ := documentStore.CountByConnection(ctx, "conn-1"); n != 0 {
		t.Errorf("expected stale documents cleared, got %d", n)
	}
	if taskQueue.PendingCount() != 1 {
		t.Errorf("expected 1 enqueued task, got %d", taskQueue.PendingCount())
	}
	if !lock.Held("sync:conn-1") {
		t.Error("expected sync lock to remain held until the task runs")
	}
}

// TestStartSync_AlreadyRunning tests rejection while the lock is held
func TestStartSync_AlreadyRunning(t *testing.T) {
	orchestrator, _, _, _, taskQueue, lock := createTestSyncOrchestrator(t)
	ctx := context.Background()

	if _, err := lock.Acquire(ctx, "sync:conn-1", 0); err != nil {
		t.Fatalf("seed lock: %v", err)
	}

	err := orchestrator.StartSync(ctx, driving.StartSyncRequest{ConnectionID: "conn-1"})
	if !errors.Is(err, domain.ErrSyncInProgress) {
		t.Fatalf("expected ErrSyncInProgress, got %v", err)
	}
	if taskQueue.PendingCount() != 0 {
		t.Error("expected no task enqueued when rejected")
	}
}

// TestStartSync_MissingConnectionID tests input validation
func TestStartSync_MissingConnectionID(t *testing.T) {
	orchestrator, _, _, _, _, _ := createTestSyncOrchestrator(t)

	err := orchestrator.StartSync(context.Background(), driving.StartSyncRequest{})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

// TestRunSync tests the paged mirror loop and completion
func TestRunSync(t *testing.T) {
	orchestrator, documentStore, syncStore, provider, _, lock := createTestSyncOrchestrator(t)
	ctx := context.Background()

	lock.Acquire(ctx, "sync:conn-1", 0)
	syncStore.Upsert(ctx, &domain.SyncRecord{
		ConnectionID: "conn-1",
		UserID:       "user-1",
		SyncStatus:   domain.SyncStatusInProgress,
	})
	provider.Pages = []*driven.DocumentPage{
		providerPage("next", 2, 0),
		providerPage("", 1, 2),
	}

	result, err := orchestrator.RunSync(ctx, "conn-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.TotalDocuments != 3 {
		t.Errorf("expected 3 documents, got %d", result.TotalDocuments)
	}
	if result.Truncated {
		t.Error("expected no truncation")
	}

	record, _ := syncStore.Get(ctx, "conn-1")
	if record.SyncStatus != domain.SyncStatusCompleted {
		t.Errorf("expected completed, got %s", record.SyncStatus)
	}
	if record.TotalDocuments != 3 {
		t.Errorf("expected record total 3, got %d", record.TotalDocuments)
	}
	if n, _ := documentStore.CountByConnection(ctx, "conn-1"); n != 3 {
		t.Errorf("expected 3 mirrored documents, got %d", n)
	}
	if lock.Held("sync:conn-1") {
		t.Error("expected sync lock released after run")
	}
}

// TestRunSync_DocumentCap tests that the mirror stops at the cap and flags truncation
func TestRunSync_DocumentCap(t *testing.T) {
	documentStore := mocks.NewMockDocumentStore()
	syncStore := mocks.NewMockSyncRecordStore()
	provider := mocks.NewMockRemoteProvider()

	orchestrator := NewSyncOrchestrator(SyncOrchestratorConfig{
		DocumentStore: documentStore,
		SyncStore:     syncStore,
		Provider:      provider,
		TaskQueue:     mocks.NewMockTaskQueue(),
		Lock:          mocks.NewMockDistributedLock(),
		MaxDocuments:  10,
	})

	ctx := context.Background()
	syncStore.Upsert(ctx, &domain.SyncRecord{ConnectionID: "conn-1", SyncStatus: domain.SyncStatusInProgress})
	provider.Pages = []*driven.DocumentPage{
		providerPage("p2", 6, 0),
		providerPage("p3", 9, 6), // trimmed to 4
		providerPage("", 5, 15),  // never fetched
	}

	result, err := orchestrator.RunSync(ctx, "conn-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.TotalDocuments != 10 {
		t.Errorf("expected cap of 10, got %d", result.TotalDocuments)
	}
	if !result.Truncated {
		t.Error("expected truncated result")
	}
	if provider.ListCnt != 2 {
		t.Errorf("expected paging to stop at the cap, got %d fetches", provider.ListCnt)
	}

	record, _ := syncStore.Get(ctx, "conn-1")
	if !record.IsTruncated {
		t.Error("expected record marked truncated")
	}
}

// TestRunSync_DocumentCapPageBoundary tests truncation when the cap lands
// exactly on a page edge with more pages behind it
func TestRunSync_DocumentCapPageBoundary(t *testing.T) {
	documentStore := mocks.NewMockDocumentStore()
	syncStore := mocks.NewMockSyncRecordStore()
	provider := mocks.NewMockRemoteProvider()

	orchestrator := NewSyncOrchestrator(SyncOrchestratorConfig{
		DocumentStore: documentStore,
		SyncStore:     syncStore,
		Provider:      provider,
		TaskQueue:     mocks.NewMockTaskQueue(),
		Lock:          mocks.NewMockDistributedLock(),
		MaxDocuments:  10,
	})

	ctx := context.Background()
	syncStore.Upsert(ctx, &domain.SyncRecord{ConnectionID: "conn-1", SyncStatus: domain.SyncStatusInProgress})
	provider.Pages = []*driven.DocumentPage{
		providerPage("p2", 5, 0),
		providerPage("p3", 5, 5), // lands exactly on the cap, cursor remains
		providerPage("", 5, 10),  // never fetched
	}

	result, err := orchestrator.RunSync(ctx, "conn-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.TotalDocuments != 10 {
		t.Errorf("expected cap of 10, got %d", result.TotalDocuments)
	}
	if !result.Truncated {
		t.Error("expected truncated result")
	}
	if provider.ListCnt != 2 {
		t.Errorf("expected paging to stop at the cap, got %d fetches", provider.ListCnt)
	}

	record, _ := syncStore.Get(ctx, "conn-1")
	if !record.IsTruncated {
		t.Error("expected record marked truncated")
	}
}

// TestRunSync_DocumentCapLastPage tests that an untrimmed final page
// reaching the cap with no cursor left is not flagged truncated
func TestRunSync_DocumentCapLastPage(t *testing.T) {
	documentStore := mocks.NewMockDocumentStore()
	syncStore := mocks.NewMockSyncRecordStore()
	provider := mocks.NewMockRemoteProvider()

	orchestrator := NewSyncOrchestrator(SyncOrchestratorConfig{
		DocumentStore: documentStore,
		SyncStore:     syncStore,
		Provider:      provider,
		TaskQueue:     mocks.NewMockTaskQueue(),
		Lock:          mocks.NewMockDistributedLock(),
		MaxDocuments:  10,
	})

	ctx := context.Background()
	syncStore.Upsert(ctx, &domain.SyncRecord{ConnectionID: "conn-1", SyncStatus: domain.SyncStatusInProgress})
	provider.Pages = []*driven.DocumentPage{
		providerPage("p2", 5, 0),
		providerPage("", 5, 5),
	}

	result, err := orchestrator.RunSync(ctx, "conn-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.TotalDocuments != 10 {
		t.Errorf("expected 10 documents, got %d", result.TotalDocuments)
	}
	if result.Truncated {
		t.Error("expected no truncation when the listing ends at the cap")
	}
}

// TestRunSync_PreservesPipelineState tests that a resync keeps download fields
func TestRunSync_PreservesPipelineState(t *testing.T) {
	orchestrator, documentStore, syncStore, provider, _, _ := createTestSyncOrchestrator(t)
	ctx := context.Background()

	// A document downloaded before this run re-appears in the listing.
	documentStore.Seed(&domain.Document{
		ID:            "doc-0",
		ConnectionID:  "conn-1",
		IsSubscribed:  true,
		DownloadState: domain.DownloadStateDone,
		StorageKey:    strPtr("conn-1/doc-0/key"),
		Content:       strPtr("cached text"),
	})
	syncStore.Upsert(ctx, &domain.SyncRecord{ConnectionID: "conn-1", SyncStatus: domain.SyncStatusInProgress})
	provider.Pages = []*driven.DocumentPage{providerPage("", 1, 0)}

	if _, err := orchestrator.RunSync(ctx, "conn-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	doc, err := documentStore.Get(ctx, "conn-1", "doc-0")
	if err != nil {
		t.Fatalf("expected document to survive: %v", err)
	}
	if doc.DownloadState != domain.DownloadStateDone {
		t.Errorf("expected download state preserved, got %q", doc.DownloadState)
	}
	if doc.StorageKey == nil || doc.Content == nil {
		t.Error("expected storage key and content preserved")
	}
	if !doc.IsSubscribed {
		t.Error("expected subscription flag preserved")
	}
	if doc.Title != "Document 0" {
		t.Errorf("expected mirror fields refreshed, got title %q", doc.Title)
	}
}

// TestRunSync_RecordGone tests cleanup when the connection disconnected first
func TestRunSync_RecordGone(t *testing.T) {
	orchestrator, documentStore, _, _, _, lock := createTestSyncOrchestrator(t)
	ctx := context.Background()

	lock.Acquire(ctx, "sync:conn-1", 0)
	documentStore.Seed(&domain.Document{ID: "orphan", ConnectionID: "conn-1"})

	result, err := orchestrator.RunSync(ctx, "conn-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil {
		t.Error("expected nil result for disconnected run")
	}
	if n, _ := documentStore.CountByConnection(ctx, "conn-1"); n != 0 {
		t.Errorf("expected orphaned documents cleaned up, got %d", n)
	}
	if lock.Held("sync:conn-1") {
		t.Error("expected lock released")
	}
}

// TestRunSync_FetchFailure tests that a failed listing marks the record failed
func TestRunSync_FetchFailure(t *testing.T) {
	orchestrator, _, syncStore, provider, _, _ := createTestSyncOrchestrator(t)
	ctx := context.Background()

	syncStore.Upsert(ctx, &domain.SyncRecord{ConnectionID: "conn-1", SyncStatus: domain.SyncStatusInProgress})
	provider.ListErr = errors.New("remote listing exploded")

	_, err := orchestrator.RunSync(ctx, "conn-1")
	if err == nil {
		t.Fatal("expected error")
	}

	record, _ := syncStore.Get(ctx, "conn-1")
	if record.SyncStatus != domain.SyncStatusFailed {
		t.Errorf("expected failed, got %s", record.SyncStatus)
	}
	if record.SyncError == nil {
		t.Error("expected error message recorded")
	}
}

// TestRunSync_ConnectionArchived tests that an archived connection is not retried
func TestRunSync_ConnectionArchived(t *testing.T) {
	orchestrator, _, syncStore, provider, _, _ := createTestSyncOrchestrator(t)
	ctx := context.Background()

	syncStore.Upsert(ctx, &domain.SyncRecord{ConnectionID: "conn-1", SyncStatus: domain.SyncStatusInProgress})
	provider.ListErr = domain.ErrConnectionNotFound

	_, err := orchestrator.RunSync(ctx, "conn-1")
	if err == nil {
		t.Fatal("expected error")
	}
	if !domain.IsNonRetriable(err) {
		t.Errorf("expected non-retriable error, got %v", err)
	}
}

// TestSyncStatus tests the polling read
func TestSyncStatus(t *testing.T) {
	orchestrator, _, syncStore, _, _, _ := createTestSyncOrchestrator(t)
	ctx := context.Background()

	if _, err := orchestrator.SyncStatus(ctx, "conn-1"); !errors.Is(err, domain.ErrSyncRecordNotFound) {
		t.Fatalf("expected ErrSyncRecordNotFound, got %v", err)
	}

	syncStore.Upsert(ctx, &domain.SyncRecord{ConnectionID: "conn-1", SyncStatus: domain.SyncStatusCompleted})
	record, err := orchestrator.SyncStatus(ctx, "conn-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.SyncStatus != domain.SyncStatusCompleted {
		t.Errorf("expected completed, got %s", record.SyncStatus)
	}
}
