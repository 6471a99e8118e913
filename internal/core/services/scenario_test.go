package services

import (
	"context"
	"testing"

	"github.com/custodia-labs/docsync-core/internal/core/domain"
	"github.com/custodia-labs/docsync-core/internal/core/ports/driven"
	"github.com/custodia-labs/docsync-core/internal/core/ports/driven/mocks"
	"github.com/custodia-labs/docsync-core/internal/core/ports/driving"
)

// TestSyncThenSubscribeFlow walks the main user journey across services:
// mirror a small hierarchy, then subscribe the folder and watch the
// cascade fan out download jobs for its files.
func TestSyncThenSubscribeFlow(t *testing.T) {
	ctx := context.Background()

	documentStore := mocks.NewMockDocumentStore()
	syncStore := mocks.NewMockSyncRecordStore()
	blobStore := mocks.NewMockBlobStore()
	taskQueue := mocks.NewMockTaskQueue()
	provider := mocks.NewMockRemoteProvider()
	lock := mocks.NewMockDistributedLock()

	orchestrator := NewSyncOrchestrator(SyncOrchestratorConfig{
		DocumentStore: documentStore,
		SyncStore:     syncStore,
		Provider:      provider,
		TaskQueue:     taskQueue,
		Lock:          lock,
	})
	pipeline := NewDownloadPipeline(DownloadPipelineConfig{
		DocumentStore: documentStore,
		BlobStore:     blobStore,
		Provider:      provider,
		Extractor:     mocks.NewMockTextExtractor(),
		TaskQueue:     taskQueue,
	})
	manager := NewSubscriptionManager(SubscriptionManagerConfig{
		DocumentStore: documentStore,
		SyncStore:     syncStore,
		BlobStore:     blobStore,
		Tree:          NewTreeService(documentStore, nil),
		Pipeline:      pipeline,
	})

	// One page, no cursor: a folder with two files under it.
	provider.Pages = []*driven.DocumentPage{
		{
			Records: []driven.ProviderRecord{
				{ID: "f1", Title: "Folder", CanHaveChildren: true},
				{ID: "a", Title: "File A", ParentID: "f1", CanDownload: true},
				{ID: "b", Title: "File B", ParentID: "f1", CanDownload: true},
			},
		},
	}

	if err := orchestrator.StartSync(ctx, driving.StartSyncRequest{
		ConnectionID:  "c1",
		UserID:        "user-1",
		IntegrationID: "google-drive",
	}); err != nil {
		t.Fatalf("start sync: %v", err)
	}

	// Drain the enqueued sync task the way the worker would.
	task, err := taskQueue.DequeueWithTimeout(ctx, 1)
	if err != nil || task == nil {
		t.Fatalf("expected a sync task: %v", err)
	}
	if task.Type != domain.TaskTypeSyncConnection {
		t.Fatalf("expected sync task, got %s", task.Type)
	}
	if _, err := orchestrator.RunSync(ctx, task.ConnectionID); err != nil {
		t.Fatalf("run sync: %v", err)
	}
	taskQueue.Ack(ctx, task.ID)

	if n, _ := documentStore.CountByConnection(ctx, "c1"); n != 3 {
		t.Fatalf("expected 3 mirrored documents, got %d", n)
	}
	for _, id := range []string{"f1", "a", "b"} {
		doc, err := documentStore.Get(ctx, "c1", id)
		if err != nil {
			t.Fatalf("expected %s mirrored: %v", id, err)
		}
		if doc.IsSubscribed {
			t.Errorf("expected %s unsubscribed after sync", id)
		}
	}

	record, _ := syncStore.Get(ctx, "c1")
	if record.SyncStatus != domain.SyncStatusCompleted {
		t.Fatalf("expected completed sync, got %s", record.SyncStatus)
	}
	if record.TotalDocuments != 3 {
		t.Errorf("expected record total 3, got %d", record.TotalDocuments)
	}

	// Subscribing the folder pulls in both files.
	result, err := manager.SetSubscription(ctx, "c1", []string{"f1"}, true, "tok")
	if err != nil {
		t.Fatalf("set subscription: %v", err)
	}
	if result.Affected != 3 {
		t.Errorf("expected 3 affected, got %d", result.Affected)
	}
	if result.Triggered != 2 {
		t.Errorf("expected 2 downloads triggered, got %d", result.Triggered)
	}

	for _, id := range []string{"f1", "a", "b"} {
		doc, _ := documentStore.Get(ctx, "c1", id)
		if !doc.IsSubscribed {
			t.Errorf("expected %s subscribed", id)
		}
	}

	downloads := map[string]bool{}
	for i := 0; i < 2; i++ {
		task, err := taskQueue.DequeueWithTimeout(ctx, 1)
		if err != nil || task == nil {
			t.Fatalf("expected a download task: %v", err)
		}
		if task.Type != domain.TaskTypeDownloadDocument {
			t.Fatalf("expected download task, got %s", task.Type)
		}
		downloads[task.DownloadJob().DocumentID] = true
	}
	if !downloads["a"] || !downloads["b"] {
		t.Errorf("expected downloads for a and b, got %v", downloads)
	}
}
