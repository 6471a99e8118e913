package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/custodia-labs/docsync-core/internal/core/domain"
	"github.com/custodia-labs/docsync-core/internal/core/ports/driven"
	"github.com/custodia-labs/docsync-core/internal/core/ports/driven/mocks"
)

// Test helper to create DownloadPipeline with mocks
func createTestDownloadPipeline(t *testing.T) (
	*DownloadPipeline,
	*mocks.MockDocumentStore,
	*mocks.MockBlobStore,
	*mocks.MockRemoteProvider,
	*mocks.MockTextExtractor,
	*mocks.MockTaskQueue,
) {
	t.Helper()

	documentStore := mocks.NewMockDocumentStore()
	blobStore := mocks.NewMockBlobStore()
	provider := mocks.NewMockRemoteProvider()
	extractor := mocks.NewMockTextExtractor()
	taskQueue := mocks.NewMockTaskQueue()

	pipeline := NewDownloadPipeline(DownloadPipelineConfig{
		DocumentStore: documentStore,
		BlobStore:     blobStore,
		Provider:      provider,
		Extractor:     extractor,
		TaskQueue:     taskQueue,
	})

	return pipeline, documentStore, blobStore, provider, extractor, taskQueue
}

func seedFile(store *mocks.MockDocumentStore, state domain.DownloadState) {
	store.Seed(&domain.Document{
		ID:            "doc-1",
		ConnectionID:  "conn-1",
		UserID:        "user-1",
		Title:         "report.pdf",
		CanDownload:   true,
		DownloadState: state,
	})
}

// TestTrigger tests the happy path: guard set, job enqueued
func TestTrigger(t *testing.T) {
	pipeline, documentStore, _, _, _, taskQueue := createTestDownloadPipeline(t)
	ctx := context.Background()
	seedFile(documentStore, domain.DownloadStateNone)

	triggered, err := pipeline.Trigger(ctx, "conn-1", "doc-1", "tok")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !triggered {
		t.Fatal("expected trigger to enqueue")
	}

	doc, _ := documentStore.Get(ctx, "conn-1", "doc-1")
	if doc.DownloadState != domain.DownloadStateTriggered {
		t.Errorf("expected FLOW_TRIGGERED, got %q", doc.DownloadState)
	}
	if taskQueue.PendingCount() != 1 {
		t.Fatalf("expected 1 task, got %d", taskQueue.PendingCount())
	}

	task, _ := taskQueue.DequeueWithTimeout(ctx, 0)
	job := task.DownloadJob()
	if job.DocumentID != "doc-1" || job.ConnectionID != "conn-1" {
		t.Errorf("unexpected job payload: %+v", job)
	}
	if job.Token != "tok" {
		t.Errorf("expected token forwarded, got %q", job.Token)
	}
}

// TestTrigger_InFlight tests the idempotent skip while downloading
func TestTrigger_InFlight(t *testing.T) {
	pipeline, documentStore, _, _, _, taskQueue := createTestDownloadPipeline(t)
	ctx := context.Background()

	for _, state := range []domain.DownloadState{domain.DownloadStateTriggered, domain.DownloadStateDownloading, domain.DownloadStateExtracting} {
		documentStore.Seed(&domain.Document{
			ID: "doc-1", ConnectionID: "conn-1", Title: "report.pdf",
			CanDownload: true, DownloadState: state,
		})

		triggered, err := pipeline.Trigger(ctx, "conn-1", "doc-1", "tok")
		if err != nil {
			t.Fatalf("state %s: unexpected error: %v", state, err)
		}
		if triggered {
			t.Errorf("state %s: expected skip", state)
		}
	}
	if taskQueue.PendingCount() != 0 {
		t.Errorf("expected no tasks, got %d", taskQueue.PendingCount())
	}
}

// TestTrigger_DoubleTrigger tests that only the first of two triggers
// enqueues while the job sits in FLOW_TRIGGERED
func TestTrigger_DoubleTrigger(t *testing.T) {
	pipeline, documentStore, _, _, _, taskQueue := createTestDownloadPipeline(t)
	ctx := context.Background()
	seedFile(documentStore, domain.DownloadStateNone)

	first, err := pipeline.Trigger(ctx, "conn-1", "doc-1", "tok")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !first {
		t.Fatal("expected first trigger to enqueue")
	}

	second, err := pipeline.Trigger(ctx, "conn-1", "doc-1", "tok")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second {
		t.Error("expected second trigger to skip")
	}
	if taskQueue.PendingCount() != 1 {
		t.Errorf("expected exactly one enqueued job, got %d", taskQueue.PendingCount())
	}
}

// TestTrigger_Retriggerable tests re-trigger from terminal states
func TestTrigger_Retriggerable(t *testing.T) {
	for _, state := range []domain.DownloadState{domain.DownloadStateDone, domain.DownloadStateFailed} {
		pipeline, documentStore, _, _, _, taskQueue := createTestDownloadPipeline(t)
		seedFile(documentStore, state)

		triggered, err := pipeline.Trigger(context.Background(), "conn-1", "doc-1", "tok")
		if err != nil {
			t.Fatalf("state %s: unexpected error: %v", state, err)
		}
		if !triggered {
			t.Errorf("state %s: expected re-trigger", state)
		}
		if taskQueue.PendingCount() != 1 {
			t.Errorf("state %s: expected 1 task", state)
		}
	}
}

// TestTrigger_ResolveFailure tests that a resolve failure marks the document failed
func TestTrigger_ResolveFailure(t *testing.T) {
	pipeline, documentStore, _, provider, _, taskQueue := createTestDownloadPipeline(t)
	ctx := context.Background()
	seedFile(documentStore, domain.DownloadStateNone)
	provider.ResolveErr = errors.New("no download uri")

	_, err := pipeline.Trigger(ctx, "conn-1", "doc-1", "tok")
	if err == nil {
		t.Fatal("expected error")
	}

	doc, _ := documentStore.Get(ctx, "conn-1", "doc-1")
	if doc.DownloadState != domain.DownloadStateFailed {
		t.Errorf("expected FAILED, got %q", doc.DownloadState)
	}
	if doc.DownloadError == nil {
		t.Error("expected download error recorded")
	}
	if taskQueue.PendingCount() != 0 {
		t.Error("expected no task enqueued")
	}
}

// TestTrigger_MissingDocument tests trigger against an unknown document
func TestTrigger_MissingDocument(t *testing.T) {
	pipeline, _, _, _, _, _ := createTestDownloadPipeline(t)

	_, err := pipeline.Trigger(context.Background(), "conn-1", "ghost", "tok")
	if !errors.Is(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
}

func downloadTask(storageKey string) *domain.Task {
	return domain.NewDownloadDocumentTask(domain.DownloadJob{
		ConnectionID: "conn-1",
		DocumentID:   "doc-1",
		DownloadURI:  "https://remote.example/doc-1",
		Title:        "report.pdf",
		StorageKey:   storageKey,
		Token:        "tok",
	})
}

// TestRun tests the full pipeline: download, store, extract, finalize
func TestRun(t *testing.T) {
	pipeline, documentStore, blobStore, _, extractor, _ := createTestDownloadPipeline(t)
	ctx := context.Background()
	seedFile(documentStore, domain.DownloadStateTriggered)
	extractor.Text = "hello from the pdf"

	if err := pipeline.Run(ctx, downloadTask("")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	doc, _ := documentStore.Get(ctx, "conn-1", "doc-1")
	if doc.DownloadState != domain.DownloadStateDone {
		t.Errorf("expected DONE, got %q", doc.DownloadState)
	}
	if doc.StorageKey == nil {
		t.Fatal("expected storage key set")
	}
	if !strings.HasPrefix(*doc.StorageKey, "conn-1/doc-1/") {
		t.Errorf("expected namespaced key, got %q", *doc.StorageKey)
	}
	if doc.Content == nil || *doc.Content != "hello from the pdf" {
		t.Error("expected extracted content saved")
	}
	if doc.LastSyncedAt == nil {
		t.Error("expected last synced timestamp")
	}
	if !blobStore.Has(*doc.StorageKey) {
		t.Error("expected blob stored")
	}
}

// TestRun_ReplacesPreviousBlob tests that a re-download removes the old object
func TestRun_ReplacesPreviousBlob(t *testing.T) {
	pipeline, documentStore, blobStore, _, _, _ := createTestDownloadPipeline(t)
	ctx := context.Background()
	seedFile(documentStore, domain.DownloadStateTriggered)
	blobStore.Put(ctx, "conn-1/doc-1/old/report.pdf", []byte("old"), "")

	if err := pipeline.Run(ctx, downloadTask("conn-1/doc-1/old/report.pdf")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if blobStore.Has("conn-1/doc-1/old/report.pdf") {
		t.Error("expected previous blob deleted")
	}
	if blobStore.Len() != 1 {
		t.Errorf("expected exactly the new blob, got %d", blobStore.Len())
	}
}

// TestRun_PreviousBlobDeleteFailure tests that a stuck delete does not fail the job
func TestRun_PreviousBlobDeleteFailure(t *testing.T) {
	pipeline, documentStore, blobStore, _, _, _ := createTestDownloadPipeline(t)
	ctx := context.Background()
	seedFile(documentStore, domain.DownloadStateTriggered)
	blobStore.DeleteErrs["conn-1/doc-1/old/report.pdf"] = errors.New("storage hiccup")

	if err := pipeline.Run(ctx, downloadTask("conn-1/doc-1/old/report.pdf")); err != nil {
		t.Fatalf("expected job to succeed despite delete failure, got %v", err)
	}

	doc, _ := documentStore.Get(ctx, "conn-1", "doc-1")
	if doc.DownloadState != domain.DownloadStateDone {
		t.Errorf("expected DONE, got %q", doc.DownloadState)
	}
}

// TestRun_ExtractionFailure tests the partial-failure policy: the download
// survives, the state goes FAILED, and the job is not retried
func TestRun_ExtractionFailure(t *testing.T) {
	pipeline, documentStore, blobStore, _, extractor, _ := createTestDownloadPipeline(t)
	ctx := context.Background()
	seedFile(documentStore, domain.DownloadStateTriggered)
	extractor.ExtractErr = errors.New("parser crashed")

	if err := pipeline.Run(ctx, downloadTask("")); err != nil {
		t.Fatalf("expected job success on extraction failure, got %v", err)
	}

	doc, _ := documentStore.Get(ctx, "conn-1", "doc-1")
	if doc.DownloadState != domain.DownloadStateFailed {
		t.Errorf("expected FAILED, got %q", doc.DownloadState)
	}
	if doc.DownloadError == nil {
		t.Error("expected extraction error recorded")
	}
	if doc.StorageKey == nil || !blobStore.Has(*doc.StorageKey) {
		t.Error("expected downloaded file preserved")
	}
	if doc.Content != nil {
		t.Error("expected no content saved")
	}
}

// TestRun_ExtractionTimeout tests the hard extraction deadline
func TestRun_ExtractionTimeout(t *testing.T) {
	documentStore := mocks.NewMockDocumentStore()
	extractor := mocks.NewMockTextExtractor()
	extractor.Delayed = true

	pipeline := NewDownloadPipeline(DownloadPipelineConfig{
		DocumentStore:     documentStore,
		BlobStore:         mocks.NewMockBlobStore(),
		Provider:          mocks.NewMockRemoteProvider(),
		Extractor:         extractor,
		TaskQueue:         mocks.NewMockTaskQueue(),
		ExtractionTimeout: 10 * time.Millisecond,
	})
	seedFile(documentStore, domain.DownloadStateTriggered)

	if err := pipeline.Run(context.Background(), downloadTask("")); err != nil {
		t.Fatalf("expected job success, got %v", err)
	}

	doc, _ := documentStore.Get(context.Background(), "conn-1", "doc-1")
	if doc.DownloadState != domain.DownloadStateFailed {
		t.Errorf("expected FAILED after timeout, got %q", doc.DownloadState)
	}
}

// TestRun_DownloadTimeout tests the download deadline surfaces as a retriable error
func TestRun_DownloadTimeout(t *testing.T) {
	documentStore := mocks.NewMockDocumentStore()
	provider := mocks.NewMockRemoteProvider()
	provider.DownloadDelayed = true

	pipeline := NewDownloadPipeline(DownloadPipelineConfig{
		DocumentStore:   documentStore,
		BlobStore:       mocks.NewMockBlobStore(),
		Provider:        provider,
		Extractor:       mocks.NewMockTextExtractor(),
		TaskQueue:       mocks.NewMockTaskQueue(),
		DownloadTimeout: 10 * time.Millisecond,
	})
	seedFile(documentStore, domain.DownloadStateTriggered)

	err := pipeline.Run(context.Background(), downloadTask(""))
	if err == nil {
		t.Fatal("expected error")
	}
	if domain.IsNonRetriable(err) {
		t.Error("expected a retriable timeout error")
	}
}

// TestRun_NoExtraction tests skipping extraction for unsupported files
func TestRun_NoExtraction(t *testing.T) {
	pipeline, documentStore, _, _, extractor, _ := createTestDownloadPipeline(t)
	ctx := context.Background()
	documentStore.Seed(&domain.Document{
		ID: "doc-1", ConnectionID: "conn-1", Title: "archive.zip",
		CanDownload: true, DownloadState: domain.DownloadStateTriggered,
	})

	task := domain.NewDownloadDocumentTask(domain.DownloadJob{
		ConnectionID: "conn-1", DocumentID: "doc-1",
		DownloadURI: "https://remote.example/doc-1", Title: "archive.zip",
	})
	if err := pipeline.Run(ctx, task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if extractor.ExtractCnt != 0 {
		t.Errorf("expected no extraction for zip, got %d calls", extractor.ExtractCnt)
	}

	doc, _ := documentStore.Get(ctx, "conn-1", "doc-1")
	if doc.DownloadState != domain.DownloadStateDone {
		t.Errorf("expected DONE, got %q", doc.DownloadState)
	}
	if doc.Content != nil {
		t.Error("expected no content")
	}
}

// TestRun_DocumentGone tests that a vanished document kills the job permanently
func TestRun_DocumentGone(t *testing.T) {
	pipeline, _, _, _, _, _ := createTestDownloadPipeline(t)

	err := pipeline.Run(context.Background(), downloadTask(""))
	if err == nil {
		t.Fatal("expected error")
	}
	if !domain.IsNonRetriable(err) {
		t.Errorf("expected non-retriable, got %v", err)
	}
}

// TestHandleFailure tests the terminal failure callback
func TestHandleFailure(t *testing.T) {
	pipeline, documentStore, _, _, _, _ := createTestDownloadPipeline(t)
	ctx := context.Background()
	seedFile(documentStore, domain.DownloadStateDownloading)

	pipeline.HandleFailure(ctx, downloadTask(""), errors.New("remote kept resetting"))

	doc, _ := documentStore.Get(ctx, "conn-1", "doc-1")
	if doc.DownloadState != domain.DownloadStateFailed {
		t.Errorf("expected FAILED, got %q", doc.DownloadState)
	}
	if doc.DownloadError == nil || *doc.DownloadError != "remote kept resetting" {
		t.Error("expected cause recorded")
	}
}

// TestRun_StoresUnderContentType verifies the blob round trip carries data intact
func TestRun_StoresUnderContentType(t *testing.T) {
	pipeline, documentStore, blobStore, provider, _, _ := createTestDownloadPipeline(t)
	ctx := context.Background()
	seedFile(documentStore, domain.DownloadStateTriggered)
	provider.DownloadData = &driven.DownloadResult{
		Data:        []byte("%PDF-1.7 ..."),
		ContentType: "application/pdf",
	}

	if err := pipeline.Run(ctx, downloadTask("")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	doc, _ := documentStore.Get(ctx, "conn-1", "doc-1")
	data, err := blobStore.Get(ctx, *doc.StorageKey)
	if err != nil {
		t.Fatalf("expected stored blob: %v", err)
	}
	if string(data) != "%PDF-1.7 ..." {
		t.Errorf("unexpected stored bytes: %q", data)
	}
}
