package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/docsync-core/internal/core/domain"
	"github.com/custodia-labs/docsync-core/internal/core/ports/driven"
)

// DownloadPipeline runs the per-document download-and-extract job:
//  1. Mark the document downloading
//  2. Fetch bytes from the resolved URI and write them to the blob store
//  3. Delete the previous blob, best-effort
//  4. Persist the new storage key
//  5. Optionally extract text, bounded by a hard timeout
//  6. Finalize content and state
//
// The job runner re-executes steps on retry, so every step is idempotent;
// a fresh attempt ID in the blob key keeps retries from overwriting a
// partially-written object.
type DownloadPipeline struct {
	documentStore driven.DocumentStore
	blobStore     driven.BlobStore
	provider      driven.RemoteProvider
	extractor     driven.TextExtractor
	taskQueue     driven.TaskQueue
	logger        *slog.Logger

	downloadTimeout   time.Duration
	extractionTimeout time.Duration
}

// DownloadPipelineConfig holds dependencies for DownloadPipeline.
type DownloadPipelineConfig struct {
	DocumentStore driven.DocumentStore
	BlobStore     driven.BlobStore
	Provider      driven.RemoteProvider
	Extractor     driven.TextExtractor
	TaskQueue     driven.TaskQueue
	Logger        *slog.Logger

	DownloadTimeout   time.Duration // default 60s
	ExtractionTimeout time.Duration // default 55s
}

// NewDownloadPipeline creates a new download pipeline.
func NewDownloadPipeline(cfg DownloadPipelineConfig) *DownloadPipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	downloadTimeout := cfg.DownloadTimeout
	if downloadTimeout <= 0 {
		downloadTimeout = 60 * time.Second
	}
	extractionTimeout := cfg.ExtractionTimeout
	if extractionTimeout <= 0 {
		extractionTimeout = 55 * time.Second
	}

	return &DownloadPipeline{
		documentStore:     cfg.DocumentStore,
		blobStore:         cfg.BlobStore,
		provider:          cfg.Provider,
		extractor:         cfg.Extractor,
		taskQueue:         cfg.TaskQueue,
		logger:            logger,
		downloadTimeout:   downloadTimeout,
		extractionTimeout: extractionTimeout,
	}
}

// Trigger enqueues a download job for a document. It is the synchronous
// half of the pipeline: the FLOW_TRIGGERED guard is set here, before the
// job exists, so a second trigger while the job is in flight is an
// idempotent skip. Returns true if a job was enqueued.
func (p *DownloadPipeline) Trigger(ctx context.Context, connectionID, documentID, token string) (bool, error) {
	doc, err := p.documentStore.Get(ctx, connectionID, documentID)
	if err != nil {
		return false, err
	}

	// Guarded transition: FLOW_TRIGGERED itself blocks re-entry, so a
	// document with a job already enqueued cannot gain a second one. Only
	// the resting states may start a new download, and the check-and-set
	// is atomic so two concurrent triggers enqueue exactly one job.
	ok, err := p.documentStore.UpdateDownloadState(ctx, connectionID, documentID, []domain.DownloadState{
		domain.DownloadStateNone,
		domain.DownloadStateDone,
		domain.DownloadStateFailed,
	}, domain.DownloadStateTriggered)
	if err != nil {
		return false, err
	}
	if !ok {
		p.logger.Debug("download already in flight, skipping trigger",
			"connection_id", connectionID,
			"document_id", documentID,
			"state", doc.DownloadState,
		)
		return false, nil
	}

	downloadURI, err := p.provider.ResolveDownload(ctx, connectionID, documentID)
	if err != nil {
		p.markFailed(ctx, connectionID, documentID, "failed to resolve download: "+err.Error())
		return false, fmt.Errorf("resolve download for %s: %w", documentID, err)
	}

	var prevKey string
	if doc.StorageKey != nil {
		prevKey = *doc.StorageKey
	}

	task := domain.NewDownloadDocumentTask(domain.DownloadJob{
		ConnectionID: connectionID,
		DocumentID:   documentID,
		DownloadURI:  downloadURI,
		Title:        doc.Title,
		StorageKey:   prevKey,
		Token:        token,
	})
	if err := p.taskQueue.Enqueue(ctx, task); err != nil {
		p.markFailed(ctx, connectionID, documentID, "failed to enqueue download: "+err.Error())
		return false, fmt.Errorf("enqueue download task: %w", err)
	}

	return true, nil
}

// Run executes the download job. Called by the worker for
// download_document tasks; retried as a whole on transient failures.
func (p *DownloadPipeline) Run(ctx context.Context, task *domain.Task) error {
	job := task.DownloadJob()
	logger := p.logger.With("connection_id", job.ConnectionID, "document_id", job.DocumentID)

	// Step 1: mark downloading. Unconditional - a retry re-enters from
	// DOWNLOADING_FROM_URL, a fresh run from FLOW_TRIGGERED.
	if _, err := p.documentStore.UpdateDownloadState(ctx, job.ConnectionID, job.DocumentID, nil, domain.DownloadStateDownloading); err != nil {
		if errors.Is(err, domain.ErrDocumentNotFound) {
			return domain.NonRetriable(err)
		}
		return fmt.Errorf("mark downloading: %w", err)
	}

	// Step 2: fetch and store under a fresh attempt-scoped key.
	newKey, err := p.fetchAndStore(ctx, job)
	if err != nil {
		return err
	}
	logger.Info("stored downloaded file", "storage_key", newKey)

	// Step 3: delete the previous object. A leak beats a failed job.
	if job.StorageKey != "" && job.StorageKey != newKey {
		if err := p.blobStore.Delete(ctx, job.StorageKey); err != nil {
			logger.Warn("failed to delete previous object", "storage_key", job.StorageKey, "error", err)
		} else {
			logger.Info("deleted previous object", "storage_key", job.StorageKey)
		}
	}

	willExtract := p.extractor != nil && p.extractor.Enabled() && p.extractor.Supports(job.Title)

	// Step 4: persist the storage key. No matching row means the document
	// was deleted while we worked; nothing left to update.
	nextState := domain.DownloadStateDone
	if willExtract {
		nextState = domain.DownloadStateExtracting
	}
	now := time.Now()
	if err := p.documentStore.Update(ctx, job.ConnectionID, job.DocumentID, domain.DocumentPatch{
		StorageKey:    &newKey,
		LastSyncedAt:  &now,
		DownloadState: &nextState,
	}); err != nil {
		if errors.Is(err, domain.ErrDocumentNotFound) {
			return domain.NonRetriable(fmt.Errorf("persist storage key: %w", err))
		}
		return fmt.Errorf("persist storage key: %w", err)
	}

	if !willExtract {
		return nil
	}

	// Step 5: extract text. Failure here is partial: the document keeps
	// its downloaded file and the job still succeeds.
	text, err := p.extractText(ctx, job, newKey)
	if err != nil {
		logger.Error("text extraction failed", "error", err)
		p.markFailed(ctx, job.ConnectionID, job.DocumentID, err.Error())
		return nil
	}

	// Step 6: finalize.
	done := domain.DownloadStateDone
	if err := p.documentStore.Update(ctx, job.ConnectionID, job.DocumentID, domain.DocumentPatch{
		Content:       &text,
		DownloadState: &done,
	}); err != nil {
		if errors.Is(err, domain.ErrDocumentNotFound) {
			return domain.NonRetriable(fmt.Errorf("save extracted text: %w", err))
		}
		return fmt.Errorf("save extracted text: %w", err)
	}

	logger.Info("download pipeline completed", "extracted", true)
	return nil
}

// fetchAndStore downloads the job's URI and writes the payload under a
// key namespaced by connection, document, and a unique attempt ID.
func (p *DownloadPipeline) fetchAndStore(ctx context.Context, job domain.DownloadJob) (string, error) {
	dlCtx, cancel := context.WithTimeout(ctx, p.downloadTimeout)
	defer cancel()

	result, err := p.provider.Download(dlCtx, job.DownloadURI)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("download timed out after %s: %w", p.downloadTimeout, err)
		}
		return "", fmt.Errorf("download from uri: %w", err)
	}

	key := fmt.Sprintf("%s/%s/%s/%s", job.ConnectionID, job.DocumentID, uuid.NewString(), job.Title)
	if result.Extension != "" {
		key = key + "." + result.Extension
	}

	storedKey, err := p.blobStore.Put(ctx, key, result.Data, result.ContentType)
	if err != nil {
		return "", fmt.Errorf("store downloaded file: %w", err)
	}
	return storedKey, nil
}

// extractText marks the document extracting, reads the stored bytes back,
// and runs the extractor under the hard timeout.
func (p *DownloadPipeline) extractText(ctx context.Context, job domain.DownloadJob, storageKey string) (string, error) {
	data, err := p.blobStore.Get(ctx, storageKey)
	if err != nil {
		return "", fmt.Errorf("read stored file: %w", err)
	}

	extractCtx, cancel := context.WithTimeout(ctx, p.extractionTimeout)
	defer cancel()

	text, err := p.extractor.Extract(extractCtx, job.Title, data)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("text extraction timed out after %s", p.extractionTimeout)
		}
		return "", fmt.Errorf("extract text: %w", err)
	}
	return text, nil
}

// HandleFailure is the terminal failure callback: it runs once per dead
// job, whichever step killed it, and records the cause on the document.
func (p *DownloadPipeline) HandleFailure(ctx context.Context, task *domain.Task, cause error) {
	job := task.DownloadJob()
	msg := "download failed"
	if cause != nil {
		msg = cause.Error()
	}
	p.markFailed(ctx, job.ConnectionID, job.DocumentID, msg)
}

func (p *DownloadPipeline) markFailed(ctx context.Context, connectionID, documentID, msg string) {
	failed := domain.DownloadStateFailed
	if err := p.documentStore.Update(ctx, connectionID, documentID, domain.DocumentPatch{
		DownloadState: &failed,
		DownloadError: &msg,
	}); err != nil {
		p.logger.Error("failed to record download failure",
			"connection_id", connectionID,
			"document_id", documentID,
			"error", err,
		)
	}
}
