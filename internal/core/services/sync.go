package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/custodia-labs/docsync-core/internal/core/domain"
	"github.com/custodia-labs/docsync-core/internal/core/ports/driven"
	"github.com/custodia-labs/docsync-core/internal/core/ports/driving"
)

const syncLockPrefix = "sync:"

// SyncOrchestrator drives the full mirror of a connection's hierarchy
// into the document store:
//  1. Reset the sync record and clear previously mirrored documents
//  2. Page through the remote listing, mapping records to documents
//  3. Bulk-upsert each page, capped at MaxDocuments
//  4. Mark the record completed or failed exactly once per run
//
// Runs are serialized per connection with a distributed lock; a record
// deleted mid-run is treated as a disconnect and triggers cleanup instead
// of a failure status.
type SyncOrchestrator struct {
	documentStore driven.DocumentStore
	syncStore     driven.SyncRecordStore
	provider      driven.RemoteProvider
	taskQueue     driven.TaskQueue
	lock          driven.DistributedLock
	logger        *slog.Logger

	maxDocuments int
	pageTimeout  time.Duration
	lockTTL      time.Duration
	// settleDelay holds back the final completed write so that pollers
	// observe the last in-progress count. Zero in tests.
	settleDelay time.Duration
}

// SyncOrchestratorConfig holds dependencies for SyncOrchestrator.
type SyncOrchestratorConfig struct {
	DocumentStore driven.DocumentStore
	SyncStore     driven.SyncRecordStore
	Provider      driven.RemoteProvider
	TaskQueue     driven.TaskQueue
	Lock          driven.DistributedLock
	Logger        *slog.Logger

	MaxDocuments int           // default 1000
	PageTimeout  time.Duration // default 30s
	LockTTL      time.Duration // default 10m
	SettleDelay  time.Duration
}

// NewSyncOrchestrator creates a new sync orchestrator.
func NewSyncOrchestrator(cfg SyncOrchestratorConfig) *SyncOrchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	maxDocuments := cfg.MaxDocuments
	if maxDocuments <= 0 {
		maxDocuments = 1000
	}
	pageTimeout := cfg.PageTimeout
	if pageTimeout <= 0 {
		pageTimeout = 30 * time.Second
	}
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = 10 * time.Minute
	}

	return &SyncOrchestrator{
		documentStore: cfg.DocumentStore,
		syncStore:     cfg.SyncStore,
		provider:      cfg.Provider,
		taskQueue:     cfg.TaskQueue,
		lock:          cfg.Lock,
		logger:        logger,
		maxDocuments:  maxDocuments,
		pageTimeout:   pageTimeout,
		lockTTL:       lockTTL,
		settleDelay:   cfg.SettleDelay,
	}
}

var _ driving.SyncOrchestrator = (*SyncOrchestrator)(nil)

// StartSync accepts a sync request. It takes the per-connection lock,
// resets the sync record to in_progress, clears the connection's mirrored
// documents, and enqueues the mirror task. The lock is released by the
// task (RunSync), not here.
func (o *SyncOrchestrator) StartSync(ctx context.Context, req driving.StartSyncRequest) error {
	if req.ConnectionID == "" {
		return fmt.Errorf("%w: connection id is required", domain.ErrInvalidInput)
	}

	acquired, err := o.lock.Acquire(ctx, syncLockPrefix+req.ConnectionID, o.lockTTL)
	if err != nil {
		return fmt.Errorf("acquire sync lock: %w", err)
	}
	if !acquired {
		return domain.ErrSyncInProgress
	}

	o.logger.Info("starting sync", "connection_id", req.ConnectionID, "integration", req.IntegrationName)

	record := &domain.SyncRecord{
		ConnectionID:    req.ConnectionID,
		UserID:          req.UserID,
		IntegrationID:   req.IntegrationID,
		IntegrationName: req.IntegrationName,
		IntegrationLogo: req.IntegrationLogo,
		SyncStatus:      domain.SyncStatusInProgress,
		SyncStartedAt:   time.Now(),
	}
	if err := o.syncStore.Upsert(ctx, record); err != nil {
		o.releaseLock(ctx, req.ConnectionID)
		return fmt.Errorf("upsert sync record: %w", err)
	}

	// Full mirror, not incremental: every run starts from a clean slate.
	if err := o.documentStore.DeleteByConnection(ctx, req.ConnectionID); err != nil {
		o.releaseLock(ctx, req.ConnectionID)
		return fmt.Errorf("clear existing documents: %w", err)
	}

	if err := o.taskQueue.Enqueue(ctx, domain.NewSyncConnectionTask(req.ConnectionID)); err != nil {
		o.releaseLock(ctx, req.ConnectionID)
		return fmt.Errorf("enqueue sync task: %w", err)
	}

	return nil
}

// SyncStatus returns the connection's sync record for polling.
func (o *SyncOrchestrator) SyncStatus(ctx context.Context, connectionID string) (*domain.SyncRecord, error) {
	return o.syncStore.Get(ctx, connectionID)
}

// SyncResult summarises a completed mirror run.
type SyncResult struct {
	ConnectionID   string `json:"connection_id"`
	TotalDocuments int    `json:"total_documents"`
	Truncated      bool   `json:"truncated"`
}

// RunSync executes the fetch loop for a connection. It is called by the
// worker for sync_connection tasks and may be re-executed on retry; the
// mirror upsert is idempotent, so a rerun converges to the same state.
func (o *SyncOrchestrator) RunSync(ctx context.Context, connectionID string) (*SyncResult, error) {
	defer o.releaseLock(ctx, connectionID)

	record, err := o.syncStore.Get(ctx, connectionID)
	if err != nil {
		if errors.Is(err, domain.ErrSyncRecordNotFound) {
			// Disconnected before the task ran; nothing to mirror.
			return nil, o.cleanup(ctx, connectionID)
		}
		return nil, fmt.Errorf("get sync record: %w", err)
	}

	result, err := o.fetchAll(ctx, record)
	if err != nil {
		return nil, o.failSync(ctx, connectionID, result, err)
	}

	// Let pollers catch the final in-progress read before flipping status.
	if o.settleDelay > 0 {
		select {
		case <-time.After(o.settleDelay):
		case <-ctx.Done():
		}
	}

	if err := o.syncStore.Complete(ctx, connectionID, result.TotalDocuments, result.Truncated, time.Now()); err != nil {
		if errors.Is(err, domain.ErrSyncRecordNotFound) {
			// The connection was disconnected (or a newer sync superseded
			// this one and was itself torn down) while we were paging.
			// Never resurrect a completed status over that.
			return nil, o.cleanup(ctx, connectionID)
		}
		return nil, fmt.Errorf("complete sync record: %w", err)
	}

	o.logger.Info("sync completed",
		"connection_id", connectionID,
		"total_documents", result.TotalDocuments,
		"truncated", result.Truncated,
	)

	return result, nil
}

// fetchAll pages through the remote listing and upserts each batch until
// the cursor runs out or the document cap is hit.
func (o *SyncOrchestrator) fetchAll(ctx context.Context, record *domain.SyncRecord) (*SyncResult, error) {
	result := &SyncResult{ConnectionID: record.ConnectionID}
	cursor := ""

	for {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		page, err := o.fetchPage(ctx, record.ConnectionID, cursor)
		if err != nil {
			if errors.Is(err, domain.ErrConnectionNotFound) {
				return result, domain.NonRetriable(fmt.Errorf("connection %q was archived during sync: %w", record.ConnectionID, err))
			}
			return result, fmt.Errorf("fetch documents page: %w", err)
		}

		batch := o.mapRecords(page.Records, record)

		// Enforce the cap: trim the batch so the cumulative count never
		// exceeds MaxDocuments, and stop paging afterwards.
		if result.TotalDocuments+len(batch) > o.maxDocuments {
			batch = batch[:o.maxDocuments-result.TotalDocuments]
			result.Truncated = true
		}

		if len(batch) > 0 {
			if err := o.documentStore.UpsertMirror(ctx, batch); err != nil {
				return result, fmt.Errorf("upsert documents batch: %w", err)
			}
			result.TotalDocuments += len(batch)
		}

		if result.TotalDocuments >= o.maxDocuments {
			// The cap can land exactly on a page boundary; the run is still
			// truncated whenever the provider had more pages to give.
			if page.Cursor != "" {
				result.Truncated = true
			}
			if result.Truncated {
				o.logger.Warn("document cap reached, truncating sync",
					"connection_id", record.ConnectionID,
					"max_documents", o.maxDocuments,
				)
			}
			break
		}

		cursor = page.Cursor
		if cursor == "" {
			break
		}
	}

	return result, nil
}

// fetchPage requests one listing page under the per-page timeout.
func (o *SyncOrchestrator) fetchPage(ctx context.Context, connectionID, cursor string) (*driven.DocumentPage, error) {
	pageCtx, cancel := context.WithTimeout(ctx, o.pageTimeout)
	defer cancel()

	page, err := o.provider.ListDocuments(pageCtx, connectionID, cursor)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("document fetch timed out after %s: %w", o.pageTimeout, err)
		}
		return nil, err
	}
	return page, nil
}

// mapRecords maps provider records into mirror documents. Subscription
// and content always start cleared; existing pipeline state survives via
// the mirror-only upsert.
func (o *SyncOrchestrator) mapRecords(records []driven.ProviderRecord, syncRecord *domain.SyncRecord) []*domain.Document {
	docs := make([]*domain.Document, 0, len(records))
	for _, r := range records {
		doc := &domain.Document{
			ID:              r.ID,
			ConnectionID:    syncRecord.ConnectionID,
			UserID:          syncRecord.UserID,
			Title:           r.Title,
			CanHaveChildren: r.CanHaveChildren,
			CanDownload:     r.CanDownload,
			ResourceURI:     r.ResourceURI,
			CreatedAt:       r.CreatedAt,
			UpdatedAt:       r.UpdatedAt,
			IsSubscribed:    false,
		}
		if r.ParentID != "" {
			parentID := r.ParentID
			doc.ParentID = &parentID
		}
		docs = append(docs, doc)
	}
	return docs
}

// failSync records a failed run. A missing sync record means the
// connection was disconnected mid-sync; that is a cleanup signal, not a
// failure to report.
func (o *SyncOrchestrator) failSync(ctx context.Context, connectionID string, result *SyncResult, cause error) error {
	total := 0
	if result != nil {
		total = result.TotalDocuments
	}

	o.logger.Error("sync failed", "connection_id", connectionID, "error", cause)

	if err := o.syncStore.Fail(ctx, connectionID, cause.Error(), total, time.Now()); err != nil {
		if errors.Is(err, domain.ErrSyncRecordNotFound) {
			if cleanupErr := o.cleanup(ctx, connectionID); cleanupErr != nil {
				return cleanupErr
			}
			return nil
		}
		o.logger.Error("failed to record sync failure", "connection_id", connectionID, "error", err)
	}

	return cause
}

// cleanup removes a disconnected connection's documents.
func (o *SyncOrchestrator) cleanup(ctx context.Context, connectionID string) error {
	o.logger.Info("sync record gone, cleaning up documents", "connection_id", connectionID)
	if err := o.documentStore.DeleteByConnection(ctx, connectionID); err != nil {
		return fmt.Errorf("cleanup documents: %w", err)
	}
	return nil
}

func (o *SyncOrchestrator) releaseLock(ctx context.Context, connectionID string) {
	if err := o.lock.Release(ctx, syncLockPrefix+connectionID); err != nil {
		o.logger.Warn("failed to release sync lock", "connection_id", connectionID, "error", err)
	}
}
