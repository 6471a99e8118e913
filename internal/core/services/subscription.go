package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/custodia-labs/docsync-core/internal/core/domain"
	"github.com/custodia-labs/docsync-core/internal/core/ports/driven"
	"github.com/custodia-labs/docsync-core/internal/core/ports/driving"
)

// SubscriptionManager applies subscribe/unsubscribe cascades over the
// mirrored tree and reacts to create/delete notifications from the
// source. Folder selections are expanded to their whole subtree before
// the flag is persisted; downloads are enqueued for files only.
type SubscriptionManager struct {
	documentStore driven.DocumentStore
	syncStore     driven.SyncRecordStore
	blobStore     driven.BlobStore
	tree          *TreeService
	pipeline      *DownloadPipeline
	logger        *slog.Logger

	// blobDeleteConcurrency bounds parallel object deletes during a
	// deletion cascade.
	blobDeleteConcurrency int
}

// SubscriptionManagerConfig holds dependencies for SubscriptionManager.
type SubscriptionManagerConfig struct {
	DocumentStore driven.DocumentStore
	SyncStore     driven.SyncRecordStore
	BlobStore     driven.BlobStore
	Tree          *TreeService
	Pipeline      *DownloadPipeline
	Logger        *slog.Logger

	BlobDeleteConcurrency int // default 5
}

// NewSubscriptionManager creates a new subscription manager.
func NewSubscriptionManager(cfg SubscriptionManagerConfig) *SubscriptionManager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := cfg.BlobDeleteConcurrency
	if concurrency <= 0 {
		concurrency = 5
	}

	return &SubscriptionManager{
		documentStore:         cfg.DocumentStore,
		syncStore:             cfg.SyncStore,
		blobStore:             cfg.BlobStore,
		tree:                  cfg.Tree,
		pipeline:              cfg.Pipeline,
		logger:                logger,
		blobDeleteConcurrency: concurrency,
	}
}

var _ driving.SubscriptionManager = (*SubscriptionManager)(nil)

// SetSubscription expands each requested ID to itself plus all
// descendants, persists the flag on the whole expansion, and - when
// subscribing - enqueues a download for every file not already in
// flight. Per-file trigger failures are logged and counted, never fatal;
// unsubscribing leaves in-flight jobs alone.
func (m *SubscriptionManager) SetSubscription(ctx context.Context, connectionID string, documentIDs []string, subscribed bool, token string) (*driving.SubscriptionResult, error) {
	expanded := make([]string, 0, len(documentIDs))
	seen := make(map[string]bool)

	for _, id := range documentIDs {
		docs, err := m.tree.DescendantsOf(ctx, connectionID, id)
		if err != nil {
			return nil, fmt.Errorf("expand subtree of %s: %w", id, err)
		}
		for _, d := range docs {
			if !seen[d.ID] {
				seen[d.ID] = true
				expanded = append(expanded, d.ID)
			}
		}
	}

	if len(expanded) == 0 {
		return &driving.SubscriptionResult{}, nil
	}

	if err := m.documentStore.SetSubscription(ctx, connectionID, expanded, subscribed); err != nil {
		return nil, fmt.Errorf("persist subscription flag: %w", err)
	}

	result := &driving.SubscriptionResult{Affected: len(expanded)}

	if !subscribed {
		return result, nil
	}

	docs, err := m.documentStore.FindByIDs(ctx, connectionID, expanded)
	if err != nil {
		return nil, fmt.Errorf("load subscribed documents: %w", err)
	}

	for _, doc := range docs {
		if !doc.IsFile() {
			continue
		}
		triggered, err := m.pipeline.Trigger(ctx, connectionID, doc.ID, token)
		if err != nil {
			m.logger.Error("failed to trigger download",
				"connection_id", connectionID,
				"document_id", doc.ID,
				"error", err,
			)
			continue
		}
		if triggered {
			result.Triggered++
		}
	}

	return result, nil
}

// HandleDocumentCreated mirrors a single created document. The new node
// inherits its subscription from the ancestor chain; an inherited
// subscription on a file starts a download immediately.
func (m *SubscriptionManager) HandleDocumentCreated(ctx context.Context, event domain.DocumentCreatedEvent) error {
	record, err := m.syncStore.Get(ctx, event.ConnectionID)
	if err != nil {
		if errors.Is(err, domain.ErrSyncRecordNotFound) {
			return fmt.Errorf("%w: no sync record for connection %q", domain.ErrConnectionNotFound, event.ConnectionID)
		}
		return fmt.Errorf("get sync record: %w", err)
	}

	fields := event.Fields
	var parentID *string
	if fields.ParentID != "" {
		p := fields.ParentID
		parentID = &p
	}

	inherited, err := m.tree.IsAncestorSubscribed(ctx, event.ConnectionID, parentID)
	if err != nil {
		return fmt.Errorf("check ancestor subscription: %w", err)
	}

	doc := &domain.Document{
		ID:              fields.ID,
		ConnectionID:    event.ConnectionID,
		UserID:          record.UserID,
		Title:           fields.Title,
		ParentID:        parentID,
		CanHaveChildren: fields.CanHaveChildren,
		ResourceURI:     fields.ResourceURI,
		CreatedAt:       fields.CreatedAt,
		UpdatedAt:       fields.UpdatedAt,
		IsSubscribed:    inherited,
	}

	inserted, err := m.documentStore.InsertIfAbsent(ctx, doc)
	if err != nil {
		return fmt.Errorf("insert created document: %w", err)
	}
	if !inserted {
		m.logger.Info("document already exists, ignoring create",
			"connection_id", event.ConnectionID,
			"document_id", fields.ID,
		)
		return nil
	}

	if inherited && doc.IsFile() {
		if _, err := m.pipeline.Trigger(ctx, event.ConnectionID, fields.ID, event.Token); err != nil {
			// The document is mirrored; the download can be retried by
			// re-subscribing. The webhook still acknowledges receipt.
			m.logger.Error("failed to trigger inherited download",
				"connection_id", event.ConnectionID,
				"document_id", fields.ID,
				"error", err,
			)
		}
	}

	return nil
}

// HandleDocumentUpdated patches the mirrored metadata of a single
// document. Only title, resource URI and the source timestamp change;
// tree position and pipeline state stay as they are. An update for a
// document that was never mirrored is logged and acknowledged.
func (m *SubscriptionManager) HandleDocumentUpdated(ctx context.Context, event domain.DocumentUpdatedEvent) error {
	fields := event.Fields
	err := m.documentStore.Update(ctx, event.ConnectionID, fields.ID, domain.DocumentPatch{
		Title:       &fields.Title,
		ResourceURI: &fields.ResourceURI,
		UpdatedAt:   &fields.UpdatedAt,
	})
	if err != nil {
		if errors.Is(err, domain.ErrDocumentNotFound) {
			m.logger.Info("no document found for update notification",
				"connection_id", event.ConnectionID,
				"document_id", fields.ID,
			)
			return nil
		}
		return fmt.Errorf("apply document update: %w", err)
	}
	return nil
}

// HandleDocumentDeleted removes the node's deletion closure: blobs first
// (bounded concurrency, best-effort), then all rows in one batch.
// An unknown node is a no-op success.
func (m *SubscriptionManager) HandleDocumentDeleted(ctx context.Context, event domain.DocumentDeletedEvent) error {
	ids, err := m.tree.SubtreeIDs(ctx, event.ConnectionID, event.ID)
	if err != nil {
		return fmt.Errorf("compute deletion closure: %w", err)
	}
	if len(ids) == 0 {
		m.logger.Info("no document found for delete notification",
			"connection_id", event.ConnectionID,
			"document_id", event.ID,
		)
		return nil
	}

	docs, err := m.documentStore.FindByIDs(ctx, event.ConnectionID, ids)
	if err != nil {
		return fmt.Errorf("load deletion closure: %w", err)
	}

	m.deleteBlobs(ctx, docs)

	if err := m.documentStore.Delete(ctx, event.ConnectionID, ids); err != nil {
		return fmt.Errorf("delete document rows: %w", err)
	}

	m.logger.Info("deleted document subtree",
		"connection_id", event.ConnectionID,
		"root_id", event.ID,
		"documents", len(ids),
	)
	return nil
}

// HandleFlowFailure marks the referenced documents failed after the
// remote download flow died terminally. Missing documents are logged and
// acknowledged, never errors.
func (m *SubscriptionManager) HandleFlowFailure(ctx context.Context, event domain.FlowFailureEvent) error {
	if event.EventType != domain.EventTypeFlowRunFailed || event.FlowKey != domain.FlowKeyDownloadDocument {
		return nil
	}

	failed := domain.DownloadStateFailed
	msg := "flow execution failed"
	for _, id := range event.DocumentIDs {
		err := m.documentStore.Update(ctx, event.ConnectionID, id, domain.DocumentPatch{
			DownloadState: &failed,
			DownloadError: &msg,
		})
		if err != nil {
			m.logger.Error("failed to record flow failure",
				"connection_id", event.ConnectionID,
				"document_id", id,
				"error", err,
			)
		}
	}
	return nil
}

// Disconnect tears down a connection: the sync record, every stored
// blob, and every document row.
func (m *SubscriptionManager) Disconnect(ctx context.Context, connectionID string) error {
	if err := m.syncStore.Delete(ctx, connectionID); err != nil {
		return fmt.Errorf("delete sync record: %w", err)
	}

	// A flat scan by storage key covers every stored object, including
	// documents whose parent chain is broken and thus unreachable from
	// the roots.
	docs, err := m.documentStore.FindWithStorageKey(ctx, connectionID)
	if err != nil {
		return fmt.Errorf("list stored documents: %w", err)
	}
	m.deleteBlobs(ctx, docs)

	if err := m.documentStore.DeleteByConnection(ctx, connectionID); err != nil {
		return fmt.Errorf("delete connection documents: %w", err)
	}

	m.logger.Info("disconnected", "connection_id", connectionID)
	return nil
}

// deleteBlobs removes the stored object of every document that has one,
// with bounded concurrency. Individual failures are logged, not fatal -
// a leaked object is preferable to a stuck cascade.
func (m *SubscriptionManager) deleteBlobs(ctx context.Context, docs []*domain.Document) {
	sem := make(chan struct{}, m.blobDeleteConcurrency)
	var wg sync.WaitGroup

	for _, doc := range docs {
		if doc.StorageKey == nil || *doc.StorageKey == "" {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(id, key string) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := m.blobStore.Delete(ctx, key); err != nil {
				m.logger.Warn("failed to delete blob",
					"document_id", id,
					"storage_key", key,
					"error", err,
				)
			}
		}(doc.ID, *doc.StorageKey)
	}

	wg.Wait()
}
