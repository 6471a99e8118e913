package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/custodia-labs/docsync-core/internal/core/domain"
	"github.com/custodia-labs/docsync-core/internal/core/ports/driven"
)

// TreeService runs the traversals over the mirrored document tree:
// cascade expansion, deletion closure, and upward subscription lookup.
// The parent chain should never cycle, but the store gives no such
// guarantee under data corruption, so every walk is bounded by a
// visited set.
type TreeService struct {
	documentStore driven.DocumentStore
	logger        *slog.Logger
}

// NewTreeService creates a new tree service.
func NewTreeService(documentStore driven.DocumentStore, logger *slog.Logger) *TreeService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TreeService{
		documentStore: documentStore,
		logger:        logger,
	}
}

// DescendantsOf collects the document rooted at rootID plus every
// descendant, breadth-first. A missing root yields an empty result; a root
// with file semantics yields just the root.
func (s *TreeService) DescendantsOf(ctx context.Context, connectionID, rootID string) ([]*domain.Document, error) {
	root, err := s.documentStore.Get(ctx, connectionID, rootID)
	if err != nil {
		if errors.Is(err, domain.ErrDocumentNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get root document: %w", err)
	}

	result := []*domain.Document{root}
	if root.IsFile() {
		return result, nil
	}

	visited := map[string]bool{rootID: true}
	queue := []string{rootID}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		children, err := s.documentStore.FindChildren(ctx, connectionID, current)
		if err != nil {
			return nil, fmt.Errorf("list children of %s: %w", current, err)
		}

		for _, child := range children {
			if visited[child.ID] {
				s.logger.Warn("cycle detected in document tree",
					"connection_id", connectionID,
					"document_id", child.ID,
				)
				continue
			}
			visited[child.ID] = true
			result = append(result, child)
			if child.CanHaveChildren {
				queue = append(queue, child.ID)
			}
		}
	}

	return result, nil
}

// SubtreeIDs returns the deletion closure of rootID: the IDs of the node
// and every descendant. Used before destructive deletes so document rows
// and their blobs can be removed together.
func (s *TreeService) SubtreeIDs(ctx context.Context, connectionID, rootID string) ([]string, error) {
	docs, err := s.DescendantsOf(ctx, connectionID, rootID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

// IsAncestorSubscribed walks the parent chain upward from parentID and
// reports whether any ancestor is subscribed. A broken chain (missing
// ancestor) stops the walk and reports false.
func (s *TreeService) IsAncestorSubscribed(ctx context.Context, connectionID string, parentID *string) (bool, error) {
	if parentID == nil || *parentID == "" {
		return false, nil
	}

	visited := make(map[string]bool)
	current := *parentID

	for current != "" {
		if visited[current] {
			s.logger.Warn("cycle detected in parent chain",
				"connection_id", connectionID,
				"document_id", current,
			)
			return false, nil
		}
		visited[current] = true

		doc, err := s.documentStore.Get(ctx, connectionID, current)
		if err != nil {
			if errors.Is(err, domain.ErrDocumentNotFound) {
				return false, nil
			}
			return false, fmt.Errorf("get ancestor %s: %w", current, err)
		}

		if doc.IsSubscribed {
			return true, nil
		}

		if doc.ParentID == nil {
			return false, nil
		}
		current = *doc.ParentID
	}

	return false, nil
}
