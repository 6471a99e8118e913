package services

import (
	"context"
	"testing"

	"github.com/custodia-labs/docsync-core/internal/core/domain"
	"github.com/custodia-labs/docsync-core/internal/core/ports/driven/mocks"
)

func strPtr(s string) *string { return &s }

// seedTree builds a small tree under connection "conn-1":
//
//	root (folder)
//	├── folder-a (folder)
//	│   ├── file-a1
//	│   └── file-a2
//	└── file-b
func seedTree(store *mocks.MockDocumentStore) {
	store.Seed(
		&domain.Document{ID: "root", ConnectionID: "conn-1", UserID: "user-1", Title: "Root", CanHaveChildren: true},
		&domain.Document{ID: "folder-a", ConnectionID: "conn-1", UserID: "user-1", Title: "Folder A", ParentID: strPtr("root"), CanHaveChildren: true},
		&domain.Document{ID: "file-a1", ConnectionID: "conn-1", UserID: "user-1", Title: "a1.pdf", ParentID: strPtr("folder-a"), CanDownload: true},
		&domain.Document{ID: "file-a2", ConnectionID: "conn-1", UserID: "user-1", Title: "a2.docx", ParentID: strPtr("folder-a"), CanDownload: true},
		&domain.Document{ID: "file-b", ConnectionID: "conn-1", UserID: "user-1", Title: "b.txt", ParentID: strPtr("root"), CanDownload: true},
	)
}

// TestDescendantsOf_Folder tests full subtree expansion from a folder
func TestDescendantsOf_Folder(t *testing.T) {
	store := mocks.NewMockDocumentStore()
	seedTree(store)
	tree := NewTreeService(store, nil)

	docs, err := tree.DescendantsOf(context.Background(), "conn-1", "root")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 5 {
		t.Fatalf("expected 5 documents, got %d", len(docs))
	}
	if docs[0].ID != "root" {
		t.Errorf("expected root first, got %s", docs[0].ID)
	}
}

// TestDescendantsOf_File tests that a file root yields just the root
func TestDescendantsOf_File(t *testing.T) {
	store := mocks.NewMockDocumentStore()
	seedTree(store)
	tree := NewTreeService(store, nil)

	docs, err := tree.DescendantsOf(context.Background(), "conn-1", "file-b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "file-b" {
		t.Fatalf("expected just file-b, got %d documents", len(docs))
	}
}

// TestDescendantsOf_MissingRoot tests that an unknown root is an empty result
func TestDescendantsOf_MissingRoot(t *testing.T) {
	store := mocks.NewMockDocumentStore()
	tree := NewTreeService(store, nil)

	docs, err := tree.DescendantsOf(context.Background(), "conn-1", "ghost")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if docs != nil {
		t.Fatalf("expected nil result for missing root, got %d documents", len(docs))
	}
}

// TestDescendantsOf_Cycle tests that a corrupted parent chain terminates
func TestDescendantsOf_Cycle(t *testing.T) {
	store := mocks.NewMockDocumentStore()
	store.Seed(
		&domain.Document{ID: "a", ConnectionID: "conn-1", ParentID: strPtr("b"), CanHaveChildren: true},
		&domain.Document{ID: "b", ConnectionID: "conn-1", ParentID: strPtr("a"), CanHaveChildren: true},
	)
	tree := NewTreeService(store, nil)

	docs, err := tree.DescendantsOf(context.Background(), "conn-1", "a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents despite cycle, got %d", len(docs))
	}
}

// TestSubtreeIDs tests the deletion closure
func TestSubtreeIDs(t *testing.T) {
	store := mocks.NewMockDocumentStore()
	seedTree(store)
	tree := NewTreeService(store, nil)

	ids, err := tree.SubtreeIDs(context.Background(), "conn-1", "folder-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("expected folder-a plus 2 files, got %d ids", len(ids))
	}
}

// TestIsAncestorSubscribed tests the upward subscription walk
func TestIsAncestorSubscribed(t *testing.T) {
	store := mocks.NewMockDocumentStore()
	seedTree(store)
	tree := NewTreeService(store, nil)
	ctx := context.Background()

	subscribed, err := tree.IsAncestorSubscribed(ctx, "conn-1", strPtr("folder-a"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if subscribed {
		t.Error("expected unsubscribed chain to report false")
	}

	// Subscribe the grandparent and re-check from the same parent.
	if err := store.SetSubscription(ctx, "conn-1", []string{"root"}, true); err != nil {
		t.Fatalf("seed subscription: %v", err)
	}
	subscribed, err = tree.IsAncestorSubscribed(ctx, "conn-1", strPtr("folder-a"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !subscribed {
		t.Error("expected subscribed grandparent to report true")
	}
}

// TestIsAncestorSubscribed_NoParent tests that a root-level node inherits nothing
func TestIsAncestorSubscribed_NoParent(t *testing.T) {
	store := mocks.NewMockDocumentStore()
	tree := NewTreeService(store, nil)

	subscribed, err := tree.IsAncestorSubscribed(context.Background(), "conn-1", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if subscribed {
		t.Error("expected nil parent to report false")
	}
}

// TestIsAncestorSubscribed_BrokenChain tests that a missing ancestor stops the walk
func TestIsAncestorSubscribed_BrokenChain(t *testing.T) {
	store := mocks.NewMockDocumentStore()
	store.Seed(
		&domain.Document{ID: "child", ConnectionID: "conn-1", ParentID: strPtr("gone")},
	)
	tree := NewTreeService(store, nil)

	subscribed, err := tree.IsAncestorSubscribed(context.Background(), "conn-1", strPtr("gone"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if subscribed {
		t.Error("expected broken chain to report false")
	}
}
