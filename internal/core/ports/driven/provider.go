package driven

import "context"

// ProviderRecord is one document as listed by the remote provider.
type ProviderRecord struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	ParentID        string `json:"parentId"`
	CanHaveChildren bool   `json:"canHaveChildren"`
	CanDownload     bool   `json:"canDownload"`
	ResourceURI     string `json:"resourceURI"`
	CreatedAt       string `json:"createdAt"`
	UpdatedAt       string `json:"updatedAt"`
}

// DocumentPage is one page of a cursor-paginated listing.
// An empty Cursor means there are no further pages.
type DocumentPage struct {
	Records []ProviderRecord `json:"records"`
	Cursor  string           `json:"cursor,omitempty"`
}

// DownloadResult is the payload fetched from a resolved download URI.
type DownloadResult struct {
	Data        []byte
	ContentType string
	// Extension is inferred from the content type or the URI path,
	// without a leading dot. May be empty.
	Extension string
}

// RemoteProvider is the external document source: a paginated listing API
// plus a download resolver. Implementations must surface
// domain.ErrConnectionNotFound when the provider reports the connection
// itself is gone, so callers can stop retrying.
type RemoteProvider interface {
	// ListDocuments fetches one page of document metadata.
	// Pass an empty cursor for the first page.
	ListDocuments(ctx context.Context, connectionID, cursor string) (*DocumentPage, error)

	// ResolveDownload turns a document reference into a downloadable URI.
	ResolveDownload(ctx context.Context, connectionID, documentID string) (string, error)

	// Download fetches the bytes behind a resolved URI.
	Download(ctx context.Context, uri string) (*DownloadResult, error)
}

// TokenProvider mints short-lived provider tokens for a user.
// Token issuance itself lives outside this system.
type TokenProvider interface {
	Token(ctx context.Context, userID string) (string, error)
}
