package integrationapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/custodia-labs/docsync-core/internal/core/domain"
	"github.com/custodia-labs/docsync-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.RemoteProvider = (*Provider)(nil)

const (
	actionListDocuments  = "list-documents"
	actionGetDownloadURI = "get-download-uri"

	// maxDownloadSize caps a single document payload at 100 MB.
	maxDownloadSize = 100 << 20
)

// Config holds integration platform client configuration.
type Config struct {
	BaseURL string

	// Timeout bounds each API round trip. Downloads use DownloadTimeout.
	Timeout         time.Duration
	DownloadTimeout time.Duration

	// MaxRetries is the retry budget for transient API failures.
	MaxRetries int
}

// DefaultConfig returns sensible client defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:         "https://api.integration.app",
		Timeout:         30 * time.Second,
		DownloadTimeout: 60 * time.Second,
		MaxRetries:      3,
	}
}

// Provider talks to the integration platform's REST API: cursor-paginated
// document listing via the list-documents action and download resolution
// via the get-download-uri action. Transient failures (5xx, network) are
// retried with exponential backoff; a dead connection surfaces as
// domain.ErrConnectionNotFound and is never retried.
type Provider struct {
	baseURL    string
	tokens     driven.TokenProvider
	httpClient *http.Client
	dlClient   *http.Client
	maxRetries int
}

// NewProvider creates a new integration platform provider.
// tokens mints the workspace tokens each API call authenticates with.
func NewProvider(cfg Config, tokens driven.TokenProvider) *Provider {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.DownloadTimeout == 0 {
		cfg.DownloadTimeout = def.DownloadTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = def.MaxRetries
	}

	return &Provider{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		tokens:     tokens,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		dlClient:   &http.Client{Timeout: cfg.DownloadTimeout},
		maxRetries: cfg.MaxRetries,
	}
}

type actionResponse struct {
	Output json.RawMessage `json:"output"`
}

type listDocumentsOutput struct {
	Records []listDocumentsRecord `json:"records"`
	Cursor  string                `json:"cursor"`
}

type listDocumentsRecord struct {
	Fields driven.ProviderRecord `json:"fields"`
}

type downloadURIOutput struct {
	DownloadURI string `json:"downloadUri"`
}

// ListDocuments fetches one page of document metadata.
func (p *Provider) ListDocuments(ctx context.Context, connectionID, cursor string) (*driven.DocumentPage, error) {
	input := map[string]interface{}{}
	if cursor != "" {
		input["cursor"] = cursor
	}

	raw, err := p.runAction(ctx, connectionID, actionListDocuments, input)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	var out listDocumentsOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode document page: %w", err)
	}

	page := &driven.DocumentPage{Cursor: out.Cursor}
	for _, rec := range out.Records {
		page.Records = append(page.Records, rec.Fields)
	}
	return page, nil
}

// ResolveDownload turns a document reference into a downloadable URI.
func (p *Provider) ResolveDownload(ctx context.Context, connectionID, documentID string) (string, error) {
	raw, err := p.runAction(ctx, connectionID, actionGetDownloadURI, map[string]interface{}{
		"documentId": documentID,
	})
	if err != nil {
		return "", fmt.Errorf("resolve download: %w", err)
	}

	var out downloadURIOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode download uri: %w", err)
	}
	if out.DownloadURI == "" {
		return "", errors.New("resolve download: provider returned no uri")
	}
	return out.DownloadURI, nil
}

// runAction executes a connection-scoped action with backoff on transient
// failures.
func (p *Provider) runAction(ctx context.Context, connectionID, action string, input map[string]interface{}) (json.RawMessage, error) {
	endpoint := fmt.Sprintf("%s/connections/%s/actions/%s/run",
		p.baseURL, url.PathEscape(connectionID), action)

	body, err := json.Marshal(map[string]interface{}{"input": input})
	if err != nil {
		return nil, fmt.Errorf("marshal action input: %w", err)
	}

	token, err := p.tokens.Token(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("mint provider token: %w", err)
	}

	var output json.RawMessage
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := p.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
		if err != nil {
			return err
		}

		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode == http.StatusNotFound:
			// The platform reports dead connections as 404 on the
			// connection path.
			return backoff.Permanent(domain.ErrConnectionNotFound)
		case resp.StatusCode >= 500:
			return fmt.Errorf("provider returned %d: %s", resp.StatusCode, truncate(respBody))
		default:
			return backoff.Permanent(fmt.Errorf("provider returned %d: %s", resp.StatusCode, truncate(respBody)))
		}

		var result actionResponse
		if err := json.Unmarshal(respBody, &result); err != nil {
			return backoff.Permanent(fmt.Errorf("decode action response: %w", err))
		}
		output = result.Output
		return nil
	}

	err = backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(p.maxRetries)), ctx))
	if err != nil {
		return nil, err
	}
	return output, nil
}

// Download fetches the bytes behind a resolved URI.
func (p *Provider) Download(ctx context.Context, uri string) (*driven.DownloadResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}

	resp, err := p.dlClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download returned %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize))
	if err != nil {
		return nil, fmt.Errorf("read download body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	return &driven.DownloadResult{
		Data:        data,
		ContentType: contentType,
		Extension:   inferExtension(contentType, uri),
	}, nil
}

// inferExtension derives a file extension from the Content-Type header,
// falling back to the URI path. Returns the extension without a leading
// dot, or empty when nothing can be inferred.
func inferExtension(contentType, uri string) string {
	if contentType != "" {
		mediaType, _, err := mime.ParseMediaType(contentType)
		if err == nil && mediaType != "application/octet-stream" {
			if exts, _ := mime.ExtensionsByType(mediaType); len(exts) > 0 {
				return strings.TrimPrefix(exts[0], ".")
			}
		}
	}

	if u, err := url.Parse(uri); err == nil {
		if ext := path.Ext(u.Path); ext != "" {
			return strings.TrimPrefix(ext, ".")
		}
	}
	return ""
}

func truncate(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
