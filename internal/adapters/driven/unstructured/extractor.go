package unstructured

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/custodia-labs/docsync-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.TextExtractor = (*Extractor)(nil)

// supportedExtensions lists the file types the partition endpoint handles
// reliably. Anything else is skipped rather than sent and failed.
var supportedExtensions = map[string]struct{}{
	"pdf": {}, "doc": {}, "docx": {}, "txt": {}, "rtf": {},
	"md": {}, "csv": {}, "xls": {}, "xlsx": {}, "ppt": {}, "pptx": {},
}

// Config holds Unstructured API configuration. Extraction is disabled
// unless both URL and APIKey are set.
type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// Extractor converts file bytes to plain text via the Unstructured
// partition API. The response is a list of elements whose text fields are
// joined with newlines.
type Extractor struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

// NewExtractor creates a new Unstructured text extractor.
func NewExtractor(cfg Config) *Extractor {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Extractor{
		url:        strings.TrimSuffix(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Enabled reports whether an extraction backend is configured.
func (e *Extractor) Enabled() bool {
	return e.url != "" && e.apiKey != ""
}

// Supports reports whether the file name's extension is extractable.
func (e *Extractor) Supports(filename string) bool {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 || idx == len(filename)-1 {
		return false
	}
	ext := strings.ToLower(filename[idx+1:])
	_, ok := supportedExtensions[ext]
	return ok
}

type partitionElement struct {
	Text string `json:"text"`
}

// Extract runs the file through the partition endpoint.
func (e *Extractor) Extract(ctx context.Context, filename string, data []byte) (string, error) {
	if !e.Enabled() {
		return "", fmt.Errorf("extract %s: no backend configured", filename)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("files", filename)
	if err != nil {
		return "", fmt.Errorf("build multipart body: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("write multipart body: %w", err)
	}
	_ = writer.WriteField("strategy", "hi_res")
	_ = writer.WriteField("languages", "eng")
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url+"/general/v0/general", &body)
	if err != nil {
		return "", fmt.Errorf("build partition request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	req.Header.Set("unstructured-api-key", e.apiKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("partition %s: %w", filename, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 50<<20))
	if err != nil {
		return "", fmt.Errorf("read partition response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("partition %s: status %d", filename, resp.StatusCode)
	}

	var elements []partitionElement
	if err := json.Unmarshal(respBody, &elements); err != nil {
		return "", fmt.Errorf("decode partition response: %w", err)
	}

	texts := make([]string, 0, len(elements))
	for _, el := range elements {
		texts = append(texts, el.Text)
	}
	return strings.Join(texts, "\n"), nil
}
