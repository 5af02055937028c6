// Package ocr turns gazette PDFs into text. The heavy lifting is an
// external OCR API; everything else here exists to call it as rarely as
// possible: a two-tier cache in front, single-flight around identical
// in-process requests, and a circuit breaker so a provider outage fails
// fast instead of holding queue messages for the full timeout.
package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"

	"github.com/gazeta-aberta/gazeta/internal/config"
	"github.com/gazeta-aberta/gazeta/internal/gazette"
)

// PageSeparator joins per-page markdown into one document.
const PageSeparator = "\n\n---\n\n"

// Method recorded on results produced by this client.
const MethodMistral = "mistral"

const (
	documentTypeURL    = "document_url"
	documentTypeBase64 = "document_base64"
	maxErrorBody       = 4 << 10

	breakerFailureThreshold = 5
	breakerOpenFor          = 60 * time.Second
)

// Document is the input to one OCR call: a fetchable URL or inline bytes.
type Document struct {
	url    string
	base64 string
}

// DocumentFromURL points the OCR provider at a URL it downloads itself.
func DocumentFromURL(u string) Document {
	return Document{url: u}
}

// DocumentFromBytes inlines the PDF body, for sources the provider cannot
// reach (auth walls, private hosts).
func DocumentFromBytes(body []byte) Document {
	return Document{base64: base64.StdEncoding.EncodeToString(body)}
}

// Key identifies the document for single-flight coalescing.
func (d Document) Key() string {
	if d.url != "" {
		return d.url
	}

	return "base64:" + strconv.Itoa(len(d.base64))
}

// Result is the raw outcome of one OCR call, before storage.
type Result struct {
	Text           string
	Model          string
	PagesProcessed int
	DocSizeBytes   int64
	ProcessingMS   int64
}

// Client calls the Mistral OCR endpoint.
type Client struct {
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	group      *singleflight.Group
	endpoint   string
	apiKey     string
	model      string
}

// NewClient builds the OCR client from configuration.
func NewClient(cfg config.OCRConfig) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "mistral-ocr",
			Timeout: breakerOpenFor,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= breakerFailureThreshold
			},
		}),
		group:    &singleflight.Group{},
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
	}
}

type ocrDocument struct {
	Type           string `json:"type"`
	DocumentURL    string `json:"document_url,omitempty"`
	DocumentBase64 string `json:"document_base64,omitempty"`
}

type ocrRequest struct {
	Model              string      `json:"model"`
	Document           ocrDocument `json:"document"`
	IncludeImageBase64 bool        `json:"include_image_base64"`
}

type ocrPage struct {
	Index    int    `json:"index"`
	Markdown string `json:"markdown"`
}

type ocrUsage struct {
	PagesProcessed int   `json:"pages_processed"`
	DocSizeBytes   int64 `json:"doc_size_bytes"`
}

type ocrResponse struct {
	Model     string    `json:"model"`
	Pages     []ocrPage `json:"pages"`
	UsageInfo ocrUsage  `json:"usage_info"`
}

// Recognize runs OCR over one document. Identical concurrent calls within
// this process share a single request.
func (c *Client) Recognize(ctx context.Context, doc Document) (*Result, error) {
	res, err, _ := c.group.Do(doc.Key(), func() (any, error) {
		out, err := c.breaker.Execute(func() (any, error) {
			return c.recognize(ctx, doc)
		})
		if err != nil {
			return nil, err
		}

		return out, nil
	})
	if err != nil {
		return nil, err
	}

	return res.(*Result), nil
}

func (c *Client) recognize(ctx context.Context, doc Document) (*Result, error) {
	payload := ocrRequest{Model: c.model, IncludeImageBase64: false}

	if doc.url != "" {
		payload.Document = ocrDocument{Type: documentTypeURL, DocumentURL: doc.url}
	} else {
		payload.Document = ocrDocument{Type: documentTypeBase64, DocumentBase64: doc.base64}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal ocr request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build ocr request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, gazette.NewError(gazette.KindExternalAPI, "ocr_request_failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

		return nil, gazette.NewError(gazette.KindExternalAPI, "ocr_bad_status",
			fmt.Errorf("ocr status %d: %s", resp.StatusCode, snippet)).
			WithHTTPStatus(resp.StatusCode)
	}

	var parsed ocrResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, gazette.NewError(gazette.KindExternalAPI, "ocr_bad_response", err)
	}

	pages := make([]string, len(parsed.Pages))
	for i, page := range parsed.Pages {
		pages[i] = page.Markdown
	}

	return &Result{
		Text:           strings.Join(pages, PageSeparator),
		Model:          parsed.Model,
		PagesProcessed: parsed.UsageInfo.PagesProcessed,
		DocSizeBytes:   parsed.UsageInfo.DocSizeBytes,
		ProcessingMS:   time.Since(start).Milliseconds(),
	}, nil
}
