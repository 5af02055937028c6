package ocr

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gazeta-aberta/gazeta/internal/gazette"
)

// Gazette sites routinely block obvious bots; the archiver identifies as a
// desktop browser like any subscriber's would.
const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

const (
	fetchTimeout = 30 * time.Second
	maxPDFBytes  = 64 << 20
)

// Fetcher downloads gazette PDFs for archival and for the inline OCR path.
type Fetcher struct {
	httpClient *http.Client
}

// NewFetcher returns a Fetcher with the standard download timeout.
func NewFetcher() *Fetcher {
	return &Fetcher{httpClient: &http.Client{Timeout: fetchTimeout}}
}

// FetchPDF downloads one PDF body. Bodies over the size cap are rejected
// rather than truncated.
func (f *Fetcher) FetchPDF(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build pdf request: %w", err)
	}

	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", "application/pdf,*/*")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, gazette.NewError(gazette.KindExternalAPI, "pdf_fetch_failed", err).
			WithContext("url", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, gazette.NewError(gazette.KindExternalAPI, "pdf_bad_status",
			fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)).
			WithHTTPStatus(resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPDFBytes+1))
	if err != nil {
		return nil, gazette.NewError(gazette.KindExternalAPI, "pdf_read_failed", err).
			WithContext("url", url)
	}

	if len(body) > maxPDFBytes {
		return nil, gazette.NewError(gazette.KindValidation, "pdf_too_large",
			fmt.Errorf("fetch %s: body exceeds %d bytes", url, maxPDFBytes))
	}

	return body, nil
}
