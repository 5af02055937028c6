// Package gazette defines the domain model shared by every pipeline stage:
// gazettes, crawl attempts, crawl jobs, OCR and analysis results, and the
// error taxonomy handlers use to decide between retrying and terminating.
package gazette

import "time"

// Power identifies which branch of government published a gazette.
type Power string

// Recognised gazette powers.
const (
	PowerExecutive            Power = "executive"
	PowerLegislative          Power = "legislative"
	PowerExecutiveLegislative Power = "executive_legislative"
)

// Status is the OCR lifecycle state of a gazette row.
type Status string

// Gazette statuses. Only ClaimForProcessing may enter StatusOCRProcessing;
// only the OCR stage may leave it.
const (
	// StatusPending marks a freshly discovered gazette awaiting OCR.
	StatusPending Status = "pending"

	// StatusUploaded marks a gazette whose PDF was archived before OCR ran.
	StatusUploaded Status = "uploaded"

	// StatusOCRProcessing marks a gazette claimed by exactly one OCR worker.
	StatusOCRProcessing Status = "ocr_processing"

	// StatusOCRRetrying marks a failed gazette scheduled for another attempt.
	StatusOCRRetrying Status = "ocr_retrying"

	// StatusOCRFailure marks a gazette whose OCR exhausted its attempts.
	StatusOCRFailure Status = "ocr_failure"

	// StatusOCRSuccess marks a gazette with non-empty extracted text stored.
	StatusOCRSuccess Status = "ocr_success"
)

// statusTransitions is the legal edge set of the gazette state machine.
var statusTransitions = map[Status][]Status{
	StatusPending:       {StatusOCRProcessing},
	StatusUploaded:      {StatusOCRProcessing},
	StatusOCRProcessing: {StatusOCRSuccess, StatusOCRFailure},
	StatusOCRFailure:    {StatusOCRRetrying},
	StatusOCRRetrying:   {StatusOCRProcessing},
	StatusOCRSuccess:    nil,
}

// CanTransition reports whether a gazette may move from s to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}

	return false
}

// Claimable reports whether s may be compare-and-swapped into
// StatusOCRProcessing. This is the single-flight gate at the OCR stage.
func (s Status) Claimable() bool {
	return s == StatusPending || s == StatusUploaded || s == StatusOCRRetrying
}

// Gazette is one canonical discovered document. The redirect-resolved
// PDF URL is the deduplication key: at most one row exists per URL.
type Gazette struct {
	ID              int64     `db:"id"              json:"id"`
	TerritoryID     string    `db:"territory_id"    json:"territoryId"`
	PublicationDate time.Time `db:"publication_date" json:"publicationDate"`
	PDFURL          string    `db:"pdf_url"         json:"pdfUrl"`
	EditionNumber   string    `db:"edition_number"  json:"editionNumber,omitempty"`
	IsExtraEdition  bool      `db:"is_extra_edition" json:"isExtraEdition"`
	Power           Power     `db:"power"           json:"power"`
	PDFObjectKey    *string   `db:"pdf_object_key"  json:"pdfObjectKey,omitempty"`
	Status          Status    `db:"status"          json:"status"`
	ScrapedAt       time.Time `db:"scraped_at"      json:"scrapedAt"`
	CreatedAt       time.Time `db:"created_at"      json:"createdAt"`
}

// Archived reports whether the PDF has been stored in the object store.
func (g *Gazette) Archived() bool {
	return g.PDFObjectKey != nil && *g.PDFObjectKey != ""
}

// Candidate is a gazette as emitted by a spider, before URL canonicalisation
// and registry insertion assign it an identity.
type Candidate struct {
	TerritoryID     string    `json:"territoryId"`
	PublicationDate time.Time `json:"publicationDate"`
	PDFURL          string    `json:"pdfUrl"`
	EditionNumber   string    `json:"editionNumber,omitempty"`
	IsExtraEdition  bool      `json:"isExtraEdition"`
	Power           Power     `json:"power"`
	ScrapedAt       time.Time `json:"scrapedAt"`
}
