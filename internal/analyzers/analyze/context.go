package analyze

import "github.com/gazeta-aberta/gazeta/internal/gazette"

// Context carries what earlier analyzers learned about a document so
// later phases can reason from those priors instead of raw text.
type Context struct {
	// DocumentTypes maps each detected document type to the best
	// confidence any analyzer reported for it.
	DocumentTypes map[string]float64

	// Categories are the content categories seen so far, unique, in
	// first-seen order.
	Categories []string

	// Entities maps entity type to the distinct values extracted for it,
	// in first-seen order.
	Entities map[string][]string

	// HighConfidence holds the findings at or above the reporting
	// threshold, in the order they were absorbed.
	HighConfidence []gazette.Finding

	seenCategories map[string]bool
	seenEntities   map[string]map[string]bool
}

// NewContext returns an empty analysis context.
func NewContext() *Context {
	return &Context{
		DocumentTypes:  make(map[string]float64),
		Entities:       make(map[string][]string),
		seenCategories: make(map[string]bool),
		seenEntities:   make(map[string]map[string]bool),
	}
}

// Absorb folds a batch of findings into the context.
func (c *Context) Absorb(findings []gazette.Finding) {
	for _, f := range findings {
		if f.HighConfidence() {
			c.HighConfidence = append(c.HighConfidence, f)
		}

		if dt, ok := f.Data[DataDocumentType].(string); ok && dt != "" {
			if f.Confidence > c.DocumentTypes[dt] {
				c.DocumentTypes[dt] = f.Confidence
			}
		}

		c.absorbCategories(f)
		c.absorbEntity(f)
	}
}

func (c *Context) absorbCategories(f gazette.Finding) {
	for _, cat := range f.Categories() {
		if cat == "" || c.seenCategories[cat] {
			continue
		}

		c.seenCategories[cat] = true
		c.Categories = append(c.Categories, cat)
	}
}

func (c *Context) absorbEntity(f gazette.Finding) {
	entityType, ok := f.Data[DataEntityType].(string)
	if !ok || entityType == "" {
		return
	}

	value, ok := f.Data[DataEntityValue].(string)
	if !ok || value == "" {
		return
	}

	seen := c.seenEntities[entityType]
	if seen == nil {
		seen = make(map[string]bool)
		c.seenEntities[entityType] = seen
	}

	if seen[value] {
		return
	}

	seen[value] = true
	c.Entities[entityType] = append(c.Entities[entityType], value)
}

// PrimaryDocumentType returns the document type with the highest
// confidence, or ("", 0) when none was detected. Ties break toward the
// lexically smaller type so the answer is deterministic.
func (c *Context) PrimaryDocumentType() (string, float64) {
	var (
		best     string
		bestConf float64
	)

	for dt, conf := range c.DocumentTypes {
		if conf > bestConf || (conf == bestConf && (best == "" || dt < best)) {
			best = dt
			bestConf = conf
		}
	}

	return best, bestConf
}
