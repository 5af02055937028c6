// Package spider crawls official-gazette publication sites. Each
// supported platform is one Spider implementation; the packaged catalog
// says which territory uses which platform with what parameters.
package spider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gazeta-aberta/gazeta/internal/gazette"
)

// DateRange bounds a crawl to publication dates within [Start, End],
// inclusive, at calendar-day granularity.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether day falls inside the range.
func (r DateRange) Contains(day time.Time) bool {
	d := day.Truncate(24 * time.Hour)

	return !d.Before(r.Start.Truncate(24*time.Hour)) && !d.After(r.End.Truncate(24*time.Hour))
}

// Spider crawls one source for one date range and emits gazette
// candidates. Implementations are single-use: construct, Crawl once,
// read RequestCount for telemetry.
type Spider interface {
	// Crawl visits the source and returns every gazette found in range.
	// Partial results are returned alongside the error when the source
	// fails midway; callers dedup per candidate, not per crawl.
	Crawl(ctx context.Context) ([]gazette.Candidate, error)

	// RequestCount is the number of HTTP requests issued so far.
	RequestCount() int
}

// Constructor builds one platform spider from its catalog entry.
type Constructor func(cfg Config, dates DateRange, logger *slog.Logger) (Spider, error)

// constructors maps spiderType to platform implementation.
var constructors = map[string]Constructor{
	TypeDOEM:   newDOEM,
	TypeSigpub: newSigpub,
	TypeDOEBA:  newDOEBA,
}

// New instantiates the spider for a catalog entry, clamping the range to
// the entry's earliest known publication date.
func New(cfg Config, dates DateRange, logger *slog.Logger) (Spider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctor, ok := constructors[cfg.SpiderType]
	if !ok {
		return nil, fmt.Errorf("spider %s: no constructor for type %q", cfg.ID, cfg.SpiderType)
	}

	earliest, err := cfg.EarliestDate()
	if err != nil {
		return nil, err
	}

	if !earliest.IsZero() && dates.Start.Before(earliest) {
		dates.Start = earliest
	}

	return ctor(cfg, dates, logger.With("spider_id", cfg.ID))
}
