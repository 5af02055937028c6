package spider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/gazeta-aberta/gazeta/internal/gazette"
)

// State official-press sites publish one edition per weekday under a
// per-date page. Days without an edition (weekends, holidays) 404.
type doeSpider struct {
	logger   *slog.Logger
	cfg      Config
	dates    DateRange
	requests int
}

func newDOEBA(cfg Config, dates DateRange, logger *slog.Logger) (Spider, error) {
	return &doeSpider{logger: logger, cfg: cfg, dates: dates}, nil
}

func (s *doeSpider) RequestCount() int { return s.requests }

func (s *doeSpider) Crawl(ctx context.Context) ([]gazette.Candidate, error) {
	var (
		out        []gazette.Candidate
		pageErrs   []error
		lastStatus int
	)

	c := newCollector()
	c.OnRequest(func(*colly.Request) { s.requests++ })
	c.OnError(func(r *colly.Response, _ error) { lastStatus = r.StatusCode })

	c.OnHTML("div#diario-do-dia", func(e *colly.HTMLElement) {
		day, err := ParseNumericDate(e.Attr("data-dia"))
		if err != nil {
			s.logger.Warn("edition page without parseable date",
				"page", e.Request.URL.String(), "error", err)

			return
		}

		href := e.ChildAttr("a.baixar-diario", "href")
		if href == "" {
			s.logger.Warn("edition page without download link",
				"page", e.Request.URL.String())

			return
		}

		label := e.ChildText("span.edicao-atual")

		out = append(out, gazette.Candidate{
			TerritoryID:     s.cfg.TerritoryID,
			PublicationDate: day,
			PDFURL:          e.Request.AbsoluteURL(href),
			EditionNumber:   digitsOnly(label),
			IsExtraEdition:  strings.Contains(strings.ToLower(label), "extra"),
			Power:           gazette.PowerExecutive,
			ScrapedAt:       time.Now().UTC(),
		})
	})

	for _, day := range daysIn(s.dates) {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		url := fmt.Sprintf("%s/diarios/%s", s.cfg.DOE.BaseURL, day.Format("2006-01-02"))

		lastStatus = 0
		if err := c.Visit(url); err != nil {
			if lastStatus == http.StatusNotFound {
				continue
			}

			pageErrs = append(pageErrs, fmt.Errorf("fetch %s: %w", url, err))
		}
	}

	return out, errors.Join(pageErrs...)
}
