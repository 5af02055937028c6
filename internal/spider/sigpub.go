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

// sigpub hosts association gazettes: one PDF per day carrying acts from
// every member municipality, so its candidates are state-scope and get
// split per city at analysis time.
type sigpubSpider struct {
	logger   *slog.Logger
	cfg      Config
	dates    DateRange
	requests int
}

func newSigpub(cfg Config, dates DateRange, logger *slog.Logger) (Spider, error) {
	return &sigpubSpider{logger: logger, cfg: cfg, dates: dates}, nil
}

func (s *sigpubSpider) RequestCount() int { return s.requests }

func (s *sigpubSpider) Crawl(ctx context.Context) ([]gazette.Candidate, error) {
	var (
		out        []gazette.Candidate
		pageErrs   []error
		lastStatus int
	)

	c := newCollector()
	c.OnRequest(func(*colly.Request) { s.requests++ })
	c.OnError(func(r *colly.Response, _ error) { lastStatus = r.StatusCode })

	c.OnHTML("div.edicao", func(e *colly.HTMLElement) {
		cand, err := s.parseEdition(e)
		if err != nil {
			s.logger.Warn("skipping unparseable edition",
				"page", e.Request.URL.String(), "error", err)

			return
		}

		if s.dates.Contains(cand.PublicationDate) {
			out = append(out, cand)
		}
	})

	for _, month := range monthsIn(s.dates) {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		url := fmt.Sprintf("%s?entidade=%s&ano=%d&mes=%d",
			s.cfg.Sigpub.CalendarURL, s.cfg.Sigpub.EntityID, month.Year(), int(month.Month()))

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

func (s *sigpubSpider) parseEdition(e *colly.HTMLElement) (gazette.Candidate, error) {
	pub, err := ParseNumericDate(e.ChildText("span.edicao-data"))
	if err != nil {
		return gazette.Candidate{}, err
	}

	href := e.ChildAttr("a.edicao-download", "href")
	if href == "" {
		return gazette.Candidate{}, fmt.Errorf("edition of %s has no download link", pub.Format("2006-01-02"))
	}

	label := e.ChildText("span.edicao-numero")

	return gazette.Candidate{
		TerritoryID:     s.cfg.TerritoryID,
		PublicationDate: pub,
		PDFURL:          e.Request.AbsoluteURL(href),
		EditionNumber:   digitsOnly(label),
		IsExtraEdition:  strings.Contains(strings.ToLower(label), "extra"),
		Power:           gazette.PowerExecutive,
		ScrapedAt:       time.Now().UTC(),
	}, nil
}
