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

// doem.org.br hosts per-municipality gazettes behind monthly listing
// pages: /<state>/<city>/diarios/<year>/<month>.
const doemBaseURL = "https://doem.org.br"

type doemSpider struct {
	logger   *slog.Logger
	baseURL  string
	cfg      Config
	dates    DateRange
	requests int
}

func newDOEM(cfg Config, dates DateRange, logger *slog.Logger) (Spider, error) {
	return &doemSpider{
		logger:  logger,
		baseURL: doemBaseURL,
		cfg:     cfg,
		dates:   dates,
	}, nil
}

func (s *doemSpider) RequestCount() int { return s.requests }

func (s *doemSpider) Crawl(ctx context.Context) ([]gazette.Candidate, error) {
	var (
		out        []gazette.Candidate
		pageErrs   []error
		lastStatus int
	)

	c := newCollector()
	c.OnRequest(func(*colly.Request) { s.requests++ })
	c.OnError(func(r *colly.Response, _ error) { lastStatus = r.StatusCode })

	c.OnHTML("div.box-diario", func(e *colly.HTMLElement) {
		cand, err := s.parseBox(e)
		if err != nil {
			s.logger.Warn("skipping unparseable gazette entry",
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

		url := fmt.Sprintf("%s/%s/diarios/%d/%02d",
			s.baseURL, s.cfg.DOEM.StateCityPath, month.Year(), int(month.Month()))

		lastStatus = 0
		if err := c.Visit(url); err != nil {
			// Months without editions 404; that is data, not failure.
			if lastStatus == http.StatusNotFound {
				continue
			}

			pageErrs = append(pageErrs, fmt.Errorf("fetch %s: %w", url, err))
		}
	}

	return out, errors.Join(pageErrs...)
}

func (s *doemSpider) parseBox(e *colly.HTMLElement) (gazette.Candidate, error) {
	pub, err := ParsePortugueseDate(e.ChildText("span.data-diario"))
	if err != nil {
		return gazette.Candidate{}, err
	}

	href := e.ChildAttr(`a[title="Baixar"]`, "href")
	if href == "" {
		href = e.ChildAttr("a.link-download", "href")
	}

	if href == "" {
		return gazette.Candidate{}, fmt.Errorf("entry for %s has no download link", pub.Format("2006-01-02"))
	}

	title := e.ChildText("h2")

	return gazette.Candidate{
		TerritoryID:     s.cfg.TerritoryID,
		PublicationDate: pub,
		PDFURL:          e.Request.AbsoluteURL(href),
		EditionNumber:   digitsOnly(title),
		IsExtraEdition:  strings.Contains(strings.ToLower(title), "extra"),
		Power:           gazette.PowerExecutiveLegislative,
		ScrapedAt:       time.Now().UTC(),
	}, nil
}
