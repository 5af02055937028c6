package spider

import (
	"time"

	"github.com/gocolly/colly/v2"
)

// Same browser identity as the PDF archiver; gazette platforms serve
// empty listings to anything that looks like a crawler.
const collectorUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

const pageTimeout = 30 * time.Second

// newCollector returns the shared colly setup. Revisits stay allowed:
// monthly listing URLs repeat across overlapping crawl windows.
func newCollector() *colly.Collector {
	c := colly.NewCollector(
		colly.UserAgent(collectorUserAgent),
		colly.AllowURLRevisit(),
	)
	c.SetRequestTimeout(pageTimeout)

	return c
}
