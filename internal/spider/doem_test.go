package spider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gazeta-aberta/gazeta/internal/gazette"
)

const doemListingPage = `<html><body>
<div class="box-diario">
  <h2>Edição nº 1.542</h2>
  <span class="data-diario">10 de Março de 2025</span>
  <a title="Baixar" href="/ba/camacari/diarios/download/1542.pdf">Baixar</a>
</div>
<div class="box-diario">
  <h2>Edição nº 1.543 - Extra</h2>
  <span class="data-diario">12 de Março de 2025</span>
  <a title="Baixar" href="/ba/camacari/diarios/download/1543.pdf">Baixar</a>
</div>
<div class="box-diario">
  <h2>Edição sem link</h2>
  <span class="data-diario">13 de Março de 2025</span>
</div>
</body></html>`

func doemTestConfig() Config {
	return Config{
		ID:          "ba_camacari",
		Name:        "Camaçari/BA",
		TerritoryID: "2905701",
		StateCode:   "BA",
		SpiderType:  TypeDOEM,
		Scope:       ScopeCity,
		DOEM:        &DOEMParams{StateCityPath: "ba/camacari"},
	}
}

func march2025() DateRange {
	return DateRange{
		Start: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC),
	}
}

func TestDOEMSpider_ParsesMonthlyListing(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ba/camacari/diarios/2025/03" {
			fmt.Fprint(w, doemListingPage)

			return
		}

		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	s := &doemSpider{
		logger:  slog.New(slog.DiscardHandler),
		baseURL: srv.URL,
		cfg:     doemTestConfig(),
		dates:   march2025(),
	}

	candidates, err := s.Crawl(context.Background())
	require.NoError(t, err)

	// The entry without a download link is skipped, not fatal.
	require.Len(t, candidates, 2)

	first := candidates[0]
	assert.Equal(t, "2905701", first.TerritoryID)
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), first.PublicationDate)
	assert.Equal(t, srv.URL+"/ba/camacari/diarios/download/1542.pdf", first.PDFURL)
	assert.Equal(t, "1542", first.EditionNumber)
	assert.False(t, first.IsExtraEdition)
	assert.Equal(t, gazette.PowerExecutiveLegislative, first.Power)

	assert.True(t, candidates[1].IsExtraEdition)
	assert.Positive(t, s.RequestCount())
}

func TestDOEMSpider_DateRangeFiltersCandidates(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, doemListingPage)
	}))
	t.Cleanup(srv.Close)

	s := &doemSpider{
		logger:  slog.New(slog.DiscardHandler),
		baseURL: srv.URL,
		cfg:     doemTestConfig(),
		dates: DateRange{
			Start: time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC),
		},
	}

	candidates, err := s.Crawl(context.Background())
	require.NoError(t, err)

	// The edition of March 10 falls before the window.
	require.Len(t, candidates, 1)
	assert.Equal(t, time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC), candidates[0].PublicationDate)
}

func TestDOEMSpider_MissingMonthIsNotAnError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	s := &doemSpider{
		logger:  slog.New(slog.DiscardHandler),
		baseURL: srv.URL,
		cfg:     doemTestConfig(),
		dates:   march2025(),
	}

	candidates, err := s.Crawl(context.Background())
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestNew_UnknownTypeAndClamping(t *testing.T) {
	t.Parallel()

	cfg := doemTestConfig()
	cfg.SpiderType = "unheard_of"

	_, err := New(cfg, march2025(), slog.New(slog.DiscardHandler))
	require.Error(t, err)

	// Start dates before the catalog's earliest publication are clamped.
	cfg = doemTestConfig()
	cfg.StartDate = "2025-03-05"

	s, err := New(cfg, march2025(), slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	doem, ok := s.(*doemSpider)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC), doem.dates.Start)
}
