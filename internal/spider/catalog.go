package spider

import (
	"embed"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/gazeta-aberta/gazeta/internal/textutil"
)

//go:embed catalog/*.json
var catalogFS embed.FS

const (
	spidersFile = "catalog/spiders.json"
	schemaFile  = "catalog/spiders.schema.json"
	citiesFile  = "catalog/territories.json"

	// stateIDLength distinguishes state territory ids (2-digit IBGE UF
	// code) from 7-digit municipality ids.
	stateIDLength = 2
)

// Territory is one row of the packaged territory catalog: a municipality
// or state the pipeline can attribute gazettes to.
type Territory struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	StateCode string `json:"stateCode"`
}

// IsState reports whether the territory is a whole state rather than a
// municipality.
func (t Territory) IsState() bool {
	return len(t.ID) == stateIDLength
}

// CityRegex returns the pattern that finds mentions of this territory in
// gazette text. Accented letters match their unaccented spellings too;
// older gazettes lose diacritics in transcription.
func (t Territory) CityRegex() string {
	return `(?i)\b` + textutil.AccentFlex(t.Name) + `\b`
}

// Catalog is the read-only registry of spider configurations and
// territories, built once at process start from the packaged JSON.
type Catalog struct {
	spiders     map[string]Config
	territories map[string]Territory
	order       []string
}

// LoadCatalog parses and validates the embedded catalogs. The spider file
// is checked against its JSON schema first, so a malformed catalog fails
// the process at startup instead of surfacing mid-crawl.
func LoadCatalog() (*Catalog, error) {
	rawSpiders, err := catalogFS.ReadFile(spidersFile)
	if err != nil {
		return nil, fmt.Errorf("read spider catalog: %w", err)
	}

	rawSchema, err := catalogFS.ReadFile(schemaFile)
	if err != nil {
		return nil, fmt.Errorf("read spider schema: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(rawSchema),
		gojsonschema.NewBytesLoader(rawSpiders),
	)
	if err != nil {
		return nil, fmt.Errorf("validate spider catalog: %w", err)
	}

	if !result.Valid() {
		issues := make([]string, 0, len(result.Errors()))
		for _, issue := range result.Errors() {
			issues = append(issues, issue.String())
		}

		return nil, fmt.Errorf("spider catalog does not match schema: %s", strings.Join(issues, "; "))
	}

	var configs []Config
	if err := json.Unmarshal(rawSpiders, &configs); err != nil {
		return nil, fmt.Errorf("parse spider catalog: %w", err)
	}

	rawCities, err := catalogFS.ReadFile(citiesFile)
	if err != nil {
		return nil, fmt.Errorf("read territory catalog: %w", err)
	}

	var territories []Territory
	if err := json.Unmarshal(rawCities, &territories); err != nil {
		return nil, fmt.Errorf("parse territory catalog: %w", err)
	}

	cat := &Catalog{
		spiders:     make(map[string]Config, len(configs)),
		territories: make(map[string]Territory, len(territories)),
		order:       make([]string, 0, len(configs)),
	}

	for _, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}

		if _, dup := cat.spiders[cfg.ID]; dup {
			return nil, fmt.Errorf("spider catalog: duplicate id %q", cfg.ID)
		}

		cat.spiders[cfg.ID] = cfg
		cat.order = append(cat.order, cfg.ID)
	}

	for _, territory := range territories {
		cat.territories[territory.ID] = territory
	}

	return cat, nil
}

// Spider returns the configuration for one spider id.
func (c *Catalog) Spider(id string) (Config, bool) {
	cfg, ok := c.spiders[id]

	return cfg, ok
}

// Spiders returns every configuration in catalog order.
func (c *Catalog) Spiders() []Config {
	out := make([]Config, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.spiders[id])
	}

	return out
}

// SpidersByScope returns the configurations matching scope, in catalog
// order. An empty scope matches everything.
func (c *Catalog) SpidersByScope(scope Scope) []Config {
	if scope == "" {
		return c.Spiders()
	}

	var out []Config

	for _, id := range c.order {
		if c.spiders[id].Scope == scope {
			out = append(out, c.spiders[id])
		}
	}

	return out
}

// Territory looks up a territory by IBGE id.
func (c *Catalog) Territory(id string) (Territory, bool) {
	territory, ok := c.territories[id]

	return territory, ok
}

// TerritoryName returns the display name for a territory id, or the id
// itself when the catalog does not know it. The lookup is best-effort on
// purpose: webhook payloads degrade to the raw id, never fail.
func (c *Catalog) TerritoryName(id string) string {
	if territory, ok := c.territories[id]; ok {
		return territory.Name
	}

	return id
}

// CitiesOf returns every municipality of a state, in id order: the split
// targets for that state's gazettes.
func (c *Catalog) CitiesOf(stateCode string) []Territory {
	var out []Territory

	for _, territory := range c.territories {
		if territory.StateCode == stateCode && !territory.IsState() {
			out = append(out, territory)
		}
	}

	slices.SortFunc(out, func(a, b Territory) int {
		return strings.Compare(a.ID, b.ID)
	})

	return out
}
