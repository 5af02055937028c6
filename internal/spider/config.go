package spider

import (
	"fmt"
	"time"
)

// Scope says whether a spider's gazettes belong to a single city or to a
// whole state. State-scope documents are split per city downstream.
type Scope string

// Gazette scopes.
const (
	ScopeCity  Scope = "city"
	ScopeState Scope = "state"
)

// Spider types understood by the crawl stage. Each maps to one platform
// implementation.
const (
	TypeDOEM   = "doem"
	TypeSigpub = "sigpub"
	TypeDOEBA  = "doe_ba"
)

// Config describes one spider from the packaged catalog. Exactly one of
// the platform parameter blocks is set, matching SpiderType.
type Config struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	TerritoryID string        `json:"territoryId"`
	StateCode   string        `json:"stateCode"`
	SpiderType  string        `json:"spiderType"`
	Scope       Scope         `json:"gazetteScope"`
	StartDate   string        `json:"startDate,omitempty"`
	Keywords    []string      `json:"keywords,omitempty"`
	DOEM        *DOEMParams   `json:"doem,omitempty"`
	Sigpub      *SigpubParams `json:"sigpub,omitempty"`
	DOE         *DOEParams    `json:"doe,omitempty"`
}

// DOEMParams configures a doem.org.br municipal spider.
type DOEMParams struct {
	// StateCityPath is the site path fragment, e.g. "ba/camacari".
	StateCityPath string `json:"stateCityPath"`
}

// SigpubParams configures a sigpub.com.br association spider.
type SigpubParams struct {
	CalendarURL string `json:"calendarUrl"`
	EntityID    string `json:"entityId"`
}

// DOEParams configures a state official-press spider.
type DOEParams struct {
	BaseURL string `json:"baseUrl"`
}

// EarliestDate parses StartDate, or returns the zero time when the catalog
// does not bound the spider.
func (c Config) EarliestDate() (time.Time, error) {
	if c.StartDate == "" {
		return time.Time{}, nil
	}

	t, err := time.Parse("2006-01-02", c.StartDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("spider %s: parse startDate: %w", c.ID, err)
	}

	return t, nil
}

// Validate checks the cross-field rules the JSON schema cannot express:
// the parameter block must match the declared spider type.
func (c Config) Validate() error {
	if c.ID == "" || c.TerritoryID == "" {
		return fmt.Errorf("spider %q: id and territoryId are required", c.ID)
	}

	if c.Scope != ScopeCity && c.Scope != ScopeState {
		return fmt.Errorf("spider %s: unknown gazetteScope %q", c.ID, c.Scope)
	}

	switch c.SpiderType {
	case TypeDOEM:
		if c.DOEM == nil || c.DOEM.StateCityPath == "" {
			return fmt.Errorf("spider %s: doem.stateCityPath is required", c.ID)
		}
	case TypeSigpub:
		if c.Sigpub == nil || c.Sigpub.CalendarURL == "" {
			return fmt.Errorf("spider %s: sigpub.calendarUrl is required", c.ID)
		}
	case TypeDOEBA:
		if c.DOE == nil || c.DOE.BaseURL == "" {
			return fmt.Errorf("spider %s: doe.baseUrl is required", c.ID)
		}
	default:
		return fmt.Errorf("spider %s: unknown spiderType %q", c.ID, c.SpiderType)
	}

	return nil
}
