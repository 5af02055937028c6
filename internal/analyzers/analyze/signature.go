package analyze

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// configHashLen is the length of the truncated hex digest used as the
// configuration signature.
const configHashLen = 32

// jobHashLen is the length of the truncated hex digest inside analysis
// job identifiers.
const jobHashLen = 16

// Signature identifies one analysis configuration as applied to one
// territory. Two signatures with the same fields always hash to the
// same value, which is what makes analysis ids and dedup keys stable
// across reruns.
type Signature struct {
	Version     string
	AnalyzerIDs []string
	Keywords    []string
	TerritoryID string
}

// Hash returns the 32-hex-digit digest of the signature. Analyzer IDs
// and keywords are sorted before hashing so field order never changes
// the result.
func (s Signature) Hash() string {
	analyzers := append([]string(nil), s.AnalyzerIDs...)
	sort.Strings(analyzers)

	keywords := append([]string(nil), s.Keywords...)
	sort.Strings(keywords)

	h := sha256.New()
	fmt.Fprintf(h, "%s\n%s\n%s\n%s",
		s.Version,
		strings.Join(analyzers, ","),
		strings.Join(keywords, ","),
		s.TerritoryID)

	return hex.EncodeToString(h.Sum(nil))[:configHashLen]
}

// JobID derives the deterministic analysis job identifier for one
// gazette processed for one territory under one configuration hash.
func JobID(territoryID string, gazetteID int64, configHash string) string {
	return "analysis-" + shortHash(fmt.Sprintf("%s:%d:%s", territoryID, gazetteID, configHash))
}

// DedupKey builds the storage deduplication key for an analysis result.
// cityFilter is empty for city-level gazettes; for state-level gazettes
// it is the city regex that narrowed the text, so the same gazette
// analyzed for two cities yields distinct keys.
func DedupKey(territoryID string, gazetteID int64, configHash, cityFilter string) string {
	key := fmt.Sprintf("%s:%d:%s", territoryID, gazetteID, configHash)
	if cityFilter != "" {
		key += ":" + cityFilter
	}

	return key
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))

	return hex.EncodeToString(sum[:])[:jobHashLen]
}
