// Package geocode resolves free-text place descriptions to coordinates.
//
// Resolution is best-effort enrichment: a query either yields a Result or
// nothing. Provider failures never reach callers.
package geocode

// Source tags which resolver tier answered a query.
const (
	SourceCache     = "cache"
	SourcePrimary   = "primary"
	SourceSecondary = "secondary"
	SourceFallback  = "fallback"
)

// SourceForPosition maps a provider's position in the chain to its tag.
func SourceForPosition(i int) string {
	switch i {
	case 0:
		return SourcePrimary
	case 1:
		return SourceSecondary
	default:
		return SourceFallback
	}
}

// Result is a resolved coordinate with provenance.
type Result struct {
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	DisplayName string  `json:"display_name,omitempty"`
	Confidence  float64 `json:"confidence"`
	Source      string  `json:"source"`
	Provider    string  `json:"provider"`
}
