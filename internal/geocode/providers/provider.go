package providers

import "context"

//go:generate mockgen -source=provider.go -destination=mocks/mocks.go -package=mocks Provider

// Match is the best hit a provider found for a query.
type Match struct {
	Lat         float64
	Lng         float64
	DisplayName string
	// Confidence is meaningful only when ConfidenceReported is true.
	Confidence         float64
	ConfidenceReported bool
}

// Provider is one forward-geocoding backend. Lookup returns a ProviderError
// with category ErrorNotFound when the query has no results.
type Provider interface {
	Name() string
	Lookup(ctx context.Context, query string) (*Match, error)
}
