package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultMapboxBaseURL = "https://api.mapbox.com"

// Mapbox forward-geocodes through the Mapbox Places v5 API. Feature relevance
// is reported as the match confidence.
type Mapbox struct {
	name    string
	baseURL string
	token   string
	country string
	client  *http.Client
}

func NewMapbox(name, baseURL, token, country string, timeout time.Duration) *Mapbox {
	if baseURL == "" {
		baseURL = defaultMapboxBaseURL
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if name == "" {
		name = "mapbox"
	}
	return &Mapbox{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		country: country,
		client:  &http.Client{Timeout: timeout},
	}
}

func (m *Mapbox) Name() string { return m.name }

func (m *Mapbox) Lookup(ctx context.Context, query string) (*Match, error) {
	if m.token == "" {
		return nil, NewProviderError(ErrorAuthentication, m.name, "missing access token", nil)
	}

	qp := url.Values{}
	qp.Set("access_token", m.token)
	qp.Set("limit", "1")
	qp.Set("autocomplete", "false")
	if m.country != "" {
		qp.Set("country", m.country)
	}
	endpoint := m.baseURL + "/geocoding/v5/mapbox.places/" + url.PathEscape(query) + ".json?" + qp.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, NewProviderError(ErrorInternal, m.name, "build request", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, classifyTransport(m.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classifyStatus(m.name, resp.StatusCode)
	}

	var decoded struct {
		Features []struct {
			PlaceName string    `json:"place_name"`
			Relevance float64   `json:"relevance"`
			Center    []float64 `json:"center"`
		} `json:"features"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, NewProviderError(ErrorBadData, m.name, "decode response", err)
	}
	if len(decoded.Features) == 0 {
		return nil, NewProviderError(ErrorNotFound, m.name, "no results", nil)
	}
	feat := decoded.Features[0]
	if len(feat.Center) < 2 {
		return nil, NewProviderError(ErrorBadData, m.name, "feature has no center", nil)
	}
	return &Match{
		Lng:                feat.Center[0],
		Lat:                feat.Center[1],
		DisplayName:        feat.PlaceName,
		Confidence:         feat.Relevance,
		ConfidenceReported: true,
	}, nil
}
