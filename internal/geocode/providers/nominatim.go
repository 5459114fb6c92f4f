package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultNominatimBaseURL = "https://nominatim.openstreetmap.org"

// Nominatim forward-geocodes through an OpenStreetMap Nominatim instance. It
// does not report a confidence.
type Nominatim struct {
	name      string
	baseURL   string
	userAgent string
	country   string
	client    *http.Client
}

func NewNominatim(name, baseURL, userAgent, country string, timeout time.Duration) *Nominatim {
	if baseURL == "" {
		baseURL = defaultNominatimBaseURL
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if userAgent == "" {
		userAgent = "dhruv-review/1.0"
	}
	if name == "" {
		name = "nominatim"
	}
	return &Nominatim{
		name:      name,
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		country:   country,
		client:    &http.Client{Timeout: timeout},
	}
}

func (n *Nominatim) Name() string { return n.name }

func (n *Nominatim) Lookup(ctx context.Context, query string) (*Match, error) {
	qp := url.Values{}
	qp.Set("q", query)
	qp.Set("format", "jsonv2")
	qp.Set("limit", "1")
	if n.country != "" {
		qp.Set("countrycodes", n.country)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"/search?"+qp.Encode(), nil)
	if err != nil {
		return nil, NewProviderError(ErrorInternal, n.name, "build request", err)
	}
	// Nominatim's usage policy rejects requests without an identifying agent.
	req.Header.Set("User-Agent", n.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, classifyTransport(n.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classifyStatus(n.name, resp.StatusCode)
	}

	var decoded []struct {
		Lat         string `json:"lat"`
		Lon         string `json:"lon"`
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, NewProviderError(ErrorBadData, n.name, "decode response", err)
	}
	if len(decoded) == 0 {
		return nil, NewProviderError(ErrorNotFound, n.name, "no results", nil)
	}

	lat, err := strconv.ParseFloat(decoded[0].Lat, 64)
	if err != nil {
		return nil, NewProviderError(ErrorBadData, n.name, "parse lat", err)
	}
	lng, err := strconv.ParseFloat(decoded[0].Lon, 64)
	if err != nil {
		return nil, NewProviderError(ErrorBadData, n.name, "parse lon", err)
	}
	return &Match{Lat: lat, Lng: lng, DisplayName: decoded[0].DisplayName}, nil
}
