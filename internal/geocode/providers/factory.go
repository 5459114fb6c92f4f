package providers

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ProviderConfig describes one entry of the provider chain.
type ProviderConfig struct {
	Name      string        `yaml:"name"`
	Type      string        `yaml:"type"`
	BaseURL   string        `yaml:"base_url"`
	Token     string        `yaml:"token"`
	UserAgent string        `yaml:"user_agent"`
	Country   string        `yaml:"country"`
	Timeout   time.Duration `yaml:"timeout"`
}

// ChainConfig is the ordered provider chain. The first entry is the primary.
type ChainConfig struct {
	Providers []ProviderConfig `yaml:"providers"`
}

// DefaultChain is used when no config file is given: Mapbox first when a
// token is available, then Nominatim.
func DefaultChain(mapboxToken string) ChainConfig {
	var cfg ChainConfig
	if mapboxToken != "" {
		cfg.Providers = append(cfg.Providers, ProviderConfig{Name: "mapbox", Type: "mapbox", Token: mapboxToken, Country: "in"})
	}
	cfg.Providers = append(cfg.Providers, ProviderConfig{Name: "nominatim", Type: "nominatim", Country: "in"})
	return cfg
}

// LoadChainConfig reads a YAML chain definition. Tokens may reference
// environment variables as ${VAR}.
func LoadChainConfig(path string) (ChainConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ChainConfig{}, fmt.Errorf("read geocoder config: %w", err)
	}
	var cfg ChainConfig
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &cfg); err != nil {
		return ChainConfig{}, fmt.Errorf("parse geocoder config: %w", err)
	}
	if len(cfg.Providers) == 0 {
		return ChainConfig{}, ErrNoProviders
	}
	return cfg, nil
}

func NewProviderFromConfig(pc ProviderConfig) (Provider, error) {
	switch pc.Type {
	case "mapbox":
		return NewMapbox(pc.Name, pc.BaseURL, pc.Token, pc.Country, pc.Timeout), nil
	case "nominatim":
		return NewNominatim(pc.Name, pc.BaseURL, pc.UserAgent, pc.Country, pc.Timeout), nil
	case "":
		return nil, fmt.Errorf("provider %q: type is required", pc.Name)
	default:
		return nil, fmt.Errorf("provider %q: %w: %s", pc.Name, ErrUnknownProviderType, pc.Type)
	}
}

// BuildChain constructs every provider in order.
func BuildChain(cfg ChainConfig) ([]Provider, error) {
	if len(cfg.Providers) == 0 {
		return nil, ErrNoProviders
	}
	out := make([]Provider, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		p, err := NewProviderFromConfig(pc)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
