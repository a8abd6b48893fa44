package config

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Parameter names accepted by [Parameters.Set]. They match the names the
// host runtime uses in its parameter UI.
const (
	ParamBaseURL  = "BASE_URL"
	ParamAPIToken = "API_TOKEN"
)

// Parameters holds the host-owned connection settings. Values may change
// at any time; readers call BaseURL and APIToken on every request rather
// than caching them. Safe for concurrent use.
type Parameters struct {
	mu      sync.RWMutex
	baseURL string
	token   string
}

// NewParameters seeds runtime parameters from the loaded config.
func NewParameters(c OpenHABConfig) *Parameters {
	return &Parameters{
		baseURL: strings.TrimRight(c.URL, "/"),
		token:   c.Token,
	}
}

// BaseURL returns the openHAB base URL without a trailing slash.
func (p *Parameters) BaseURL() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.baseURL
}

// APIToken returns the bearer credential.
func (p *Parameters) APIToken() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.token
}

// Set updates a parameter by its host-facing name.
func (p *Parameters) Set(name, value string) error {
	value = strings.TrimSpace(value)

	p.mu.Lock()
	defer p.mu.Unlock()

	switch name {
	case ParamBaseURL:
		value = strings.TrimRight(value, "/")
		if value != "" {
			if err := validateBaseURL(value); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		}
		p.baseURL = value
	case ParamAPIToken:
		p.token = value
	default:
		return fmt.Errorf("unknown parameter %q (valid: %s)", name, strings.Join(ParameterNames(), ", "))
	}
	return nil
}

// Snapshot returns the current values keyed by parameter name, with the
// token redacted.
func (p *Parameters) Snapshot() map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	token := ""
	if p.token != "" {
		token = "********"
	}
	return map[string]string{
		ParamBaseURL:  p.baseURL,
		ParamAPIToken: token,
	}
}

// ParameterNames lists the accepted parameter names in sorted order.
func ParameterNames() []string {
	names := []string{ParamBaseURL, ParamAPIToken}
	sort.Strings(names)
	return names
}
