package providers

import (
	"fmt"
	"sort"
	"time"
)

// Config is what the factory hands a builder: everything a vendor
// adapter needs that comes from configuration.
type Config struct {
	APIKey  string
	BaseURL string

	// Version is vendor API versioning where applicable, such as the
	// anthropic-version header value.
	Version string

	// Retry and breaker tuning, zero values mean adapter defaults.
	MaxRetries       int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	FailureThreshold int
	RecoverySeconds  int
}

// Builder constructs an adapter from configuration.
type Builder func(cfg Config) (Provider, error)

var builders = make(map[string]Builder)

// RegisterBuilder is called from adapter init functions so importing an
// adapter package is all it takes to make its vendor available.
func RegisterBuilder(name string, b Builder) {
	builders[name] = b
}

// Create instantiates the named vendor's adapter.
func Create(name string, cfg Config) (Provider, error) {
	b, ok := builders[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider type %q (registered: %v)", name, Registered())
	}
	return b(cfg)
}

// Registered lists the vendor types compiled into this binary, sorted.
func Registered() []string {
	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
