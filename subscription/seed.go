package subscription

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

/* Seeding lets operators pre-register webhook endpoints from a YAML
 * file at boot, without going through the management API
 */

// SeedConfig represents the structure of subscriptions.yaml
type SeedConfig struct {
	Subscriptions []SeedEntry `yaml:"subscriptions"`
}

// SeedEntry represents a single subscription in the YAML file
type SeedEntry struct {
	URL               string            `yaml:"url"`
	Events            []string          `yaml:"events"`
	Secret            string            `yaml:"secret"`
	MaxRetries        *int              `yaml:"max_retries"`
	RetryDelaySeconds *int              `yaml:"retry_delay_seconds"`
	TimeoutSeconds    *int              `yaml:"timeout_seconds"`
	Metadata          map[string]string `yaml:"metadata"`
}

// SeedFromFile registers every subscription in the file through the service,
// returning how many were created. Any invalid entry aborts the whole seed
func SeedFromFile(ctx context.Context, path string, svc UseCase) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading seed file: %w", err)
	}

	var cfg SeedConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return 0, fmt.Errorf("parsing seed YAML: %w", err)
	}

	for i, entry := range cfg.Subscriptions {
		spec := Spec{
			URL:      entry.URL,
			Events:   entry.Events,
			Secret:   entry.Secret,
			Metadata: entry.Metadata,
		}

		if entry.MaxRetries != nil || entry.RetryDelaySeconds != nil || entry.TimeoutSeconds != nil {
			policy := DefaultRetryPolicy()
			if entry.MaxRetries != nil {
				policy.MaxRetries = *entry.MaxRetries
			}
			if entry.RetryDelaySeconds != nil {
				policy.RetryDelaySeconds = *entry.RetryDelaySeconds
			}
			if entry.TimeoutSeconds != nil {
				policy.TimeoutSeconds = *entry.TimeoutSeconds
			}
			spec.RetryPolicy = &policy
		}

		if _, err := svc.Create(ctx, spec); err != nil {
			return 0, fmt.Errorf("seeding subscription %d (%s): %w", i, entry.URL, err)
		}
	}

	return len(cfg.Subscriptions), nil
}
