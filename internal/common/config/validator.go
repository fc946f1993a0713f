package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ValidationError collects every problem found in a configuration
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString("invalid configuration:")
	for _, p := range e.Problems {
		sb.WriteString("\n--> ")
		sb.WriteString(p)
	}
	return sb.String()
}

// Validate checks the configuration after defaults have been applied
func (c *Config) Validate() error {
	v := &ValidationError{}
	add := func(format string, args ...any) {
		v.Problems = append(v.Problems, fmt.Sprintf(format, args...))
	}

	switch c.Storage.Type {
	case "memory":
	case "redis":
		if c.Storage.Redis.Addr == "" {
			add("storage.redis.addr is required for redis storage")
		}
	case "db":
		switch c.Storage.Database.Type {
		case "sqlite", "postgres", "mysql":
		default:
			add("unsupported storage.database.type %q", c.Storage.Database.Type)
		}
		if c.Storage.Database.DBName == "" {
			add("storage.database.dbname is required")
		}
	default:
		add("unsupported storage.type %q", c.Storage.Type)
	}

	switch c.RateLimit.Store {
	case "memory":
	case "redis":
		if c.RateLimit.Redis.Addr == "" {
			add("rate_limit.redis.addr is required for redis rate limiting")
		}
	default:
		add("unsupported rate_limit.store %q", c.RateLimit.Store)
	}
	if c.RateLimit.SweepInterval < 0 {
		add("rate_limit.sweep_interval must not be negative")
	}
	for bucket, p := range c.RateLimit.Policies {
		if p.Window <= 0 || p.MaxRequests <= 0 {
			add("rate_limit.policies.%s needs a positive window and max_requests", bucket)
		}
	}

	switch c.Cleanup.Mode {
	case "timer", "sampled", "off":
	default:
		add("unsupported cleanup.mode %q", c.Cleanup.Mode)
	}
	if c.Cleanup.SampleRate > 1 {
		add("cleanup.sample_rate must be within (0, 1]")
	}

	if c.Session.SecretKey != "" && len(c.Session.SecretKey) < 32 {
		add("session.secret_key must be at least 32 characters")
	}

	seen := make(map[string]bool, len(c.OAuth.Clients))
	for i, cl := range c.OAuth.Clients {
		if cl.ID == "" {
			add("oauth.clients[%d].id is required", i)
			continue
		}
		if seen[cl.ID] {
			add("duplicate client id %q", cl.ID)
		}
		seen[cl.ID] = true
		if cl.Secret == "" && cl.SecretHash == "" {
			add("client %q needs secret or secret_hash", cl.ID)
		}
		if len(cl.RedirectURIs) == 0 {
			add("client %q needs at least one redirect uri", cl.ID)
		}
		for _, raw := range cl.RedirectURIs {
			if err := checkRedirectURI(raw); err != nil {
				add("client %q: %v", cl.ID, err)
			}
		}
	}

	for i, u := range c.OAuth.Users {
		if u.ID == "" {
			add("oauth.users[%d].id is required", i)
		}
	}

	if len(v.Problems) > 0 {
		return v
	}
	return nil
}

func checkRedirectURI(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("redirect uri %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("redirect uri %q must be absolute", raw)
	}
	if u.Fragment != "" {
		return errors.New("redirect uri must not contain a fragment")
	}
	return nil
}
