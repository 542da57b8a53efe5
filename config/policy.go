package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Normalize cleans domain entries and removes duplicates.
func (p PolicyConfig) Normalize() PolicyConfig {
	norm := p
	norm.AllowedDomains = sanitizeDomainList(norm.AllowedDomains)
	norm.DisallowedDomains = sanitizeDomainList(norm.DisallowedDomains)
	return norm
}

// Validate ensures configured policy entries do not conflict.
func (p PolicyConfig) Validate() error {
	norm := p.Normalize()

	allowed := make(map[string]struct{}, len(norm.AllowedDomains))
	for _, host := range norm.AllowedDomains {
		allowed[host] = struct{}{}
	}
	for _, host := range norm.DisallowedDomains {
		if _, ok := allowed[host]; ok {
			return fmt.Errorf("policy conflict: host %q present in both allowed and disallowed lists", host)
		}
	}
	return nil
}

func sanitizeDomainList(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	for _, raw := range values {
		host := normalizeHost(raw)
		if host == "" {
			continue
		}
		seen[host] = struct{}{}
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for host := range seen {
		out = append(out, host)
	}
	sort.Strings(out)
	return out
}

func normalizeHost(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return ""
	}
	if strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://") {
		if u, err := url.Parse(value); err == nil && u.Host != "" {
			value = u.Host
		}
	}
	if host, _, ok := strings.Cut(value, ":"); ok {
		value = host
	}
	value = strings.TrimPrefix(value, "www.")
	return value
}
