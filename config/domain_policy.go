package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// DomainPolicyConfig restricts which hosts evidence tools may cite.
type DomainPolicyConfig struct {
	Allow []string `mapstructure:"allow" json:"allow"`
	Block []string `mapstructure:"block" json:"block"`
}

// Normalize cleans entries and removes duplicates.
func (c DomainPolicyConfig) Normalize() DomainPolicyConfig {
	return DomainPolicyConfig{
		Allow: sanitizeDomainList(c.Allow),
		Block: sanitizeDomainList(c.Block),
	}
}

// Validate ensures no host is both allowed and blocked.
func (c DomainPolicyConfig) Validate() error {
	norm := c.Normalize()
	allow := make(map[string]struct{}, len(norm.Allow))
	for _, host := range norm.Allow {
		allow[host] = struct{}{}
	}
	for _, host := range norm.Block {
		if _, ok := allow[host]; ok {
			return fmt.Errorf("domain policy conflict: host %q present in both allow and block lists", host)
		}
	}
	return nil
}

// Merge returns a policy extended with per-request lists.
func (c DomainPolicyConfig) Merge(allow, block []string) DomainPolicyConfig {
	return DomainPolicyConfig{
		Allow: append(append([]string(nil), c.Allow...), allow...),
		Block: append(append([]string(nil), c.Block...), block...),
	}.Normalize()
}

// Permits reports whether rawURL passes the policy. An empty allow list
// admits every host that is not blocked. Subdomains match their parent entry.
func (c DomainPolicyConfig) Permits(rawURL string) bool {
	host := NormalizeHost(rawURL)
	if host == "" {
		return len(c.Allow) == 0
	}
	for _, b := range c.Block {
		if hostMatches(host, b) {
			return false
		}
	}
	if len(c.Allow) == 0 {
		return true
	}
	for _, a := range c.Allow {
		if hostMatches(host, a) {
			return true
		}
	}
	return false
}

func hostMatches(host, entry string) bool {
	return host == entry || strings.HasSuffix(host, "."+entry)
}

func sanitizeDomainList(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	for _, raw := range values {
		host := NormalizeHost(raw)
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

// NormalizeHost lowercases a host or URL and strips the scheme, port and www prefix.
func NormalizeHost(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return ""
	}
	if strings.Contains(value, "://") {
		if u, err := url.Parse(value); err == nil && u.Host != "" {
			return strings.TrimPrefix(u.Hostname(), "www.")
		}
		return ""
	}
	if i := strings.IndexAny(value, "/:"); i >= 0 {
		value = value[:i]
	}
	return strings.TrimPrefix(value, "www.")
}
