package webhook

import (
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
)

// universalNetworks represent the "allow everything" state. Disabling
// allowlisting for a provider is expressed by installing these rather
// than by a bypass flag, so one matching code path covers every case.
var universalNetworks = []string{"0.0.0.0/0", "::/0"}

// defaultAllowRules holds the published source networks of each
// provider. Providers whose callbacks originate from arbitrary
// addresses ship the universal networks and rely on the signature check.
var defaultAllowRules = map[Provider][]string{
	ProviderYooKassa: {
		"185.71.76.0/27",
		"185.71.77.0/27",
		"77.75.153.0/25",
		"77.75.156.11",
		"77.75.156.35",
		"77.75.154.128/25",
	},
	ProviderCryptoPay: universalNetworks,
	ProviderFreeKassa: {
		"168.119.157.136",
		"168.119.60.227",
		"138.201.88.124",
		"178.154.197.79",
	},
	ProviderTribute: universalNetworks,
	ProviderStars: {
		"149.154.160.0/20",
		"91.108.4.0/22",
	},
	ProviderPanel: {
		"127.0.0.1",
		"::1",
	},
}

// Allowlist holds per-provider source network rules supporting IPv4 and
// IPv6 addresses and CIDR ranges. Safe for concurrent use.
type Allowlist struct {
	mu     sync.RWMutex
	rules  map[Provider][]netip.Prefix
	logger *slog.Logger
}

// NewAllowlist builds an allowlist from the provider defaults merged
// with custom entries. Custom rules extend the defaults rather than
// replacing them.
func NewAllowlist(custom map[Provider][]string, logger *slog.Logger) (*Allowlist, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Allowlist{
		rules:  make(map[Provider][]netip.Prefix),
		logger: logger,
	}
	for provider, entries := range defaultAllowRules {
		prefixes, err := parseRules(entries)
		if err != nil {
			return nil, fmt.Errorf("default rules for %s: %w", provider, err)
		}
		a.rules[provider] = prefixes
	}
	for provider, entries := range custom {
		prefixes, err := parseRules(entries)
		if err != nil {
			return nil, fmt.Errorf("custom rules for %s: %w", provider, err)
		}
		a.rules[provider] = append(a.rules[provider], prefixes...)
	}
	return a, nil
}

// parseRules parses address and CIDR strings. A bare address becomes a
// single-host prefix.
func parseRules(entries []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(entries))
	for _, entry := range entries {
		prefix, err := parseRule(entry)
		if err != nil {
			return nil, err
		}
		prefixes = append(prefixes, prefix)
	}
	return prefixes, nil
}

func parseRule(entry string) (netip.Prefix, error) {
	if prefix, err := netip.ParsePrefix(entry); err == nil {
		return prefix.Masked(), nil
	}
	addr, err := netip.ParseAddr(entry)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid address or CIDR %q: %w", entry, err)
	}
	return netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()), nil
}

// Allowed reports whether the address may deliver webhooks for the
// provider. Unknown providers, missing rule sets and unparseable
// addresses all deny.
func (a *Allowlist) Allowed(provider Provider, address string) bool {
	a.mu.RLock()
	prefixes, ok := a.rules[provider]
	a.mu.RUnlock()

	if !ok {
		a.logger.Warn("no allowlist configured for provider", "provider", provider)
		return false
	}

	addr, err := netip.ParseAddr(address)
	if err != nil {
		a.logger.Warn("invalid source address", "address", address, "error", err)
		return false
	}
	addr = addr.Unmap()

	for _, prefix := range prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	a.logger.Warn("source address not in allowlist",
		"provider", provider, "address", address)
	return false
}

// AddRule appends an address or CIDR range to the provider's rules.
func (a *Allowlist) AddRule(provider Provider, entry string) error {
	prefix, err := parseRule(entry)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.rules[provider] = append(a.rules[provider], prefix)
	a.mu.Unlock()

	a.logger.Info("allowlist rule added", "provider", provider, "rule", entry)
	return nil
}

// RemoveRule deletes an address or CIDR range from the provider's rules.
// Returns false when the rule was not present.
func (a *Allowlist) RemoveRule(provider Provider, entry string) (bool, error) {
	prefix, err := parseRule(entry)
	if err != nil {
		return false, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	prefixes := a.rules[provider]
	for i, p := range prefixes {
		if p == prefix {
			a.rules[provider] = append(prefixes[:i], prefixes[i+1:]...)
			a.logger.Info("allowlist rule removed", "provider", provider, "rule", entry)
			return true, nil
		}
	}
	return false, nil
}

// AllowAll replaces the provider's rules with the universal networks,
// admitting every address. Signature verification still applies.
func (a *Allowlist) AllowAll(provider Provider) {
	prefixes, _ := parseRules(universalNetworks)

	a.mu.Lock()
	a.rules[provider] = prefixes
	a.mu.Unlock()

	a.logger.Warn("allowlist disabled for provider, all addresses admitted",
		"provider", provider)
}

// Rules returns the provider's rules in CIDR notation.
func (a *Allowlist) Rules(provider Provider) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	prefixes := a.rules[provider]
	out := make([]string, len(prefixes))
	for i, p := range prefixes {
		out[i] = p.String()
	}
	return out
}

// Stats reports how many rules each provider currently carries.
func (a *Allowlist) Stats() map[Provider]int {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := make(map[Provider]int, len(a.rules))
	for provider, prefixes := range a.rules {
		stats[provider] = len(prefixes)
	}
	return stats
}
