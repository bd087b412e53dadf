package webhook

import "testing"

func newTestAllowlist(t *testing.T, custom map[Provider][]string) *Allowlist {
	t.Helper()
	a, err := NewAllowlist(custom, testLogger())
	if err != nil {
		t.Fatalf("NewAllowlist() error: %v", err)
	}
	return a
}

func TestAllowlist_DefaultRules(t *testing.T) {
	t.Parallel()

	a := newTestAllowlist(t, nil)

	tests := []struct {
		provider Provider
		address  string
		want     bool
	}{
		// Published provider networks.
		{ProviderYooKassa, "185.71.76.5", true},
		{ProviderYooKassa, "77.75.156.11", true},
		{ProviderYooKassa, "77.75.156.12", false},
		{ProviderYooKassa, "8.8.8.8", false},
		{ProviderFreeKassa, "168.119.157.136", true},
		{ProviderFreeKassa, "168.119.157.137", false},
		{ProviderStars, "149.154.167.220", true},
		{ProviderStars, "91.108.4.1", true},
		{ProviderStars, "1.2.3.4", false},
		{ProviderPanel, "127.0.0.1", true},
		{ProviderPanel, "::1", true},
		{ProviderPanel, "10.0.0.1", false},
		// Signature-only providers admit everything.
		{ProviderCryptoPay, "203.0.113.7", true},
		{ProviderCryptoPay, "2001:db8::1", true},
		{ProviderTribute, "198.51.100.1", true},
	}
	for _, tt := range tests {
		if got := a.Allowed(tt.provider, tt.address); got != tt.want {
			t.Errorf("Allowed(%s, %s) = %v, want %v", tt.provider, tt.address, got, tt.want)
		}
	}
}

func TestAllowlist_DeniesByDefault(t *testing.T) {
	t.Parallel()

	a := newTestAllowlist(t, nil)

	if a.Allowed(Provider("bogus"), "1.2.3.4") {
		t.Error("unknown provider should deny")
	}
	if a.Allowed(ProviderYooKassa, "not-an-ip") {
		t.Error("unparseable address should deny")
	}
	if a.Allowed(ProviderYooKassa, "") {
		t.Error("empty address should deny")
	}
}

func TestAllowlist_CustomRulesExtendDefaults(t *testing.T) {
	t.Parallel()

	a := newTestAllowlist(t, map[Provider][]string{
		ProviderYooKassa: {"10.1.0.0/16", "192.0.2.9"},
	})

	if !a.Allowed(ProviderYooKassa, "10.1.5.5") {
		t.Error("custom CIDR should be allowed")
	}
	if !a.Allowed(ProviderYooKassa, "192.0.2.9") {
		t.Error("custom single host should be allowed")
	}
	// Defaults survive the merge.
	if !a.Allowed(ProviderYooKassa, "185.71.76.5") {
		t.Error("default rule should still be allowed")
	}
}

func TestAllowlist_MappedIPv4Unwrapped(t *testing.T) {
	t.Parallel()

	a := newTestAllowlist(t, nil)

	// An IPv4-mapped IPv6 literal must match the IPv4 rule set; proxies
	// sometimes report remote addresses in this form.
	if !a.Allowed(ProviderYooKassa, "::ffff:185.71.76.5") {
		t.Error("mapped IPv4 address should match IPv4 rules")
	}
}

func TestAllowlist_AddRemoveRule(t *testing.T) {
	t.Parallel()

	a := newTestAllowlist(t, nil)

	if err := a.AddRule(ProviderPanel, "172.16.0.0/12"); err != nil {
		t.Fatalf("AddRule() error: %v", err)
	}
	if !a.Allowed(ProviderPanel, "172.16.9.9") {
		t.Error("address should be allowed after AddRule")
	}

	removed, err := a.RemoveRule(ProviderPanel, "172.16.0.0/12")
	if err != nil || !removed {
		t.Fatalf("RemoveRule() = %v, %v, want true, nil", removed, err)
	}
	if a.Allowed(ProviderPanel, "172.16.9.9") {
		t.Error("address should be denied after RemoveRule")
	}

	removed, err = a.RemoveRule(ProviderPanel, "172.16.0.0/12")
	if err != nil || removed {
		t.Errorf("RemoveRule() of absent rule = %v, %v, want false, nil", removed, err)
	}

	if err := a.AddRule(ProviderPanel, "not-a-cidr"); err == nil {
		t.Error("AddRule() with invalid entry should fail")
	}
}

func TestAllowlist_AllowAll(t *testing.T) {
	t.Parallel()

	a := newTestAllowlist(t, nil)

	if a.Allowed(ProviderStars, "8.8.8.8") {
		t.Fatal("address should be denied before AllowAll")
	}
	a.AllowAll(ProviderStars)
	if !a.Allowed(ProviderStars, "8.8.8.8") {
		t.Error("IPv4 address should be allowed after AllowAll")
	}
	if !a.Allowed(ProviderStars, "2001:db8::1") {
		t.Error("IPv6 address should be allowed after AllowAll")
	}
}

func TestNewAllowlist_RejectsInvalidCustomRule(t *testing.T) {
	t.Parallel()

	if _, err := NewAllowlist(map[Provider][]string{
		ProviderPanel: {"999.1.1.1"},
	}, testLogger()); err == nil {
		t.Error("NewAllowlist() with invalid rule should fail")
	}
}

func TestAllowlist_Stats(t *testing.T) {
	t.Parallel()

	a := newTestAllowlist(t, nil)

	stats := a.Stats()
	if len(stats) == 0 {
		t.Fatal("Stats() should cover the default providers")
	}
	for provider, count := range stats {
		if count == 0 {
			t.Errorf("provider %s has no rules", provider)
		}
	}

	before := stats[ProviderStars]
	if err := a.AddRule(ProviderStars, "198.51.100.0/24"); err != nil {
		t.Fatalf("AddRule() error: %v", err)
	}
	if got := a.Stats()[ProviderStars]; got != before+1 {
		t.Errorf("rule count after AddRule = %d, want %d", got, before+1)
	}
}
