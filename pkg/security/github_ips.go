package security

import (
	"fmt"
	"net/netip"
)

// githubHookRanges is the "hooks" list from https://api.github.com/meta.
// GitHub changes it rarely; extra ranges can be supplied at startup.
var githubHookRanges = []string{
	"192.30.252.0/22",
	"185.199.108.0/22",
	"140.82.112.0/20",
	"143.55.64.0/20",
	"2a0a:a440::/29",
	"2606:50c0::/32",
}

// IPAllowlist reports whether a client IP may deliver webhooks.
type IPAllowlist interface {
	IsValid(ip string) bool
}

// GitHubIPValidator accepts only addresses inside GitHub's hook ranges.
type GitHubIPValidator struct {
	prefixes []netip.Prefix
	enabled  bool
}

// NewGitHubIPValidator creates a validator. A disabled validator accepts
// every IP. Extra CIDRs are accepted in addition to GitHub's ranges.
func NewGitHubIPValidator(enabled bool, extraCIDRs ...string) (*GitHubIPValidator, error) {
	v := &GitHubIPValidator{enabled: enabled}
	if !enabled {
		return v, nil
	}

	v.prefixes = make([]netip.Prefix, 0, len(githubHookRanges)+len(extraCIDRs))
	for _, list := range [][]string{githubHookRanges, extraCIDRs} {
		for _, cidr := range list {
			p, err := netip.ParsePrefix(cidr)
			if err != nil {
				return nil, fmt.Errorf("invalid CIDR %q: %w", cidr, err)
			}
			v.prefixes = append(v.prefixes, p.Masked())
		}
	}
	return v, nil
}

// IsValid reports whether ip falls in an allowed range. IPv4-mapped IPv6
// addresses are matched against the IPv4 ranges.
func (v *GitHubIPValidator) IsValid(ip string) bool {
	if !v.enabled {
		return true
	}

	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()

	for _, p := range v.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
