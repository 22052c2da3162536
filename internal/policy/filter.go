package policy

import (
	"fmt"
	"net"
	"net/netip"
	"strings"

	"github.com/tidwall/match"
	"golang.org/x/net/idna"
)

// DefaultExcludedHosts is used when no exclusion globs are configured.
var DefaultExcludedHosts = []string{"*.example.com"}

// DefaultRestricted lists the networks the proxy never connects to.
var DefaultRestricted = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
}

// hostnames are normalised with lookup mapping but without STD3 rules, so
// underscores in real-world hostnames do not fail the check.
var lookup = idna.New(idna.MapForLookup(), idna.BidiRule(), idna.StrictDomainName(false))

// Decision is the outcome of a host check. Reason is only used for diagnostics.
type Decision struct {
	Allowed bool
	Reason  string
}

// Filter decides whether a target host may be fetched. It is immutable
// after construction and safe for concurrent use.
type Filter struct {
	excluded   []string
	restricted []netip.Prefix
}

// Option customises a Filter.
type Option func(*Filter)

// WithRestricted replaces the restricted network list.
func WithRestricted(prefixes ...netip.Prefix) Option {
	return func(f *Filter) {
		f.restricted = append([]netip.Prefix(nil), prefixes...)
	}
}

// New builds a Filter from exclusion globs such as "*.example.com".
func New(excluded []string, opts ...Option) (*Filter, error) {
	f := &Filter{
		restricted: DefaultRestricted,
	}
	for _, pattern := range excluded {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		if pattern == "" {
			return nil, fmt.Errorf("empty excluded host pattern")
		}
		f.excluded = append(f.excluded, strings.TrimSuffix(pattern, "."))
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// IsAllowed reports whether host may be fetched.
func (f *Filter) IsAllowed(host string) bool {
	return f.Decide(host).Allowed
}

// Decide checks host (optionally with a port) against the restricted
// networks and the exclusion globs. Empty or unparseable hosts are rejected.
func (f *Filter) Decide(host string) Decision {
	name := hostname(host)
	if name == "" {
		return Decision{Reason: "empty host"}
	}

	if addr, err := netip.ParseAddr(name); err == nil {
		if f.Restricted(addr) {
			return Decision{Reason: "restricted address " + addr.String()}
		}
	} else {
		ascii, err := lookup.ToASCII(name)
		if err != nil || ascii == "" {
			return Decision{Reason: "unparseable host " + name}
		}
		name = ascii
	}

	for _, pattern := range f.excluded {
		if match.Match(name, pattern) {
			return Decision{Reason: "excluded by " + pattern}
		}
	}
	return Decision{Allowed: true}
}

// Restricted reports whether addr falls into one of the restricted networks.
func (f *Filter) Restricted(addr netip.Addr) bool {
	addr = addr.Unmap().WithZone("")
	for _, prefix := range f.restricted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// hostname strips an optional port and IPv6 brackets, lower-cases the
// name and drops a trailing dot.
func hostname(host string) string {
	host = strings.TrimSpace(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	host = strings.TrimSuffix(host, ".")
	return strings.ToLower(host)
}
