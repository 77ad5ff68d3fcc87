package imageurl

import "strings"

// HostMatcher decides whether a lowercased hostname (no port) belongs to a
// group of origins.
type HostMatcher func(host string) bool

// HostSuffix matches domain itself and any of its subdomains.
func HostSuffix(domain string) HostMatcher {
	domain = strings.ToLower(strings.TrimPrefix(domain, "."))
	return func(host string) bool {
		return host == domain || strings.HasSuffix(host, "."+domain)
	}
}

// HostContains matches any host containing sub.
func HostContains(sub string) HostMatcher {
	sub = strings.ToLower(sub)
	return func(host string) bool {
		return strings.Contains(host, sub)
	}
}

// MatchAny reports whether host satisfies at least one matcher.
func MatchAny(host string, matchers []HostMatcher) bool {
	host = strings.ToLower(host)
	for _, m := range matchers {
		if m(host) {
			return true
		}
	}
	return false
}

// ParseHostList turns a comma separated list into substring matchers.
// Empty entries are skipped.
func ParseHostList(list string) []HostMatcher {
	var out []HostMatcher
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		out = append(out, HostContains(entry))
	}
	return out
}
