package grab

import (
	"net/url"
	"strings"
)

// Host extracts the lowercased hostname of a raw URL, stripping any leading
// "www." label. Returns "" when the URL does not parse.
func Host(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(parsed.Hostname())
	return strings.TrimPrefix(host, "www.")
}

// EffectiveDomain maps a host onto the per-domain concurrency table by
// suffix-matching subdomains against the registered base domains, so that
// e.g. "cdn.foo.com" shares the bucket configured for "foo.com". Hosts with
// no registered base pass through unchanged and use the default cap.
func EffectiveDomain(host string, registered []string) string {
	host = strings.ToLower(strings.TrimPrefix(host, "www."))
	for _, base := range registered {
		base = strings.ToLower(base)
		if host == base || strings.HasSuffix(host, "."+base) {
			return base
		}
	}
	return host
}

// JobDomain returns the job's bucketing host, deriving it from the URL when
// the resolver left Domain empty.
func JobDomain(j Job) string {
	if j.Domain != "" {
		return strings.ToLower(j.Domain)
	}
	return Host(j.URL)
}
