package core

import (
	"net/url"
)

// ParseTarget parses the raw target handed over by the front door into an
// absolute http or https URL.
func ParseTarget(raw string) (*url.URL, *Rejection) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, &Rejection{Reason: ReasonExcludedHost, Detail: "invalid target", Err: err}
	}
	return validTarget(u)
}

// ResolveLocation resolves a redirect Location against the URL that
// produced it. Relative and host-less locations inherit scheme and host.
func ResolveLocation(base *url.URL, location string) (*url.URL, *Rejection) {
	if location == "" {
		return nil, NewRejection(ReasonUnexpectedStatus, "redirect without Location")
	}
	ref, err := url.Parse(location)
	if err != nil {
		return nil, &Rejection{Reason: ReasonExcludedHost, Detail: "invalid redirect target", Err: err}
	}
	return validTarget(base.ResolveReference(ref))
}

func validTarget(u *url.URL) (*url.URL, *Rejection) {
	switch u.Scheme {
	case "http", "https":
	default:
		return nil, NewRejection(ReasonExcludedHost, "unsupported scheme "+quoteScheme(u.Scheme))
	}
	if u.Host == "" || u.Hostname() == "" {
		return nil, NewRejection(ReasonExcludedHost, "missing host")
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u, nil
}

func quoteScheme(s string) string {
	if s == "" {
		return `""`
	}
	return s
}
