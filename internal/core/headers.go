package core

import (
	"net/http"
	"strings"
)

const (
	// Product is the name used in the proxy identity.
	Product = "proximg"

	DefaultAccept       = "image/*"
	DefaultCacheControl = "public, max-age=31536000"
)

// Version is overridden at build time with -ldflags.
var Version = "1.0.0"

// DefaultIdentity is the Via and User-Agent value sent upstream.
func DefaultIdentity() string {
	return Product + " " + Version
}

// OutboundHeaders builds the fixed header set sent on every hop. Only
// Accept and Accept-Encoding are taken from the inbound request; cookies
// and everything else are dropped.
func OutboundHeaders(identity string, inbound http.Header) http.Header {
	h := make(http.Header)
	h.Set("Via", identity)
	h.Set("User-Agent", identity)

	accept := inbound.Get("Accept")
	if accept == "" {
		accept = DefaultAccept
	}
	h.Set("Accept", accept)

	if enc := inbound.Get("Accept-Encoding"); enc != "" {
		h.Set("Accept-Encoding", enc)
	}
	return h
}

// IsSelfLoop reports whether the inbound request was sent by this proxy.
func IsSelfLoop(inbound http.Header, identity string) bool {
	via := inbound.Get("Via")
	return via != "" && via == identity
}

// responseHeaders selects the upstream headers forwarded to the client.
func responseHeaders(resp *http.Response) http.Header {
	h := make(http.Header)
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		h.Set("Content-Type", ct)
	}

	cc := resp.Header.Get("Cache-Control")
	if cc == "" {
		cc = DefaultCacheControl
	}
	h.Set("Cache-Control", cc)

	if cl := resp.Header.Get("Content-Length"); cl != "" {
		h.Set("Content-Length", cl)
	}
	// net/http moves Transfer-Encoding out of the header map.
	if len(resp.TransferEncoding) > 0 {
		h.Set("Transfer-Encoding", strings.Join(resp.TransferEncoding, ", "))
	} else if te := resp.Header.Get("Transfer-Encoding"); te != "" {
		h.Set("Transfer-Encoding", te)
	}
	if ce := resp.Header.Get("Content-Encoding"); ce != "" {
		h.Set("Content-Encoding", ce)
	}
	return h
}
