package rate_limiter_gate

import (
	"net"
	"net/http"
	"strings"
)

var (
	_ KeyExtractor = ByIP{}
	_ KeyExtractor = ByCredentialOrIP{}
	_ KeyExtractor = Composite{}
)

const (
	ipKeyPrefix         = "ip:"
	credentialKeyPrefix = "cred:"
)

// KeyExtractor derives a rate limit key from a request context. It must be a
// pure function of its input.
type KeyExtractor interface {
	Extract(rc RequestContext) LimitKey
}

// ByIP keys requests by their normalized source address.
type ByIP struct{}

func (ByIP) Extract(rc RequestContext) LimitKey {
	if ip := normalizeAddress(rc.SourceAddress); ip != "" {
		return LimitKey(ipKeyPrefix + ip)
	}
	return AnonymousKey
}

// ByCredentialOrIP keys requests by credential, falling back to the source address.
type ByCredentialOrIP struct{}

func (ByCredentialOrIP) Extract(rc RequestContext) LimitKey {
	if c := strings.TrimSpace(rc.Credential); c != "" {
		return LimitKey(credentialKeyPrefix + c)
	}
	return ByIP{}.Extract(rc)
}

// Composite keys requests by credential and source address together, so
// distinct addresses sharing one credential keep separate buckets.
type Composite struct{}

func (Composite) Extract(rc RequestContext) LimitKey {
	c := strings.TrimSpace(rc.Credential)
	ip := normalizeAddress(rc.SourceAddress)
	if c == "" && ip == "" {
		return AnonymousKey
	}
	if c == "" {
		c = "-"
	}
	if ip == "" {
		ip = "-"
	}
	return LimitKey(credentialKeyPrefix + c + "|" + ipKeyPrefix + ip)
}

// normalizeAddress strips ports and unmaps IPv4-mapped IPv6 addresses. Values
// that do not parse as an address are lower-cased and kept as-is.
func normalizeAddress(address string) string {
	if addr, ok := parseAddr(address); ok {
		return addr.String()
	}
	return strings.ToLower(strings.TrimSpace(address))
}

// HTTPContextBuilder builds a RequestContext from an HTTP request.
type HTTPContextBuilder struct {
	// CredentialHeader names the header carrying the caller's credential.
	CredentialHeader string
	// TrustForwardedFor uses the first X-Forwarded-For hop as the source address.
	TrustForwardedFor bool
}

// Build snapshots r.
func (b HTTPContextBuilder) Build(r *http.Request) RequestContext {
	rc := RequestContext{
		SourceAddress: remoteAddress(r, b.TrustForwardedFor),
		RoutePath:     r.URL.Path,
	}
	if b.CredentialHeader != "" {
		rc.Credential = strings.TrimSpace(r.Header.Get(b.CredentialHeader))
	}
	return rc
}

func remoteAddress(r *http.Request, trustXFF bool) string {
	if trustXFF {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}
