package rate_limiter_gate

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyExtractors(t *testing.T) {
	tt := []struct {
		desc      string
		extractor KeyExtractor
		rc        RequestContext
		want      LimitKey
	}{
		{desc: "by ip", extractor: ByIP{}, rc: RequestContext{SourceAddress: "10.0.0.1"}, want: "ip:10.0.0.1"},
		{desc: "by ip strips the port", extractor: ByIP{}, rc: RequestContext{SourceAddress: "10.0.0.1:5555"}, want: "ip:10.0.0.1"},
		{desc: "by ip unmaps ipv4 in ipv6", extractor: ByIP{}, rc: RequestContext{SourceAddress: "::ffff:10.0.0.1"}, want: "ip:10.0.0.1"},
		{desc: "by ip ignores the credential", extractor: ByIP{}, rc: RequestContext{SourceAddress: "10.0.0.1", Credential: "k"}, want: "ip:10.0.0.1"},
		{desc: "by ip without address", extractor: ByIP{}, rc: RequestContext{}, want: AnonymousKey},
		{desc: "credential first", extractor: ByCredentialOrIP{}, rc: RequestContext{SourceAddress: "10.0.0.1", Credential: "test-key-basic"}, want: "cred:test-key-basic"},
		{desc: "falls back to ip", extractor: ByCredentialOrIP{}, rc: RequestContext{SourceAddress: "10.0.0.1"}, want: "ip:10.0.0.1"},
		{desc: "blank credential falls back to ip", extractor: ByCredentialOrIP{}, rc: RequestContext{SourceAddress: "10.0.0.1", Credential: "  "}, want: "ip:10.0.0.1"},
		{desc: "credential or ip with nothing", extractor: ByCredentialOrIP{}, rc: RequestContext{}, want: AnonymousKey},
		{desc: "composite", extractor: Composite{}, rc: RequestContext{SourceAddress: "10.0.0.1", Credential: "k"}, want: "cred:k|ip:10.0.0.1"},
		{desc: "composite without credential", extractor: Composite{}, rc: RequestContext{SourceAddress: "10.0.0.1"}, want: "cred:-|ip:10.0.0.1"},
		{desc: "composite without address", extractor: Composite{}, rc: RequestContext{Credential: "k"}, want: "cred:k|ip:-"},
		{desc: "composite with nothing", extractor: Composite{}, rc: RequestContext{}, want: AnonymousKey},
	}

	for _, ts := range tt {
		t.Run(ts.desc, func(t *testing.T) {
			assert.Equal(t, ts.want, ts.extractor.Extract(ts.rc))
		})
	}
}

func TestKeyExtractors_CredentialAndAddressNeverCollide(t *testing.T) {
	asCredential := ByCredentialOrIP{}.Extract(RequestContext{Credential: "10.0.0.1"})
	asAddress := ByCredentialOrIP{}.Extract(RequestContext{SourceAddress: "10.0.0.1"})

	assert.NotEqual(t, asCredential, asAddress)
}

func TestHTTPContextBuilder(t *testing.T) {
	tt := []struct {
		desc    string
		builder HTTPContextBuilder
		remote  string
		headers map[string]string
		want    RequestContext
	}{
		{
			desc:    "remote address and credential",
			builder: HTTPContextBuilder{CredentialHeader: "X-API-Key"},
			remote:  "192.0.2.1:4711",
			headers: map[string]string{"X-API-Key": " test-key-basic "},
			want:    RequestContext{SourceAddress: "192.0.2.1", Credential: "test-key-basic", RoutePath: "/api/user"},
		},
		{
			desc:    "forwarded for is ignored unless trusted",
			builder: HTTPContextBuilder{CredentialHeader: "X-API-Key"},
			remote:  "192.0.2.1:4711",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.9"},
			want:    RequestContext{SourceAddress: "192.0.2.1", RoutePath: "/api/user"},
		},
		{
			desc:    "first forwarded hop when trusted",
			builder: HTTPContextBuilder{TrustForwardedFor: true},
			remote:  "192.0.2.1:4711",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"},
			want:    RequestContext{SourceAddress: "203.0.113.9", RoutePath: "/api/user"},
		},
		{
			desc:    "ipv6 remote address",
			builder: HTTPContextBuilder{},
			remote:  "[::1]:4711",
			want:    RequestContext{SourceAddress: "::1", RoutePath: "/api/user"},
		},
		{
			desc:    "credential header not configured",
			builder: HTTPContextBuilder{},
			remote:  "192.0.2.1:4711",
			headers: map[string]string{"X-API-Key": "test-key-basic"},
			want:    RequestContext{SourceAddress: "192.0.2.1", RoutePath: "/api/user"},
		},
	}

	for _, ts := range tt {
		t.Run(ts.desc, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/user?verbose=1", nil)
			req.RemoteAddr = ts.remote
			for k, v := range ts.headers {
				req.Header.Set(k, v)
			}

			assert.Equal(t, ts.want, ts.builder.Build(req))
		})
	}
}
