package authorize

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/efficientgo/core/testutil"
)

func TestHeaderExtractor(t *testing.T) {
	for _, tc := range []struct {
		name   string
		header string
		scheme string
		value  string
		want   string
		kind   Kind
	}{
		{name: "missing", kind: KindMissingCredential},
		{name: "blank", value: "   ", kind: KindMissingCredential},
		{name: "wrong scheme", value: "Basic dXNlcjpwYXNz", kind: KindMalformedCredential},
		{name: "scheme without separator", value: "Bearertoken", kind: KindMalformedCredential},
		{name: "scheme only", value: "Bearer", kind: KindMalformedCredential},
		{name: "scheme and whitespace", value: "Bearer    ", kind: KindMalformedCredential},
		{name: "bearer", value: "Bearer abc.def.ghi", want: "abc.def.ghi"},
		{name: "lower case scheme", value: "bearer abc.def.ghi", want: "abc.def.ghi"},
		{name: "surrounding whitespace", value: "Bearer   abc.def.ghi  ", want: "abc.def.ghi"},
		{name: "tab separator", value: "Bearer\tabc.def.ghi", want: "abc.def.ghi"},
		{name: "mixed whitespace separator", value: "Bearer \t abc.def.ghi", want: "abc.def.ghi"},
		{name: "tab only after scheme", value: "Bearer\t", kind: KindMalformedCredential},
		{name: "custom header and scheme", header: "X-Auth", scheme: "Token", value: "Token xyz", want: "xyz"},
		{name: "custom header missing", header: "X-Auth", kind: KindMissingCredential},
	} {
		t.Run(tc.name, func(t *testing.T) {
			e := NewHeaderExtractor(tc.header, tc.scheme)

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.value != "" {
				req.Header.Set(e.Header, tc.value)
			}

			got, err := e.Extract(req)
			if tc.kind != "" {
				testutil.NotOk(t, err)
				testutil.Equals(t, tc.kind, KindOf(err))
				return
			}
			testutil.Ok(t, err)
			testutil.Equals(t, tc.want, got)
		})
	}
}

func TestCookieExtractor(t *testing.T) {
	e := &CookieExtractor{Name: "access_token"}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := e.Extract(req)
	testutil.Equals(t, KindMissingCredential, KindOf(err))

	req.AddCookie(&http.Cookie{Name: "access_token", Value: ""})
	_, err = e.Extract(req)
	testutil.Equals(t, KindMissingCredential, KindOf(err))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: "abc.def.ghi"})
	got, err := e.Extract(req)
	testutil.Ok(t, err)
	testutil.Equals(t, "abc.def.ghi", got)
}
