package oauth2

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/efficientgo/core/testutil"
	"golang.org/x/oauth2"

	"github.com/openshift/tokengate/pkg/config"
)

// newTokenServer issues numbered token pairs and checks the grant parameters.
func newTokenServer(t *testing.T, wantBody string, withRefreshExpiry bool) (*httptest.Server, *uint64) {
	var counter uint64

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		if r.URL.Path != "/token" {
			t.Errorf("path = %q; want /token", r.URL.Path)
		}
		if got := r.Header.Get("Content-Type"); got != "application/x-www-form-urlencoded" {
			t.Errorf("Content-Type = %q", got)
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		if wantBody != "" && string(body) != wantBody {
			t.Errorf("body = %q; want %q", string(body), wantBody)
		}

		cnt := strconv.Itoa(int(atomic.AddUint64(&counter, 1)))
		refreshExpiry := ""
		if withRefreshExpiry {
			refreshExpiry = `"refresh_expires_in": ` + cnt + `00,`
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
  "access_token": "access_token_` + cnt + `",
  "expires_in": 3600,
  ` + refreshExpiry + `
  "refresh_token": "refresh_token_` + cnt + `",
  "token_type": "bearer"
}`))
	}))
	return ts, &counter
}

func TestPasswordCredentialsTokenSource(t *testing.T) {
	ts, counter := newTokenServer(t, "grant_type=password&password=password1&username=user1", true)
	defer ts.Close()

	src := NewPasswordCredentialsTokenSource(context.Background(), &oauth2.Config{
		ClientID:     "CLIENT_ID",
		ClientSecret: "CLIENT_SECRET",
		Endpoint:     oauth2.Endpoint{TokenURL: ts.URL + "/token"},
	}, "user1", "password1")

	tok, err := src.Token()
	testutil.Ok(t, err)
	testutil.Equals(t, "access_token_1", tok.AccessToken)
	testutil.Equals(t, "refresh_token_1", tok.RefreshToken)
	testutil.Assert(t, tok.Valid(), "expected a valid token")

	// The access token is reused while valid.
	tok, err = src.Token()
	testutil.Ok(t, err)
	testutil.Equals(t, "access_token_1", tok.AccessToken)
	testutil.Equals(t, uint64(1), atomic.LoadUint64(counter))

	// An expired refresh token triggers a new password grant.
	src.refresh.Expiry = time.Now().Add(-time.Minute)
	tok, err = src.Token()
	testutil.Ok(t, err)
	testutil.Equals(t, "access_token_2", tok.AccessToken)
	testutil.Equals(t, "refresh_token_2", tok.RefreshToken)
}

func TestPasswordCredentialsTokenSourceWithoutRefreshExpiry(t *testing.T) {
	ts, _ := newTokenServer(t, "", false)
	defer ts.Close()

	src := NewPasswordCredentialsTokenSource(context.Background(), &oauth2.Config{
		ClientID: "CLIENT_ID",
		Endpoint: oauth2.Endpoint{TokenURL: ts.URL + "/token"},
	}, "user1", "password1")

	tok, err := src.Token()
	testutil.Ok(t, err)
	testutil.Equals(t, "access_token_1", tok.AccessToken)
	testutil.Assert(t, src.refresh.Valid(), "refresh token should follow the access token expiry")
}

func TestNewTransport(t *testing.T) {
	ts, _ := newTokenServer(t, "", false)
	defer ts.Close()

	authorization := make(chan string, 1)
	keys := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization <- r.Header.Get("Authorization")
		_, _ = w.Write([]byte("key"))
	}))
	defer keys.Close()

	for _, tc := range []struct {
		name string
		auth config.KeyServerAuth
		want string
	}{
		{name: "no grant"},
		{
			name: "client credentials",
			auth: config.KeyServerAuth{Grant: "client_credentials", ClientID: "c", ClientSecret: "s", TokenURL: ts.URL + "/token", Audience: "keys"},
			want: "Bearer access_token_",
		},
		{
			name: "password",
			auth: config.KeyServerAuth{Grant: "password", ClientID: "c", TokenURL: ts.URL + "/token", Username: "u", Password: "p"},
			want: "Bearer access_token_",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rt, err := NewTransport(context.Background(), tc.auth, ts.Client(), http.DefaultTransport)
			testutil.Ok(t, err)

			resp, err := (&http.Client{Transport: rt}).Get(keys.URL)
			testutil.Ok(t, err)
			_, _ = io.Copy(io.Discard, resp.Body)
			testutil.Ok(t, resp.Body.Close())

			got := <-authorization
			if tc.want == "" {
				testutil.Equals(t, "", got)
				return
			}
			testutil.Assert(t, len(got) > len(tc.want) && got[:len(tc.want)] == tc.want, "unexpected authorization %q", got)
		})
	}

	_, err := NewTokenSource(context.Background(), config.KeyServerAuth{Grant: "implicit"}, nil)
	testutil.NotOk(t, err)
}
