package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// TestOAuth2ClientEndToEnd drives the server with a stock OAuth 2.0 client
func TestOAuth2ClientEndToEnd(t *testing.T) {
	f := newFixture(t, nil)
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	conf := &oauth2.Config{
		ClientID:     testClient,
		ClientSecret: testSecret,
		RedirectURL:  testRedirect,
		Scopes:       []string{"read"},
		Endpoint: oauth2.Endpoint{
			AuthURL:   ts.URL + "/oauth/authorize",
			TokenURL:  ts.URL + "/oauth/token",
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}

	// the browser of a signed-in user, which must not follow the redirect
	browser := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}

	state := uuid.NewString()
	req, err := http.NewRequest(http.MethodGet, conf.AuthCodeURL(state), nil)
	require.NoError(t, err)
	req.Header.Set("X-Session-Token", f.session)
	resp, err := browser.Do(req)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	var consent struct {
		ClientName   string `json:"client_name"`
		ConsentToken string `json:"consent_token"`
	}
	require.NoError(t, json.Unmarshal(raw, &consent))
	assert.Equal(t, "App", consent.ClientName)

	form := url.Values{
		"client_id":     {testClient},
		"redirect_uri":  {testRedirect},
		"scope":         {"read"},
		"state":         {state},
		"action":        {"authorize"},
		"consent_token": {consent.ConsentToken},
	}
	req, err = http.NewRequest(http.MethodPost, ts.URL+"/oauth/authorize", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Session-Token", f.session)
	for _, ck := range resp.Cookies() {
		req.AddCookie(ck)
	}
	resp, err = browser.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, state, loc.Query().Get("state"))

	ctx := context.Background()
	tok, err := conf.Exchange(ctx, loc.Query().Get("code"))
	require.NoError(t, err)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.NotEmpty(t, tok.RefreshToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.Expiry, time.Minute)

	resp, err = conf.Client(ctx, tok).Get(ts.URL + "/oauth/userinfo")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var user struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&user))
	assert.Equal(t, testUser, user.ID)
	assert.Equal(t, "u1@example.com", user.Email)

	// the code is single use
	_, err = conf.Exchange(ctx, loc.Query().Get("code"))
	var rerr *oauth2.RetrieveError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "invalid_grant", rerr.ErrorCode)
}
