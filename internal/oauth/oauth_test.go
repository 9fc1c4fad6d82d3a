/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package oauth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProvider() *Provider {
	return New("client-123", "http://localhost:7878/auth/itchio_callback", []byte("test secret"))
}

func TestAuthorizationURLCarriesInstallation(t *testing.T) {
	p := newTestProvider()
	installation := uuid.New()

	link, err := p.AuthorizationURL(installation)
	require.NoError(t, err)

	u, err := url.Parse(link)
	require.NoError(t, err)
	assert.Equal(t, "itch.io", u.Host)
	assert.Equal(t, "/user/oauth", u.Path)

	q := u.Query()
	assert.Equal(t, "client-123", q.Get("client_id"))
	assert.Equal(t, "profile:me", q.Get("scope"))
	assert.Equal(t, "token", q.Get("response_type"))
	assert.Equal(t, "http://localhost:7878/auth/itchio_callback", q.Get("redirect_uri"))

	got, err := p.VerifyState(q.Get("state"))
	require.NoError(t, err)
	assert.Equal(t, installation, got)
}

func TestStateIsSingleUse(t *testing.T) {
	p := newTestProvider()

	link, err := p.AuthorizationURL(uuid.New())
	require.NoError(t, err)
	u, err := url.Parse(link)
	require.NoError(t, err)
	state := u.Query().Get("state")

	_, err = p.VerifyState(state)
	require.NoError(t, err)

	_, err = p.VerifyState(state)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestStateFromAnotherServerIsRejected(t *testing.T) {
	other := New("client-123", "", []byte("someone else's secret"))
	link, err := other.AuthorizationURL(uuid.New())
	require.NoError(t, err)
	u, err := url.Parse(link)
	require.NoError(t, err)

	_, err = newTestProvider().VerifyState(u.Query().Get("state"))
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = newTestProvider().VerifyState("not a token")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestFetchProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good-token" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"errors":["invalid key"]}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"user":{"id":42,"username":"ada","display_name":"Ada","gamer":true}}`))
	}))
	defer srv.Close()

	p := newTestProvider()
	p.ProfileURL = srv.URL

	profile, err := p.FetchProfile(context.Background(), "good-token")
	require.NoError(t, err)
	assert.Equal(t, &Profile{ID: 42, Username: "ada", DisplayName: "Ada"}, profile)

	_, err = p.FetchProfile(context.Background(), "bad-token")
	assert.Error(t, err)
}
