/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package oauth builds itch.io login links for installations and turns the
// provider's callback into a verified installation and profile.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
)

const (
	AuthorizeURL = "https://itch.io/user/oauth"
	ProfileURL   = "https://itch.io/api/1/key/me"

	// StateLifetime is how long a login link stays valid.
	StateLifetime = 10 * time.Minute
)

var ErrInvalidState = errors.New("invalid login state")

// Profile is the subset of the itch.io user we keep.
type Profile struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

type Provider struct {
	ClientID    string
	RedirectURI string
	ProfileURL  string
	HTTPClient  *http.Client

	secret []byte
	used   *gocache.Cache
}

// New returns a provider that signs login state with secret. redirectURI is
// the externally reachable callback page.
func New(clientID, redirectURI string, secret []byte) *Provider {
	return &Provider{
		ClientID:    clientID,
		RedirectURI: redirectURI,
		ProfileURL:  ProfileURL,
		HTTPClient:  &http.Client{Timeout: 10 * time.Second},
		secret:      secret,
		used:        gocache.New(StateLifetime, StateLifetime),
	}
}

// AuthorizationURL returns the link that logs installation in.
func (p *Provider) AuthorizationURL(installation uuid.UUID) (string, error) {
	now := time.Now()

	state, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   installation.String(),
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(StateLifetime)),
	}).SignedString(p.secret)
	if err != nil {
		return "", fmt.Errorf("signing login state: %w", err)
	}

	u, err := url.Parse(AuthorizeURL)
	if err != nil {
		return "", err
	}

	q := url.Values{}
	q.Set("client_id", p.ClientID)
	q.Set("scope", "profile:me")
	q.Set("response_type", "token")
	q.Set("redirect_uri", p.RedirectURI)
	q.Set("state", state)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// VerifyState checks a state value returned by the provider and returns the
// installation it was issued for. Each state is accepted once.
func (p *Provider) VerifyState(state string) (uuid.UUID, error) {
	var claims jwt.RegisteredClaims

	_, err := jwt.ParseWithClaims(state, &claims, func(*jwt.Token) (any, error) {
		return p.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}

	installation, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: subject: %v", ErrInvalidState, err)
	}

	if err := p.used.Add(claims.ID, struct{}{}, gocache.DefaultExpiration); err != nil {
		return uuid.Nil, fmt.Errorf("%w: already used", ErrInvalidState)
	}

	return installation, nil
}

// FetchProfile asks the provider who accessToken belongs to.
func (p *Provider) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.ProfileURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching profile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching profile: unexpected status %s", resp.Status)
	}

	var body struct {
		User   *Profile `json:"user"`
		Errors []string `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding profile: %w", err)
	}
	if len(body.Errors) > 0 {
		return nil, fmt.Errorf("fetching profile: %v", body.Errors)
	}
	if body.User == nil {
		return nil, errors.New("fetching profile: response has no user")
	}

	return body.User, nil
}
