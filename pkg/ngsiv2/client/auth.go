package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
)

// markers in a 4xx response body that indicate a rejected or expired token
var tokenErrorMarkers = []string{
	"invalid_token",
	"unauthorized_request",
	"invalid_grant",
}

func isTokenError(statusCode int, body []byte) bool {
	if statusCode/100 != 4 {
		return false
	}

	for _, marker := range tokenErrorMarkers {
		if strings.Contains(string(body), marker) {
			return true
		}
	}

	return false
}

// TokenProvider supplies the credential header for broker requests. The
// authentication protocol itself is a black box behind this interface.
type TokenProvider interface {
	// Apply adds the credential header to an outgoing request.
	Apply(r *http.Request)
	// Refresh attempts to renew the credentials after a token rejection and
	// reports whether a retry is worthwhile.
	Refresh(ctx context.Context) bool
}

// StaticAPIKey authenticates with a fixed API key. It cannot be refreshed.
type StaticAPIKey struct {
	Header string
	Key    string
}

func (s StaticAPIKey) Apply(r *http.Request) {
	if s.Header != "" && s.Key != "" {
		r.Header.Set(s.Header, s.Key)
	}
}

func (s StaticAPIKey) Refresh(ctx context.Context) bool { return false }

// OAuthTokens authenticates with a bearer token pair issued by an identity
// manager, refreshing via the refresh token grant when the access token is
// rejected.
type OAuthTokens struct {
	TokenURL string
	Header   string
	Secret   string

	mu           sync.Mutex
	accessToken  string
	refreshToken string
}

func NewOAuthTokens(tokenURL, header, secret, accessToken, refreshToken string) *OAuthTokens {
	return &OAuthTokens{
		TokenURL:     tokenURL,
		Header:       header,
		Secret:       secret,
		accessToken:  accessToken,
		refreshToken: refreshToken,
	}
}

func (o *OAuthTokens) Apply(r *http.Request) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.Header != "" {
		r.Header.Set(o.Header, o.accessToken)
	}
}

func (o *OAuthTokens) Refresh(ctx context.Context) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	log := logging.GetFromContext(ctx)

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", o.refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		log.Error("failed to create token refresh request", "err", err.Error())
		return false
	}

	req.Header.Set("Authorization", "Basic "+o.Secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Error("failed to refresh tokens", "err", err.Error())
		return false
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Error("failed to read token refresh response", "err", err.Error())
		return false
	}

	if resp.StatusCode != http.StatusOK {
		log.Error("token refresh rejected", "status", resp.StatusCode, "body", string(body))
		return false
	}

	tokens := struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		TokenType    string `json:"token_type"`
	}{}

	if err := json.Unmarshal(body, &tokens); err != nil {
		log.Error("failed to parse token refresh response", "err", err.Error())
		return false
	}

	o.accessToken = tokens.AccessToken
	o.refreshToken = tokens.RefreshToken

	log.Info("tokens refreshed")
	return true
}
