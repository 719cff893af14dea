// Package oauth2 obtains and caches machine-to-machine OAuth2 access tokens
// for API connectors, on top of golang.org/x/oauth2/clientcredentials.
package oauth2

import (
	"context"
	"fmt"
	"strings"

	xoauth2 "golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Error wraps an OAuth2 token request failure.
type Error struct {
	Message string
}

func (e *Error) Error() string { return e.Message }

// TokenSource wraps a clientcredentials.Config, caching and refreshing the
// token the same way oauth2.TokenSource normally does under the hood —
// exposed as a thin type so api.base doesn't import x/oauth2 directly.
type TokenSource struct {
	inner *clientcredentials.Config
	tok   *xoauth2.Token
}

// NewTokenSource builds a client-credentials token source from a connector's
// oauth2_config map. Only the client_credentials grant type is supported;
// other grant types are rejected since no connector in this framework
// performs an interactive authorization-code exchange.
func NewTokenSource(cfg map[string]any) (*TokenSource, error) {
	tokenURL, _ := cfg["token_url"].(string)
	clientID, _ := cfg["client_id"].(string)
	clientSecret, _ := cfg["client_secret"].(string)
	grantType, _ := cfg["grant_type"].(string)
	if grantType == "" {
		grantType = "client_credentials"
	}

	if tokenURL == "" || clientID == "" || clientSecret == "" {
		return nil, &Error{Message: "token_url, client_id, and client_secret are required"}
	}
	if grantType != "client_credentials" {
		return nil, &Error{Message: fmt.Sprintf("unsupported OAuth2 grant type %q", grantType)}
	}

	var scopes []string
	if scope, _ := cfg["scope"].(string); scope != "" {
		scopes = strings.Fields(scope)
	}

	endpointParams := map[string][]string{}
	if audience, _ := cfg["audience"].(string); audience != "" {
		endpointParams["audience"] = []string{audience}
	}
	if extra, ok := cfg["extra_params"].(map[string]any); ok {
		for k, v := range extra {
			if s, ok := v.(string); ok {
				endpointParams[k] = []string{s}
			}
		}
	}

	return &TokenSource{inner: &clientcredentials.Config{
		ClientID:       clientID,
		ClientSecret:   clientSecret,
		TokenURL:       tokenURL,
		Scopes:         scopes,
		EndpointParams: endpointParams,
	}}, nil
}

// Token returns a valid access token, refreshing it if the cached one has
// expired. The last token fetched is kept and reused until it expires.
func (t *TokenSource) Token(ctx context.Context) (string, error) {
	tok, err := xoauth2.ReuseTokenSource(t.tok, t.inner.TokenSource(ctx)).Token()
	if err != nil {
		return "", fmt.Errorf("fetch oauth2 token: %w", err)
	}
	t.tok = tok
	return tok.AccessToken, nil
}
