package email

import (
	"cmp"
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"

	"postroom/internal/common"
	"postroom/internal/config"
)

// TokenProvider supplies bearer credentials for the hosted API.
type TokenProvider interface {
	// Token returns a valid access token, fetching a new one when needed.
	Token(ctx context.Context) (string, error)

	// Invalidate drops the cached token so the next call fetches a fresh one.
	Invalidate()
}

const defaultTokenFetchTimeout = 30 * time.Second

// ClientCredentialsTokenProvider is an OAuth2 client-credentials TokenProvider
// that caches the token until it expires or is invalidated. Concurrent callers
// share one in-flight fetch.
type ClientCredentialsTokenProvider struct {
	cfg          clientcredentials.Config
	httpClient   *http.Client
	fetchTimeout time.Duration

	mu    sync.Mutex
	token *oauth2.Token

	fetches singleflight.Group
}

// NewClientCredentialsTokenProvider creates a token provider for the hosted API.
// httpClient may be nil to use http.DefaultClient.
func NewClientCredentialsTokenProvider(cfg config.HostedAPIConfig, httpClient *http.Client) *ClientCredentialsTokenProvider {
	return &ClientCredentialsTokenProvider{
		cfg: clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientCredential,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		},
		httpClient:   httpClient,
		fetchTimeout: cmp.Or(cfg.Timeout(), defaultTokenFetchTimeout),
	}
}

// Token implements TokenProvider. Errors are *common.ProviderError; a 4xx from
// the token endpoint (bad credentials) is permanent. A caller whose ctx ends
// while waiting gets a retryable error; the shared fetch keeps running for
// the others.
func (p *ClientCredentialsTokenProvider) Token(ctx context.Context) (string, error) {
	if tok := p.cached(); tok != "" {
		return tok, nil
	}

	ch := p.fetches.DoChan("token", func() (any, error) {
		return p.fetch(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", common.WrapProviderError(config.ProviderHostedAPI, "fetching access token", res.Err, tokenErrorRetryable(res.Err))
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", common.WrapProviderError(config.ProviderHostedAPI, "waiting for access token", ctx.Err(), true)
	}
}

func (p *ClientCredentialsTokenProvider) cached() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token.Valid() {
		return p.token.AccessToken
	}
	return ""
}

func (p *ClientCredentialsTokenProvider) fetch(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
	defer cancel()

	if p.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	}

	tok, err := p.cfg.Token(ctx)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	p.token = tok
	p.mu.Unlock()
	return tok.AccessToken, nil
}

// Invalidate implements TokenProvider.
func (p *ClientCredentialsTokenProvider) Invalidate() {
	p.mu.Lock()
	p.token = nil
	p.mu.Unlock()
}

func tokenErrorRetryable(err error) bool {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		code := re.Response.StatusCode
		return code == http.StatusTooManyRequests || code >= 500
	}
	return true
}
