package salesforce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/DEFRA/apha-integration-bridge-sub000/internal/config"
	"github.com/DEFRA/apha-integration-bridge-sub000/internal/constants"
	"github.com/DEFRA/apha-integration-bridge-sub000/internal/logger"
	"github.com/DEFRA/apha-integration-bridge-sub000/pkg/metrics"
)

type Token struct {
	AccessToken string    `json:"access_token"`
	InstanceURL string    `json:"instance_url,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Usable reports whether the token is set and not within skew of expiry.
func (t *Token) Usable(now time.Time, skew time.Duration) bool {
	return t != nil && t.AccessToken != "" && now.Add(skew).Before(t.ExpiresAt)
}

type TokenSource interface {
	FetchToken(ctx context.Context) (*Token, error)
}

// TokenStore shares a token between replicas.
type TokenStore interface {
	Get(ctx context.Context) (*Token, error)
	Set(ctx context.Context, token *Token) error
	Delete(ctx context.Context) error
}

// TokenProvider caches one bearer token for every caller. Concurrent callers
// that find it missing or expired share a single refresh.
type TokenProvider struct {
	source TokenSource
	store  TokenStore
	skew   time.Duration
	logger logger.Logger
	now    func() time.Time

	mu     sync.RWMutex
	cached *Token
	group  singleflight.Group
}

func NewTokenProvider(source TokenSource, store TokenStore, skew time.Duration, log logger.Logger) *TokenProvider {
	return &TokenProvider{
		source: source,
		store:  store,
		skew:   skew,
		logger: log,
		now:    time.Now,
	}
}

func (p *TokenProvider) current() *Token {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.cached.Usable(p.now(), p.skew) {
		return p.cached
	}
	return nil
}

// Token returns the cached access token, refreshing it when needed. A
// caller whose ctx ends stops waiting; the shared refresh keeps running.
func (p *TokenProvider) Token(ctx context.Context) (string, error) {
	if t := p.current(); t != nil {
		return t.AccessToken, nil
	}

	ch := p.group.DoChan("token", func() (interface{}, error) {
		if t := p.current(); t != nil {
			return t, nil
		}
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.TokenRequestTimeout)
		defer cancel()
		return p.refresh(refreshCtx)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(*Token).AccessToken, nil
	}
}

func (p *TokenProvider) refresh(ctx context.Context) (*Token, error) {
	if p.store != nil {
		shared, err := p.store.Get(ctx)
		if err != nil {
			p.logger.WarnwCtx(ctx, "Token store read failed, fetching a new token", "error", err)
		} else if shared.Usable(p.now(), p.skew) {
			p.setCached(shared)
			metrics.IncTokenRefresh("shared")
			return shared, nil
		}
	}

	token, err := p.source.FetchToken(ctx)
	if err != nil {
		metrics.IncTokenRefresh("failure")
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}
	metrics.IncTokenRefresh("success")
	p.setCached(token)

	if p.store != nil {
		if err := p.store.Set(ctx, token); err != nil {
			p.logger.WarnwCtx(ctx, "Token store write failed", "error", err)
		}
	}
	return token, nil
}

func (p *TokenProvider) setCached(t *Token) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cached = t
}

// Invalidate drops accessToken if it is still the cached one, so a token
// rejected by the server is not served again.
func (p *TokenProvider) Invalidate(ctx context.Context, accessToken string) {
	p.mu.Lock()
	if p.cached == nil || p.cached.AccessToken != accessToken {
		p.mu.Unlock()
		return
	}
	p.cached = nil
	p.mu.Unlock()

	if p.store != nil {
		if err := p.store.Delete(ctx); err != nil {
			p.logger.WarnwCtx(ctx, "Token store delete failed", "error", err)
		}
	}
}

// ClientCredentialsSource fetches tokens with the OAuth2 client-credentials grant.
type ClientCredentialsSource struct {
	tokenURL     string
	clientID     string
	clientSecret string
	ttl          time.Duration
	client       *http.Client
	now          func() time.Time
}

func NewClientCredentialsSource(cfg config.AuthConfig, client *http.Client) *ClientCredentialsSource {
	if client == nil {
		client = &http.Client{Timeout: constants.TokenRequestTimeout}
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ClientCredentialsSource{
		tokenURL:     cfg.TokenURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		ttl:          ttl,
		client:       client,
		now:          time.Now,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	InstanceURL string `json:"instance_url"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

func (s *ClientCredentialsSource) FetchToken(ctx context.Context) (*Token, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {s.clientID},
		"client_secret": {s.clientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < constants.HTTPStatusOKMin || resp.StatusCode >= constants.HTTPStatusOKMax {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, errors.New("token response has no access_token")
	}

	ttl := s.ttl
	if tr.ExpiresIn > 0 {
		ttl = time.Duration(tr.ExpiresIn) * time.Second
	}
	return &Token{
		AccessToken: tr.AccessToken,
		InstanceURL: tr.InstanceURL,
		ExpiresAt:   s.now().Add(ttl),
	}, nil
}
