package oauthsvc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/digitraceslab/koota/internal/config"
	obstracing "github.com/digitraceslab/koota/internal/observability/tracing"
	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultTimeout = 30 * time.Second
	maxResponse    = 32 << 20
)

// FetchKind classifies a remote failure.
type FetchKind string

const (
	KindRateLimited FetchKind = "rate_limited"
	KindAuthExpired FetchKind = "auth_expired"
	KindTransient   FetchKind = "transient"
)

// FetchError is a failed call to the remote service.
type FetchError struct {
	Kind       FetchKind
	Status     int
	RetryAfter time.Duration
	Err        error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Backoff is how long the whole service should rest after e.
func (e *FetchError) Backoff() time.Duration {
	if e.Kind == KindRateLimited {
		return e.RetryAfter
	}
	return 0
}

// IsKind reports whether err is a FetchError of kind k.
func IsKind(err error, k FetchKind) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == k
}

// Token is an OAuth2 token response.
type Token struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// client talks to one provider. Calls are rate limited and pass through a
// circuit breaker shared by all devices of the service.
type client struct {
	name     string
	provider config.OAuthProvider
	http     *http.Client
	limiter  *rate.Limiter
	cb       *gobreaker.CircuitBreaker[[]byte]
	log      *zap.Logger
}

func newClient(name string, p config.OAuthProvider, log *zap.Logger) *client {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	perSec := p.RatePerSec
	if perSec <= 0 {
		perSec = 1
	}
	c := &client{
		name:     name,
		provider: p,
		http:     obstracing.WrapHTTPClient(&http.Client{Timeout: timeout}),
		limiter:  rate.NewLimiter(rate.Limit(perSec), max(1, int(perSec))),
		log:      log,
	}
	c.cb = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "oauth-" + name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Only transient failures count against the service.
		IsSuccessful: func(err error) bool {
			return err == nil || !IsKind(err, KindTransient)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return c
}

func (c *client) do(ctx context.Context, req *http.Request) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	body, err := c.cb.Execute(func() ([]byte, error) {
		resp, err := c.http.Do(req.WithContext(ctx))
		if err != nil {
			return nil, &FetchError{Kind: KindTransient, Err: err}
		}
		defer resp.Body.Close()
		raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse))
		if err != nil {
			return nil, &FetchError{Kind: KindTransient, Status: resp.StatusCode, Err: err}
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return raw, nil
		}
		return nil, classify(resp, raw)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &FetchError{Kind: KindTransient, Err: err}
	}
	return body, err
}

func classify(resp *http.Response, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	err := errors.New(msg)
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		wait := time.Minute
		if secs, perr := strconv.Atoi(resp.Header.Get("Retry-After")); perr == nil && secs > 0 {
			wait = time.Duration(secs) * time.Second
		}
		return &FetchError{Kind: KindRateLimited, Status: resp.StatusCode, RetryAfter: wait, Err: err}
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusBadRequest && strings.Contains(msg, "invalid_grant"):
		return &FetchError{Kind: KindAuthExpired, Status: resp.StatusCode, Err: err}
	default:
		return &FetchError{Kind: KindTransient, Status: resp.StatusCode, Err: err}
	}
}

func (c *client) token(ctx context.Context, form url.Values) (*Token, error) {
	form.Set("client_id", c.provider.ClientID)
	form.Set("client_secret", c.provider.ClientSecret)
	req, err := http.NewRequest(http.MethodPost, c.provider.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	raw, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	var tok Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, &FetchError{Kind: KindTransient, Err: fmt.Errorf("decode token: %w", err)}
	}
	if tok.AccessToken == "" {
		return nil, &FetchError{Kind: KindAuthExpired, Err: errors.New("token response without access_token")}
	}
	return &tok, nil
}

func (c *client) exchange(ctx context.Context, code, redirectURI string) (*Token, error) {
	return c.token(ctx, url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {redirectURI},
	})
}

func (c *client) refresh(ctx context.Context, refreshToken string) (*Token, error) {
	return c.token(ctx, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	})
}

// page fetches one page of endpoint newer than sinceID.
func (c *client) page(ctx context.Context, accessToken, endpoint, sinceID string) ([]byte, error) {
	u, err := url.Parse(strings.TrimRight(c.provider.APIURL, "/") + "/" + strings.TrimLeft(endpoint, "/"))
	if err != nil {
		return nil, err
	}
	if sinceID != "" {
		q := u.Query()
		q.Set("since_id", sinceID)
		u.RawQuery = q.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	return c.do(ctx, req)
}
